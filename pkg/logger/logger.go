package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const errorLogFile = "errors.log"

// ErrNotInitialized is returned when the file hook has not been installed.
var ErrNotInitialized = errors.New("logger not initialized")

type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// FileHook persists warn and above to <dir>/errors.log as JSON lines,
// keeping at most maxEntries.
type FileHook struct {
	logDir     string
	maxEntries int
	mutex      sync.Mutex
}

var (
	fileHook *FileHook
	hookMu   sync.RWMutex
	once     sync.Once
)

// Init configures logrus and installs the error file hook. Only the first
// call has an effect.
func Init(level, dir string, maxEntries int) {
	once.Do(func() {
		logLevel, err := logrus.ParseLevel(level)
		if err != nil {
			logLevel = logrus.InfoLevel
		}
		logrus.SetLevel(logLevel)
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})

		hook, err := NewFileHook(dir, maxEntries)
		if err != nil {
			logrus.WithError(err).Error("creating log directory failed")
			return
		}
		logrus.AddHook(hook)

		hookMu.Lock()
		fileHook = hook
		hookMu.Unlock()

		logrus.WithFields(logrus.Fields{
			"level":       logLevel.String(),
			"max_entries": maxEntries,
			"log_dir":     dir,
		}).Info("logger initialized")
	})
}

// NewFileHook creates dir if needed and returns a hook writing into it.
func NewFileHook(dir string, maxEntries int) (*FileHook, error) {
	if dir == "" {
		dir = "logs"
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	return &FileHook{logDir: dir, maxEntries: maxEntries}, nil
}

func (hook *FileHook) path() string {
	return filepath.Join(hook.logDir, errorLogFile)
}

// Fire implements logrus.Hook.
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	if entry.Level > logrus.WarnLevel {
		return nil
	}

	logEntry := LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    make(map[string]interface{}, len(entry.Data)),
	}
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		logEntry.Fields[k] = v
	}

	hook.mutex.Lock()
	defer hook.mutex.Unlock()
	return hook.append(logEntry)
}

func (hook *FileHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

func (hook *FileHook) append(entry LogEntry) error {
	f, err := os.OpenFile(hook.path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening error log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Trim keeps only the newest maxEntries entries on disk.
func (hook *FileHook) Trim() error {
	hook.mutex.Lock()
	defer hook.mutex.Unlock()

	logs, err := readEntries(hook.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(logs) <= hook.maxEntries {
		return nil
	}

	sortNewestFirst(logs)
	logs = logs[:hook.maxEntries]
	// oldest first on disk, matching append order
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.Before(logs[j].Timestamp) })

	var buf bytes.Buffer
	for _, l := range logs {
		data, err := json.Marshal(l)
		if err != nil {
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp := hook.path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing trimmed log: %w", err)
	}
	return os.Rename(tmp, hook.path())
}

// Entries returns up to limit entries, newest first. limit <= 0 returns all.
func (hook *FileHook) Entries(limit int) ([]LogEntry, error) {
	hook.mutex.Lock()
	logs, err := readEntries(hook.path())
	hook.mutex.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEntry{}, nil
		}
		return nil, err
	}

	sortNewestFirst(logs)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// CleanupLogs trims the installed hook's file; called by maintenance.
func CleanupLogs() {
	hookMu.RLock()
	hook := fileHook
	hookMu.RUnlock()
	if hook == nil {
		return
	}
	if err := hook.Trim(); err != nil {
		logrus.WithError(err).Debug("trimming error log failed")
	}
}

// ErrorLogs returns the newest persisted warn/error entries.
func ErrorLogs(limit int) ([]LogEntry, error) {
	hookMu.RLock()
	hook := fileHook
	hookMu.RUnlock()
	if hook == nil {
		return nil, ErrNotInitialized
	}
	return hook.Entries(limit)
}

func readEntries(filename string) ([]LogEntry, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var logs []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err == nil {
			logs = append(logs, entry)
		}
	}
	return logs, scanner.Err()
}

func sortNewestFirst(logs []LogEntry) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
}
