package handler

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agora-server/internal/service"
	"agora-server/pkg/logger"
)

type HealthHandler struct {
	gateway   *service.Gateway
	startTime time.Time
}

func NewHealthHandler(gateway *service.Gateway) *HealthHandler {
	return &HealthHandler{
		gateway:   gateway,
		startTime: time.Now(),
	}
}

// Health reports liveness with basic runtime figures.
func (h *HealthHandler) Health(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
		"memory": gin.H{
			"alloc_mb":       bToMb(m.Alloc),
			"total_alloc_mb": bToMb(m.TotalAlloc),
			"sys_mb":         bToMb(m.Sys),
			"num_gc":         m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	})
}

// Metrics summarizes sessions, rooms and the runtime as JSON.
func (h *HealthHandler) Metrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
			"timestamp":      time.Now().Format(time.RFC3339),
		},
		"gateway": h.gateway.Stats(),
		"system": gin.H{
			"memory": gin.H{
				"alloc_mb":       bToMb(m.Alloc),
				"total_alloc_mb": bToMb(m.TotalAlloc),
				"sys_mb":         bToMb(m.Sys),
				"heap_alloc_mb":  bToMb(m.HeapAlloc),
				"heap_sys_mb":    bToMb(m.HeapSys),
				"num_gc":         m.NumGC,
			},
			"goroutines": runtime.NumGoroutine(),
			"cpu_count":  runtime.NumCPU(),
			"go_version": runtime.Version(),
		},
	})
}

// ErrorLogs returns the newest persisted warn/error entries (?limit=, default 50).
func (h *HealthHandler) ErrorLogs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "VALIDATION_ERROR",
				"message": "limit must be a positive integer",
				"code":    http.StatusBadRequest,
			})
			return
		}
		limit = n
	}

	entries, err := logger.ErrorLogs(limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "UNAVAILABLE",
			"message": err.Error(),
			"code":    http.StatusServiceUnavailable,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(entries),
		"logs":  entries,
	})
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
