package model

import (
	"encoding/json"
	"time"
)

// Server-originated event names outside the domain namespaces
const (
	EventConnectionEstablished = "connection:established"
	EventSystemError           = "system:error"
)

// Envelope is the single frame shape carried over the websocket in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Result is the payload of every domain response and broadcast.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// NewEnvelope builds an outbound frame; data is marshalled eagerly so every
// recipient of a fan-out receives identical bytes.
func NewEnvelope(event string, data interface{}) *Envelope {
	env := &Envelope{
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
	}

	if data != nil {
		if raw, ok := data.(json.RawMessage); ok {
			env.Data = raw
		} else if dataBytes, err := json.Marshal(data); err == nil {
			env.Data = dataBytes
		}
	}

	return env
}

// OK wraps data in a successful Result.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Failure converts err into a failed Result with a stable code.
func Failure(err error) Result {
	e := AsError(err)
	return Result{
		Success: false,
		Code:    e.Code(),
		Message: e.Message,
	}
}
