// Package events contains the websocket message contract of the analysis
// stream served on /ws/analysis.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeProgress reports a pipeline step.
	MessageTypeProgress MessageType = "analysis:progress"
	// MessageTypeResult carries the final analysis.
	MessageTypeResult MessageType = "analysis:result"
	// MessageTypeError ends the stream with a failure.
	MessageTypeError MessageType = "error"
)

// Pipeline steps reported in progress messages.
const (
	StepEnhance   = "enhance"
	StepRecognize = "recognize"
	StepReason    = "reason"
	StepDone      = "done"
)

// BaseMessage represents the base structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// WebSocketMessage represents a complete WebSocket message
type WebSocketMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// Progress is the payload of MessageTypeProgress.
type Progress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// ErrorData is the payload of MessageTypeError.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// NewMessage stamps a message of type t.
func NewMessage(t MessageType, traceID string, data interface{}) WebSocketMessage {
	return WebSocketMessage{
		BaseMessage: BaseMessage{
			Type:      t,
			Timestamp: time.Now().UTC(),
			TraceID:   traceID,
		},
		Data: data,
	}
}
