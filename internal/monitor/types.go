package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventEvaluation EventType = "evaluation"
	EventExecution  EventType = "execution"
	EventRegistered EventType = "registered"
	EventError      EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	VaultID   string      `json:"vault_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// EvaluationPayload 记录一次条件求值。
type EvaluationPayload struct {
	Name      string            `json:"name"`
	Condition string            `json:"condition"`
	Prices    map[string]uint64 `json:"prices"`
	Triggered bool              `json:"triggered"`
}

// ExecutionPayload 记录动作序列执行结果。
type ExecutionPayload struct {
	Name     string `json:"name"`
	Actions  string `json:"actions"`
	Executed bool   `json:"executed"`
	Balance  uint64 `json:"balance"`
	At       int64  `json:"at"`
}

// RegisteredPayload 记录新注册的 vault。
type RegisteredPayload struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Condition   string `json:"condition"`
	Actions     string `json:"actions"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
