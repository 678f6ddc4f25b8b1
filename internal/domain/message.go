package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies inter-evaluator messages
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageAlert        MessageType = "alert"
	MessageNotification MessageType = "notification"
)

// MessagePriority levels for inter-evaluator messages
type MessagePriority int

const (
	PriorityLow MessagePriority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// EvaluatorMessage is the envelope for messages routed between evaluators
// by name through the orchestrator
type EvaluatorMessage struct {
	ID        uuid.UUID              `json:"message_id"`
	From      string                 `json:"from_evaluator"`
	To        string                 `json:"to_evaluator"`
	Type      MessageType            `json:"message_type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Priority  MessagePriority        `json:"priority"`
}

// NewEvaluatorMessage builds a message envelope with a fresh ID
func NewEvaluatorMessage(from, to string, msgType MessageType, payload map[string]interface{}, priority MessagePriority) EvaluatorMessage {
	return EvaluatorMessage{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  priority,
	}
}
