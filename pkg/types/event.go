package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes coordination events emitted by the engine.
type EventType string

const (
	EventTaskCreated       EventType = "task_created"
	EventTaskStatus        EventType = "task_status"
	EventTaskProgress      EventType = "task_progress"
	EventTaskCheckpoint    EventType = "task_checkpoint"
	EventTaskCancelled     EventType = "task_cancelled"
	EventTaskDeleted       EventType = "task_deleted"
	EventWorkflowCreated   EventType = "workflow_created"
	EventWorkflowCompleted EventType = "workflow_completed"
)

// Event is a single coordination-memory notification. The engine emits these
// for an optional persistence collaborator; their absence never affects
// correctness, only observability.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ToSSE formats the event for the Server-Sent Events protocol.
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
