package syncqueue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued sync event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Default bounds for new events.
const (
	DefaultPriority   = 100
	DefaultMaxRetries = 3
)

// Event is the unit of durable sync work. The payload is written once at
// enqueue time and never mutated afterwards.
type Event struct {
	ID          uuid.UUID
	CompanyID   int64
	SubjectID   int64
	EventType   string
	Payload     json.RawMessage
	Status      Status
	Priority    int
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	ScheduledAt time.Time
	ClaimedAt   *time.Time
	ProcessedAt *time.Time
}

// Terminal reports whether the event reached a final state.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Stats aggregates queue counts by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

var (
	// ErrNotFound indicates the event does not exist.
	ErrNotFound = errors.New("syncqueue: event not found")
	// ErrInvalidState occurs when a transition guard rejects the update,
	// e.g. completing an event another worker already resolved.
	ErrInvalidState = errors.New("syncqueue: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("syncqueue: invalid input")
)
