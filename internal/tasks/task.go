// Package tasks defines the asynchronous task surface between the order
// lifecycle and the loyalty service. Tasks are at-least-once and carry
// identifiers only; handlers re-fetch state fresh and rely on the loyalty
// service for idempotency, so re-delivery is harmless.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProcessOrderPoints      = "process_order_points"
	ReverseOrderPoints      = "reverse_order_points"
	RecalculateUserTier     = "recalculate_user_tier"
	ProcessPointsExpiration = "process_points_expiration"
)

type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OrderID    int64     `json:"order_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func New(name string) Task {
	return Task{
		ID:         uuid.New().String(),
		Name:       name,
		EnqueuedAt: time.Now().UTC(),
	}
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the structured outcome of one task execution. An "error"
// status is a reported terminal failure, distinguishable from a raised
// error: the task ran out of retries (or hit a non-retryable condition)
// and operators can see it.
type Result struct {
	Status   string `json:"status"`
	Task     string `json:"task"`
	Points   int64  `json:"points,omitempty"`
	Attempts int    `json:"attempts"`
	Detail   string `json:"detail,omitempty"`
}
