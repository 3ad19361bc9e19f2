// Package worker executes loyalty tasks consumed from the task topic.
// Execution is at-least-once: every task is safe to run twice because the
// loyalty service enforces idempotency, not the task runner.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/loyalty"
	"github.com/ecomware/fulfillment-ledger/internal/tasks"
	"github.com/ecomware/fulfillment-ledger/internal/telemetry"
)

// LoyaltyService is the slice of *loyalty.Service the worker calls.
type LoyaltyService interface {
	AwardOrderPoints(ctx context.Context, orderID int64) (int64, error)
	ReverseOrderPoints(ctx context.Context, orderID int64) (int64, error)
	CheckNewCustomerBonus(ctx context.Context, userID, orderID int64) (int64, error)
	RecalculateUserTier(ctx context.Context, userID int64) error
	ProcessExpiration(ctx context.Context) (int, error)
}

// RetryPolicy bounds how often a failed task is re-executed before it is
// reported as a terminal failure.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

type TaskHandler struct {
	svc     LoyaltyService
	retry   RetryPolicy
	metrics *telemetry.TaskMetrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTaskHandler(svc LoyaltyService, retry RetryPolicy, metrics *telemetry.TaskMetrics, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		svc:     svc,
		retry:   retry,
		metrics: metrics,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Handle decodes and executes one task message. It always commits the
// message: a task that exhausted its retries is reported as a terminal
// failure, never re-queued forever, and never silently dropped.
func (h *TaskHandler) Handle(ctx context.Context, payload []byte) error {
	var task tasks.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		h.logger.Error("discarding undecodable task payload", "error", err)
		h.metrics.RecordFailure(ctx, "undecodable")
		return nil
	}

	result := h.Execute(ctx, task)
	if result.Status == tasks.StatusSuccess {
		h.logger.Info("task completed",
			"task", task.Name, "task_id", task.ID, "order_id", task.OrderID,
			"points", result.Points, "attempts", result.Attempts)
		h.metrics.RecordSuccess(ctx, task.Name)
		return nil
	}

	h.logger.Error("task failed terminally",
		"task", task.Name, "task_id", task.ID, "order_id", task.OrderID,
		"attempts", result.Attempts, "detail", result.Detail)
	h.metrics.RecordFailure(ctx, task.Name)
	return nil
}

// Execute runs the task with bounded retries and exponential backoff.
// Validation and not-found conditions are not retried: waiting will not
// change them.
func (h *TaskHandler) Execute(ctx context.Context, task tasks.Task) tasks.Result {
	result := tasks.Result{Task: task.Name}

	delay := h.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		points, err := h.run(ctx, task)
		if err == nil {
			result.Status = tasks.StatusSuccess
			result.Points = points
			return result
		}

		if !retryable(err) {
			result.Status = tasks.StatusError
			result.Detail = err.Error()
			return result
		}

		if attempt >= h.retry.MaxAttempts {
			result.Status = tasks.StatusError
			result.Detail = fmt.Sprintf("retries exhausted: %v", err)
			return result
		}

		h.logger.Warn("task attempt failed, retrying",
			"task", task.Name, "task_id", task.ID, "attempt", attempt, "error", err)
		h.metrics.RecordRetry(ctx, task.Name)

		if err := h.sleep(ctx, delay); err != nil {
			result.Status = tasks.StatusError
			result.Detail = fmt.Sprintf("canceled while waiting to retry: %v", err)
			return result
		}
		if delay *= 2; delay > h.retry.MaxDelay {
			delay = h.retry.MaxDelay
		}
	}
}

func (h *TaskHandler) run(ctx context.Context, task tasks.Task) (int64, error) {
	switch task.Name {
	case tasks.ProcessOrderPoints:
		points, err := h.svc.AwardOrderPoints(ctx, task.OrderID)
		if err != nil {
			return 0, err
		}
		bonus, err := h.svc.CheckNewCustomerBonus(ctx, task.UserID, task.OrderID)
		if err != nil {
			return 0, err
		}
		return points + bonus, nil

	case tasks.ReverseOrderPoints:
		return h.svc.ReverseOrderPoints(ctx, task.OrderID)

	case tasks.RecalculateUserTier:
		return 0, h.svc.RecalculateUserTier(ctx, task.UserID)

	case tasks.ProcessPointsExpiration:
		expired, err := h.svc.ProcessExpiration(ctx)
		return int64(expired), err

	default:
		return 0, fmt.Errorf("unknown task %q", task.Name)
	}
}

func retryable(err error) bool {
	var validation *loyalty.ValidationError
	if errors.As(err, &validation) {
		return false
	}
	if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrUserNotFound) {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
