package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/loyalty"
	"github.com/ecomware/fulfillment-ledger/internal/tasks"
	"github.com/ecomware/fulfillment-ledger/internal/telemetry"
)

type fakeService struct {
	award   func(ctx context.Context, orderID int64) (int64, error)
	reverse func(ctx context.Context, orderID int64) (int64, error)
	bonus   func(ctx context.Context, userID, orderID int64) (int64, error)
	tier    func(ctx context.Context, userID int64) error
	expire  func(ctx context.Context) (int, error)
}

func (f *fakeService) AwardOrderPoints(ctx context.Context, orderID int64) (int64, error) {
	return f.award(ctx, orderID)
}

func (f *fakeService) ReverseOrderPoints(ctx context.Context, orderID int64) (int64, error) {
	return f.reverse(ctx, orderID)
}

func (f *fakeService) CheckNewCustomerBonus(ctx context.Context, userID, orderID int64) (int64, error) {
	return f.bonus(ctx, userID, orderID)
}

func (f *fakeService) RecalculateUserTier(ctx context.Context, userID int64) error {
	return f.tier(ctx, userID)
}

func (f *fakeService) ProcessExpiration(ctx context.Context) (int, error) {
	return f.expire(ctx)
}

func noopService() *fakeService {
	return &fakeService{
		award:   func(context.Context, int64) (int64, error) { return 0, nil },
		reverse: func(context.Context, int64) (int64, error) { return 0, nil },
		bonus:   func(context.Context, int64, int64) (int64, error) { return 0, nil },
		tier:    func(context.Context, int64) error { return nil },
		expire:  func(context.Context) (int, error) { return 0, nil },
	}
}

func newTestHandler(t *testing.T, svc LoyaltyService) *TaskHandler {
	t.Helper()
	metrics, err := telemetry.NewTaskMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	h := NewTaskHandler(svc, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}, metrics, slog.New(slog.DiscardHandler))
	h.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	svc := noopService()
	svc.award = func(_ context.Context, orderID int64) (int64, error) {
		if orderID != 42 {
			t.Errorf("expected order 42, got %d", orderID)
		}
		return 100, nil
	}
	svc.bonus = func(context.Context, int64, int64) (int64, error) { return 25, nil }

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ProcessOrderPoints, OrderID: 42, UserID: 7})

	if result.Status != tasks.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Detail)
	}
	if result.Points != 125 {
		t.Fatalf("expected 125 points including bonus, got %d", result.Points)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	calls := 0
	svc := noopService()
	svc.reverse = func(context.Context, int64) (int64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 50, nil
	}

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ReverseOrderPoints, OrderID: 1})

	if result.Status != tasks.StatusSuccess {
		t.Fatalf("expected success after retries, got %s (%s)", result.Status, result.Detail)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	calls := 0
	svc := noopService()
	svc.reverse = func(context.Context, int64) (int64, error) {
		calls++
		return 0, errors.New("still broken")
	}

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ReverseOrderPoints, OrderID: 1})

	if result.Status != tasks.StatusError {
		t.Fatalf("expected terminal error, got %s", result.Status)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestExecuteDoesNotRetryValidationErrors(t *testing.T) {
	calls := 0
	svc := noopService()
	svc.award = func(context.Context, int64) (int64, error) {
		calls++
		return 0, &loyalty.ValidationError{Reason: loyalty.ReasonDisabled}
	}

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ProcessOrderPoints, OrderID: 1})

	if result.Status != tasks.StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestExecuteDoesNotRetryNotFound(t *testing.T) {
	calls := 0
	svc := noopService()
	svc.reverse = func(context.Context, int64) (int64, error) {
		calls++
		return 0, domain.ErrOrderNotFound
	}

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ReverseOrderPoints, OrderID: 1})

	if result.Status != tasks.StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestExecuteStopsWhenContextCanceled(t *testing.T) {
	svc := noopService()
	svc.reverse = func(context.Context, int64) (int64, error) {
		return 0, errors.New("transient")
	}

	h := newTestHandler(t, svc)
	h.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ReverseOrderPoints, OrderID: 1})
	if result.Status != tasks.StatusError {
		t.Fatalf("expected error status after cancellation, got %s", result.Status)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected to stop after the first attempt, got %d", result.Attempts)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	h := newTestHandler(t, noopService())

	result := h.Execute(context.Background(), tasks.Task{Name: "sort_the_warehouse"})
	if result.Status != tasks.StatusError {
		t.Fatalf("expected error for unknown task, got %s", result.Status)
	}
}

func TestHandleAlwaysCommits(t *testing.T) {
	h := newTestHandler(t, noopService())

	if err := h.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("expected undecodable payload to be discarded, got %v", err)
	}

	svc := noopService()
	svc.reverse = func(context.Context, int64) (int64, error) {
		return 0, errors.New("always fails")
	}
	h = newTestHandler(t, svc)

	payload, err := json.Marshal(tasks.Task{ID: "t-1", Name: tasks.ReverseOrderPoints, OrderID: 1})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("expected terminal failure to still commit, got %v", err)
	}
}

func TestExecuteExpiration(t *testing.T) {
	svc := noopService()
	svc.expire = func(context.Context) (int, error) { return 7, nil }

	h := newTestHandler(t, svc)
	result := h.Execute(context.Background(), tasks.Task{Name: tasks.ProcessPointsExpiration})
	if result.Status != tasks.StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Points != 7 {
		t.Fatalf("expected 7 expired rows reported, got %d", result.Points)
	}
}
