package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/serviceusage/v1"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/metrics"
)

// DefaultPollInterval is the delay between two polls of a pending operation.
const DefaultPollInterval = 2 * time.Second

// OperationStatus is a single observation of a long-running operation.
type OperationStatus struct {
	Done bool
	// Failure is the terminal error of a finished operation, if any.
	Failure error
}

// PollFunc fetches the current status of one operation. A returned error
// means the poll itself failed, not the operation.
type PollFunc func(ctx context.Context) (OperationStatus, error)

// Waiter blocks until a long-running operation finishes. The wait is bounded
// only by ctx.
type Waiter struct {
	Interval time.Duration
}

// Wait polls until the operation is done. It returns the operation's failure,
// a poll error, or the context error, whichever comes first.
func (w Waiter) Wait(ctx context.Context, description string, poll PollFunc) error {
	start := time.Now()
	defer func() {
		metrics.ObserveWait(string(cloud.ProviderGCP), description, time.Since(start))
	}()

	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("stopped waiting for %s: %w", description, ctx.Err())
		case <-timer.C:
		}

		status, err := poll(ctx)
		if err != nil {
			return fmt.Errorf("failed to poll %s: %w", description, err)
		}
		if status.Done {
			return status.Failure
		}
		timer.Reset(interval)
	}
}

// OperationErrorEntry is one vendor-reported error of a failed operation.
type OperationErrorEntry struct {
	Code    string
	Message string
}

// OperationError is the terminal failure of a long-running operation.
type OperationError struct {
	Description string
	Operation   string
	Entries     []OperationErrorEntry
}

func (e *OperationError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		parts = append(parts, entry.Code+": "+entry.Message)
	}
	return fmt.Sprintf("%s (%s) failed: %s", e.Description, e.Operation, strings.Join(parts, "; "))
}

// Is matches cloud.ErrConflict when the vendor reports a failed precondition,
// as it does for a stale fingerprint.
func (e *OperationError) Is(target error) bool {
	if target != cloud.ErrConflict {
		return false
	}
	for _, entry := range e.Entries {
		if entry.Code == "CONDITION_NOT_MET" || entry.Code == "PRECONDITION_FAILED" {
			return true
		}
	}
	return false
}

func zoneOperationStatus(op *compute.Operation, description string) OperationStatus {
	if op.Status != "DONE" {
		return OperationStatus{}
	}
	var entries []OperationErrorEntry
	if op.Error != nil {
		for _, e := range op.Error.Errors {
			entries = append(entries, OperationErrorEntry{Code: e.Code, Message: e.Message})
		}
	}
	if len(entries) == 0 && op.HttpErrorStatusCode >= 400 {
		entries = append(entries, OperationErrorEntry{
			Code:    fmt.Sprintf("HTTP_%d", op.HttpErrorStatusCode),
			Message: op.HttpErrorMessage,
		})
	}
	if len(entries) == 0 {
		return OperationStatus{Done: true}
	}
	return OperationStatus{Done: true, Failure: &OperationError{
		Description: description,
		Operation:   op.Name,
		Entries:     entries,
	}}
}

func serviceOperationStatus(op *serviceusage.Operation, description string) OperationStatus {
	if !op.Done {
		return OperationStatus{}
	}
	if op.Error == nil {
		return OperationStatus{Done: true}
	}
	return OperationStatus{Done: true, Failure: &OperationError{
		Description: description,
		Operation:   op.Name,
		Entries: []OperationErrorEntry{{
			Code:    fmt.Sprintf("%d", op.Error.Code),
			Message: op.Error.Message,
		}},
	}}
}
