package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch job.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusComplete   BatchStatus = "complete"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusQueued, BatchStatusProcessing, BatchStatusComplete, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusComplete || s == BatchStatusFailed
}

// CanTransition reports whether the state machine permits moving to next.
// queued -> processing -> {complete, failed}; queued -> failed covers
// submissions that cannot be dispatched at all.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchStatusQueued:
		return next == BatchStatusProcessing || next == BatchStatusFailed
	case BatchStatusProcessing:
		return next == BatchStatusComplete || next == BatchStatusFailed
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// BatchJob is one CSV upload and its asynchronous geocoding run.
type BatchJob struct {
	ID            string
	Owner         string
	Status        BatchStatus
	TotalRows     int
	ProcessedRows int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b *BatchJob) Validate() error {
	if strings.TrimSpace(b.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if b.TotalRows < 1 {
		return fmt.Errorf("%w: batch must contain at least one geocodable row", ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	return nil
}
