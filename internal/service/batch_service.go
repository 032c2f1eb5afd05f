// Package service holds the application services sitting between the HTTP
// handlers and the repositories: batch submission and status, single lookups,
// and the queue-driven geocode worker.
package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/smartgeocode/geobatch/internal/batchfile"
	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/observability"
	"github.com/smartgeocode/geobatch/internal/queue"
	"github.com/smartgeocode/geobatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxBatchRows = 10000
	defaultPreviewRows  = 50
	defaultListLimit    = 50
)

// QuotaLedger is the slice of the quota ledger the services need.
type QuotaLedger interface {
	CheckAndReserve(ctx context.Context, owner string, n int) error
	Release(ctx context.Context, owner string, n int) error
	Current(ctx context.Context, owner string) (*domain.Usage, error)
}

// BatchStatusView is the polling payload for one batch job: the job record
// plus a rolling preview of its most recently processed rows.
type BatchStatusView struct {
	Job     domain.BatchJob
	Preview []domain.Row
}

type BatchService struct {
	batches     repository.BatchRepository
	ledger      QuotaLedger
	publisher   queue.Publisher
	logger      *zap.Logger
	maxRows     int
	previewRows int
}

func NewBatchService(
	batches repository.BatchRepository,
	ledger QuotaLedger,
	publisher queue.Publisher,
	maxRows int,
	previewRows int,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil || ledger == nil || publisher == nil {
		return nil, fmt.Errorf("batch repository, quota ledger, and publisher are required")
	}
	if maxRows < 1 {
		maxRows = defaultMaxBatchRows
	}
	if previewRows < 1 {
		previewRows = defaultPreviewRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:     batches,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
		maxRows:     maxRows,
		previewRows: previewRows,
	}, nil
}

// Submit parses the uploaded CSV, reserves one quota unit per geocodable row,
// persists the job with its pending rows, and enqueues it for the workers.
// The reservation is all or nothing: a batch that does not fit in the
// remaining monthly quota is rejected whole.
func (s *BatchService) Submit(ctx context.Context, owner string, file io.Reader) (*domain.BatchJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: upload file is required", domain.ErrValidation)
	}

	inputs, err := batchfile.Parse(file, s.maxRows)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.CheckAndReserve(ctx, owner, len(inputs)); err != nil {
		return nil, err
	}

	job := &domain.BatchJob{
		ID:        uuid.NewString(),
		Owner:     owner,
		Status:    domain.BatchStatusQueued,
		TotalRows: len(inputs),
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(inputs))
	for i, input := range inputs {
		rows = append(rows, domain.Row{
			BatchID:  job.ID,
			Index:    i,
			Address:  input.Address,
			Landmark: input.Landmark,
			City:     input.City,
			State:    input.State,
			Zip:      input.Zip,
			Country:  input.Country,
			Status:   domain.RowStatusPending,
		})
	}

	if err := s.batches.Create(ctx, job, rows); err != nil {
		s.releaseAfterFault(ctx, owner, len(inputs), "create failed")
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	task := queue.BatchTask{
		BatchID: job.ID,
		Owner:   owner,
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		task.CorrelationID = correlationID
	}

	if err := s.publisher.Publish(ctx, queue.BatchWorkQueue, task); err != nil {
		s.logger.Error("failed to enqueue batch",
			zap.String("batchId", job.ID),
			zap.Error(err),
		)
		s.releaseAfterFault(ctx, owner, len(inputs), "publish failed")
		if updateErr := s.batches.UpdateStatus(ctx, job.ID, []domain.BatchStatus{domain.BatchStatusQueued}, domain.BatchStatusFailed); updateErr != nil {
			s.logger.Error("failed to mark batch as failed after publish error",
				zap.String("batchId", job.ID),
				zap.Error(updateErr),
			)
		}
		return nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}

	s.logger.Info("batch submitted",
		zap.String("batchId", job.ID),
		zap.String("owner", owner),
		zap.Int("totalRows", job.TotalRows),
	)
	return job, nil
}

// GetStatus returns the job and a preview of its most recently processed
// rows. Jobs belonging to another owner read as domain.ErrForbidden, not
// ErrNotFound, so a misrouted poll is distinguishable from a deleted job.
func (s *BatchService) GetStatus(ctx context.Context, owner, batchID string) (*BatchStatusView, error) {
	job, err := s.authorizedJob(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}

	preview, err := s.batches.Preview(ctx, job.ID, s.previewRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load preview rows: %w", err)
	}

	return &BatchStatusView{Job: *job, Preview: preview}, nil
}

// Download streams the result CSV for a finished batch. Jobs still queued or
// processing have no stable artifact yet and read as domain.ErrConflict.
func (s *BatchService) Download(ctx context.Context, owner, batchID string, w io.Writer) error {
	job, err := s.authorizedJob(ctx, owner, batchID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: batch %s is still %s", domain.ErrConflict, job.ID, job.Status)
	}

	rows, err := s.batches.Rows(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load batch rows: %w", err)
	}

	return batchfile.Render(w, rows)
}

// List returns the owner's batches, newest first.
func (s *BatchService) List(ctx context.Context, owner string, limit int) ([]domain.BatchJob, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if limit < 1 {
		limit = defaultListLimit
	}
	return s.batches.ListByOwner(ctx, owner, limit)
}

// Usage reports the owner's current-month quota consumption.
func (s *BatchService) Usage(ctx context.Context, owner string) (*domain.Usage, error) {
	return s.ledger.Current(ctx, owner)
}

func (s *BatchService) authorizedJob(ctx context.Context, owner, batchID string) (*domain.BatchJob, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	job, err := s.batches.GetByID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, fmt.Errorf("%w: batch %s belongs to another account", domain.ErrForbidden, job.ID)
	}
	return job, nil
}

func (s *BatchService) releaseAfterFault(ctx context.Context, owner string, n int, cause string) {
	if err := s.ledger.Release(ctx, owner, n); err != nil {
		s.logger.Error("failed to release quota after fault",
			zap.String("owner", owner),
			zap.Int("rows", n),
			zap.String("cause", cause),
			zap.Error(err),
		)
	}
}
