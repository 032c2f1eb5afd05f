package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/observability"
	"github.com/smartgeocode/geobatch/internal/provider"
	"github.com/smartgeocode/geobatch/internal/queue"
	"github.com/smartgeocode/geobatch/internal/ratelimit"
	"github.com/smartgeocode/geobatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minJobSlots          = 1
	minRowConcurrency    = 1
	maxRowAttempts       = 3
	baseRetryDelay       = time.Second
	maxRetryDelay        = 30 * time.Second
	maxRetryJitterMillis = 250
)

// WorkerService consumes batch tasks from the work queue and geocodes their
// pending rows. Each queue slot holds one batch at a time; within a batch,
// rows run on a bounded errgroup so a single large job cannot flood the
// provider.
type WorkerService struct {
	batches     repository.BatchRepository
	ledger      QuotaLedger
	consumer    queue.Consumer
	geocoder    provider.Geocoder
	rateLimiter ratelimit.RateLimiter
	metrics     *observability.Metrics
	logger      *zap.Logger

	jobSlots       int
	rowConcurrency int

	now      func() time.Time
	randIntn func(n int) int
}

func NewWorkerService(
	batches repository.BatchRepository,
	ledger QuotaLedger,
	consumer queue.Consumer,
	geocoder provider.Geocoder,
	rateLimiter ratelimit.RateLimiter,
	jobSlots int,
	rowConcurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if batches == nil || ledger == nil || consumer == nil || geocoder == nil || rateLimiter == nil {
		return nil, fmt.Errorf("batch repository, quota ledger, consumer, geocoder, and rate limiter are required")
	}
	if jobSlots < minJobSlots {
		jobSlots = minJobSlots
	}
	if rowConcurrency < minRowConcurrency {
		rowConcurrency = minRowConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		batches:        batches,
		ledger:         ledger,
		consumer:       consumer,
		geocoder:       geocoder,
		rateLimiter:    rateLimiter,
		logger:         logger,
		jobSlots:       jobSlots,
		rowConcurrency: rowConcurrency,
		now:            time.Now,
		randIntn:       rand.Intn,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs jobSlots consumers against the batch work queue until context
// cancellation. Fairness across jobs comes from the slot count: each slot
// picks up one batch with prefetch 1, so a 10k-row upload occupies one slot
// while small batches keep flowing through the others.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.jobSlots; i++ {
		slotID := i + 1

		g.Go(func() error {
			s.logger.Info("batch worker started", zap.Int("slotId", slotID))

			err := s.consumer.Consume(groupCtx, queue.BatchWorkQueue, s.processBatch)
			if err != nil {
				s.logger.Error("batch worker stopped with error",
					zap.Int("slotId", slotID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("batch worker stopped", zap.Int("slotId", slotID))
			return nil
		})
	}

	return g.Wait()
}

// processBatch drives one batch job from queued to a terminal state. It is
// idempotent under queue redelivery: results are upserted by row index,
// progress only ever advances, and terminal jobs are acked without work.
func (s *WorkerService) processBatch(ctx context.Context, task queue.BatchTask) error {
	logger := s.logger.With(zap.String("batchId", task.BatchID))
	if task.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, task.CorrelationID)
		logger = logger.With(zap.String("correlationId", task.CorrelationID))
	}

	job, err := s.batches.GetByID(ctx, task.BatchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("batch not found, dropping task")
			return nil
		}
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if job.Status.IsTerminal() {
		logger.Info("batch already terminal, dropping task", zap.String("status", job.Status.String()))
		return nil
	}

	err = s.batches.UpdateStatus(ctx, job.ID,
		[]domain.BatchStatus{domain.BatchStatusQueued, domain.BatchStatusProcessing},
		domain.BatchStatusProcessing)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn("batch moved under us, dropping task", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to mark batch as processing: %w", err)
	}

	pending, err := s.batches.PendingRows(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load pending rows: %w", err)
	}

	logger.Info("processing batch",
		zap.Int("totalRows", job.TotalRows),
		zap.Int("pendingRows", len(pending)),
	)

	// Rows finished on a previous delivery already count toward progress.
	processed := int64(job.TotalRows - len(pending))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.rowConcurrency)
	for i := range pending {
		row := pending[i]
		g.Go(func() error {
			return s.processRow(groupCtx, job, row, &processed)
		})
	}

	if workErr := g.Wait(); workErr != nil {
		// Shutdown is not a batch fault. Return the error so the task is
		// nacked back to the queue and the next delivery resumes the
		// remaining pending rows.
		if ctx.Err() != nil || errors.Is(workErr, context.Canceled) || errors.Is(workErr, context.DeadlineExceeded) {
			logger.Info("batch interrupted, requeueing task", zap.Error(workErr))
			return workErr
		}
		s.failBatch(ctx, logger, job, workErr)
		return nil
	}

	err = s.batches.UpdateStatus(ctx, job.ID,
		[]domain.BatchStatus{domain.BatchStatusProcessing},
		domain.BatchStatusComplete)
	if err != nil {
		return fmt.Errorf("failed to mark batch as complete: %w", err)
	}
	s.metrics.IncBatchFinished(domain.BatchStatusComplete.String())
	logger.Info("batch complete", zap.Int("totalRows", job.TotalRows))
	return nil
}

// processRow geocodes one row and records its outcome. Provider failures,
// including no-match and exhausted retries, become error rows and still count
// as processed; only storage faults propagate and fail the batch.
func (s *WorkerService) processRow(ctx context.Context, job *domain.BatchJob, row domain.Row, processed *int64) error {
	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	result, geocodeErr := s.geocodeWithRetry(ctx, row)

	processedAt := s.now().UTC()
	row.ProcessedAt = &processedAt
	if geocodeErr == nil {
		row.Status = domain.RowStatusOK
		lat, lng := result.Lat, result.Lng
		row.Lat = &lat
		row.Lng = &lng
		row.FormattedAddress = result.FormattedAddress
	} else {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row.Status = domain.RowStatusError
		row.ErrorReason = geocodeErr.Error()
	}

	if err := s.batches.AppendRow(ctx, &row); err != nil {
		return fmt.Errorf("failed to record row %d: %w", row.Index, err)
	}

	count := atomic.AddInt64(processed, 1)
	if err := s.batches.AdvanceProgress(ctx, job.ID, int(count)); err != nil {
		return fmt.Errorf("failed to advance progress: %w", err)
	}

	s.metrics.IncRowGeocoded(row.Status.String())
	return nil
}

func (s *WorkerService) geocodeWithRetry(ctx context.Context, row domain.Row) (*provider.Result, error) {
	fields := provider.AddressFields{
		Address:  row.Address,
		Landmark: row.Landmark,
		City:     row.City,
		State:    row.State,
		Zip:      row.Zip,
		Country:  row.Country,
	}

	var lastErr error
	for attempt := 1; attempt <= maxRowAttempts; attempt++ {
		if err := s.rateLimiter.Wait(ctx, s.geocoder.Name()); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		start := s.now()
		result, err := s.geocoder.Geocode(ctx, fields)
		s.metrics.ObserveGeocodeDuration(s.geocoder.Name(), s.now().Sub(start))
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !provider.IsTransient(err) || attempt == maxRowAttempts {
			return nil, lastErr
		}

		s.metrics.IncRowRetry(s.geocoder.Name())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.computeRetryDelay(attempt)):
		}
	}

	return nil, lastErr
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// failBatch handles a storage-level fault mid-batch: quota reserved for rows
// that never got an attempt is handed back, the job is marked failed, and the
// task is acked so a poisoned batch cannot loop through the queue forever.
func (s *WorkerService) failBatch(ctx context.Context, logger *zap.Logger, job *domain.BatchJob, cause error) {
	logger.Error("batch failed", zap.Error(cause))

	remaining, err := s.batches.PendingRows(ctx, job.ID)
	if err != nil {
		logger.Error("failed to count unattempted rows, skipping quota release", zap.Error(err))
	} else if len(remaining) > 0 {
		if err := s.ledger.Release(ctx, job.Owner, len(remaining)); err != nil {
			logger.Error("failed to release quota for unattempted rows",
				zap.Int("rows", len(remaining)),
				zap.Error(err),
			)
		}
	}

	err = s.batches.UpdateStatus(ctx, job.ID,
		[]domain.BatchStatus{domain.BatchStatusQueued, domain.BatchStatusProcessing},
		domain.BatchStatusFailed)
	if err != nil {
		logger.Error("failed to mark batch as failed", zap.Error(err))
		return
	}
	s.metrics.IncBatchFinished(domain.BatchStatusFailed.String())
}
