package repository

import (
	"context"
	"errors"

	"github.com/smartgeocode/geobatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchRepository is the durable store for batch jobs and their row-level
// results. AppendRow and AdvanceProgress are safe to call repeatedly and out
// of strict row order from concurrent workers.
type BatchRepository interface {
	Create(ctx context.Context, job *domain.BatchJob, rows []domain.Row) error
	GetByID(ctx context.Context, id string) (*domain.BatchJob, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]domain.BatchJob, error)
	UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus) error
	AdvanceProgress(ctx context.Context, id string, processed int) error
	AppendRow(ctx context.Context, row *domain.Row) error
	PendingRows(ctx context.Context, batchID string) ([]domain.Row, error)
	Rows(ctx context.Context, batchID string) ([]domain.Row, error)
	Preview(ctx context.Context, batchID string, n int) ([]domain.Row, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// Create persists the job record and its input rows in one transaction so a
// half-written upload never becomes visible.
func (r *GormBatchRepo) Create(ctx context.Context, job *domain.BatchJob, rows []domain.Row) error {
	model := batchJobModelFromDomain(job)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		rowModels := make([]BatchRowModel, 0, len(rows))
		for i := range rows {
			rowModels = append(rowModels, *batchRowModelFromDomain(&rows[i]))
		}
		if len(rowModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rowModels, 500).Error
	})
	if err != nil {
		return err
	}

	if job != nil {
		*job = *batchJobModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchJob, error) {
	var model BatchJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchJobModelToDomain(&model), nil
}

func (r *GormBatchRepo) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.BatchJob, error) {
	if limit < 1 {
		limit = 50
	}

	var models []BatchJobModel
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.BatchJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *batchJobModelToDomain(&models[i]))
	}
	return jobs, nil
}

// UpdateStatus moves the job to a new status only when its current status is
// one of from, making terminal states final and the transition idempotent-safe
// under queue redelivery.
func (r *GormBatchRepo) UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus) error {
	query := r.db.WithContext(ctx).
		Model(&BatchJobModel{}).
		Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}

	result := query.Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&BatchJobModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// AdvanceProgress raises processed_rows to processed, never lowering it and
// never exceeding total_rows. Out-of-order calls from concurrent workers
// collapse to the maximum observed count.
func (r *GormBatchRepo) AdvanceProgress(ctx context.Context, id string, processed int) error {
	result := r.db.WithContext(ctx).
		Model(&BatchJobModel{}).
		Where("id = ?", id).
		Update("processed_rows", gorm.Expr("LEAST(GREATEST(processed_rows, ?), total_rows)", processed))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendRow upserts the row outcome keyed by (batch_id, row_index), so a
// redelivered task rewriting the same result is harmless.
func (r *GormBatchRepo) AppendRow(ctx context.Context, row *domain.Row) error {
	model := batchRowModelFromDomain(row)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "batch_id"}, {Name: "row_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "lat", "lng", "formatted_address", "error_reason", "processed_at",
			}),
		}).
		Create(model).Error
}

func (r *GormBatchRepo) PendingRows(ctx context.Context, batchID string) ([]domain.Row, error) {
	return r.findRows(ctx, r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, domain.RowStatusPending).
		Order("row_index ASC"))
}

// Rows returns the batch's full result artifact in input order.
func (r *GormBatchRepo) Rows(ctx context.Context, batchID string) ([]domain.Row, error) {
	return r.findRows(ctx, r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("row_index ASC"))
}

// Preview returns the n most recently processed rows, oldest first, matching
// the live table the dashboard renders.
func (r *GormBatchRepo) Preview(ctx context.Context, batchID string, n int) ([]domain.Row, error) {
	if n < 1 {
		return nil, nil
	}

	rows, err := r.findRows(ctx, r.db.WithContext(ctx).
		Where("batch_id = ? AND status <> ?", batchID, domain.RowStatusPending).
		Order("processed_at DESC").
		Limit(n))
	if err != nil {
		return nil, err
	}

	// Reverse into processing order for display.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *GormBatchRepo) findRows(_ context.Context, query *gorm.DB) ([]domain.Row, error) {
	var models []BatchRowModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(models))
	for i := range models {
		rows = append(rows, *batchRowModelToDomain(&models[i]))
	}
	return rows, nil
}
