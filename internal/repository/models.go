package repository

import (
	"time"

	"github.com/smartgeocode/geobatch/internal/domain"
)

// BatchJobModel is the persistence model for the batch_jobs table.
type BatchJobModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	Owner         string             `gorm:"type:varchar(255);not null;index:idx_batch_jobs_owner_created,priority:1"`
	Status        domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalRows     int                `gorm:"not null"`
	ProcessedRows int                `gorm:"not null;default:0"`
	CreatedAt     time.Time          `gorm:"index:idx_batch_jobs_owner_created,priority:2"`
	UpdatedAt     time.Time
}

func (BatchJobModel) TableName() string {
	return "batch_jobs"
}

// BatchRowModel is the persistence model for batch_rows. The full row set of a
// batch is its result artifact.
type BatchRowModel struct {
	BatchID  string `gorm:"type:uuid;primaryKey"`
	RowIndex int    `gorm:"primaryKey;autoIncrement:false"`
	Address  string `gorm:"type:text;not null"`
	Landmark string `gorm:"type:text"`
	City     string `gorm:"type:text"`
	State    string `gorm:"type:text"`
	Zip      string `gorm:"type:varchar(20)"`
	Country  string `gorm:"type:text"`

	Status           domain.RowStatus `gorm:"type:varchar(10);not null"`
	Lat              *float64
	Lng              *float64
	FormattedAddress string `gorm:"type:text"`
	ErrorReason      string `gorm:"type:text"`
	ProcessedAt      *time.Time
}

func (BatchRowModel) TableName() string {
	return "batch_rows"
}

// UsageLedgerModel is the persistence model for usage_ledgers, keyed by
// (owner, period) with period as a "2006-01" month key.
type UsageLedgerModel struct {
	Owner     string `gorm:"type:varchar(255);primaryKey"`
	Period    string `gorm:"type:varchar(7);primaryKey"`
	Used      int    `gorm:"not null;default:0"`
	Limit     int    `gorm:"column:limit;not null"`
	UpdatedAt time.Time
}

func (UsageLedgerModel) TableName() string {
	return "usage_ledgers"
}

// AccountModel mirrors the billing collaborator's accounts table. The engine
// only reads subscription_status to derive the plan limit.
type AccountModel struct {
	ID                 string `gorm:"type:varchar(255);primaryKey"`
	SubscriptionStatus string `gorm:"type:varchar(20);not null;default:free"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

func batchJobModelFromDomain(b *domain.BatchJob) *BatchJobModel {
	if b == nil {
		return nil
	}

	return &BatchJobModel{
		ID:            b.ID,
		Owner:         b.Owner,
		Status:        b.Status,
		TotalRows:     b.TotalRows,
		ProcessedRows: b.ProcessedRows,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func batchJobModelToDomain(m *BatchJobModel) *domain.BatchJob {
	if m == nil {
		return nil
	}

	return &domain.BatchJob{
		ID:            m.ID,
		Owner:         m.Owner,
		Status:        m.Status,
		TotalRows:     m.TotalRows,
		ProcessedRows: m.ProcessedRows,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func batchRowModelFromDomain(r *domain.Row) *BatchRowModel {
	if r == nil {
		return nil
	}

	return &BatchRowModel{
		BatchID:          r.BatchID,
		RowIndex:         r.Index,
		Address:          r.Address,
		Landmark:         r.Landmark,
		City:             r.City,
		State:            r.State,
		Zip:              r.Zip,
		Country:          r.Country,
		Status:           r.Status,
		Lat:              r.Lat,
		Lng:              r.Lng,
		FormattedAddress: r.FormattedAddress,
		ErrorReason:      r.ErrorReason,
		ProcessedAt:      r.ProcessedAt,
	}
}

func batchRowModelToDomain(m *BatchRowModel) *domain.Row {
	if m == nil {
		return nil
	}

	return &domain.Row{
		BatchID:          m.BatchID,
		Index:            m.RowIndex,
		Address:          m.Address,
		Landmark:         m.Landmark,
		City:             m.City,
		State:            m.State,
		Zip:              m.Zip,
		Country:          m.Country,
		Status:           m.Status,
		Lat:              m.Lat,
		Lng:              m.Lng,
		FormattedAddress: m.FormattedAddress,
		ErrorReason:      m.ErrorReason,
		ProcessedAt:      m.ProcessedAt,
	}
}

func usageLedgerModelToDomain(m *UsageLedgerModel) *domain.Usage {
	if m == nil {
		return nil
	}

	return &domain.Usage{
		Owner:  m.Owner,
		Period: m.Period,
		Used:   m.Used,
		Limit:  m.Limit,
	}
}
