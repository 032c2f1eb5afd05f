package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/smartgeocode/geobatch/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_batch_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BatchJobModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs (status)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchJobModel{})
			},
		},
		{
			ID: "000002_create_batch_rows",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BatchRowModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_batch_rows_pending ON batch_rows (batch_id, row_index) WHERE status = 'pending'`,
					`CREATE INDEX IF NOT EXISTS idx_batch_rows_processed_at ON batch_rows (batch_id, processed_at) WHERE processed_at IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchRowModel{})
			},
		},
		{
			ID: "000003_create_usage_ledgers",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.UsageLedgerModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.UsageLedgerModel{})
			},
		},
		{
			ID: "000004_create_accounts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.AccountModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AccountModel{})
			},
		},
	})

	return m.Migrate()
}
