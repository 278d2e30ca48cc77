package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/movenbook/attribution-engine/internal/repository"
	"gorm.io/gorm"
)

func createPenaltyRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_penalty_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PenaltyRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				// One ledger row per (professional, category) pair.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_penalties_professional_category ON penalty_records (professional_id, category)`,
				`CREATE INDEX IF NOT EXISTS idx_penalties_blacklisted ON penalty_records (category) WHERE blacklisted = true`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PenaltyRecordModel{})
		},
	}
}
