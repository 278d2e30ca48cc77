package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/movenbook/attribution-engine/internal/repository"
	"gorm.io/gorm"
)

func createAttributionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_attributions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AttributionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_attributions_booking_created ON attributions (booking_id, created_at DESC)`,
				// Stale-open scan: the scanner reads by status and last update.
				`CREATE INDEX IF NOT EXISTS idx_attributions_open_updated ON attributions (updated_at) WHERE status IN ('BROADCASTING', 'RE_BROADCASTING')`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AttributionModel{})
		},
	}
}
