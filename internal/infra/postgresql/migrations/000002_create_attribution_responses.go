package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/movenbook/attribution-engine/internal/repository"
	"gorm.io/gorm"
)

func createAttributionResponsesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_attribution_responses",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AttributionResponseModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_responses_attribution_responded ON attribution_responses (attribution_id, responded_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AttributionResponseModel{})
		},
	}
}
