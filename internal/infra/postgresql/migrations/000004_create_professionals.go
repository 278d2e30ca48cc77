package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/movenbook/attribution-engine/internal/repository"
	"gorm.io/gorm"
)

func createProfessionalsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_professionals",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.ProfessionalModel{},
				&repository.ProfessionalCategoryModel{},
			); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_professional_categories_category ON professional_categories (category)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ProfessionalCategoryModel{},
				&repository.ProfessionalModel{},
			)
		},
	}
}
