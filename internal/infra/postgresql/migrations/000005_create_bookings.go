package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/movenbook/attribution-engine/internal/repository"
	"gorm.io/gorm"
)

func createBookingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_bookings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.BookingModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BookingModel{})
		},
	}
}
