package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/selimunal/notification-relay/internal/repository"
	"gorm.io/gorm"
)

func createProviderTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_providers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ProviderModel{}, &repository.ServiceUserModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_providers_active_priority ON providers (priority) WHERE is_active`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ProviderModel{},
				&repository.ServiceUserModel{},
			)
		},
	}
}
