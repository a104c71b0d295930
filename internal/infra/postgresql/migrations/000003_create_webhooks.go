package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/selimunal/notification-relay/internal/repository"
	"gorm.io/gorm"
)

func createWebhookTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_webhooks",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebhookModel{}, &repository.WebhookDeliveryModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_webhooks_service_active ON webhooks (service_id) WHERE is_active`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_status ON webhook_deliveries (status)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_notification_id ON webhook_deliveries (notification_id)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_retry ON webhook_deliveries (next_retry_at) WHERE status = 'RETRYING'`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.WebhookDeliveryModel{},
				&repository.WebhookModel{},
			)
		},
	}
}
