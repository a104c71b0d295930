package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/selimunal/notification-relay/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications (status)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications (created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_channel ON notifications (channel)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_fingerprint ON notifications (fingerprint, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_external_ids ON notifications USING GIN (external_ids)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_retry ON notifications (next_retry_at) WHERE status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_scheduled_due ON notifications (scheduled_at) WHERE status = 'PENDING' AND scheduled_at IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
