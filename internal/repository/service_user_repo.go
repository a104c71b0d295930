package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/selimunal/notification-relay/internal/domain"
	"gorm.io/gorm"
)

type ServiceUserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.ServiceUser, error)
}

type GormServiceUserRepo struct {
	db *gorm.DB
}

func NewGormServiceUserRepo(db *gorm.DB) *GormServiceUserRepo {
	return &GormServiceUserRepo{db: db}
}

func (r *GormServiceUserRepo) GetByID(ctx context.Context, id string) (*domain.ServiceUser, error) {
	var model ServiceUserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: service user %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return serviceUserModelToDomain(&model), nil
}
