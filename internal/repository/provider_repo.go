package repository

import (
	"context"
	"errors"

	"github.com/selimunal/notification-relay/internal/domain"
	"gorm.io/gorm"
)

type ProviderRepository interface {
	List(ctx context.Context) ([]domain.Provider, error)
	GetByID(ctx context.Context, id string) (*domain.Provider, error)
}

type GormProviderRepo struct {
	db *gorm.DB
}

func NewGormProviderRepo(db *gorm.DB) *GormProviderRepo {
	return &GormProviderRepo{db: db}
}

func (r *GormProviderRepo) List(ctx context.Context) ([]domain.Provider, error) {
	var models []ProviderModel
	err := r.db.WithContext(ctx).
		Order("priority ASC, name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	providers := make([]domain.Provider, 0, len(models))
	for i := range models {
		providers = append(providers, *providerModelToDomain(&models[i]))
	}
	return providers, nil
}

func (r *GormProviderRepo) GetByID(ctx context.Context, id string) (*domain.Provider, error) {
	var model ProviderModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return providerModelToDomain(&model), nil
}
