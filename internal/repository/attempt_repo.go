package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create stores one provider invocation. A missing ID is generated.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: delivery attempt is required", domain.ErrValidation)
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}

	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create delivery attempt: %w", err)
	}
	*a = *attemptModelToDomain(model)
	return nil
}

// ListByIdempotencyKey returns the attempts for key in invocation order.
func (r *GormAttemptRepo) ListByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryAttempt, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}

	var models []DeliveryAttemptModel
	if err := r.attemptsByKey(ctx, key).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) attemptsByKey(ctx context.Context, key string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("idempotency_key = ?", key).
		Order("created_at ASC").
		Order("invocation ASC")
}
