package repository

import (
	"time"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

// DeliveryAttemptModel is the persistence model for the delivery_attempts table.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	IdempotencyKey string  `gorm:"type:varchar(255);not null;index:idx_delivery_attempts_key_invocation,priority:1"`
	Provider       string  `gorm:"type:varchar(64);not null"`
	Round          int     `gorm:"not null"`
	Invocation     int     `gorm:"not null;index:idx_delivery_attempts_key_invocation,priority:2"`
	Success        bool    `gorm:"not null"`
	Transient      bool    `gorm:"not null;default:false"`
	StatusCode     *int    `gorm:"type:int"`
	Error          *string `gorm:"type:text"`
	DurationMs     int64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		IdempotencyKey: a.IdempotencyKey,
		Provider:       a.Provider,
		Round:          a.Round,
		Invocation:     a.Invocation,
		Success:        a.Success,
		Transient:      a.Transient,
		StatusCode:     a.StatusCode,
		Error:          a.Error,
		DurationMs:     a.DurationMs,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		IdempotencyKey: m.IdempotencyKey,
		Provider:       m.Provider,
		Round:          m.Round,
		Invocation:     m.Invocation,
		Success:        m.Success,
		Transient:      m.Transient,
		StatusCode:     m.StatusCode,
		Error:          m.Error,
		DurationMs:     m.DurationMs,
		CreatedAt:      m.CreatedAt,
	}
}
