package models

import (
	"time"

	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// DeliveryJobModel is the persistence model for queued delivery jobs.
// The primary key is the job's idempotency key, so a second insert of the
// same key is rejected by the database itself.
type DeliveryJobModel struct {
	ID            string      `gorm:"type:varchar(255);primaryKey"`
	Queue         string      `gorm:"type:varchar(32);not null;index:idx_delivery_jobs_claim,priority:1;index:idx_delivery_jobs_finished,priority:1"`
	Payload       []byte      `gorm:"type:jsonb;not null"`
	State         queue.State `gorm:"type:varchar(16);not null;default:waiting;index:idx_delivery_jobs_claim,priority:2;index:idx_delivery_jobs_finished,priority:2"`
	Attempts      int         `gorm:"not null;default:0"`
	MaxAttempts   int         `gorm:"not null;default:5"`
	BackoffBaseMs int64       `gorm:"not null;default:1000"`
	AvailableAt   time.Time   `gorm:"not null;index:idx_delivery_jobs_claim,priority:3"`
	LockedUntil   *time.Time
	LastError     string     `gorm:"type:text"`
	FinishedAt    *time.Time `gorm:"index:idx_delivery_jobs_finished,priority:3"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeliveryJobModel) TableName() string {
	return "delivery_jobs"
}

// ToDomain converts the persistence model to a queue Job
func (m *DeliveryJobModel) ToDomain() *queue.Job {
	return &queue.Job{
		ID:          m.ID,
		Queue:       m.Queue,
		Payload:     m.Payload,
		State:       m.State,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		BackoffBase: time.Duration(m.BackoffBaseMs) * time.Millisecond,
		AvailableAt: m.AvailableAt,
		LockedUntil: m.LockedUntil,
		LastError:   m.LastError,
		FinishedAt:  m.FinishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a queue Job
func (m *DeliveryJobModel) FromDomain(j *queue.Job) {
	m.ID = j.ID
	m.Queue = j.Queue
	m.Payload = j.Payload
	m.State = j.State
	m.Attempts = j.Attempts
	m.MaxAttempts = j.MaxAttempts
	m.BackoffBaseMs = j.BackoffBase.Milliseconds()
	m.AvailableAt = j.AvailableAt
	m.LockedUntil = j.LockedUntil
	m.LastError = j.LastError
	m.FinishedAt = j.FinishedAt
	m.CreatedAt = j.CreatedAt
	m.UpdatedAt = j.UpdatedAt
}

// DeliveryJobModelFromDomain creates a new persistence model from a queue Job
func DeliveryJobModelFromDomain(j *queue.Job) *DeliveryJobModel {
	m := &DeliveryJobModel{}
	m.FromDomain(j)
	return m
}
