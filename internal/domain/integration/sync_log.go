package integration

import (
	"time"

	"github.com/google/uuid"
)

// SyncLogStatus represents the lifecycle of a sync log
type SyncLogStatus string

const (
	// SyncLogStatusRunning indicates the delivery batch is in progress
	SyncLogStatusRunning SyncLogStatus = "RUNNING"
	// SyncLogStatusCompleted indicates the batch finished successfully
	SyncLogStatusCompleted SyncLogStatus = "COMPLETED"
	// SyncLogStatusFailed indicates the batch ended in a terminal failure
	SyncLogStatusFailed SyncLogStatus = "FAILED"
)

// IsValid returns true if the status is valid
func (s SyncLogStatus) IsValid() bool {
	switch s {
	case SyncLogStatusRunning, SyncLogStatusCompleted, SyncLogStatusFailed:
		return true
	default:
		return false
	}
}

// IsFinal returns true for COMPLETED and FAILED
func (s SyncLogStatus) IsFinal() bool {
	return s == SyncLogStatusCompleted || s == SyncLogStatusFailed
}

// String returns the string representation of SyncLogStatus
func (s SyncLogStatus) String() string {
	return string(s)
}

// SyncLog is the append-only audit record of one delivery batch.
// JobKey is the idempotency key of the delivery job the log audits.
type SyncLog struct {
	ID               uuid.UUID
	IntegrationID    uuid.UUID
	JobKey           string
	Status           SyncLogStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	RecordsFailed    int
	Error            *string
	Metadata         map[string]any
}

// NewSyncLog creates a sync log that starts now
func NewSyncLog(integrationID uuid.UUID, jobKey string, status SyncLogStatus, now time.Time) (*SyncLog, error) {
	if !status.IsValid() {
		return nil, ErrInvalidSyncLogStatus
	}
	return &SyncLog{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		JobKey:        jobKey,
		Status:        status,
		StartedAt:     now,
		Metadata:      map[string]any{},
	}, nil
}

// Apply updates the log. A final log accepts no further updates.
func (l *SyncLog) Apply(status SyncLogStatus, processed, failed int, errMsg *string, metadata map[string]any, completedAt *time.Time) error {
	if l.Status.IsFinal() {
		return ErrSyncLogFinalized
	}
	if !status.IsValid() {
		return ErrInvalidSyncLogStatus
	}
	l.Status = status
	l.RecordsProcessed = processed
	l.RecordsFailed = failed
	l.Error = errMsg
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		l.Metadata[k] = v
	}
	if completedAt != nil {
		t := *completedAt
		l.CompletedAt = &t
	}
	return nil
}
