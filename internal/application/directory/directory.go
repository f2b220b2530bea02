// Package directory resolves the usable, decrypted integration for an
// organization and platform, and records the outcome of delivery attempts.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/domain/integration"
)

// Decrypter opens an encrypted credential blob into out
type Decrypter interface {
	Decrypt(blob []byte, out any) error
}

// Directory is the Integration Directory service.
// It holds no mutable state and is safe for concurrent use.
type Directory struct {
	integrations integration.IntegrationRepository
	syncLogs     integration.SyncLogRepository
	decrypter    Decrypter
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Directory
type Option func(*Directory)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Directory
func New(
	integrations integration.IntegrationRepository,
	syncLogs integration.SyncLogRepository,
	decrypter Decrypter,
	opts ...Option,
) *Directory {
	d := &Directory{
		integrations: integrations,
		syncLogs:     syncLogs,
		decrypter:    decrypter,
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// GetActiveIntegration returns the single ACTIVE integration with decrypted
// credentials, or nil when there is no usable one. Unreadable credentials are
// logged and reported as nil. Only store failures are returned as errors.
func (d *Directory) GetActiveIntegration(ctx context.Context, organizationID string, integrationType integration.Type) (*integration.ActiveIntegration, error) {
	active, err := d.Resolve(ctx, organizationID, integrationType)
	switch {
	case err == nil:
		return active, nil
	case errors.Is(err, integration.ErrNoActiveIntegration),
		errors.Is(err, integration.ErrAmbiguousIntegration),
		errors.Is(err, integration.ErrCredentialsUnreadable),
		errors.Is(err, integration.ErrUnsupportedIntegration):
		return nil, nil
	default:
		return nil, err
	}
}

// Resolve is GetActiveIntegration with the reason for an unusable integration:
// ErrNoActiveIntegration, ErrAmbiguousIntegration, ErrUnsupportedIntegration
// or a *integration.CredentialError.
func (d *Directory) Resolve(ctx context.Context, organizationID string, integrationType integration.Type) (*integration.ActiveIntegration, error) {
	rows, err := d.integrations.FindActive(ctx, organizationID, integrationType)
	if err != nil {
		return nil, err
	}

	switch len(rows) {
	case 0:
		return nil, integration.ErrNoActiveIntegration
	case 1:
	default:
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID.String()
		}
		d.logger.Error("more than one active integration, refusing to pick one",
			zap.String("organization_id", organizationID),
			zap.String("type", integrationType.String()),
			zap.Strings("integration_ids", ids),
		)
		return nil, fmt.Errorf("%w: %d for %s/%s", integration.ErrAmbiguousIntegration, len(rows), organizationID, integrationType)
	}

	row := rows[0]
	creds, err := d.decodeCredentials(&row)
	if err != nil {
		// never log err itself next to the blob, only the id
		d.logger.Error("integration credentials unreadable",
			zap.String("integration_id", row.ID.String()),
			zap.String("type", row.Type.String()),
		)
		return nil, err
	}

	return &integration.ActiveIntegration{Integration: row, Credentials: creds}, nil
}

func (d *Directory) decodeCredentials(row *integration.Integration) (integration.Credentials, error) {
	switch row.Type {
	case integration.TypeMetaCAPI:
		var meta integration.MetaCredentials
		if err := d.open(row, &meta); err != nil {
			return integration.Credentials{}, err
		}
		if err := meta.Validate(); err != nil {
			return integration.Credentials{}, &integration.CredentialError{IntegrationID: row.ID, Err: err}
		}
		return integration.Credentials{Meta: &meta}, nil
	case integration.TypeGoogleAds:
		var gads integration.GoogleAdsCredentials
		if err := d.open(row, &gads); err != nil {
			return integration.Credentials{}, err
		}
		if err := gads.Validate(); err != nil {
			return integration.Credentials{}, &integration.CredentialError{IntegrationID: row.ID, Err: err}
		}
		return integration.Credentials{GoogleAds: &gads}, nil
	default:
		return integration.Credentials{}, fmt.Errorf("%w: %s", integration.ErrUnsupportedIntegration, row.Type)
	}
}

func (d *Directory) open(row *integration.Integration, out any) error {
	if len(row.EncryptedCredentials) == 0 {
		return &integration.CredentialError{IntegrationID: row.ID, Err: errors.New("no credentials stored")}
	}
	if err := d.decrypter.Decrypt(row.EncryptedCredentials, out); err != nil {
		return &integration.CredentialError{IntegrationID: row.ID, Err: err}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Outcome recording
// ---------------------------------------------------------------------------

// UpdateIntegrationStatus sets status, lastSyncAt=now and lastError.
// A nil errMsg clears the last error.
func (d *Directory) UpdateIntegrationStatus(ctx context.Context, id uuid.UUID, status integration.Status, errMsg *string) error {
	if !status.IsValid() {
		return integration.ErrInvalidStatus
	}
	return d.integrations.UpdateStatus(ctx, id, status, d.now(), errMsg)
}

// SyncLogOptions are the optional fields of CreateSyncLog.
// When ID is set the existing log is finalized instead of a new one created.
type SyncLogOptions struct {
	ID               *uuid.UUID
	JobKey           string
	RecordsProcessed int
	RecordsFailed    int
	Error            *string
	Metadata         map[string]any
	CompletedAt      *time.Time
}

// CreateSyncLog creates a sync log, or updates the one named by opts.ID.
// COMPLETED and FAILED logs without CompletedAt are stamped with now.
func (d *Directory) CreateSyncLog(ctx context.Context, integrationID uuid.UUID, status integration.SyncLogStatus, opts SyncLogOptions) (uuid.UUID, error) {
	if !status.IsValid() {
		return uuid.Nil, integration.ErrInvalidSyncLogStatus
	}

	now := d.now()
	completedAt := opts.CompletedAt
	if completedAt == nil && status.IsFinal() {
		completedAt = &now
	}

	if opts.ID != nil {
		log, err := d.syncLogs.FindByID(ctx, *opts.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if err := log.Apply(status, opts.RecordsProcessed, opts.RecordsFailed, opts.Error, opts.Metadata, completedAt); err != nil {
			return uuid.Nil, err
		}
		if err := d.syncLogs.Update(ctx, log); err != nil {
			return uuid.Nil, err
		}
		return log.ID, nil
	}

	log, err := integration.NewSyncLog(integrationID, opts.JobKey, integration.SyncLogStatusRunning, now)
	if err != nil {
		return uuid.Nil, err
	}
	if err := log.Apply(status, opts.RecordsProcessed, opts.RecordsFailed, opts.Error, opts.Metadata, completedAt); err != nil {
		return uuid.Nil, err
	}
	if err := d.syncLogs.Create(ctx, log); err != nil {
		return uuid.Nil, err
	}
	return log.ID, nil
}
