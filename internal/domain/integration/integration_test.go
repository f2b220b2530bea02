package integration

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsValid(t *testing.T) {
	for _, typ := range []Type{TypeMetaCAPI, TypeGoogleAds, TypeHubSpot, TypeSalesforce} {
		assert.True(t, typ.IsValid(), typ)
	}
	assert.False(t, Type("TIKTOK").IsValid())
	assert.False(t, Type("").IsValid())
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusActive.IsValid())
	assert.True(t, StatusPaused.IsValid())
	assert.True(t, StatusError.IsValid())
	assert.False(t, Status("active").IsValid(), "statuses are upper case")

	i := Integration{Status: StatusError}
	assert.False(t, i.IsActive())
	i.Status = StatusActive
	assert.True(t, i.IsActive())
}

func TestSyncLog_Lifecycle(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	intID := uuid.New()

	_, err := NewSyncLog(intID, "meta-evt_1", SyncLogStatus("DONE"), now)
	assert.ErrorIs(t, err, ErrInvalidSyncLogStatus)

	log, err := NewSyncLog(intID, "meta-evt_1", SyncLogStatusRunning, now)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, now, log.StartedAt)
	assert.False(t, log.Status.IsFinal())

	msg := "rate limited"
	require.NoError(t, log.Apply(SyncLogStatusRunning, 0, 0, &msg, map[string]any{"attempts": 1}, nil))
	assert.Nil(t, log.CompletedAt)
	assert.Equal(t, 1, log.Metadata["attempts"])

	done := now.Add(time.Minute)
	require.NoError(t, log.Apply(SyncLogStatusCompleted, 1, 0, nil, map[string]any{"trace_id": "abc"}, &done))
	assert.Nil(t, log.Error)
	assert.Equal(t, 1, log.Metadata["attempts"], "metadata is merged")
	assert.Equal(t, "abc", log.Metadata["trace_id"])
	require.NotNil(t, log.CompletedAt)
	assert.Equal(t, done, *log.CompletedAt)

	done = done.Add(time.Hour)
	assert.Equal(t, now.Add(time.Minute), *log.CompletedAt, "completion time is copied")

	err = log.Apply(SyncLogStatusFailed, 0, 1, nil, nil, nil)
	assert.ErrorIs(t, err, ErrSyncLogFinalized)
	assert.Equal(t, SyncLogStatusCompleted, log.Status)
}

func TestSyncLog_ApplyRejectsInvalidStatus(t *testing.T) {
	log := &SyncLog{Status: SyncLogStatusRunning}
	assert.ErrorIs(t, log.Apply(SyncLogStatus("x"), 0, 0, nil, nil, nil), ErrInvalidSyncLogStatus)
	require.NoError(t, log.Apply(SyncLogStatusFailed, 0, 1, nil, map[string]any{"reason": "failed"}, nil))
	assert.Equal(t, "failed", log.Metadata["reason"])
}

func TestCredentials_Validate(t *testing.T) {
	meta := &MetaCredentials{PixelID: "123"}
	assert.ErrorIs(t, meta.Validate(), ErrInvalidCredentials)
	meta.AccessToken = "EAAB"
	assert.NoError(t, meta.Validate())

	gads := &GoogleAdsCredentials{RefreshToken: "1//r"}
	assert.ErrorIs(t, gads.Validate(), ErrInvalidCredentials)
	gads.CustomerID = "1234567890"
	assert.NoError(t, gads.Validate())
}

func TestCredentials_RedactSecrets(t *testing.T) {
	meta := MetaCredentials{PixelID: "123", AccessToken: "EAAB-secret"}
	gads := GoogleAdsCredentials{CustomerID: "987", RefreshToken: "1//refresh-secret"}

	for _, s := range []string{
		fmt.Sprint(meta), fmt.Sprintf("%+v", meta), fmt.Sprintf("%#v", meta),
		fmt.Sprint(Credentials{Meta: &meta}),
	} {
		assert.NotContains(t, s, "EAAB-secret")
		assert.Contains(t, s, "123")
	}
	for _, s := range []string{
		fmt.Sprint(gads), fmt.Sprintf("%#v", gads), fmt.Sprint(Credentials{GoogleAds: &gads}),
	} {
		assert.NotContains(t, s, "refresh-secret")
		assert.Contains(t, s, "987")
	}
	assert.Equal(t, "Credentials{}", Credentials{}.String())
}

func TestCredentialError(t *testing.T) {
	id := uuid.New()
	cause := errors.New("tag mismatch")
	var err error = &CredentialError{IntegrationID: id, Err: cause}

	assert.ErrorIs(t, err, ErrCredentialsUnreadable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), id.String())
	assert.NotContains(t, err.Error(), "tag mismatch")

	var ce *CredentialError
	require.True(t, errors.As(fmt.Errorf("resolve: %w", err), &ce))
	assert.Equal(t, id, ce.IntegrationID)
}
