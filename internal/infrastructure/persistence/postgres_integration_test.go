//go:build integration

package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/migration"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// newPostgresDB starts a postgres container and applies the repository migrations
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("conversions_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, filepath.Join("..", "..", "..", migration.DefaultPath), nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	return db
}

func TestPostgres_ActiveIntegrationUniqueness(t *testing.T) {
	db := newPostgresDB(t)
	repo := NewGormIntegrationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newIntegration("org-1", integration.TypeMetaCAPI, integration.StatusActive, now)
	require.NoError(t, repo.Create(ctx, first))

	second := newIntegration("org-1", integration.TypeMetaCAPI, integration.StatusActive, now)
	assert.Error(t, repo.Create(ctx, second), "partial unique index rejects a second ACTIVE row")

	paused := newIntegration("org-1", integration.TypeMetaCAPI, integration.StatusPaused, now)
	assert.NoError(t, repo.Create(ctx, paused))

	found, err := repo.FindActive(ctx, "org-1", integration.TypeMetaCAPI)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)
}

func TestPostgres_SyncLogLifecycle(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	intg := newIntegration("org-1", integration.TypeGoogleAds, integration.StatusActive, now)
	require.NoError(t, NewGormIntegrationRepository(db).Create(ctx, intg))

	logs := NewGormSyncLogRepository(db)
	log, err := integration.NewSyncLog(intg.ID, "gads-ord_1", integration.SyncLogStatusRunning, now)
	require.NoError(t, err)
	require.NoError(t, logs.Create(ctx, log))

	done := now.Add(time.Second)
	require.NoError(t, log.Apply(integration.SyncLogStatusCompleted, 1, 0, nil, map[string]any{"request_id": "r1"}, &done))
	require.NoError(t, logs.Update(ctx, log))

	got, err := logs.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.SyncLogStatusCompleted, got.Status)
	assert.Equal(t, "r1", got.Metadata["request_id"])

	_, err = logs.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, integration.ErrSyncLogNotFound)
}

func TestPostgres_ConcurrentClaimsAreDisjoint(t *testing.T) {
	db := newPostgresDB(t)
	store := NewGormJobStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 40
	for i := 0; i < total; i++ {
		id := uuid.NewString()
		_, err := store.Add(ctx, queue.NewJob("meta", id, []byte(`{}`), 5, time.Second, now.Add(-time.Second)))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := store.Claim(ctx, "meta", time.Now().UTC(), time.Minute, 3)
				if !assert.NoError(t, err) || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}
