package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

func newTestQueues() (map[conversion.Platform]Enqueuer, map[conversion.Platform]*queue.Queue) {
	store := queue.NewMemoryStore()
	qs := map[conversion.Platform]*queue.Queue{}
	enq := map[conversion.Platform]Enqueuer{}
	for _, p := range conversion.AllPlatforms {
		q := queue.New(QueueName(p), store, queue.DefaultOptions())
		qs[p] = q
		enq[p] = q
	}
	return enq, qs
}

func TestProducer_PublishFansOutToEveryPlatform(t *testing.T) {
	enq, qs := newTestQueues()
	p := NewProducer(enq, "+61", nil)

	results, err := p.Publish(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, results, 2)

	keys := []string{results[0].JobKey, results[1].JobKey}
	assert.ElementsMatch(t, []string{"meta-evt_1", "gads-evt_1"}, keys)
	for _, r := range results {
		assert.True(t, r.Added)
	}

	for _, pl := range conversion.AllPlatforms {
		stats, err := qs[pl].Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Waiting, pl.String())
	}
}

func TestProducer_PublishIsIdempotent(t *testing.T) {
	enq, qs := newTestQueues()
	p := NewProducer(enq, "+61", nil)

	_, err := p.Publish(context.Background(), testEvent(), conversion.PlatformMeta)
	require.NoError(t, err)
	results, err := p.Publish(context.Background(), testEvent(), conversion.PlatformMeta)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Added)

	stats, err := qs[conversion.PlatformMeta].Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestProducer_PayloadCarriesNoRawPII(t *testing.T) {
	enq, qs := newTestQueues()
	p := NewProducer(enq, "+61", nil)

	_, err := p.Publish(context.Background(), testEvent(), conversion.PlatformMeta)
	require.NoError(t, err)

	job, err := qs[conversion.PlatformMeta].Get(context.Background(), "meta-evt_1")
	require.NoError(t, err)
	payload := string(job.Payload)
	assert.NotContains(t, payload, "Example.com")
	assert.NotContains(t, payload, "jane@example.com")
	assert.NotContains(t, payload, "0412 345 678")
	assert.Contains(t, payload, `"currency":"AUD"`)
}

func TestProducer_RejectsInvalidEvent(t *testing.T) {
	enq, _ := newTestQueues()
	p := NewProducer(enq, "+61", nil)

	ev := testEvent()
	ev.Currency = ""
	_, err := p.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, conversion.ErrInvalidEvent)
}

func TestProducer_UnknownPlatform(t *testing.T) {
	_, qs := newTestQueues()
	p := NewProducer(map[conversion.Platform]Enqueuer{conversion.PlatformMeta: qs[conversion.PlatformMeta]}, "+61", nil)

	_, err := p.Publish(context.Background(), testEvent(), conversion.PlatformGoogleAds)
	assert.ErrorIs(t, err, conversion.ErrUnsupportedPlatform)
}
