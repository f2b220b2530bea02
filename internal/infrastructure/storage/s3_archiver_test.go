package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/funnelvalue/conversions/internal/infrastructure/config"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// fakeS3 records the requests of a path-style S3 client
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	bucketExists bool
	failPut      bool
	created      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.bucketExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(parts) == 1:
		f.bucketExists = true
		f.created++
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(parts) == 2:
		if f.failPut {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[parts[1]] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

var archiveNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestArchiver(t *testing.T, fake *fakeS3) *S3Archiver {
	t.Helper()
	if fake.objects == nil {
		fake.objects = map[string][]byte{}
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	a, err := NewS3Archiver(context.Background(), &config.ArchiveConfig{
		Bucket:          "dead-letters",
		Region:          "ap-southeast-2",
		Endpoint:        srv.URL,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Prefix:          "/conversions/",
		UsePathStyle:    true,
	}, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return archiveNow }))
	require.NoError(t, err)
	return a
}

func failedJob(id, payload string) *queue.Job {
	j := queue.NewJob("meta", id, []byte(payload), 5, time.Second, archiveNow.Add(-time.Hour))
	j.State = queue.StateFailed
	j.Attempts = 5
	j.LastError = "PROVIDER_TRANSIENT: meta: 503"
	finished := archiveNow.Add(-time.Minute)
	j.FinishedAt = &finished
	return j
}

func TestNewS3Archiver_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3Archiver(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3Archiver(context.Background(), &config.ArchiveConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("half a key pair returns error", func(t *testing.T) {
		_, err := NewS3Archiver(context.Background(), &config.ArchiveConfig{Bucket: "b", AccessKeyID: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set together")
	})

	t.Run("defaults", func(t *testing.T) {
		a, err := NewS3Archiver(context.Background(), &config.ArchiveConfig{
			Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s",
		})
		require.NoError(t, err)
		assert.Equal(t, "b", a.Bucket())
		assert.Equal(t, defaultPrefix, a.prefix)
	})
}

func TestS3Archiver_Archive(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	a := newTestArchiver(t, fake)

	jobs := []*queue.Job{
		failedJob("meta-evt_1", `{"conversion_event_id":"evt_1"}`),
		failedJob("meta-evt_2", `not json`),
	}
	require.NoError(t, a.Archive(context.Background(), "meta", jobs))

	require.Len(t, fake.objects, 1)
	var key string
	var body []byte
	for k, v := range fake.objects {
		key, body = k, v
	}
	assert.True(t, strings.HasPrefix(key, "conversions/meta/2026/03/04/20260304T050607Z-"), key)
	assert.True(t, strings.HasSuffix(key, ".jsonl"))

	var lines []ArchivedJob
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var aj ArchivedJob
		require.NoError(t, json.Unmarshal(sc.Bytes(), &aj))
		lines = append(lines, aj)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "meta-evt_1", lines[0].ID)
	assert.Equal(t, 5, lines[0].Attempts)
	assert.JSONEq(t, `{"conversion_event_id":"evt_1"}`, string(lines[0].Payload))
	assert.JSONEq(t, `"not json"`, string(lines[1].Payload))
	assert.Equal(t, archiveNow, lines[1].ArchivedAt)
}

func TestS3Archiver_ArchiveEmptyIsNoop(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	a := newTestArchiver(t, fake)

	require.NoError(t, a.Archive(context.Background(), "meta", nil))
	assert.Empty(t, fake.objects)
}

func TestS3Archiver_ArchiveErrorKeepsJobs(t *testing.T) {
	fake := &fakeS3{bucketExists: true, failPut: true}
	a := newTestArchiver(t, fake)

	err := a.Archive(context.Background(), "meta", []*queue.Job{failedJob("meta-evt_1", `{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload archive")
}

func TestS3Archiver_EnsureBucket(t *testing.T) {
	fake := &fakeS3{}
	a := newTestArchiver(t, fake)

	require.NoError(t, a.EnsureBucket(context.Background()))
	assert.Equal(t, 1, fake.created)

	require.NoError(t, a.EnsureBucket(context.Background()))
	assert.Equal(t, 1, fake.created, "existing bucket is not recreated")
}

func TestS3Archiver_WithQueueRetention(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	a := newTestArchiver(t, fake)

	store := queue.NewMemoryStore()
	now := time.Now().UTC()
	opts := queue.DefaultOptions()
	opts.MaxAttempts = 1
	opts.FailedRetention = time.Minute
	q := queue.New("meta", store, opts, queue.WithArchiver(a), queue.WithClock(func() time.Time { return now }))

	_, err := q.Enqueue(context.Background(), "meta-evt_1", map[string]string{"id": "evt_1"})
	require.NoError(t, err)
	_, err = q.ProcessNext(context.Background(), func(context.Context, *queue.Job) error {
		return queue.Permanent(assert.AnError)
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	q.Maintain(context.Background())

	assert.Len(t, fake.objects, 1)
	_, err = q.Get(context.Background(), "meta-evt_1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
