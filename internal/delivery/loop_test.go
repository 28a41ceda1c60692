package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/wagate/internal/config"
	"github.com/farhan/wagate/internal/models"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		PollInterval:   20 * time.Millisecond,
		BatchLimit:     10,
		Concurrency:    2,
		RequestTimeout: 2 * time.Second,
		BaseBackoff:    30 * time.Second,
		MaxBackoff:     time.Hour,
		StuckAfter:     5 * time.Minute,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestLoopDeliversDueRecords(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	rec := testRecord(srv.URL, 3)
	store.add(rec)

	loop := NewLoop(testQueueConfig(), store, zerolog.Nop())
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return store.get(rec.ID).Status == models.DeliverySuccess
	})
	assert.Equal(t, int64(1), calls.Load())
}

func TestLoopResetsStuckRecordsOnStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	rec := testRecord(srv.URL, 3)
	rec.Status = models.DeliveryProcessing
	rec.UpdatedAt = time.Now().UTC().Add(-time.Hour) // abandoned by a crash
	store.add(rec)

	loop := NewLoop(testQueueConfig(), store, zerolog.Nop())
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return store.get(rec.ID).Status == models.DeliverySuccess
	})
}

func TestLoopOneRecordFailureDoesNotAbortBatch(t *testing.T) {
	var okCalls atomic.Int64
	failingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failingSrv.Close()
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	store := newMemStore()
	bad := testRecord(failingSrv.URL, 3)
	good := testRecord(okSrv.URL, 3)
	store.add(bad)
	store.add(good)

	loop := NewLoop(testQueueConfig(), store, zerolog.Nop())
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return store.get(good.ID).Status == models.DeliverySuccess &&
			store.get(bad.ID).Status == models.DeliveryFailed
	})
	assert.Equal(t, int64(1), okCalls.Load())
}

func TestLoopStopCancelsFutureTicks(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	loop := NewLoop(testQueueConfig(), store, zerolog.Nop())
	loop.Start(context.Background())
	loop.Stop()

	rec := testRecord(srv.URL, 3)
	store.add(rec)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, models.DeliveryPending, store.get(rec.ID).Status)
}
