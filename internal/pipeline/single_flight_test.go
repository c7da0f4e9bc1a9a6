package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/scheduler"
)

type triggerOutcome struct {
	result domain.IngestionResult
	err    error
}

func TestScheduler_TriggerSingleFlightAgainstStore(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, &mockFetcher{body: loadFixture(t, partialFixture), delay: 200 * time.Millisecond}, 0)
	sched := scheduler.New(h.pipeline, prefs(3), clockwork.NewFakeClock(), discardLogger(), h.metrics)
	ctx := context.Background()

	done := make(chan triggerOutcome, 1)
	go func() {
		result, err := sched.Trigger(ctx)
		done <- triggerOutcome{result, err}
	}()

	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduler.Running, sched.State())

	_, err := sched.Trigger(ctx)
	require.ErrorIs(t, err, scheduler.ErrRunInProgress)

	var first triggerOutcome
	select {
	case first = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first trigger did not finish")
	}
	require.NoError(t, first.err)
	assert.Equal(t, 4, first.result.NewCount)
	assert.Equal(t, int32(1), h.fetcher.calls.Load(), "rejected trigger never reached the feed")
	assert.Equal(t, 4, storedCount(t, s))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("skipped")), 0)

	third, err := sched.Trigger(ctx)
	require.NoError(t, err)
	assert.Zero(t, third.NewCount)
	assert.Equal(t, 4, third.SkippedCount)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
	assert.Equal(t, 4, storedCount(t, s))
}
