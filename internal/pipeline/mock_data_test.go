package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

// partial.xml holds five entries with magnitudes [4.1, bad, 5.0, 3.2, 6.0].
// sentinel.xml holds two entries with unparseable timestamps, then one valid.
const (
	partialFixture  = "partial.xml"
	sentinelFixture = "sentinel.xml"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "quakes.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedCount(t *testing.T, s *store.Store) int {
	t.Helper()
	all, err := s.Query(context.Background(), domain.Filter{}, domain.SortOccurredAsc)
	require.NoError(t, err)
	return len(all)
}

// --- mocks ---

// mockFetcher fails with errs[i] on call i, then serves body.
type mockFetcher struct {
	body  []byte
	errs  []error
	delay time.Duration
	calls atomic.Int32
}

func (m *mockFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	n := int(m.calls.Add(1))
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, &domain.FetchError{Reason: domain.FetchNetwork, Err: ctx.Err()}
		}
	}
	if n <= len(m.errs) && m.errs[n-1] != nil {
		return nil, m.errs[n-1]
	}
	return m.body, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.StoredQuake
}

func (m *mockPublisher) Publish(q domain.StoredQuake) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, q)
	return 1
}

func (m *mockPublisher) magnitudes() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, len(m.published))
	for _, q := range m.published {
		out = append(out, q.Magnitude)
	}
	return out
}

// racyStore reports every quake as unseen, as a second writer racing past
// the existence check would observe.
type racyStore struct {
	*store.Store
}

func (racyStore) Exists(context.Context, time.Time) (bool, error) { return false, nil }
