package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestNewStoredQuake_UsesClock(t *testing.T) {
	frozen := time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { SetClock(nil) })

	q := Quake{Details: "Offshore Region", Magnitude: 5.4}
	stored := NewStoredQuake(7, q)

	assert.Equal(t, int64(7), stored.ID)
	assert.Equal(t, q, stored.Quake)
	assert.Equal(t, frozen, stored.IngestedAt)
}

func TestFilter_Matches(t *testing.T) {
	base := time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)
	q := Quake{OccurredAt: base, Magnitude: 4.5}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"min magnitude equal", Filter{MinMagnitude: 4.5}, true},
		{"min magnitude above", Filter{MinMagnitude: 4.6}, false},
		{"max magnitude exclusive", Filter{MaxMagnitude: 4.5}, false},
		{"max magnitude above", Filter{MaxMagnitude: 5}, true},
		{"since inclusive", Filter{Since: base}, true},
		{"since after", Filter{Since: base.Add(time.Second)}, false},
		{"until exclusive", Filter{Until: base}, false},
		{"until after", Filter{Until: base.Add(time.Second)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(q))
		})
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, Filter{Limit: 10}.IsEmpty())
	assert.False(t, Filter{MaxMagnitude: 2}.IsEmpty())
	assert.False(t, Filter{DetailsContains: "Alaska"}.IsEmpty())
	assert.False(t, Filter{Until: time.Now()}.IsEmpty())
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortOccurredAsc, ParseSort(""))
	assert.Equal(t, SortOccurredAsc, ParseSort("bogus"))
	assert.Equal(t, SortOccurredDesc, ParseSort("newest"))
	assert.Equal(t, SortMagnitudeDesc, ParseSort("magnitude_desc"))
}

func TestErrors(t *testing.T) {
	cause := errors.New("connection reset")

	network := &FetchError{Reason: FetchNetwork, Err: cause}
	assert.ErrorIs(t, network, cause)
	assert.True(t, network.Retryable())
	assert.Contains(t, network.Error(), "network")

	notFound := &FetchError{Reason: FetchBadStatus, Code: 404}
	assert.False(t, notFound.Retryable())
	assert.Contains(t, notFound.Error(), "404")
	assert.True(t, (&FetchError{Reason: FetchBadStatus, Code: 503}).Retryable())

	dup := fmt.Errorf("insert: %w", &StoreError{Reason: StoreDuplicate})
	assert.True(t, IsDuplicate(dup))
	assert.False(t, IsDuplicate(&StoreError{Reason: StoreWriteFailed, Err: cause}))

	rec := &RecordError{Index: 3, Err: dup}
	assert.True(t, IsDuplicate(rec))
	assert.Contains(t, rec.Error(), "entry 3")
}
