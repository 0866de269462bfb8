package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketUnder100ms},
		{100 * time.Millisecond, BucketUnder500ms},
		{1500 * time.Millisecond, BucketUnder2s},
		{9 * time.Second, BucketUnder10s},
		{25 * time.Second, BucketOver10s},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.d))
		})
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(nil)

	// Given: one healthy call, one call with a failed web path and one empty call
	m.Record(RetrievalEvent{Query: "red fox habitat", ResultCount: 3, DatabaseCount: 2, WebCount: 1, Latency: 50 * time.Millisecond})
	m.Record(RetrievalEvent{Query: "red fox diet", ResultCount: 2, DatabaseCount: 2, WebFailed: true, Latency: 3 * time.Second})
	m.Record(RetrievalEvent{Query: "zzqx", WebTimedOut: true, Latency: 20 * time.Second})

	// When
	snap := m.Snapshot()

	// Then
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"zzqx"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(4), snap.DatabaseChunks)
	assert.Equal(t, int64(1), snap.WebChunks)
	assert.Equal(t, int64(1), snap.Degraded[DegradedWeb])
	assert.Equal(t, int64(1), snap.Degraded[DegradedWebTimeout])
	assert.Zero(t, snap.Degraded[DegradedDatabase])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketUnder100ms])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketUnder10s])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketOver10s])
	assert.InDelta(t, 33.33, snap.ZeroResultPercentage(), 0.01)
	assert.InDelta(t, 33.33, snap.DegradedPercentage(DegradedWeb), 0.01)

	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "fox", Count: 2}, snap.TopTerms[0])
}

func TestMetrics_ExactRepeats(t *testing.T) {
	m := NewMetrics(nil)

	m.Record(RetrievalEvent{Query: "Red Fox", ResultCount: 1})
	m.Record(RetrievalEvent{Query: "red fox ", ResultCount: 1})
	m.Record(RetrievalEvent{Query: "arctic fox", ResultCount: 1})

	assert.Equal(t, int64(1), m.Snapshot().ExactRepeatCount)
}

func TestMetrics_RecordAfterCloseIsIgnored(t *testing.T) {
	m := NewMetrics(nil)
	require.NoError(t, m.Close())

	m.Record(RetrievalEvent{Query: "fox"})

	assert.Zero(t, m.Snapshot().TotalQueries)
}

// memoryStore records flushes and can be told to fail.
type memoryStore struct {
	counts []Counts
	zero   []string
	fail   bool
	closed bool
}

func (s *memoryStore) AddCounts(_ string, c Counts) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.counts = append(s.counts, c)
	return nil
}

func (s *memoryStore) AddZeroResultQueries(q []string, _ time.Time) error {
	s.zero = append(s.zero, q...)
	return nil
}

func (s *memoryStore) Summary(_, _ string) (*Snapshot, error) { return &Snapshot{}, nil }

func (s *memoryStore) Close() error {
	s.closed = true
	return nil
}

func TestMetrics_FlushWritesDeltasOnly(t *testing.T) {
	st := &memoryStore{}
	m := NewMetrics(st)

	m.Record(RetrievalEvent{Query: "one", ResultCount: 1})
	require.NoError(t, m.Flush())
	m.Record(RetrievalEvent{Query: "two"})
	require.NoError(t, m.Flush())
	// Nothing new: no write.
	require.NoError(t, m.Flush())

	require.Len(t, st.counts, 2)
	assert.Equal(t, int64(1), st.counts[0].Queries)
	assert.Equal(t, int64(1), st.counts[1].Queries)
	assert.Equal(t, int64(1), st.counts[1].ZeroResults)
	assert.Equal(t, []string{"two"}, st.zero)
}

func TestMetrics_FailedFlushIsRetried(t *testing.T) {
	st := &memoryStore{fail: true}
	m := NewMetrics(st)
	m.Record(RetrievalEvent{Query: "one", ResultCount: 1})

	require.Error(t, m.Flush())

	st.fail = false
	m.Record(RetrievalEvent{Query: "two", ResultCount: 1})
	require.NoError(t, m.Close())

	require.Len(t, st.counts, 1)
	assert.Equal(t, int64(2), st.counts[0].Queries)
	assert.True(t, st.closed)
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer[int](3)
	assert.Empty(t, b.Items())

	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Equal(t, 3, b.Size())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"red", "fox", "habitat"}, ExtractTerms("Red fox IN habitat"))
	assert.Empty(t, ExtractTerms("  "))
}
