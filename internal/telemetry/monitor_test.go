package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(25*time.Millisecond))
	assert.Equal(t, BucketP100, LatencyToBucket(75*time.Millisecond))
	assert.Equal(t, BucketP500, LatencyToBucket(200*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(2*time.Second))
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
}

func TestRecord_PerOpAggregates(t *testing.T) {
	m := NewMonitor(0, false)

	m.Record(OpIndex, 10*time.Millisecond, OutcomeOK)
	m.Record(OpIndex, 30*time.Millisecond, OutcomeOK)
	m.Record(OpIndex, 20*time.Millisecond, OutcomeError)

	snap := m.Snapshot()
	op := snap.PerOp[OpIndex]
	assert.Equal(t, int64(3), op.Count)
	assert.Equal(t, int64(1), op.Errors)
	assert.Equal(t, int64(30), op.MaxMS)
	assert.InDelta(t, 20.0, op.AvgMS, 0.01)
}

func TestRecord_BudgetBreaches(t *testing.T) {
	// Given a 100ms response-time target
	m := NewMonitor(100*time.Millisecond, false)

	m.Record(OpSearch, 50*time.Millisecond, OutcomeOK)
	m.Record(OpSearch, 150*time.Millisecond, OutcomeOK)
	m.Record(OpSearch, 300*time.Millisecond, OutcomeTimeout)
	// Non-search operations never count against the search budget
	m.Record(OpCommit, time.Second, OutcomeOK)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.BudgetBreaches)
	assert.Equal(t, int64(1), snap.PerOp[OpSearch].Timeouts)
}

func TestRecordSearch_Analytics(t *testing.T) {
	m := NewMonitor(0, true)

	m.RecordSearch("release notes", 7, 5*time.Millisecond, OutcomeOK)
	m.RecordSearch("Release Notes", 7, 5*time.Millisecond, OutcomeOK)
	m.RecordSearch("nonexistent thing", 0, 5*time.Millisecond, OutcomeOK)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalSearches)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"nonexistent thing"}, snap.ZeroResultQueries)

	// Popular queries normalize case and sort by count
	require.NotEmpty(t, snap.PopularQueries)
	assert.Equal(t, "release notes", snap.PopularQueries[0].Query)
	assert.Equal(t, int64(2), snap.PopularQueries[0].Count)
}

func TestRecordSearch_AnalyticsDisabled(t *testing.T) {
	m := NewMonitor(0, false)

	m.RecordSearch("alpha", 0, time.Millisecond, OutcomeOK)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.TotalSearches)
	assert.Zero(t, snap.ZeroResultCount)
	assert.Empty(t, snap.PopularQueries)

	// The suggestion ring is maintained regardless of the toggle
	assert.Contains(t, m.RecentQueries(), "alpha")
}

func TestSnapshot_ErrorRate(t *testing.T) {
	m := NewMonitor(0, false)
	m.Record(OpSearch, time.Millisecond, OutcomeOK)
	m.Record(OpSearch, time.Millisecond, OutcomeError)

	snap := m.Snapshot()
	assert.InDelta(t, 0.5, snap.ErrorRate(), 0.001)
	assert.Positive(t, snap.AvgSearchLatencyMS())
}
