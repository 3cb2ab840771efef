package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	b := NewBuffer()
	now := time.Now()

	require.NoError(t, b.Record(ctx, Vitals{AgentID: "a1", Timestamp: now.Add(-10 * time.Second), LatencyMS: 100}))
	require.NoError(t, b.Record(ctx, Vitals{AgentID: "a1", Timestamp: now, LatencyMS: 120}))
	require.NoError(t, b.Record(ctx, Vitals{AgentID: "a2", Timestamp: now, LatencyMS: 90}))

	recent, err := b.Recent(ctx, "a1", 5*time.Second)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 120.0, recent[0].LatencyMS)

	all, err := b.Recent(ctx, "a1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	latest, err := b.Latest(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 120.0, latest.LatencyMS)

	count, err := b.Count(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := b.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestBuffer_EvictsOldestAtCapacity(t *testing.T) {
	ctx := context.Background()
	b := NewBufferWithCapacity(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Record(ctx, Vitals{AgentID: "a1", Timestamp: time.Now(), LatencyMS: float64(i)}))
	}
	count, err := b.Count(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := b.Recent(ctx, "a1", time.Hour)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// oldest two (0, 1) should have been evicted
	assert.Equal(t, 2.0, all[0].LatencyMS)
	assert.Equal(t, 3.0, all[1].LatencyMS)
	assert.Equal(t, 4.0, all[2].LatencyMS)
}

func TestBuffer_UnknownAgent(t *testing.T) {
	ctx := context.Background()
	b := NewBuffer()
	recent, err := b.Recent(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, recent)

	latest, err := b.Latest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, latest)

	count, err := b.Count(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

type fakeStore struct {
	written []Vitals
}

func (f *fakeStore) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]Vitals, error) {
	return f.written, nil
}
func (f *fakeStore) LatestVitals(ctx context.Context, agentID string) (*Vitals, error) {
	if len(f.written) == 0 {
		return nil, nil
	}
	v := f.written[len(f.written)-1]
	return &v, nil
}
func (f *fakeStore) ExecutionCount(ctx context.Context, agentID string) (int, error) {
	return len(f.written), nil
}
func (f *fakeStore) TotalExecutions(ctx context.Context) (int, error) { return len(f.written), nil }
func (f *fakeStore) WriteVitals(ctx context.Context, v Vitals) error {
	f.written = append(f.written, v)
	return nil
}

func TestBuffer_DelegatesToStore(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	b := NewBuffer().WithStore(store)

	require.NoError(t, b.Record(ctx, Vitals{AgentID: "a1", LatencyMS: 50}))
	require.Len(t, store.written, 1)

	recent, err := b.Recent(ctx, "a1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
