package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeops/diwatch/internal/dispatch"
	"github.com/skeops/diwatch/internal/status"
	"github.com/skeops/diwatch/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func sampleCycle(id string, started time.Time) *dispatch.Cycle {
	return &dispatch.Cycle{
		ID:         id,
		Trigger:    "event",
		Token:      status.Low,
		Members:    2,
		Succeeded:  1,
		Failed:     1,
		StartedAt:  started,
		FinishedAt: started.Add(120 * time.Millisecond),
		Outcomes: []dispatch.Outcome{
			{Member: "a840416f00000001", Result: dispatch.ResultOK, AckID: "42", Duration: 30 * time.Millisecond},
			{Member: "a840416f00000002", Result: dispatch.ResultError, Error: "queue rejected", Duration: 110 * time.Millisecond},
		},
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, sampleCycle("c-old", base)))
	require.NoError(t, s.Record(ctx, sampleCycle("c-new", base.Add(time.Minute))))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c-new", recent[0].ID, "newest first")
	assert.Equal(t, "c-old", recent[1].ID)
	assert.Equal(t, 2, recent[0].Members)
	assert.Equal(t, 1, recent[0].Succeeded)
	assert.Equal(t, 1, recent[0].Failed)
	assert.Equal(t, "L", recent[0].Status)
	assert.True(t, recent[0].StartedAt.Equal(base.Add(time.Minute)))
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		c := sampleCycle("c", base.Add(time.Duration(i)*time.Second))
		c.ID = c.ID + string(rune('0'+i))
		require.NoError(t, s.Record(ctx, c))
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.Equal(t, "c4", recent[0].ID)
}

func TestOutcomesRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c := sampleCycle("c-1", time.Now().UTC())
	require.NoError(t, s.Record(ctx, c))

	outcomes, err := s.Outcomes(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a840416f00000001", outcomes[0].Member)
	assert.Equal(t, dispatch.ResultOK, outcomes[0].Result)
	assert.Equal(t, "42", outcomes[0].AckID)
	assert.Equal(t, dispatch.ResultError, outcomes[1].Result)
	assert.Equal(t, "queue rejected", outcomes[1].Error)
	assert.Equal(t, 110*time.Millisecond, outcomes[1].Duration)
}

func TestRecordSkippedCycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	c := &dispatch.Cycle{
		ID:         "c-skip",
		Trigger:    "watchdog",
		Token:      status.High,
		Skipped:    true,
		Reason:     "empty fleet",
		StartedAt:  now,
		FinishedAt: now,
	}
	require.NoError(t, s.Record(ctx, c))

	recent, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Skipped)
	assert.Equal(t, "empty fleet", recent[0].Reason)

	outcomes, err := s.Outcomes(ctx, "c-skip")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
