package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubSnapshotSince(t *testing.T) {
	h := NewHub(8)

	h.Publish(StatusAccepted, map[string]any{"status": "L"})
	h.Publish(CycleStarted, map[string]any{"cycle_id": "c1"})
	h.Publish(CycleFinished, map[string]any{"cycle_id": "c1"})

	all := h.SnapshotSince(0)
	assert.Len(t, all, 3)
	assert.Equal(t, StatusAccepted, all[0].Type)
	assert.Equal(t, CycleFinished, all[2].Type)

	tail := h.SnapshotSince(all[1].ID)
	assert.Len(t, tail, 1)
	assert.Equal(t, CycleFinished, tail[0].Type)
}

func TestHubOverwritesOldest(t *testing.T) {
	h := NewHub(2)

	h.Publish(StatusAccepted, nil)
	h.Publish(StatusDropped, nil)
	h.Publish(WatchdogExpired, nil)

	got := h.SnapshotSince(0)
	assert.Len(t, got, 2)
	assert.Equal(t, StatusDropped, got[0].Type)
	assert.Equal(t, WatchdogExpired, got[1].Type)
	// IDs keep growing even as the ring wraps.
	assert.Equal(t, int64(3), got[1].ID)
}
