package memory

import (
	"testing"

	"procam-calibration/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReserveRelease(t *testing.T) {
	t.Parallel()
	m := NewManager(1000, logger.NewNop())

	require.NoError(t, m.Reserve("capture_01", 600))
	err := m.Reserve("capture_02", 600)
	assert.ErrorIs(t, err, ErrMemoryLimit)

	m.Release("capture_01")
	require.NoError(t, m.Reserve("capture_02", 600))

	stats := m.GetStats()
	assert.EqualValues(t, 600, stats.Reserved)
	assert.EqualValues(t, 600, stats.PeakInUse)
}

func TestManager_TrackMats(t *testing.T) {
	t.Parallel()
	m := NewManager(0, logger.NewNop())

	m.TrackAllocation(1, 100, "white")
	m.TrackAllocation(2, 50, "black")
	m.TrackDeallocation(1, "white")
	m.TrackDeallocation(99, "unknown")

	stats := m.GetStats()
	assert.EqualValues(t, 150, stats.TotalAllocated)
	assert.EqualValues(t, 100, stats.TotalReleased)
	assert.EqualValues(t, 1, stats.ActiveMats)
	assert.EqualValues(t, 50, stats.InUse())
}
