package memory

import (
	"errors"
	"fmt"
	"sync"

	"procam-calibration/internal/logger"
)

var ErrMemoryLimit = errors.New("memory limit exceeded")

// Manager accounts for image buffers held by the run: gocv Mats through the
// safe.MemoryTracker hooks and decoded session frames through Reserve.
type Manager struct {
	mu           sync.Mutex
	allocations  map[uint64]allocation
	reservations map[string]int64
	stats        Stats
	logger       logger.Logger
}

type allocation struct {
	tag  string
	size int64
}

type Stats struct {
	TotalAllocated int64
	TotalReleased  int64
	ActiveMats     int64
	Reserved       int64
	PeakInUse      int64
	MaxAllowed     int64
}

func (s Stats) InUse() int64 {
	return s.TotalAllocated - s.TotalReleased + s.Reserved
}

func NewManager(maxAllowed int64, log logger.Logger) *Manager {
	return &Manager{
		allocations:  make(map[uint64]allocation),
		reservations: make(map[string]int64),
		stats:        Stats{MaxAllowed: maxAllowed},
		logger:       log,
	}
}

func (m *Manager) TrackAllocation(id uint64, size int64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocations[id] = allocation{tag: tag, size: size}
	m.stats.TotalAllocated += size
	m.stats.ActiveMats++
	m.updatePeak()
}

func (m *Manager) TrackDeallocation(id uint64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.allocations[id]
	if !exists {
		m.logger.Warning("MemoryManager", "release of untracked Mat", map[string]interface{}{
			"tag": tag,
		})
		return
	}

	delete(m.allocations, id)
	m.stats.TotalReleased += record.size
	m.stats.ActiveMats--
}

// Reserve books size bytes under tag, failing when the limit would be
// crossed. A tag reserved twice accumulates.
func (m *Manager) Reserve(tag string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stats.MaxAllowed > 0 && m.stats.InUse()+size > m.stats.MaxAllowed {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrMemoryLimit, tag, size, m.stats.InUse(), m.stats.MaxAllowed)
	}

	m.reservations[tag] += size
	m.stats.Reserved += size
	m.updatePeak()
	return nil
}

func (m *Manager) Release(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, exists := m.reservations[tag]
	if !exists {
		return
	}
	delete(m.reservations, tag)
	m.stats.Reserved -= size

	m.logger.Debug("MemoryManager", "released buffers", map[string]interface{}{
		"tag":   tag,
		"bytes": size,
	})
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) updatePeak() {
	if inUse := m.stats.InUse(); inUse > m.stats.PeakInUse {
		m.stats.PeakInUse = inUse
	}
}
