package timing

import (
	"context"
	"sort"
	"sync"
	"time"

	"procam-calibration/internal/logger"
)

type timingKey struct{}

type timingInfo struct {
	Operation string
	StartTime time.Time
}

// Tracker records how long each named stage of a run takes. A stage may be
// timed several times, once per capture session for example.
type Tracker struct {
	mu      sync.RWMutex
	timings map[string][]time.Duration
	order   []string
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		timings: make(map[string][]time.Duration),
		now:     time.Now,
	}
}

func (tt *Tracker) StartTiming(operation string) context.Context {
	return context.WithValue(context.Background(), timingKey{}, timingInfo{
		Operation: operation,
		StartTime: tt.now(),
	})
}

// EndTiming ignores contexts that did not come from StartTiming.
func (tt *Tracker) EndTiming(ctx context.Context) time.Duration {
	info, ok := ctx.Value(timingKey{}).(timingInfo)
	if !ok {
		return 0
	}
	duration := tt.now().Sub(info.StartTime)

	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, seen := tt.timings[info.Operation]; !seen {
		tt.order = append(tt.order, info.Operation)
	}
	tt.timings[info.Operation] = append(tt.timings[info.Operation], duration)
	return duration
}

// Time runs fn as one timing of operation.
func (tt *Tracker) Time(operation string, fn func() error) error {
	ctx := tt.StartTiming(operation)
	defer tt.EndTiming(ctx)
	return fn()
}

func (tt *Tracker) GetTimings(operation string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[operation]
	if timings == nil {
		return nil
	}
	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

type Entry struct {
	Operation string
	Count     int
	Total     time.Duration
	Average   time.Duration
}

// Summary lists operations in first-seen order.
func (tt *Tracker) Summary() []Entry {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	entries := make([]Entry, 0, len(tt.order))
	for _, op := range tt.order {
		e := Entry{Operation: op, Count: len(tt.timings[op])}
		for _, d := range tt.timings[op] {
			e.Total += d
		}
		if e.Count > 0 {
			e.Average = e.Total / time.Duration(e.Count)
		}
		entries = append(entries, e)
	}
	return entries
}

// Slowest returns up to n operations by total time, longest first.
func (tt *Tracker) Slowest(n int) []Entry {
	entries := tt.Summary()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Total > entries[j].Total })
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

func (tt *Tracker) Log(log logger.Logger) {
	for _, e := range tt.Summary() {
		log.Debug("Timing", "stage duration", map[string]interface{}{
			"operation": e.Operation,
			"count":     e.Count,
			"total_ms":  e.Total.Milliseconds(),
			"avg_ms":    e.Average.Milliseconds(),
		})
	}
}

func (tt *Tracker) Reset() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.timings = make(map[string][]time.Duration)
	tt.order = nil
}
