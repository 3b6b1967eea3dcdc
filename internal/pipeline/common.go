package pipeline

import (
	"context"
	"time"
)

// TimingTracker records how long each run stage took.
type TimingTracker interface {
	StartTiming(operation string) context.Context
	EndTiming(ctx context.Context) time.Duration
}

type nopTracker struct{}

func (nopTracker) StartTiming(string) context.Context { return context.Background() }
func (nopTracker) EndTiming(context.Context) time.Duration { return 0 }
