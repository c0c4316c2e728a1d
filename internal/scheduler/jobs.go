package scheduler

import (
	"context"
	"time"
)

const (
	JobSessionSweep = "session-sweep"
	JobRateWarmup   = "rate-warmup"
)

type sweeper interface {
	Sweep() int
}

type warmer interface {
	Warm(ctx context.Context) error
}

// SessionSweep drops idle trade sessions.
func SessionSweep(spec string, s sweeper) Job {
	return Job{
		Name:    JobSessionSweep,
		Spec:    spec,
		Timeout: 10 * time.Second,
		Run: func(context.Context) error {
			s.Sweep()
			return nil
		},
	}
}

// RateWarmup refreshes the cached USD/RUB rates so reports rarely wait on
// a live lookup.
func RateWarmup(spec string, w warmer) Job {
	return Job{
		Name:       JobRateWarmup,
		Spec:       spec,
		Timeout:    30 * time.Second,
		RunOnStart: true,
		Run:        w.Warm,
	}
}
