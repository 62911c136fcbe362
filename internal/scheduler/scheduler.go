// Package scheduler drives the bounded-duration poll loop of one analysis
// session.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// State is the scheduler lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateFinalizing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFinalizing:
		return "finalizing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler runs Cycle on a fixed interval until Duration elapses or the
// context is cancelled, then runs Finalize exactly once.
//
// A failed cycle is logged and the loop keeps ticking: one bad fetch or
// decode must not end an analysis early. Finalize failures are logged too;
// the scheduler always reaches Stopped.
type Scheduler struct {
	Interval time.Duration
	Duration time.Duration
	Cycle    func(ctx context.Context) error
	Finalize func(ctx context.Context) error
	Tracer   trace.Tracer

	state atomic.Int32
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run executes the loop. Cancellation is checked at every interval boundary;
// on cancellation the remaining run time is abandoned but finalization still
// happens, on a context detached from the cancelled one, so the slot is
// dropped and the session record updated.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Cycle == nil {
		return errors.New("cycle function is required")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	tracer := s.Tracer
	if tracer == nil {
		tracer = otel.Tracer("wal-analyzer/scheduler")
	}

	s.state.Store(int32(StatePolling))
	deadline := time.Now().Add(s.Duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cancelled := false
	for {
		cycleCtx, span := tracer.Start(ctx, "scheduler.cycle")
		if err := s.Cycle(cycleCtx); err != nil {
			span.RecordError(err)
			log.Printf("scheduler: poll cycle failed, continuing: %v", err)
		}
		span.End()

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			cancelled = true
		case <-ticker.C:
		}
		if cancelled || !time.Now().Before(deadline) {
			break
		}
	}

	s.state.Store(int32(StateFinalizing))
	if s.Finalize != nil {
		finalizeCtx, span := tracer.Start(context.WithoutCancel(ctx), "scheduler.finalize")
		if err := s.Finalize(finalizeCtx); err != nil {
			span.RecordError(err)
			log.Printf("scheduler: finalize failed: %v", err)
		}
		span.End()
	}
	s.state.Store(int32(StateStopped))

	if cancelled {
		return ctx.Err()
	}
	return nil
}
