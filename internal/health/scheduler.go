package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

type schedule struct {
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

// ScheduleHealthCheck runs check immediately and then every interval until
// ctx is cancelled or the returned stop function is called. Scheduling a
// service that already has a schedule replaces the old one. A tick is
// skipped while the previous run for the same service is still in flight.
func (r *Registry) ScheduleHealthCheck(ctx context.Context, serviceID string, check CheckFunc, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	s := &schedule{cancel: cancel}

	r.schedMu.Lock()
	if prev, ok := r.schedules[serviceID]; ok {
		prev.cancel()
	}
	r.schedules[serviceID] = s
	r.schedMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.tick(ctx, s, serviceID, check)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx, s, serviceID, check)
			}
		}
	}()

	r.logger.Debug().
		Str("service_id", serviceID).
		Dur("interval", interval).
		Msg("health check scheduled")

	return func() {
		cancel()
		r.schedMu.Lock()
		if cur, ok := r.schedules[serviceID]; ok && cur == s {
			delete(r.schedules, serviceID)
		}
		r.schedMu.Unlock()
	}
}

func (r *Registry) tick(ctx context.Context, s *schedule, serviceID string, check CheckFunc) {
	if !s.inFlight.CompareAndSwap(false, true) {
		r.logger.Debug().Str("service_id", serviceID).Msg("previous health check still running, skipping")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer s.inFlight.Store(false)
		r.RunCheck(ctx, serviceID, check)
	}()
}

// RunCheck executes check once, bounded by the configured check timeout, and
// records the outcome. A check that panics or times out is an outage.
func (r *Registry) RunCheck(ctx context.Context, serviceID string, check CheckFunc) Status {
	checkCtx, cancel := context.WithTimeout(ctx, r.config.CheckTimeout)
	defer cancel()

	start := r.config.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("health check panicked: %v", rec)
			}
		}()
		done <- check(checkCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			// Shutting down; leave the last known status alone.
			return r.Status(serviceID)
		}
		err = fmt.Errorf("health check timed out after %s", r.config.CheckTimeout)
	}

	latency := r.config.Now().Sub(start)

	switch {
	case err == nil:
		r.UpdateHealth(serviceID, StatusOperational, &latency, "")
		return StatusOperational
	case errors.Is(err, ErrDegraded):
		r.UpdateHealth(serviceID, StatusDegraded, &latency, err.Error())
		return StatusDegraded
	default:
		r.logger.Warn().Err(err).Str("service_id", serviceID).Msg("health check failed")
		r.UpdateHealth(serviceID, StatusOutage, nil, err.Error())
		return StatusOutage
	}
}

// Stop cancels every schedule and waits for running checks to return.
func (r *Registry) Stop() {
	r.schedMu.Lock()
	for id, s := range r.schedules {
		s.cancel()
		delete(r.schedules, id)
	}
	r.schedMu.Unlock()

	r.wg.Wait()
}
