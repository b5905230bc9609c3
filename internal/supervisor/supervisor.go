// Package supervisor implements the resource supervisor (spec §4.1, C1):
// each scoped resource (kernel, MCP client) is reified as its own background
// task gated by ready/stop signals, so a set of resources can be started and
// stopped in parallel with partial-failure rollback — strictly stronger than
// a nested defer stack, which would serialize setup and teardown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Resource is one scoped collaborator owned by a Supervisor. Start enters
// the resource's scope; Stop leaves it.
type Resource interface {
	Start(ctx context.Context) error
	Stop() error
}

// Funcs adapts a pair of closures to the Resource interface. Either field
// may be nil, in which case that phase is a no-op.
type Funcs struct {
	StartFn func(ctx context.Context) error
	StopFn  func() error
}

func (f Funcs) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Funcs) Stop() error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn()
}

// Supervisor owns one Resource in a background goroutine. Contract: exactly
// one Start; Stop is idempotent and may be called even if Start failed or
// was never called.
type Supervisor struct {
	name     string
	resource Resource

	started atomic.Bool
	stop    chan struct{}
	done    chan error

	stopOnce sync.Once
	stopErr  error
}

// New returns a Supervisor for resource. The name is used only in error
// messages.
func New(name string, resource Resource) *Supervisor {
	return &Supervisor{
		name:     name,
		resource: resource,
		stop:     make(chan struct{}),
		done:     make(chan error, 1),
	}
}

// Name returns the supervisor's diagnostic name.
func (s *Supervisor) Name() string { return s.name }

// Start launches the background task, waits for the resource to enter its
// scope, and returns the entry error if the scope fails. After a successful
// Start the task stays parked on the stop signal.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("supervisor %s: started twice", s.name)
	}

	ready := make(chan error, 1)
	go func() {
		if err := s.resource.Start(ctx); err != nil {
			ready <- err
			close(s.done)
			return
		}
		ready <- nil

		<-s.stop
		s.done <- s.resource.Stop()
		close(s.done)
	}()

	if err := <-ready; err != nil {
		return fmt.Errorf("supervisor %s: %w", s.name, err)
	}
	return nil
}

// Stop signals the task to leave the resource scope and waits for it to
// finish. Repeated calls return the first call's result; stopping a
// supervisor whose Start failed (or never ran) is a no-op.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		if !s.started.Load() {
			return
		}
		close(s.stop)
		if err, ok := <-s.done; ok && err != nil {
			s.stopErr = fmt.Errorf("supervisor %s: %w", s.name, err)
		}
	})
	return s.stopErr
}

// StartAll starts every supervisor in parallel. If any Start fails, all
// others are stopped concurrently (their stop errors ignored) before the
// original failure is returned.
func StartAll(ctx context.Context, sups ...*Supervisor) error {
	var g errgroup.Group
	for _, s := range sups {
		g.Go(func() error { return s.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		var wg sync.WaitGroup
		for _, s := range sups {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Stop()
			}()
		}
		wg.Wait()
		return err
	}
	return nil
}

// StopAll stops every supervisor in parallel. A single failure is returned
// directly; multiple failures are joined.
func StopAll(sups ...*Supervisor) error {
	errs := make([]error, len(sups))
	var wg sync.WaitGroup
	for i, s := range sups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Stop()
		}()
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 1 {
		return failed[0]
	}
	return errors.Join(failed...)
}
