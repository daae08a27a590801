package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// SafeGo executes fn in its own goroutine with a timeout, panic recovery and
// error logging. The caller never observes the result.
//
//	async.SafeGo(ctx, logger, 5*time.Second, "record visit", func(ctx context.Context) error {
//	    return sink.RecordVisit(ctx, visit)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, logger, timeout, taskName, fn)
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	log := logger.WithField("task", taskName)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).
				WithField("stack", string(debug.Stack())).
				Error("PANIC in background task")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err = fn(ctx); err != nil {
		log.WithError(err).Warn("Background task failed")
	}
	return err
}

// Group tracks fire-and-forget tasks so their owner can drain them on close.
// Failures are logged and never returned to the submitter.
type Group struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a group whose tasks each get the given timeout
func NewGroup(logger *observability.Logger, timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Group{logger: logger, timeout: timeout}
}

// Go starts fn in the background
func (g *Group) Go(ctx context.Context, taskName string, fn func(context.Context) error) {
	g.wg.Add(1)
	SafeGo(ctx, g.logger, g.timeout, taskName, func(ctx context.Context) error {
		defer g.wg.Done()
		return fn(ctx)
	})
}

// Wait blocks until every started task has returned or ctx is done
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

// Batch runs fn for every item with at most workers concurrent calls and
// returns the errors encountered, in no particular order.
//
//	errs := async.Batch(ctx, logger, kinds, 2, time.Minute, "archive", exportKind)
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, timeout time.Duration, taskName string,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
		sem  = make(chan struct{}, workers)
	)

	for _, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return append(errs, ctx.Err())
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := run(ctx, logger, timeout, taskName, func(ctx context.Context) error {
				return fn(ctx, item)
			}); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(item)
	}

	wg.Wait()
	return errs
}
