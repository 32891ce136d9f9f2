// Package scheduler runs every registered source adapter concurrently
// and collects their results with a bounded wall-clock budget. One
// adapter failing, panicking or hanging never blocks the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
	"jamfwatch/internal/source"
)

// maxConcurrent caps simultaneously running adapters so a large
// registry does not stampede the server.
const maxConcurrent = 25

// Outcome is the per-source result slot: exactly one field is set.
type Outcome struct {
	Result  *source.Result
	Failure *source.Failure
}

// Options tunes one collection cycle.
type Options struct {
	// Timeout is the wall-clock budget for the whole cycle.
	Timeout time.Duration
	// Only, when set, runs that single adapter. Used for testing one
	// module in isolation.
	Only string
}

// Run collects every adapter's current state. It returns once all
// adapters have finished or the budget has elapsed; slots of adapters
// still running at the deadline become timeout failures and their
// eventual output is discarded, never merged.
func Run(ctx context.Context, clients *jamf.Clients, adapters []source.Adapter, opts Options) (map[string]Outcome, error) {
	if opts.Only != "" {
		filtered := adapters[:0:0]
		for _, a := range adapters {
			if a.Name() == opts.Only {
				filtered = append(filtered, a)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("no adapter named %q is registered", opts.Only)
		}
		adapters = filtered
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type slot struct {
		name string
		ch   chan Outcome
	}
	slots := make([]slot, len(adapters))
	for i, a := range adapters {
		slots[i] = slot{name: a.Name(), ch: make(chan Outcome, 1)}
	}

	// Workers are launched from a separate goroutine because a full
	// group blocks further Go calls until a slot frees up.
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	go func() {
		for i, a := range adapters {
			a, out := a, slots[i].ch
			g.Go(func() error {
				out <- collect(ctx, a, clients)
				return nil
			})
		}
	}()

	// The buffered channels let abandoned workers finish and exit even
	// after their slot has been marked failed.
	outcomes := make(map[string]Outcome, len(slots))
	for _, s := range slots {
		select {
		case o := <-s.ch:
			outcomes[s.name] = o
		case <-ctx.Done():
			// A slot whose worker delivered before the deadline must
			// keep its result; select picks arbitrarily between ready
			// cases, so drain the slot before declaring a timeout.
			select {
			case o := <-s.ch:
				outcomes[s.name] = o
			default:
				logging.Warn("Scheduler", "source %s did not finish in time, discarding", s.name)
				outcomes[s.name] = Outcome{Failure: &source.Failure{
					SourceName: s.name,
					ErrorKind:  "timeout",
					Message:    ctx.Err().Error(),
				}}
			}
		}
	}
	return outcomes, nil
}

// collect runs one adapter, converting error, panic and malformed
// results into Failure records.
func collect(ctx context.Context, a source.Adapter, clients *jamf.Clients) (out Outcome) {
	name := a.Name()
	defer func() {
		if r := recover(); r != nil {
			logging.Error(name, nil, "adapter panicked: %v", r)
			out = Outcome{Failure: &source.Failure{
				SourceName: name,
				ErrorKind:  "panic",
				Message:    fmt.Sprint(r),
			}}
		}
	}()

	start := time.Now()
	logging.Info("Scheduler", "collecting %s", name)

	result, err := a.Collect(ctx, clients)
	if err != nil {
		return Outcome{Failure: &source.Failure{
			SourceName: name,
			ErrorKind:  classify(err),
			Message:    err.Error(),
		}}
	}
	if err := validate(name, result); err != nil {
		return Outcome{Failure: &source.Failure{
			SourceName: name,
			ErrorKind:  "invalid-result",
			Message:    err.Error(),
		}}
	}

	logging.Info("Scheduler", "collected %s in %s", name, time.Since(start).Round(time.Millisecond))
	result.SourceName = name
	return Outcome{Result: result}
}

func classify(err error) string {
	var apiErr *jamf.APIError
	switch {
	case errors.As(err, &apiErr):
		return "api-error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "collect-error"
	}
}

// validate enforces the result contract: exactly one representation.
func validate(name string, result *source.Result) error {
	if result == nil {
		return fmt.Errorf("adapter %s returned no result and no error", name)
	}
	if len(result.Items) > 0 && len(result.Ops) > 0 {
		return fmt.Errorf("adapter %s populated both result forms", name)
	}
	if result.Legacy && len(result.Items) > 0 {
		return fmt.Errorf("adapter %s marked legacy but returned items", name)
	}
	if !result.Legacy && len(result.Ops) > 0 {
		return fmt.Errorf("adapter %s returned ops without the legacy marker", name)
	}
	return nil
}
