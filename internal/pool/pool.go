// Package pool runs part transfers with bounded concurrency.
//
// The pool is a fan-out/fan-in executor: it dispatches one handler call per
// part spec, at most `concurrency` at a time, and collects every result. A
// part's terminal failure never stops its siblings; the pool drains to
// completion and hands the full result set to the caller, which makes one
// global complete-or-abort decision.
package pool

import (
	"context"
	"sync"
	"time"

	"s3mp/internal/planner"
	"s3mp/internal/s3url"
)

// Spec describes one part transfer. Created by the orchestrator from the
// transfer plan; immutable once dispatched.
type Spec struct {
	// Range is the byte range of the object this part covers.
	Range planner.ByteRange

	// Source is set for copy transfers.
	Source s3url.Locator

	// LocalPath is set for upload and download transfers; the part reads or
	// writes LocalPath at Range.Start with its own file handle.
	LocalPath string
}

// Result is the terminal outcome of one part transfer, produced by a worker
// after the retry policy has run its course.
type Result struct {
	Index    int32
	ETag     string
	Bytes    uint64
	Attempts uint
	Elapsed  time.Duration
	Err      error
}

// Succeeded reports whether the part reached the service intact.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Handler executes a single part transfer, retries included.
type Handler func(ctx context.Context, spec Spec) Result

// Run executes the specs with at most concurrency in flight, collecting
// results as parts complete. Result order is completion order, not part
// order.
//
// When ctx is cancelled, undispatched specs are dropped and in-flight
// handlers are left to observe the cancellation themselves; Run still waits
// for them and returns what was collected.
func Run(ctx context.Context, specs []Spec, concurrency int, handler Handler) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan Result, len(specs))

	var wg sync.WaitGroup
dispatch:
	for _, spec := range specs {
		// Checked before the semaphore wait: when both the semaphore and
		// the done channel are ready the select below picks at random, and
		// a cancelled run must not dispatch another part.
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(spec Spec) {
			defer func() {
				<-sem
				wg.Done()
			}()
			results <- handler(ctx, spec)
		}(spec)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]Result, 0, len(specs))
	for res := range results {
		collected = append(collected, res)
	}
	return collected
}

// Failed filters the results down to the parts that did not succeed.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Succeeded() {
			failed = append(failed, r)
		}
	}
	return failed
}
