package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3mp/internal/planner"
)

func makeSpecs(n int) []Spec {
	specs := make([]Spec, n)
	for i := range specs {
		specs[i] = Spec{Range: planner.ByteRange{Index: int32(i + 1)}}
	}
	return specs
}

func TestRun_CollectsAllResults(t *testing.T) {
	specs := makeSpecs(8)

	results := Run(context.Background(), specs, 4, func(_ context.Context, spec Spec) Result {
		return Result{Index: spec.Range.Index}
	})

	require.Len(t, results, 8)
	seen := make(map[int32]bool)
	for _, r := range results {
		seen[r.Index] = true
	}
	assert.Len(t, seen, 8, "every part must produce exactly one result")
}

// A failing subset must not stop the rest: the pool drains fully and the
// result set marks exactly the forced failures as failed.
func TestRun_DrainsUnderPartialFailure(t *testing.T) {
	specs := makeSpecs(10)
	forced := map[int32]bool{3: true, 7: true}

	results := Run(context.Background(), specs, 3, func(_ context.Context, spec Spec) Result {
		if forced[spec.Range.Index] {
			return Result{Index: spec.Range.Index, Err: errors.New("retry budget exhausted")}
		}
		return Result{Index: spec.Range.Index}
	})

	require.Len(t, results, 10)
	failed := Failed(results)
	require.Len(t, failed, 2)
	for _, r := range failed {
		assert.True(t, forced[r.Index])
	}
}

func TestRun_HonorsConcurrencyBound(t *testing.T) {
	specs := makeSpecs(20)

	var inFlight, peak int64
	var mu sync.Mutex

	Run(context.Background(), specs, 4, func(_ context.Context, spec Spec) Result {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return Result{Index: spec.Range.Index}
	})

	assert.LessOrEqual(t, peak, int64(4))
	assert.Greater(t, peak, int64(1), "pool should actually run parts concurrently")
}

// Concurrency of one degenerates to strictly sequential execution, and the
// result set size still equals the plan size.
func TestRun_SequentialWhenConcurrencyOne(t *testing.T) {
	specs := makeSpecs(5)

	var order []int32
	results := Run(context.Background(), specs, 1, func(_ context.Context, spec Spec) Result {
		order = append(order, spec.Range.Index) // safe: one worker at a time
		return Result{Index: spec.Range.Index}
	})

	assert.Len(t, results, 5)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, order)
}

func TestRun_CancellationDropsQueuedParts(t *testing.T) {
	specs := makeSpecs(50)
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	results := Run(ctx, specs, 2, func(_ context.Context, spec Spec) Result {
		if atomic.AddInt64(&started, 1) == 2 {
			cancel()
		}
		time.Sleep(5 * time.Millisecond)
		return Result{Index: spec.Range.Index}
	})

	assert.Less(t, len(results), 50, "queued parts must be dropped after cancellation")
	assert.GreaterOrEqual(t, len(results), 2, "in-flight parts still report results")
}

func TestRun_AlreadyCancelledDispatchesNothing(t *testing.T) {
	specs := makeSpecs(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dispatched int64
	results := Run(ctx, specs, 4, func(_ context.Context, spec Spec) Result {
		atomic.AddInt64(&dispatched, 1)
		return Result{Index: spec.Range.Index}
	})

	assert.Empty(t, results)
	assert.Zero(t, atomic.LoadInt64(&dispatched),
		"a cancelled run must not hand any part to a worker")
}

func TestRun_ZeroConcurrencyClampsToOne(t *testing.T) {
	specs := makeSpecs(3)
	results := Run(context.Background(), specs, 0, func(_ context.Context, spec Spec) Result {
		return Result{Index: spec.Range.Index}
	})
	assert.Len(t, results, 3)
}
