package tools

import (
	"context"

	"golang.org/x/sync/semaphore"

	"lalo/core/pkg/core"
)

// ExecPool bounds concurrent tool executions. Blocking workloads (container
// runs, local inference) acquire a slot before running; when the pool is full
// the caller gets a Saturated result instead of queueing unboundedly.
type ExecPool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewExecPool(size int64) *ExecPool {
	if size < 1 {
		size = 1
	}
	return &ExecPool{sem: semaphore.NewWeighted(size), size: size}
}

// Run executes fn under a pool slot. Acquisition waits on ctx; a full pool
// with a cancelled or expired context yields a Saturated/Timeout result.
func (p *ExecPool) Run(ctx context.Context, fn func(context.Context) *Result) *Result {
	if !p.sem.TryAcquire(1) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return &Result{
				Success:   false,
				Error:     "tool executor pool is saturated",
				ErrorKind: string(core.KindSaturated),
			}
		}
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
