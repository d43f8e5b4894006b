package stream

import (
	"context"
	"runtime"
)

// PriorityPool is a small, bounded worker pool dedicated to latency-
// sensitive streaming work (cadence pipelines), so UI/discovery traffic on
// the general goroutine pool can never starve audio delivery. Go's
// scheduler has no per-goroutine OS-thread-priority knob, so this pins
// each worker to its own OS thread via runtime.LockOSThread and elevates
// that thread's scheduling priority through platform-specific syscalls
// (see priority_linux.go); platforms without a supported call run at
// normal priority.
type PriorityPool struct {
	jobs chan func(context.Context)
	ctx  context.Context
	stop context.CancelFunc
}

// NewPriorityPool starts workers immediately; each worker's goroutine runs
// for the pool's lifetime, locked to its own OS thread.
func NewPriorityPool(workers int) *PriorityPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &PriorityPool{jobs: make(chan func(context.Context)), ctx: ctx, stop: cancel}
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *PriorityPool) runWorker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	elevateThreadPriority()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			job(p.ctx)
		}
	}
}

// Submit hands a job to the priority pool, blocking until a worker is
// free or the pool is closed. Callers should make job respect ctx
// cancellation (the pool's lifetime), not the caller's own context, since
// a single shared pool backs many independent streaming connections.
func (p *PriorityPool) Submit(job func(context.Context)) {
	select {
	case p.jobs <- job:
	case <-p.ctx.Done():
	}
}

// Close stops accepting new work and lets in-flight jobs observe ctx
// cancellation.
func (p *PriorityPool) Close() {
	p.stop()
}
