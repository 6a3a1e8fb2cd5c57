package xtask

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xrootd-go/xrdcl/cmn/debug"
)

// JobFunc is one unit of async work (e.g. a ReadV fan-out chunk, a
// redirect-triggered re-open). It observes ctx cancellation the same
// way the teacher's jogger goroutines do when an errgroup sibling
// fails first.
type JobFunc func(ctx context.Context) error

// JobManager runs JobFuncs against a bounded pool, grounded on the
// teacher's WalkBck (fs/walkbck.go): one errgroup.WithContext per
// batch, capped concurrency via a buffered semaphore channel rather
// than one goroutine per mountpath.
type JobManager struct {
	sem     chan struct{}
	active  int64
	closed  bool
	mu      sync.Mutex
}

func NewJobManager(maxConcurrent int) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &JobManager{sem: make(chan struct{}, maxConcurrent)}
}

// Run submits jobs and waits for all of them, short-circuiting on the
// first error the way errgroup does — a later job observes ctx.Done()
// and should return promptly.
func (jm *JobManager) Run(ctx context.Context, jobs ...JobFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			select {
			case jm.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-jm.sem }()
			atomic.AddInt64(&jm.active, 1)
			defer atomic.AddInt64(&jm.active, -1)
			return j(gctx)
		})
	}
	return g.Wait()
}

// Go submits a single fire-and-forget job, reporting its error (if any)
// through done. Used for jobs whose caller does not want to block on
// Run's full-batch Wait, e.g. a Stream's background reconnect attempt.
func (jm *JobManager) Go(ctx context.Context, job JobFunc, done func(error)) {
	jm.mu.Lock()
	closed := jm.closed
	jm.mu.Unlock()
	if closed {
		if done != nil {
			done(ErrJobManagerClosed)
		}
		return
	}
	go func() {
		select {
		case jm.sem <- struct{}{}:
		case <-ctx.Done():
			if done != nil {
				done(ctx.Err())
			}
			return
		}
		defer func() { <-jm.sem }()
		atomic.AddInt64(&jm.active, 1)
		defer atomic.AddInt64(&jm.active, -1)
		err := job(ctx)
		if done != nil {
			done(err)
		}
	}()
}

func (jm *JobManager) Active() int64 { return atomic.LoadInt64(&jm.active) }

// Close marks the manager as no longer accepting new fire-and-forget
// jobs via Go; in-flight jobs are left to finish on their own.
func (jm *JobManager) Close() {
	jm.mu.Lock()
	jm.closed = true
	jm.mu.Unlock()
	debug.Assert(jm.Active() >= 0, "active job count went negative")
}

var ErrJobManagerClosed = jobManagerClosedErr{}

type jobManagerClosedErr struct{}

func (jobManagerClosedErr) Error() string { return "xrdcl/xtask: job manager closed" }
