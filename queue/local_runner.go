package queue

import (
	"context"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/types"
)

// LocalRunner is an in-process worker pool fed by a buffered channel. It is
// used when no redis is configured. Jobs are lost on restart; the next lookup
// of a flagged source schedules them again.
type LocalRunner struct {
	handler  JobHandler
	jobs     chan *types.KeyGenJob
	quit     chan struct{} // unblocks senders waiting on a full buffer
	stop     chan struct{} // tells workers to drain and exit
	once     sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}
	// held shared by senders; Shutdown takes it exclusively before closing
	// stop, so no send can land after the workers drained
	sendMu sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

func NewLocalRunner(handler JobHandler, workerCount, buffer int) *LocalRunner {
	if workerCount < 1 {
		workerCount = 1
	}
	if buffer < 1 {
		buffer = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LocalRunner{
		handler:  handler,
		jobs:     make(chan *types.KeyGenJob, buffer),
		quit:     make(chan struct{}),
		stop:     make(chan struct{}),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Schedule queues a job. It blocks while the buffer is full instead of
// dropping the job, until ctx is done.
func (r *LocalRunner) Schedule(ctx context.Context, job *types.KeyGenJob) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return ErrRunnerClosed
	}

	target := job.Target()
	r.mu.Lock()
	if _, ok := r.inflight[target]; ok {
		r.mu.Unlock()
		return nil
	}
	r.inflight[target] = struct{}{}
	r.mu.Unlock()

	select {
	case r.jobs <- job:
		return nil
	case <-ctx.Done():
		r.release(target)
		return ctx.Err()
	case <-r.quit:
		r.release(target)
		return ErrRunnerClosed
	}
}

func (r *LocalRunner) release(target string) {
	r.mu.Lock()
	delete(r.inflight, target)
	r.mu.Unlock()
}

func (r *LocalRunner) worker() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobs:
			r.run(job)
		case <-r.stop:
			// drain what was accepted before shutdown
			for {
				select {
				case job := <-r.jobs:
					r.run(job)
				default:
					return
				}
			}
		}
	}
}

func (r *LocalRunner) run(job *types.KeyGenJob) {
	defer r.release(job.Target())
	if err := r.handler.Handle(r.ctx, job); err != nil {
		level.Warn(global.Logger).Log("msg", "local key generation job failed", "err", err)
	}
}

// Shutdown stops accepting jobs and waits for accepted ones to finish
func (r *LocalRunner) Shutdown() {
	r.once.Do(func() {
		close(r.quit)
		r.sendMu.Lock()
		r.closed = true
		r.sendMu.Unlock()
		close(r.stop)
	})
	r.wg.Wait()
	r.cancel()
}
