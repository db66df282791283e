package oracle

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/starford/othala/internal/apperr"
)

// Pool is the dedicated worker pool for CPU-bound searches. BFS only ever
// runs here, never on an I/O goroutine, so slow traversals cannot stall
// feed or transport handling.
type Pool struct {
	jobs   chan *job
	stop   chan struct{}
	logger *slog.Logger
}

type job struct {
	run  func()
	done chan error
}

// NewPool starts size workers; size <= 0 means one per CPU.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		jobs:   make(chan *job),
		stop:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.stop:
			return
		case j := <-p.jobs:
			j.done <- p.execute(j.run)
		}
	}
}

// execute runs fn, converting a panic into ErrInternal. The store is
// read-only from here, so a panicking search leaves it intact.
func (p *Pool) execute(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("oracle: search worker panic", slog.Any("panic", r))
			err = apperr.ErrInternal
		}
	}()
	fn()
	return nil
}

// Do runs fn on a worker and waits for it to finish. Returns ctx.Err() if
// the caller is cancelled before a worker picks the job up.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	j := &job{run: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return apperr.ErrInternal
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all workers. Jobs already running finish; queued submissions
// fail.
func (p *Pool) Close() {
	close(p.stop)
}
