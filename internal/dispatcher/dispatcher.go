// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/quiz"
	"github.com/quizbot/quizsolver/internal/solver"
)

// Dispatcher fans out queue work to a pool of solve workers.
type Dispatcher struct {
	queue   quiz.Queue
	workers []*solver.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher. A nil logger is replaced with a no-op.
func New(queue quiz.Queue, workers []*solver.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and the
// workers drain.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(id int, wk *solver.Worker) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				d.logger.Error("worker exited", zap.Int("worker", id), zap.Error(err))
			}
		}(i, w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item quiz.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
