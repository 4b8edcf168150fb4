package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool fans tasks out to a fixed set of pipeline workers.
type Pool struct {
	workers      int
	taskChan     chan *Task
	orchestrator *Orchestrator
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

type Task struct {
	ID       string
	resultCh chan error // set by SubmitAndWait
}

func NewPool(workers int, queueSize int, orchestrator *Orchestrator, logger *logrus.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:      workers,
		taskChan:     make(chan *Task, queueSize),
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Info("Task channel closed, worker exiting")
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"task_id":   task.ID,
			}).Info("Processing task")

			err := p.orchestrator.ExecuteTask(ctx, task.ID)

			if err != nil {
				if retryErr, ok := IsRetryableError(err); ok {
					p.logger.WithFields(logrus.Fields{
						"worker_id":   id,
						"task_id":     retryErr.TaskID,
						"retry_count": retryErr.RetryCount,
						"max_retry":   retryErr.MaxRetry,
					}).Warn("Task failed and reset for retry, will be re-published to queue")
				} else {
					p.logger.WithError(err).WithFields(logrus.Fields{
						"worker_id": id,
						"task_id":   task.ID,
					}).Error("Task execution failed")
				}
			} else {
				p.logger.WithFields(logrus.Fields{
					"worker_id": id,
					"task_id":   task.ID,
				}).Info("Task completed")
			}

			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// Submit hands a task to the pool without waiting for its result.
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		p.logger.WithField("task_id", task.ID).Debug("Task submitted to pool")
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitAndWait blocks until the task finishes or ctx is done.
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
		p.logger.WithField("task_id", task.ID).Debug("Task submitted to pool (sync)")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
