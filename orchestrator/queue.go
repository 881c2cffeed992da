package orchestrator

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/metrics"
	"godeploy/shared/model"
)

// JobExecutor runs one job to completion.
type JobExecutor interface {
	Execute(ctx context.Context, job model.Job) error
}

type ExecutorFunc func(ctx context.Context, job model.Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job model.Job) error {
	return f(ctx, job)
}

// Queue runs jobs one at a time in submission order. The backlog is
// unbounded and a running job is never interrupted.
type Queue struct {
	executor JobExecutor
	ctx      context.Context
	log      *logrus.Entry

	mu      sync.Mutex
	idle    *sync.Cond
	backlog []model.Job
	busy    bool
}

func NewQueue(executor JobExecutor) *Queue {
	q := &Queue{
		executor: executor,
		ctx:      context.Background(),
		log:      logging.C("queue"),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit appends job to the backlog and starts the drain loop if it is not
// already running. It never blocks on job execution.
func (q *Queue) Submit(job model.Job) {
	q.mu.Lock()
	q.backlog = append(q.backlog, job)
	metrics.SetQueueDepth(len(q.backlog))
	start := !q.busy
	q.busy = true
	q.mu.Unlock()

	q.log.WithField("deployment_id", job.DeploymentID).Debug("📥 Job queued")
	if start {
		go q.drain()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.busy = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		job := q.backlog[0]
		q.backlog[0] = model.Job{}
		q.backlog = q.backlog[1:]
		metrics.SetQueueDepth(len(q.backlog))
		q.mu.Unlock()

		q.run(job)
	}
}

// run executes one job. Errors and panics stop at this boundary.
func (q *Queue) run(job model.Job) {
	log := q.log.WithField("deployment_id", job.DeploymentID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("❌ Job panicked: %v", r)
		}
	}()

	if err := q.executor.Execute(q.ctx, job); err != nil {
		log.Errorf("❌ Job failed: %v", err)
		return
	}
	log.Debug("✅ Job finished")
}

// Len is the number of jobs waiting, not counting the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Wait blocks until the backlog is empty and no job is running.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.busy {
		q.idle.Wait()
	}
}
