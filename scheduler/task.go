package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

var (
	ErrNoSchedule  = errors.New("scheduler: job needs an interval or a cron expression")
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")
	ErrNoTasks     = errors.New("scheduler: job must have at least one task")
	ErrTaskTimeout = errors.New("scheduler: task timed out")
)

const DefaultTickEvery = time.Second

// Task is one unit of work. A job runs its tasks in order.
type Task func(ctx context.Context) error

type Scheduler struct {
	mu     sync.RWMutex
	jobs   []*Job
	logger *slog.Logger
	tick   time.Duration
	wg     sync.WaitGroup
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:   make([]*Job, 0),
		logger: logger,
		tick:   DefaultTickEvery,
	}
}

// AddJob validates the job and plans its first run.
func (scheduler *Scheduler) AddJob(job *Job) error {
	if len(job.tasks) == 0 {
		return ErrNoTasks
	}
	switch {
	case job.cron != "":
		if !gronx.IsValid(job.cron) {
			return fmt.Errorf("%w: %s", ErrInvalidCron, job.cron)
		}
	case job.interval <= 0:
		return ErrNoSchedule
	}

	if job.nextExecuteAt.IsZero() {
		next, err := job.next(time.Now())
		if err != nil {
			return err
		}
		job.nextExecuteAt = next
	}

	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	scheduler.jobs = append(scheduler.jobs, job)
	return nil
}

type Job struct {
	name              string
	tasks             []Task
	interval          time.Duration
	cron              string
	timeout           time.Duration
	maxRetries        int
	mu                sync.Mutex
	running           bool
	nextExecuteAt     time.Time
	previousExecuteAt time.Time
}

func NewJob(name string) *Job {
	return &Job{
		name:  name,
		tasks: make([]Task, 0),
	}
}

func (job *Job) WithTasks(tasks ...Task) *Job {
	job.tasks = tasks
	return job
}

func (job *Job) WithInterval(interval time.Duration) *Job {
	job.interval = interval
	return job
}

// WithCron schedules the job by a cron expression instead of an interval.
func (job *Job) WithCron(expr string) *Job {
	job.cron = expr
	return job
}

func (job *Job) WithExecuteAt(executeAt time.Time) *Job {
	job.nextExecuteAt = executeAt
	return job
}

func (job *Job) WithTimeout(timeout time.Duration) *Job {
	job.timeout = timeout
	return job
}

func (job *Job) WithRetries(maxRetries int) *Job {
	job.maxRetries = maxRetries
	return job
}

func (job *Job) AddTask(task Task) {
	job.tasks = append(job.tasks, task)
}

func (job *Job) Name() string {
	return job.name
}

// NextExecuteAt is when the job runs next.
func (job *Job) NextExecuteAt() time.Time {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.nextExecuteAt
}

func (job *Job) PreviousExecuteAt() time.Time {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.previousExecuteAt
}

func (job *Job) next(after time.Time) (time.Time, error) {
	if job.cron != "" {
		return gronx.NextTickAfter(job.cron, after, false)
	}
	return after.Add(job.interval), nil
}

// claim marks a due job as running and plans the next run. A job that is
// still running from its previous slot is skipped.
func (job *Job) claim(now time.Time) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.running || job.nextExecuteAt.After(now) {
		return false
	}
	next, err := job.next(now)
	if err != nil {
		return false
	}
	job.running = true
	job.previousExecuteAt = now
	job.nextExecuteAt = next
	return true
}

func (job *Job) release() {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.running = false
}

// Run checks for due jobs every tick until ctx is done, then waits for the
// running jobs to return.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(scheduler.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			scheduler.runDue(ctx, now)
		case <-ctx.Done():
			scheduler.wg.Wait()
			return ctx.Err()
		}
	}
}

func (scheduler *Scheduler) runDue(ctx context.Context, now time.Time) {
	scheduler.mu.RLock()
	jobs := make([]*Job, len(scheduler.jobs))
	copy(jobs, scheduler.jobs)
	scheduler.mu.RUnlock()

	for _, job := range jobs {
		if !job.claim(now) {
			continue
		}
		scheduler.wg.Add(1)
		go func() {
			defer scheduler.wg.Done()
			defer job.release()
			scheduler.executeJob(ctx, job)
		}()
	}
}

func (scheduler *Scheduler) executeJob(ctx context.Context, job *Job) {
	logger := scheduler.logger.With(slog.String("job", job.name))
	for i, task := range job.tasks {
		if err := scheduler.executeTask(ctx, task, job); err != nil {
			logger.ErrorContext(ctx, "task failed", slog.Int("task", i), slog.Any("error", err))
			return
		}
	}
	logger.DebugContext(ctx, "job finished")
}

// executeTask runs task with the job's retries and timeout. Panics are
// reported as errors.
func (scheduler *Scheduler) executeTask(ctx context.Context, task Task, job *Job) error {
	var err error
	for attempt := 0; attempt <= job.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = runTask(ctx, task, job.timeout); err == nil {
			return nil
		}
	}
	return err
}

func runTask(ctx context.Context, task Task, timeout time.Duration) error {
	if timeout <= 0 {
		return callTask(ctx, task)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- callTask(ctx, task) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %v", ErrTaskTimeout, timeout)
	}
}

func callTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task panic: %v", r)
		}
	}()
	return task(ctx)
}
