package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fundarb/internal/logger"
)

// ErrSkipped marks a task run that deliberately did no work, for example
// because another instance held the cycle lock. Skips are tracked apart
// from failures.
var ErrSkipped = errors.New("task skipped")

// TaskHandler executes one run of a scheduled task.
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context) error

func (f TaskHandlerFunc) Handle(ctx context.Context) error { return f(ctx) }

// TaskStatus is the outcome of a task's most recent run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task tracks one named scheduled task.
type Task struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Status       TaskStatus    `json:"status"`
	LastRun      time.Time     `json:"last_run"`
	LastSuccess  time.Time     `json:"last_success"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Skips        int64         `json:"skips"`
}

// Scheduler runs named tasks on cron schedules (with a seconds field) and
// tracks per-task status for the health endpoint.
type Scheduler struct {
	cron        *cron.Cron
	taskTimeout time.Duration

	mu       sync.RWMutex
	tasks    map[string]*Task
	handlers map[string]TaskHandler
}

// NewScheduler creates a scheduler. taskTimeout bounds each run; zero
// means 2 minutes.
func NewScheduler(taskTimeout time.Duration) *Scheduler {
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		taskTimeout: taskTimeout,
		tasks:       make(map[string]*Task),
		handlers:    make(map[string]TaskHandler),
	}
}

// AddTask registers a named task on a cron schedule. Names are unique.
func (s *Scheduler) AddTask(name, schedule string, handler TaskHandler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for task %s", name)
	}

	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already registered: %s", name)
	}
	s.mu.Unlock()

	_, err := s.cron.AddFunc(schedule, func() {
		s.run(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for %s: %w", name, err)
	}

	s.mu.Lock()
	s.tasks[name] = &Task{Name: name, Schedule: schedule, Status: TaskStatusPending}
	s.handlers[name] = handler
	s.mu.Unlock()

	logger.Info("Scheduled task registered", "task", name, "schedule", schedule)
	return nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow triggers one task immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.handlers[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task not found: %s", name)
	}
	s.run(name)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if task := s.tasks[name]; task.Status == TaskStatusFailed {
		return fmt.Errorf("task %s failed: %s", name, task.LastError)
	}
	return nil
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	task, exists := s.tasks[name]
	handler := s.handlers[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	task.Status = TaskStatusRunning
	task.LastRun = time.Now()
	task.Runs++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	start := time.Now()
	err := s.safeHandle(ctx, name, handler)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	task.LastDuration = elapsed

	switch {
	case errors.Is(err, ErrSkipped):
		task.Status = TaskStatusSkipped
		task.Skips++
		task.LastError = ""
	case err != nil:
		task.Status = TaskStatusFailed
		task.Failures++
		task.LastError = err.Error()
		logger.Error("Scheduled task failed", "task", name, "error", err.Error(), "elapsed_ms", elapsed.Milliseconds())
	default:
		task.Status = TaskStatusCompleted
		task.LastSuccess = time.Now()
		task.LastError = ""
	}
}

// safeHandle keeps a panicking task from killing the scheduler.
func (s *Scheduler) safeHandle(ctx context.Context, name string, handler TaskHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return handler.Handle(ctx)
}

// GetTask returns a copy of one task's state.
func (s *Scheduler) GetTask(name string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[name]
	if !exists {
		return Task{}, fmt.Errorf("task not found: %s", name)
	}
	return *task, nil
}

// ListTasks returns a snapshot of all task states, sorted by name.
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}
