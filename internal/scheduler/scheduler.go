// Package scheduler runs periodic background tasks.
// A failing or panicking run is logged and the next
// run still happens.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context) error

// Observer is told about the outcome of every run.
type Observer func(task string, err error)

// Task runs fn on a fixed interval in a single
// goroutine.
type Task struct { // A
	name     string
	fn       TaskFunc
	log      *slog.Logger
	observer Observer
	timeout  time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	runs     atomic.Uint64
	failures atomic.Uint64
}

// Options tune a Task.
type Options struct {
	// Timeout bounds one run. Zero means the run is
	// only cancelled by Stop.
	Timeout  time.Duration
	Observer Observer
	Logger   *slog.Logger
}

// NewTask creates a stopped task.
func NewTask( // A
	name string,
	fn TaskFunc,
	opts Options,
) *Task {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Task{
		name:     name,
		fn:       fn,
		log:      opts.Logger.With("task", name),
		observer: opts.Observer,
		timeout:  opts.Timeout,
	}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// StartInterval begins running the task every d.
// Starting a running task is a no-op.
func (t *Task) StartInterval( // A
	d time.Duration,
) {
	if d <= 0 {
		t.log.Warn("non-positive interval, task not started",
			"interval", d)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.loop(d, t.stopCh)
}

// Stop terminates the loop and waits for an
// in-flight run to return. Stopping twice is safe.
func (t *Task) Stop() { // A
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Runs returns the number of completed runs.
func (t *Task) Runs() uint64 {
	return t.runs.Load()
}

// Failures returns the number of runs that
// returned an error or panicked.
func (t *Task) Failures() uint64 {
	return t.failures.Load()
}

// RunNow performs one run in the calling goroutine.
// A panic is converted into an error.
func (t *Task) RunNow(ctx context.Context) (err error) { // A
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
			t.log.Error("task panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
		t.runs.Add(1)
		if err != nil {
			t.failures.Add(1)
		}
		if t.observer != nil {
			t.observer(t.name, err)
		}
	}()
	return t.fn(ctx)
}

func (t *Task) loop( // A
	d time.Duration,
	stopCh <-chan struct{},
) {
	defer t.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := t.RunNow(ctx); err != nil {
				t.log.Warn("task run failed", "error", err)
			}
		}
	}
}

// Group starts and stops a set of tasks together.
type Group struct {
	mu    sync.Mutex
	tasks []*Task
	every []time.Duration
}

// Add registers a task with its interval.
func (g *Group) Add(t *Task, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = append(g.tasks, t)
	g.every = append(g.every, d)
}

// Start starts every registered task.
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range g.tasks {
		t.StartInterval(g.every[i])
	}
}

// Stop stops every registered task.
func (g *Group) Stop() {
	g.mu.Lock()
	tasks := append([]*Task(nil), g.tasks...)
	g.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
}
