package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hyperjump/chishiki/internal/models"
)

// taskRegistry maps a key to its single in-flight cancellable task.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[string]*task)}
}

// start cancels any unfinished task for key, waits for it to settle, then runs
// fn on a new goroutine. Waiting under the lock is safe because finished tasks
// only close their done channel; they never touch the registry.
func (r *taskRegistry) start(key string, fn func(ctx context.Context)) *models.TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.tasks[key]; ok {
		old.cancel()
		<-old.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[key] = t

	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()

	return &models.TaskInfo{TaskID: t.id, Status: models.StatusProcessing}
}

// wait blocks until the task for key finishes, if one is in flight.
func (r *taskRegistry) wait(key string) {
	r.mu.Lock()
	t, ok := r.tasks[key]
	r.mu.Unlock()
	if ok {
		<-t.done
	}
}
