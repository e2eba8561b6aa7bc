// Package executor runs independent tasks on a bounded worker pool. A failing
// or panicking task is turned into a failure record and never affects the
// other tasks.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultWorkers = 4

// Task is one unit of work identified by Key.
type Task[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Result is the settled outcome of a task. Index is the task's position in
// the submitted slice.
type Result[T any] struct {
	Index    int
	Key      string
	Value    T
	Err      error
	Duration time.Duration
}

// Failed reports whether the task ended in error.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Options tune a Run.
type Options struct {
	Workers int
	// TaskTimeout bounds each task's context. Zero means no per-task deadline.
	TaskTimeout time.Duration
	Logger      zerolog.Logger
}

// Run executes tasks with at most opts.Workers running concurrently and
// returns once every task has settled. Results are in completion order.
// onSettle, when set, is called from worker goroutines as each task settles
// and must be safe for concurrent use.
func Run[T any](ctx context.Context, tasks []Task[T], opts Options, onSettle func(Result[T])) []Result[T] {
	if len(tasks) == 0 {
		return nil
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan int, len(tasks))
	for i := range tasks {
		jobs <- i
	}
	close(jobs)

	var (
		mu      sync.Mutex
		results = make([]Result[T], 0, len(tasks))
		wg      sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				res := runOne(ctx, idx, tasks[idx], opts.TaskTimeout)
				if res.Err != nil {
					opts.Logger.Debug().Err(res.Err).Int("worker", workerID).Str("task", res.Key).Msg("task failed")
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if onSettle != nil {
					onSettle(res)
				}
			}
		}(w)
	}
	wg.Wait()
	return results
}

func runOne[T any](ctx context.Context, idx int, task Task[T], timeout time.Duration) (res Result[T]) {
	res = Result[T]{Index: idx, Key: task.Key}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s panicked: %v\n%s", task.Key, r, debug.Stack())
		}
		res.Duration = time.Since(start)
	}()

	if task.Run == nil {
		res.Err = fmt.Errorf("task %s has no run function", task.Key)
		return res
	}

	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res.Value, res.Err = task.Run(taskCtx)
	return res
}
