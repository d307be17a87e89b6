package async

import (
	"context"
	"errors"
	"fmt"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes tasks concurrently and waits for all of them.
// At most limit tasks run at the same time; limit <= 0 means unbounded.
// Every failure is returned, joined, each prefixed with its task name.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "feature-a", Func: provisionA},
//	    {Name: "feature-b", Func: provisionB},
//	}
//	if err := RunParallel(ctx, tasks, 4); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task, limit int) error {
	if len(tasks) == 0 {
		return nil
	}

	type result struct {
		name string
		err  error
	}

	var sem chan struct{}
	if limit > 0 {
		sem = make(chan struct{}, limit)
	}

	resultChan := make(chan result, len(tasks))

	for _, task := range tasks {
		go func() {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					resultChan <- result{name: task.Name, err: ctx.Err()}
					return
				}
			}
			resultChan <- result{name: task.Name, err: task.Func(ctx)}
		}()
	}

	var errs []error
	for range len(tasks) {
		res := <-resultChan
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
		}
	}

	return errors.Join(errs...)
}
