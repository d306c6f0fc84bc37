// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements compilation, evaluation, and execution of
// bigbag operations.
package exec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigbag/bagio"
)

const defaultChunksize = 1024

// MaxConsecutiveLost is the maximum number of times a task is
// resubmitted after consecutive losses before it is marked failed.
// Tasks are pure, so resubmission is safe.
const maxConsecutiveLost = 5

// retryPolicy governs the delay before a lost task is resubmitted.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// Executor defines an interface used to provide implementations of
// task runners. An Executor is responsible for running single tasks,
// partitioning their outputs, and instantiating readers to retrieve
// the output of any given task. It is the seam between the engine and
// a cluster runtime: the evaluator needs only the ability to submit a
// task and await its state.
type Executor interface {
	// Start starts the executor. It is called before evaluation has
	// started. Start returns a function that is invoked on session
	// shutdown to release the executor's resources.
	Start(*Session) (shutdown func())

	// Runnable marks the task as runnable. After a call to Runnable,
	// the Task should have state >= TaskWaiting. The executor owns
	// the task after calling Runnable, and only the executor should
	// modify the task's state.
	Runnable(*Task)

	// Reader returns a locally accessible reader for the requested
	// partition of the task's output.
	Reader(ctx context.Context, task *Task, partition int) bagio.Reader
}

// Eval evaluates the task graph rooted at the provided set of root
// tasks. Eval uses the provided executor to dispatch tasks when their
// dependencies have been satisfied. Eval returns on evaluation error
// or else when all roots are fully evaluated.
//
// Tasks are dispatched only when all of their dependencies have
// completed; the evaluator waits on dependency state broadcasts, not
// by polling. The first fatal task error aborts the evaluation: no
// new tasks are dispatched and the error, which carries the failed
// task's operation and partition, is returned. Tasks that are already
// running are not interrupted, and their subsequent errors, if any,
// are logged but suppressed from the caller. Lost tasks, e.g. from a
// transient executor failure, are resubmitted with backoff up to
// maxConsecutiveLost times.
func Eval(ctx context.Context, executor Executor, roots []*Task, group *status.Group) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tasks := make(map[*Task]bool)
	for _, task := range roots {
		task.all(tasks)
	}
	var (
		donec   = make(chan *Task)
		errc    = make(chan error)
		running int
		// Dispatched tracks tasks that have been handed to a dispatch
		// goroutine but not yet acknowledged on donec. A lost task sits
		// in TaskInit while its resubmission backoff elapses; without
		// this set, every ready-set recomputation in the meantime would
		// dispatch it again.
		dispatched = make(map[*Task]bool)
	)
	for {
		todo := make(map[*Task]bool)
		for _, task := range roots {
			task.Lock()
			err := addReady(todo, task)
			task.Unlock()
			if err != nil {
				return err
			}
		}
		if len(todo) == 0 && running == 0 {
			break
		}

		// Mark each ready task as runnable and keep track of them.
		// The executor manages parallelism.
		for task := range todo {
			if dispatched[task] {
				continue
			}
			dispatched[task] = true
			log.Debug.Printf("runnable: %s", task)
			task.Status = group.Start(task.Name)
			running++
			go func(task *Task) {
				if n := task.consecutiveLost; n > 0 {
					// The task was recently lost; back off before
					// resubmission.
					if err := retry.Wait(ctx, retryPolicy, n-1); err != nil {
						select {
						case errc <- err:
						case <-ctx.Done():
						}
						return
					}
				}
				executor.Runnable(task)
				state, err := task.WaitState(ctx, TaskOk)
				if err != nil {
					select {
					case errc <- err:
					case <-ctx.Done():
					}
					return
				}
				log.Debug.Printf("done task %v", task)
				task.Status.Done()
				switch state {
				default:
					err = fmt.Errorf("unexpected task state %v", task)
				case TaskOk:
				case TaskErr:
					err = task.err
				case TaskLost:
					log.Error.Printf("lost task %s", task.Name)
				}
				if err != nil {
					select {
					case errc <- err:
					case <-ctx.Done():
						// Another task has already failed the evaluation;
						// this error is suppressed from the caller.
						log.Error.Printf("suppressed task error: %s: %v", task.Name, err)
					}
				} else {
					select {
					case donec <- task:
					case <-ctx.Done():
					}
				}
			}(task)
		}

		var stateCounts [maxState]int
		for task := range tasks {
			task.Lock()
			stateCounts[task.state]++
			task.Unlock()
		}
		counts := make([]string, maxState)
		for state, count := range stateCounts {
			counts[state] = fmt.Sprintf("%s=%d", TaskState(state), count)
		}
		group.Printf("tasks: %s", strings.Join(counts, " "))
		select {
		case task := <-donec:
			running--
			delete(dispatched, task)
		case err := <-errc:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AddReady adds all tasks that are runnable but not yet running to
// the provided task set. AddReady requires that task is locked on
// entry.
//
// AddReady locks sub-tasks while traversing the graph. Since task
// graphs are DAGs and children are always traversed in the same
// order, concurrent addReady invocations will not deadlock.
func addReady(tasks map[*Task]bool, task *Task) error {
	if tasks[task] {
		return nil
	}
	switch task.state {
	case TaskInit:
	case TaskWaiting, TaskRunning, TaskOk:
		// We only add back lost tasks after they've been acknowledged
		// by the main evaluation loop.
		return nil
	case TaskLost:
		// If we encounter a lost task, we re-initialize it, giving up
		// once it has been lost too many times in a row.
		task.consecutiveLost++
		if task.consecutiveLost > maxConsecutiveLost {
			task.state = TaskErr
			task.err = fmt.Errorf("task %s: lost %d consecutive times", task.Name, task.consecutiveLost)
			return task.err
		}
		task.state = TaskInit
	case TaskErr:
		return task.err
	default:
		panic("unhandled task state")
	}

	ready := true
	for _, dep := range task.Deps {
		for _, deptask := range dep.Tasks {
			deptask.Lock()
			err := addReady(tasks, deptask)
			ready = ready && deptask.state == TaskOk
			deptask.Unlock()
			if err != nil {
				return err
			}
		}
	}
	if ready {
		tasks[task] = true
	}
	return nil
}
