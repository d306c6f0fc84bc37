// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagio"
	"golang.org/x/sync/errgroup"
)

// LocalExecutor is an executor that runs tasks in-process in
// separate goroutines. Output is buffered in memory, or spilled
// through the session's store when persistence is configured.
type localExecutor struct {
	mu      sync.Mutex
	buffers map[*Task]taskBuffer
	limiter *limiter.Limiter
	sess    *Session
	store   Store
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{
		buffers: make(map[*Task]taskBuffer),
		limiter: limiter.New(),
	}
}

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	l.sess = sess
	l.store = sess.store
	l.limiter.Release(sess.p)
	return
}

func (l *localExecutor) Runnable(task *Task) {
	task.Set(TaskWaiting)
	go l.run(task)
}

func (l *localExecutor) run(task *Task) {
	ctx := backgroundcontext.Get()
	if err := l.limiter.Acquire(ctx, 1); err != nil {
		// The only errors we should encounter here are context errors,
		// in which case there is no more work to do.
		if err != context.Canceled && err != context.DeadlineExceeded {
			log.Panicf("exec.Local: unexpected error: %v", err)
		}
		return
	}
	defer l.limiter.Release(1)
	in := make([]bagio.Reader, 0, len(task.Deps))
	for _, dep := range task.Deps {
		readers := make([]bagio.Reader, len(dep.Tasks))
		for i, deptask := range dep.Tasks {
			readers[i] = l.Reader(ctx, deptask, dep.Partition)
		}
		in = append(in, bagio.MultiReader(readers...))
	}
	task.Set(TaskRunning)

	// Start execution, then place output in a task buffer.
	out := task.Do(in)
	buf, err := bufferOutput(ctx, task, out)
	if err == nil && l.store != nil {
		err = l.spill(ctx, task, buf)
	}
	task.Lock()
	switch {
	case err == nil:
		if l.store == nil {
			l.mu.Lock()
			l.buffers[task] = buf
			l.mu.Unlock()
		}
		task.state = TaskOk
	case errors.IsTemporary(err):
		// Transient failures mark the task lost; the evaluator
		// resubmits it.
		task.Status.Printf("lost task: %v", err)
		task.state = TaskLost
	default:
		task.state = TaskErr
		task.err = err
	}
	task.Broadcast()
	task.Unlock()
}

func (l *localExecutor) Reader(ctx context.Context, task *Task, partition int) bagio.Reader {
	l.mu.Lock()
	buf, ok := l.buffers[task]
	l.mu.Unlock()
	if ok {
		return buf.Reader(partition)
	}
	if l.store != nil {
		rc, err := l.store.Open(ctx, task.Name, partition)
		if err != nil {
			return bagio.ErrReader(err)
		}
		return &bagio.ClosingReader{Reader: bagio.NewDecodingReader(rc), Closer: rc}
	}
	return bagio.ErrReader(errors.E(errors.NotExist, fmt.Sprintf("task %s", task.Name)))
}

// Spill writes the task's partition buffers through the session's
// store, from which subsequent reads are served.
func (l *localExecutor) spill(ctx context.Context, task *Task, buf taskBuffer) error {
	g, ctx := errgroup.WithContext(ctx)
	for partition := range buf {
		partition := partition
		g.Go(func() error {
			w, err := l.store.Create(ctx, task.Name, partition)
			if errors.Is(errors.Exists, err) {
				// A previous attempt already committed this partition;
				// tasks are pure, so the stored output is equivalent.
				return nil
			} else if err != nil {
				return err
			}
			enc := bagio.NewEncoder(w)
			var count int64
			for _, chunk := range buf[partition] {
				if err := enc.Encode(chunk); err != nil {
					w.Discard(ctx)
					return err
				}
				count += int64(len(chunk))
			}
			return w.Commit(ctx, count)
		})
	}
	return g.Wait()
}

// BufferOutput reads the output from reader and places it in a task
// buffer. If the output is partitioned, records are assigned to
// partitions by their key hash. Panics from user functions are
// recovered here and attributed to the task.
func bufferOutput(ctx context.Context, task *Task, out bagio.Reader) (buf taskBuffer, err error) {
	buf = make(taskBuffer, task.NumPartition)
	var in []interface{}
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while evaluating task %s: %v\n%s", task.Name, e, string(stack))
			err = errors.E(err, errors.Fatal)
		}
	}()
	for {
		if in == nil {
			in = make([]interface{}, defaultChunksize)
		}
		n, err := out.Read(ctx, in)
		if err != nil && err != bagio.EOF {
			return nil, errors.E(fmt.Sprintf("task %s", task.Name), err)
		}
		// If the output needs to be partitioned, we assign a partition
		// to each record by key hash, and then append the records to
		// their respective partition buffers. In this case, we just
		// maintain buffer chunks of defaultChunksize each.
		if task.NumPartition > 1 {
			for i := 0; i < n; i++ {
				p := bigbag.Partition(in[i], task.NumPartition)
				// If we don't yet have a chunk or the current one is at
				// capacity, create a new one.
				m := len(buf[p])
				if m == 0 || len(buf[p][m-1]) == cap(buf[p][m-1]) {
					buf[p] = append(buf[p], make([]interface{}, 0, defaultChunksize))
					m++
				}
				buf[p][m-1] = append(buf[p][m-1], in[i])
			}
		} else if n > 0 {
			buf[0] = append(buf[0], in[:n])
			in = nil
		}
		if err == bagio.EOF {
			break
		}
	}
	return buf, nil
}
