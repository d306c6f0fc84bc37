// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagio"
)

// Session represents a bigbag compute session. A session shares an
// executor and a task namespace, and is valid for the run of the
// binary. A session can run multiple bags, allowing for iterative
// computing; results from previous runs are reused when they appear
// as dependencies of later runs.
//
// A session is started by the Start method:
//
//	func main() {
//		sess := exec.Start(exec.Local, exec.Parallelism(8))
//		defer sess.Shutdown()
//		bag := bigbag.Const(4, ints...)
//		bag = bigbag.Map(bag, func(v interface{}) interface{} { ... })
//		result, err := sess.Run(ctx, bag)
//		if err != nil {
//			log.Fatal(err)
//		}
//		// Success!
//	}
type Session struct {
	context.Context
	id       uuid.UUID
	shutdown func()
	p        int
	executor Executor
	status   *status.Status
	store    Store

	mu    sync.Mutex
	namer taskNamer
	// roots stores all task roots compiled by this session;
	// used for debugging.
	roots map[*Task]struct{}
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		id:      uuid.New(),
		namer:   make(taskNamer),
		roots:   make(map[*Task]struct{}),
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-binary executor.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Parallelism configures the session with the provided target
// parallelism.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Persist configures the session to store task output through a
// grailfile store rooted at the provided prefix (e.g., a local
// directory or an S3 prefix). Task output is namespaced by a
// session-unique ID, so concurrent sessions may safely share a
// prefix. Persisted output outlives the in-memory task buffers and
// can be re-read by any later evaluation in the session.
func Persist(prefix string) Option {
	return func(s *Session) {
		s.store = &fileStore{Prefix: file.Join(prefix, s.id.String())}
	}
}

// Start creates and starts a new bigbag session, configuring it
// according to the provided options. The returned session remains
// valid for the lifetime of the binary. If no executor is configured,
// the session is configured to use the local executor with
// parallelism 1.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	s.shutdown = s.executor.Start(s)
	return s
}

// Run evaluates the provided bag using the session's executor,
// returning when the computation has completed, or else on error. The
// returned Result is itself a Bag: passing it to further bag
// operations reuses the already-computed tasks rather than
// recomputing them. It is safe to make concurrent calls to Run; the
// underlying computations will be performed in parallel.
func (s *Session) Run(ctx context.Context, bag bigbag.Bag) (*Result, error) {
	return s.run(ctx, 1, bag)
}

// Must is a version of Run that panics if the computation fails.
func (s *Session) Must(ctx context.Context, bag bigbag.Bag) *Result {
	res, err := s.run(ctx, 1, bag)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return res
}

func (s *Session) run(ctx context.Context, calldepth int, bag bigbag.Bag) (*Result, error) {
	location := "<unknown>"
	if _, file, line, ok := runtime.Caller(calldepth + 1); ok {
		location = fmt.Sprintf("%s:%d", file, line)
	}
	s.mu.Lock()
	tasks, err := compile(s.namer, bag)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, task := range tasks {
		s.roots[task] = struct{}{}
	}
	s.mu.Unlock()
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %s", location)
	}
	if err := Eval(ctx, s.executor, tasks, group); err != nil {
		return nil, err
	}
	return &Result{
		Bag:   bag,
		sess:  s,
		tasks: tasks,
	}, nil
}

// Take evaluates at most n records of the provided bag, returning
// them in partition order. Take evaluates the bag's partitions one at
// a time, stopping as soon as n records have been produced; tasks
// whose output is not needed are never dispatched.
func (s *Session) Take(ctx context.Context, bag bigbag.Bag, n int) ([]interface{}, error) {
	if n < 0 {
		return nil, fmt.Errorf("exec.Take: n < 0")
	}
	bag = bigbag.Head(bag, n)
	s.mu.Lock()
	tasks, err := compile(s.namer, bag)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var group *status.Group
	if s.status != nil {
		group = s.status.Group("take")
	}
	records := make([]interface{}, 0, n)
	for _, task := range tasks {
		if len(records) == n {
			break
		}
		if err := Eval(ctx, s.executor, []*Task{task}, group); err != nil {
			return nil, err
		}
		part, err := bagio.ReadAll(ctx, s.executor.Reader(ctx, task, 0))
		if err != nil {
			return nil, err
		}
		records = append(records, part...)
	}
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// Parallelism returns the desired amount of evaluation parallelism.
func (s *Session) Parallelism() int {
	return s.p
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// A Result is the output of a bag evaluation. A Result is itself a
// Bag whose records are served from the evaluated task outputs, so
// it can be used to build further computations without recomputing.
type Result struct {
	bigbag.Bag
	sess  *Session
	tasks []*Task
}

// Scanner returns a scanner that scans the output. If the output
// contains multiple partitions, they are scanned sequentially. You
// must call Close on the returned scanner when you are done scanning.
// You may get and scan multiple scanners concurrently from r.
func (r *Result) Scanner() *bagio.Scanner {
	return bagio.NewScanner(r.open(), nil)
}

// Records reads and returns all records of the result.
func (r *Result) Records(ctx context.Context) ([]interface{}, error) {
	return bagio.ReadAll(ctx, r.open())
}

func (r *Result) open() bagio.Reader {
	readers := make([]bagio.Reader, len(r.tasks))
	for i := range readers {
		readers[i] = r.sess.executor.Reader(r.sess.Context, r.tasks[i], 0)
	}
	return bagio.MultiReader(readers...)
}
