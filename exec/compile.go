// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"

	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagio"
)

// Pipeline returns the sequence of bags that may be pipelined
// starting from bag. Bags that do not have shuffle or fan-in
// dependencies may be pipelined together: they are computed partition
// by partition with no data movement between them.
func pipeline(bag bigbag.Bag) (bags []bigbag.Bag) {
	for {
		// Stop at *Results, so we can re-use previous tasks.
		if _, ok := bag.(*Result); ok {
			return
		}
		bags = append(bags, bag)
		if bag.NumDep() != 1 {
			return
		}
		dep := bag.Dep(0)
		if dep.Shuffle || dep.Fanin > 0 {
			return
		}
		bag = dep.Bag
	}
}

// Compile compiles the provided bag into a task graph, returning one
// task per partition of the bag. Compile coalesces bag operations
// that can be pipelined into single tasks, creating wide dependencies
// only at shuffle and fan-in boundaries. The provided namer must mint
// names that are unique to the session.
//
// Dependencies are wired according to their kind: a narrow dependency
// maps partitions one to one; a shuffle dependency makes every output
// partition read its partition from every dependency task, which are
// in turn directed to partition their outputs; a fan-in dependency of
// width k makes output partition i read dependency partitions
// [i*k, (i+1)*k), merged.
func compile(namer taskNamer, bag bigbag.Bag) ([]*Task, error) {
	// Reuse tasks from a previously evaluated result.
	if result, ok := bag.(*Result); ok {
		return result.tasks, nil
	}
	// Pipeline bags and create a task for each underlying partition,
	// pipelining the eligible computations.
	tasks := make([]*Task, bag.NumPartition())
	bags := pipeline(bag)
	ops := make([]string, 0, len(bags))
	for i := len(bags) - 1; i >= 0; i-- {
		ops = append(ops, bags[i].Op())
	}
	opName := namer.New(strings.Join(ops, "_"))
	for i := range tasks {
		tasks[i] = &Task{
			Name:         TaskName{Op: opName, Partition: i, NumPartition: len(tasks)},
			NumPartition: 1,
		}
	}
	// Pipeline execution, folding multiple operations into a single
	// task by composing their readers.
	for i := len(bags) - 1; i >= 0; i-- {
		for partition := range tasks {
			var (
				partition = partition
				reader    = bags[i].Reader
				prev      = tasks[partition].Do
			)
			if prev == nil {
				// The first operation reads the input directly.
				tasks[partition].Do = func(readers []bagio.Reader) bagio.Reader {
					return reader(partition, readers)
				}
			} else {
				// Subsequent operations read the previous operation's output.
				tasks[partition].Do = func(readers []bagio.Reader) bagio.Reader {
					return reader(partition, []bagio.Reader{prev(readers)})
				}
			}
		}
	}
	// Now capture the dependencies for this task set; they are encoded
	// in the last bag of the pipeline.
	lastBag := bags[len(bags)-1]
	for i := 0; i < lastBag.NumDep(); i++ {
		dep := lastBag.Dep(i)
		deptasks, err := compile(namer, dep.Bag)
		if err != nil {
			return nil, err
		}
		switch {
		case dep.Shuffle:
			// Direct the dependency tasks to partition their outputs, and
			// have each task read its partition from all of them. Tasks
			// reused from an evaluated result have already run with their
			// original partitioning and their buffers cannot be
			// repartitioned in place; interpose a stage that re-reads the
			// result and partitions it.
			if _, ok := dep.Bag.(*Result); ok {
				deptasks = partitionResult(namer, deptasks, len(tasks))
			} else {
				for _, task := range deptasks {
					task.NumPartition = len(tasks)
				}
			}
			for partition := range tasks {
				tasks[partition].Deps = append(tasks[partition].Deps,
					TaskDep{deptasks, partition})
			}
		case dep.Fanin > 0:
			for partition := range tasks {
				beg := partition * dep.Fanin
				end := beg + dep.Fanin
				if beg >= len(deptasks) {
					return nil, fmt.Errorf("compile %s: fan-in dependency out of range: %d tasks, partition %d", opName, len(deptasks), partition)
				}
				if end > len(deptasks) {
					end = len(deptasks)
				}
				tasks[partition].Deps = append(tasks[partition].Deps,
					TaskDep{deptasks[beg:end], 0})
			}
		default:
			if len(tasks) != len(deptasks) {
				return nil, fmt.Errorf("compile %s: partition count mismatch: %d tasks, %d dependency tasks", opName, len(tasks), len(deptasks))
			}
			for partition := range tasks {
				tasks[partition].Deps = append(tasks[partition].Deps,
					TaskDep{deptasks[partition : partition+1], 0})
			}
		}
	}
	return tasks, nil
}

// PartitionResult returns a stage of tasks that read the provided
// (already evaluated) tasks one to one and emit their records
// partitioned npartition ways.
func partitionResult(namer taskNamer, deptasks []*Task, npartition int) []*Task {
	op := namer.New(deptasks[0].Name.Op + "_partition")
	tasks := make([]*Task, len(deptasks))
	for i := range tasks {
		tasks[i] = &Task{
			Name:         TaskName{Op: op, Partition: i, NumPartition: len(tasks)},
			NumPartition: npartition,
			Deps:         []TaskDep{{deptasks[i : i+1], 0}},
			Do: func(readers []bagio.Reader) bagio.Reader {
				return readers[0]
			},
		}
	}
	return tasks
}

type taskNamer map[string]int

func (n taskNamer) New(name string) string {
	c := n[name]
	n[name]++
	if c == 0 {
		return name
	}
	return fmt.Sprintf("%s%d", name, c)
}
