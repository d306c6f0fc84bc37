// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"testing"

	"github.com/grailbio/bigbag"
)

func compileBag(t *testing.T, bag bigbag.Bag) []*Task {
	t.Helper()
	tasks, err := compile(make(taskNamer), bag)
	if err != nil {
		t.Fatal(err)
	}
	return tasks
}

func TestCompilePipeline(t *testing.T) {
	bag := bigbag.Const(3, 1, 2, 3, 4, 5)
	bag = bigbag.Filter(bag, func(v interface{}) bool { return true })
	bag = bigbag.Map(bag, func(v interface{}) interface{} { return v })
	tasks := compileBag(t, bag)
	// The whole chain pipelines into a single stage.
	if got, want := len(tasks), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, task := range tasks {
		if got, want := task.Name.Op, "const_filter_map"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.Name.Partition, i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := len(task.Deps), 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := task.NumPartition, 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestCompileShuffle(t *testing.T) {
	bag := bigbag.Const(3, 1, 2, 3, 4, 5)
	bag = bigbag.GroupBy(bag, func(v interface{}) interface{} { return v })
	tasks := compileBag(t, bag)
	if got, want := len(tasks), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, task := range tasks {
		if got, want := len(task.Deps), 1; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		dep := task.Deps[0]
		// Every output partition reads its own partition from every
		// upstream task.
		if got, want := len(dep.Tasks), 3; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := dep.Partition, i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		for _, deptask := range dep.Tasks {
			if got, want := deptask.Name.Op, "const_keyed"; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			// Upstream tasks are directed to partition their output.
			if got, want := deptask.NumPartition, 3; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
}

func TestCompileFanin(t *testing.T) {
	bag := bigbag.Const(4, 1, 2, 3, 4, 5, 6, 7, 8)
	bag = bigbag.FoldBy(bag,
		func(v interface{}) interface{} { return v.(int) % 2 },
		func(accum, v interface{}) interface{} { return accum.(int) + v.(int) },
		0, bigbag.SplitEvery(2))
	tasks := compileBag(t, bag)
	// 4 partial tasks combine 2 at a time: 4 -> 2 -> 1.
	if got, want := len(tasks), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	root := tasks[0]
	if got, want := len(root.Deps), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := len(root.Deps[0].Tasks), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, mid := range root.Deps[0].Tasks {
		if got, want := len(mid.Deps[0].Tasks), 2; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		// Fan-in deps read unpartitioned output.
		if got, want := mid.Deps[0].Partition, 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		for _, leaf := range mid.Deps[0].Tasks {
			if got, want := leaf.Name.Op, "const_foldby"; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			if got, want := leaf.NumPartition, 1; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
}

func TestCompileResultReuse(t *testing.T) {
	namer := make(taskNamer)
	bag := bigbag.Const(2, 1, 2, 3)
	tasks, err := compile(namer, bag)
	if err != nil {
		t.Fatal(err)
	}
	res := &Result{Bag: bag, tasks: tasks}
	derived := bigbag.Map(res, func(v interface{}) interface{} { return v })
	derivedTasks, err := compile(namer, derived)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(derivedTasks), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, task := range derivedTasks {
		// The derived computation reads the already-computed tasks
		// rather than recompiling the const stage.
		if got, want := task.Deps[0].Tasks[0], tasks[i]; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestCompileResultRepartition(t *testing.T) {
	namer := make(taskNamer)
	bag := bigbag.Const(2, 1, 2, 3, 4)
	tasks, err := compile(namer, bag)
	if err != nil {
		t.Fatal(err)
	}
	res := &Result{Bag: bag, tasks: tasks}
	shuffled, err := compile(namer, bigbag.Repartition(res, 4))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(shuffled), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// The evaluated tasks keep their original output partitioning; a
	// fresh stage re-reads them and partitions their records.
	for _, task := range tasks {
		if got, want := task.NumPartition, 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	for i, task := range shuffled {
		dep := task.Deps[0]
		if got, want := len(dep.Tasks), 2; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		if got, want := dep.Partition, i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		for j, mid := range dep.Tasks {
			if got, want := mid.Name.Op, "const_partition"; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			if got, want := mid.NumPartition, 4; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			if got, want := mid.Deps[0].Tasks[0], tasks[j]; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
}

func TestTaskNamer(t *testing.T) {
	namer := make(taskNamer)
	if got, want := namer.New("combine"), "combine"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := namer.New("combine"), "combine1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := namer.New("combine"), "combine2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
