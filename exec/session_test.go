// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/testutil"
)

func TestSessionRun(t *testing.T) {
	sess := Start(Local, Parallelism(4))
	defer sess.Shutdown()
	ctx := context.Background()
	bag := bigbag.Const(3, 1, 2, 3, 4, 5)
	bag = bigbag.Map(bag, func(v interface{}) interface{} { return v.(int) * 10 })
	res, err := sess.Run(ctx, bag)
	if err != nil {
		t.Fatal(err)
	}
	got, err := res.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{10, 20, 30, 40, 50}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// Results may be scanned multiple times.
	got, err = res.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionResultReuse(t *testing.T) {
	sess := Start(Local)
	defer sess.Shutdown()
	ctx := context.Background()
	res, err := sess.Run(ctx, bigbag.Const(2, 1, 2, 3, 4))
	if err != nil {
		t.Fatal(err)
	}
	derived := bigbag.Map(res, func(v interface{}) interface{} { return v.(int) + 1 })
	res2 := sess.Must(ctx, derived)
	got, err := res2.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{2, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// The derived run reads the prior run's tasks directly.
	for i, task := range res2.tasks {
		if got, want := task.Deps[0].Tasks[0], res.tasks[i]; got != want {
			t.Errorf("partition %d: tasks not reused", i)
		}
	}
}

func TestSessionResultRepartition(t *testing.T) {
	sess := Start(Local, Parallelism(2))
	defer sess.Shutdown()
	ctx := context.Background()
	res, err := sess.Run(ctx, bigbag.Const(2, 1, 2, 3, 4, 5, 6))
	if err != nil {
		t.Fatal(err)
	}
	// Reshuffling a computed result reads its stored output anew
	// rather than disturbing it.
	for _, bag := range []bigbag.Bag{
		bigbag.Repartition(res, 4),
		bigbag.Reshuffle(res),
	} {
		res2, err := sess.Run(ctx, bag)
		if err != nil {
			t.Fatal(err)
		}
		records, err := res2.Records(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var got []int
		for _, rec := range records {
			got = append(got, rec.(int))
		}
		sort.Ints(got)
		if want := []int{1, 2, 3, 4, 5, 6}; !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	// The original result remains readable afterwards.
	records, err := res.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(records), 6; got != want {
		t.Errorf("got %v records, want %v", got, want)
	}
}

func TestSessionRunError(t *testing.T) {
	sess := Start(Local)
	defer sess.Shutdown()
	ctx := context.Background()
	bag := bigbag.Const(2, 1, 2, 3)
	bag = bigbag.Map(bag, func(v interface{}) interface{} {
		panic("user function failure")
	})
	if _, err := sess.Run(ctx, bag); err == nil {
		t.Fatal("expected error")
	}
	defer func() {
		if recover() == nil {
			t.Error("expected Must to panic")
		}
	}()
	sess.Must(ctx, bag)
}

func TestSessionTake(t *testing.T) {
	sess := Start(Local)
	defer sess.Shutdown()
	ctx := context.Background()
	// Partitions beyond the first fail if evaluated; Take must not
	// dispatch tasks whose output is not needed.
	bag := bigbag.ReaderFunc(4, func(partition int) bagio.Reader {
		if partition > 0 {
			return bagio.ErrReader(errors.New("unneeded partition evaluated"))
		}
		return bagio.SliceReader([]interface{}{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	})
	got, err := sess.Take(ctx, bag, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionTakeShort(t *testing.T) {
	sess := Start(Local)
	defer sess.Shutdown()
	ctx := context.Background()
	got, err := sess.Take(ctx, bigbag.Const(2, 1, 2, 3), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d records, want 3", len(got))
	}
}

func TestSessionPersist(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	sess := Start(Local, Parallelism(2), Persist(dir))
	defer sess.Shutdown()
	ctx := context.Background()
	bag := bigbag.Const(4, 1, 2, 3, 4, 5, 6, 7, 8)
	bag = bigbag.GroupBy(bag, func(v interface{}) interface{} { return v.(int) % 2 })
	res, err := sess.Run(ctx, bag)
	if err != nil {
		t.Fatal(err)
	}
	records, err := res.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(records), 2; got != want {
		t.Fatalf("got %v groups, want %v", got, want)
	}
	var all []int
	for _, rec := range records {
		for _, v := range rec.(bigbag.Keyed).Value.([]interface{}) {
			all = append(all, v.(int))
		}
	}
	sort.Ints(all)
	if got, want := all, []int{1, 2, 3, 4, 5, 6, 7, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// Persisted output remains readable on a second scan.
	if _, err := res.Records(ctx); err != nil {
		t.Fatal(err)
	}
}
