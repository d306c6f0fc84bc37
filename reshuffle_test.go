// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag_test

import (
	"sort"
	"testing"

	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagtest"
)

func sortedInts(t *testing.T, bag bigbag.Bag) []int {
	t.Helper()
	records := bagtest.RunAndScan(t, bag)
	vs := make([]int, len(records))
	for i, rec := range records {
		vs[i] = rec.(int)
	}
	sort.Ints(vs)
	return vs
}

func TestReshuffle(t *testing.T) {
	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	for _, p := range npartitions {
		bag := bigbag.Const(p, seq(100)...)
		bag = bigbag.Reshuffle(bag)
		if got, wantp := bag.NumPartition(), p; got != wantp {
			t.Errorf("got %v, want %v", got, wantp)
		}
		got := sortedInts(t, bag)
		if len(got) != len(want) {
			t.Fatalf("p=%d: got %d records, want %d", p, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("p=%d: got %v, want %v", p, got, want)
			}
		}
	}
}

func TestRepartition(t *testing.T) {
	for _, np := range []int{1, 4, 13} {
		bag := bigbag.Const(3, seq(50)...)
		bag = bigbag.Repartition(bag, np)
		if got, want := bag.NumPartition(), np; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		got := sortedInts(t, bag)
		if len(got) != 50 {
			t.Fatalf("np=%d: got %d records, want 50", np, len(got))
		}
		for i := range got {
			if got[i] != i {
				t.Fatalf("np=%d: got %v at %d", np, got[i], i)
			}
		}
	}
	expectTypeError(t, func() { bigbag.Repartition(bigbag.Const(1, 1), 0) })
}
