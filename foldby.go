// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"context"

	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/bigbag/typecheck"
)

// DefaultSplitEvery is the default fan-in of FoldBy's combine tree.
const DefaultSplitEvery = 8

// A FoldOption configures a FoldBy operation.
type FoldOption func(*foldOptions)

type foldOptions struct {
	combine    func(a, b interface{}) interface{}
	splitEvery int
}

// Combine sets the function used to merge per-partition partial
// results. If unset, the fold function itself is used, applied to
// pairs of accumulators. The combine function must be associative and
// commutative over the set of partial results: the engine merges
// partials in an arbitrary associative grouping, and the final value
// must not depend on the grouping chosen.
func Combine(fn func(a, b interface{}) interface{}) FoldOption {
	return func(o *foldOptions) { o.combine = fn }
}

// SplitEvery sets the fan-in of the combine tree: no single combine
// task merges more than n inputs. Smaller values bound task width at
// the cost of a deeper task graph. The default is DefaultSplitEvery.
func SplitEvery(n int) FoldOption {
	return func(o *foldOptions) { o.splitEvery = n }
}

// FoldBy returns a bag of Keyed records pairing each distinct key, as
// computed by the provided key function, with the result of folding
// all records sharing that key. Each input partition is folded
// independently and sequentially: for every record, in partition
// order, the accumulator is updated as fold(accum, record), starting
// from initial. Per-partition partial results are then merged by a
// combine tree of bounded fan-in (see SplitEvery) into a single
// output partition.
//
// Because partials are merged in an arbitrary associative grouping,
// the combine function (see Combine) must be insensitive to that
// grouping; the fold function itself need not be associative, as it
// is always applied sequentially within one partition. The engine
// cannot verify these preconditions.
//
// FoldBy avoids the full shuffle performed by GroupBy and should be
// preferred whenever the per-key result is an aggregation.
func FoldBy(bag Bag, key func(v interface{}) interface{}, fold func(accum, v interface{}) interface{}, initial interface{}, opts ...FoldOption) Bag {
	if key == nil {
		typecheck.Panic(1, "foldby: nil key function")
	}
	if fold == nil {
		typecheck.Panic(1, "foldby: nil fold function")
	}
	o := foldOptions{splitEvery: DefaultSplitEvery}
	for _, opt := range opts {
		opt(&o)
	}
	if o.splitEvery < 2 {
		typecheck.Panic(1, "foldby: split every must be >= 2")
	}
	if o.combine == nil {
		o.combine = fold
	}
	var tree Bag = &foldPartialBag{Bag: bag, key: key, fold: fold, initial: initial}
	// Combine partials pairwise in a tree of fan-in splitEvery until a
	// single partition holds the final per-key values.
	for tree.NumPartition() > 1 {
		n := (tree.NumPartition() + o.splitEvery - 1) / o.splitEvery
		tree = &combineBag{
			dep:        Dep{tree, false, o.splitEvery},
			npartition: n,
			combine:    o.combine,
		}
	}
	return tree
}

// A foldPartialBag folds each partition of its underlying bag into
// one partial accumulator per distinct key, emitted as Keyed records
// in first-seen key order.
type foldPartialBag struct {
	Bag
	key     func(v interface{}) interface{}
	fold    func(accum, v interface{}) interface{}
	initial interface{}
}

func (*foldPartialBag) Op() string      { return "foldby" }
func (*foldPartialBag) NumDep() int     { return 1 }
func (f *foldPartialBag) Dep(i int) Dep { return singleDep(i, f.Bag) }

type foldPartialReader struct {
	op     *foldPartialBag
	reader bagio.Reader

	accums *accumulator
	err    error
}

func (f *foldPartialReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.accums == nil {
		accums := newAccumulator()
		in := make([]interface{}, defaultChunksize)
		for {
			n, err := f.reader.Read(ctx, in)
			for i := 0; i < n; i++ {
				v := in[i]
				accums.Fold(f.op.key(v), v, f.op.initial, f.op.fold)
			}
			if err == bagio.EOF {
				break
			}
			if err != nil {
				f.err = err
				return 0, f.err
			}
		}
		f.accums = accums
	}
	var n int
	n, f.err = f.accums.Read(out)
	return n, f.err
}

func (f *foldPartialBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &foldPartialReader{op: f, reader: deps[0]}
}

// A combineBag merges the per-key partial results of a bounded number
// of upstream partitions (see Dep.Fanin). Partials for the same key
// are merged pairwise with the combine function; the accumulator of a
// key seen in only one input passes through unchanged, so initial is
// incorporated exactly once per source partition fold.
type combineBag struct {
	dep        Dep
	npartition int
	combine    func(a, b interface{}) interface{}
}

func (*combineBag) Op() string          { return "combine" }
func (c *combineBag) NumPartition() int { return c.npartition }
func (*combineBag) NumDep() int         { return 1 }
func (c *combineBag) Dep(i int) Dep {
	if i != 0 {
		panic("no such dep")
	}
	return c.dep
}

type combineReader struct {
	op     *combineBag
	reader bagio.Reader

	accums *accumulator
	err    error
}

func (c *combineReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.accums == nil {
		accums := newAccumulator()
		in := make([]interface{}, defaultChunksize)
		for {
			n, err := c.reader.Read(ctx, in)
			for i := 0; i < n; i++ {
				keyed := in[i].(Keyed)
				accums.Combine(keyed.Key, keyed.Value, c.op.combine)
			}
			if err == bagio.EOF {
				break
			}
			if err != nil {
				c.err = err
				return 0, c.err
			}
		}
		c.accums = accums
	}
	var n int
	n, c.err = c.accums.Read(out)
	return n, c.err
}

func (c *combineBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &combineReader{op: c, reader: deps[0]}
}

// An accumulator maintains a set of per-key accumulations. Keys are
// tracked in first-seen order so that output is stable within one
// execution.
type accumulator struct {
	byKey map[string]int
	keys  []interface{}
	vals  []interface{}
	read  int
}

func newAccumulator() *accumulator {
	return &accumulator{byKey: make(map[string]int)}
}

// Fold folds the record v into the accumulation for the provided key,
// starting a fresh accumulator from initial on the key's first
// occurrence.
func (a *accumulator) Fold(key, v, initial interface{}, fold func(accum, v interface{}) interface{}) {
	id := string(keyBytes(key))
	i, ok := a.byKey[id]
	if !ok {
		i = len(a.vals)
		a.byKey[id] = i
		a.keys = append(a.keys, key)
		a.vals = append(a.vals, initial)
	}
	a.vals[i] = fold(a.vals[i], v)
}

// Combine merges a partial accumulation for the provided key into the
// accumulator. The first partial for a key is adopted as-is.
func (a *accumulator) Combine(key, partial interface{}, combine func(x, y interface{}) interface{}) {
	id := string(keyBytes(key))
	i, ok := a.byKey[id]
	if !ok {
		a.byKey[id] = len(a.vals)
		a.keys = append(a.keys, key)
		a.vals = append(a.vals, partial)
		return
	}
	a.vals[i] = combine(a.vals[i], partial)
}

// Read emits the accumulated (key, value) pairs as Keyed records.
func (a *accumulator) Read(out []interface{}) (int, error) {
	var n int
	for n < len(out) && a.read < len(a.vals) {
		out[n] = Keyed{Key: a.keys[a.read], Value: a.vals[a.read]}
		a.read++
		n++
	}
	if a.read == len(a.vals) {
		return n, bagio.EOF
	}
	return n, nil
}
