// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"context"
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/bigbag/typecheck"
)

func init() {
	gob.Register(Keyed{})
}

// DefaultChunksize is the default size used for IO vectors throughout
// bigbag.
const defaultChunksize = 1024

// A Keyed record pairs a key with a value. Keyed records are produced
// by the keying stages of GroupBy and FoldBy and carried across
// shuffle boundaries: the executor assigns a keyed record's partition
// by hashing its key. GroupBy and FoldBy results are themselves
// sequences of Keyed records, pairing each distinct key with its
// group or folded value.
type Keyed struct {
	Key, Value interface{}
}

// A Dep is a Bag dependency. Deps comprise a bag and a flag
// determining whether this represents a shuffle dependency. Shuffle
// dependencies must perform a data shuffle step: the dependency must
// partition its output by record key, and, when the dependent bag is
// computed, the evaluator must pass in readers that read a single
// partition from all dependent tasks.
type Dep struct {
	Bag
	Shuffle bool
	// Fanin, if nonzero, denotes a bounded fan-in dependency: output
	// partition i reads input partitions [i*Fanin, (i+1)*Fanin),
	// merged. Fan-in dependencies are used to build combine trees of
	// bounded width.
	Fanin int
}

// A Bag is a partitioned, unordered collection of opaque records.
// Bags may declare dependencies on other bags from which they are
// computed. In order to compute a bag, its dependencies must first be
// computed, and their resulting readers are passed to the bag's
// Reader method.
//
// A bag holds no materialized data; it is a recipe. Combinators
// return new bags and never mutate their inputs.
type Bag interface {
	// Op is a descriptive name of the operation that this bag
	// represents.
	Op() string

	// NumPartition returns the number of partitions in this bag.
	NumPartition() int

	// NumDep returns the number of dependencies of this bag.
	NumDep() int
	// Dep returns the i'th dependency for this bag.
	Dep(i int) Dep

	// Reader returns a reader for a partition of this bag. The reader
	// itself computes the partition's records on demand. The caller
	// must provide readers for all of this partition's dependencies,
	// constructed according to the dependency type (see Dep).
	Reader(partition int, deps []bagio.Reader) bagio.Reader
}

type constBag struct {
	records      []interface{}
	npartition   int
	perPartition int
}

// Const returns a bag representing the provided records, split into
// npartition partitions of contiguous runs. Record order is preserved:
// partition i holds the i'th contiguous run, so concatenating the
// partitions in index order recovers the original sequence.
func Const(npartition int, records ...interface{}) Bag {
	if npartition < 1 {
		typecheck.Panic(1, "const: npartition must be >= 1")
	}
	return &constBag{
		records:      records,
		npartition:   npartition,
		perPartition: len(records)/npartition + 1,
	}
}

func (*constBag) Op() string          { return "const" }
func (c *constBag) NumPartition() int { return c.npartition }
func (*constBag) NumDep() int         { return 0 }
func (*constBag) Dep(i int) Dep       { panic("no deps") }

func (c *constBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	beg := c.perPartition * partition
	end := beg + c.perPartition
	if beg >= len(c.records) {
		return bagio.EmptyReader{}
	}
	if end > len(c.records) {
		end = len(c.records)
	}
	return bagio.SliceReader(c.records[beg:end])
}

type readerFuncBag struct {
	npartition int
	open       func(partition int) bagio.Reader
}

// ReaderFunc returns a bag that uses the provided function to open a
// reader for each of its partitions. It is the seam through which
// external data sources (file readers, decoders) are attached to a
// computation. The function must be pure with respect to partition
// contents: a partition may be re-read if its task is retried.
func ReaderFunc(npartition int, open func(partition int) bagio.Reader) Bag {
	if npartition < 1 {
		typecheck.Panic(1, "readerfunc: npartition must be >= 1")
	}
	if open == nil {
		typecheck.Panic(1, "readerfunc: nil open function")
	}
	return &readerFuncBag{npartition, open}
}

func (*readerFuncBag) Op() string          { return "reader" }
func (r *readerFuncBag) NumPartition() int { return r.npartition }
func (*readerFuncBag) NumDep() int         { return 0 }
func (*readerFuncBag) Dep(i int) Dep       { panic("no deps") }

func (r *readerFuncBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &readerFuncReader{r: r.open(partition)}
}

type readerFuncReader struct {
	r   bagio.Reader
	err error
}

func (r *readerFuncReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.r.Read(ctx, out)
	if err != nil && err != bagio.EOF {
		// We consider all application-generated errors as Fatal unless
		// marked otherwise.
		if errors.Recover(err).Severity == errors.Unknown {
			err = errors.E(errors.Fatal, err)
		}
	}
	r.err = err
	return n, err
}

type mapBag struct {
	Bag
	op string
	fn func(v interface{}) interface{}
}

// Map transforms a bag by invoking a function for each record. The
// returned bag matches the input bag's partitioning, and record order
// is preserved within each partition.
func Map(bag Bag, fn func(v interface{}) interface{}) Bag {
	if fn == nil {
		typecheck.Panic(1, "map: nil map function")
	}
	return &mapBag{bag, "map", fn}
}

// Pluck returns a bag of the values at the provided key of each
// record. Records must be indexable by the key: maps are indexed
// directly, and any other record type is an error. If a default value
// is provided, it is produced for records missing the key; otherwise
// a missing key is an error attributed to the plucking task.
func Pluck(bag Bag, key interface{}, dflt ...interface{}) Bag {
	if len(dflt) > 1 {
		typecheck.Panic(1, "pluck: at most one default value")
	}
	return &mapBag{bag, "pluck", func(v interface{}) interface{} {
		if m, ok := v.(map[string]interface{}); ok {
			if s, ok := key.(string); ok {
				if elem, ok := m[s]; ok {
					return elem
				}
				if len(dflt) == 1 {
					return dflt[0]
				}
				panic(errors.E(errors.Fatal, fmt.Sprintf("pluck: key %v missing from record", key)))
			}
		}
		mv := reflect.ValueOf(v)
		if mv.Kind() == reflect.Map {
			elem := mv.MapIndex(reflect.ValueOf(key))
			if elem.IsValid() {
				return elem.Interface()
			}
			if len(dflt) == 1 {
				return dflt[0]
			}
			panic(errors.E(errors.Fatal, fmt.Sprintf("pluck: key %v missing from record", key)))
		}
		panic(errors.E(errors.Fatal, fmt.Sprintf("pluck: cannot index record of type %T", v)))
	}}
}

// Starmap transforms a bag by invoking a function with each record's
// elements as arguments. Records must be argument tuples, i.e. of
// type []interface{}; any other record type is an error attributed to
// the mapping task.
func Starmap(bag Bag, fn func(args ...interface{}) interface{}) Bag {
	if fn == nil {
		typecheck.Panic(1, "starmap: nil starmap function")
	}
	return &mapBag{bag, "starmap", func(v interface{}) interface{} {
		args, ok := v.([]interface{})
		if !ok {
			panic(errors.E(errors.Fatal, fmt.Sprintf("starmap: record of type %T is not an argument tuple", v)))
		}
		return fn(args...)
	}}
}

func (m *mapBag) Op() string    { return m.op }
func (*mapBag) NumDep() int     { return 1 }
func (m *mapBag) Dep(i int) Dep { return singleDep(i, m.Bag) }

type mapReader struct {
	op     *mapBag
	reader bagio.Reader // parent reader
	in     []interface{}
	err    error
}

func (m *mapReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n := len(out)
	if len(m.in) < n {
		m.in = make([]interface{}, n)
	}
	n, m.err = m.reader.Read(ctx, m.in[:n])
	for i := 0; i < n; i++ {
		out[i] = m.op.fn(m.in[i])
	}
	return n, m.err
}

func (m *mapBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &mapReader{op: m, reader: deps[0]}
}

type filterBag struct {
	Bag
	pred func(v interface{}) bool
}

// Filter returns a bag containing only those records of the input bag
// for which the provided predicate is true. Relative record order is
// preserved within each partition.
func Filter(bag Bag, pred func(v interface{}) bool) Bag {
	if pred == nil {
		typecheck.Panic(1, "filter: nil predicate function")
	}
	return &filterBag{bag, pred}
}

func (*filterBag) Op() string      { return "filter" }
func (*filterBag) NumDep() int     { return 1 }
func (f *filterBag) Dep(i int) Dep { return singleDep(i, f.Bag) }

type filterReader struct {
	op     *filterBag
	reader bagio.Reader
	in     []interface{}
	err    error
}

func (f *filterReader) Read(ctx context.Context, out []interface{}) (n int, err error) {
	if f.err != nil {
		return 0, f.err
	}
	var (
		m   int
		max = len(out)
	)
	for m < max && f.err == nil {
		if len(f.in) < max-m {
			f.in = make([]interface{}, max-m)
		}
		n, f.err = f.reader.Read(ctx, f.in[:max-m])
		for i := 0; i < n; i++ {
			if f.op.pred(f.in[i]) {
				out[m] = f.in[i]
				m++
			}
		}
	}
	return m, f.err
}

func (f *filterBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &filterReader{op: f, reader: deps[0]}
}

type flatmapBag struct {
	Bag
	op string
	fn func(v interface{}) []interface{}
}

// Flatmap returns a bag that applies the function fn to each record
// in the bag, flattening the returned records into the output.
func Flatmap(bag Bag, fn func(v interface{}) []interface{}) Bag {
	if fn == nil {
		typecheck.Panic(1, "flatmap: nil flatmap function")
	}
	return &flatmapBag{bag, "flatmap", fn}
}

// Flatten returns a bag whose records are the concatenated elements
// of the input bag's records. Records must be sequences, i.e. of type
// []interface{}; any other record type is an error attributed to the
// flattening task.
func Flatten(bag Bag) Bag {
	return &flatmapBag{bag, "flatten", func(v interface{}) []interface{} {
		elems, ok := v.([]interface{})
		if !ok {
			panic(errors.E(errors.Fatal, fmt.Sprintf("flatten: record of type %T is not a sequence", v)))
		}
		return elems
	}}
}

func (f *flatmapBag) Op() string    { return f.op }
func (*flatmapBag) NumDep() int     { return 1 }
func (f *flatmapBag) Dep(i int) Dep { return singleDep(i, f.Bag) }

type flatmapReader struct {
	op     *flatmapBag
	reader bagio.Reader // underlying reader

	in           []interface{} // buffer of inputs
	begIn, endIn int
	out          []interface{} // buffered output from the last call
	eof          bool
}

func (f *flatmapReader) Read(ctx context.Context, out []interface{}) (int, error) {
	begOut, endOut := 0, len(out)
	// Add buffered output from last call, if any.
	if len(f.out) > 0 {
		n := copy(out, f.out)
		begOut += n
		f.out = f.out[n:]
	}
	// Continue as long as we have (possibly buffered) input, and space
	// for output.
	for begOut < endOut && (!f.eof || f.begIn < f.endIn) {
		if f.begIn == f.endIn {
			if len(f.in) < len(out) {
				f.in = make([]interface{}, len(out))
			}
			n, err := f.reader.Read(ctx, f.in)
			if err != nil && err != bagio.EOF {
				return 0, err
			}
			f.begIn, f.endIn = 0, n
			f.eof = err == bagio.EOF
		}
		// Consume one input at a time, as long as we have space in our
		// output buffer.
		for ; f.begIn < f.endIn && begOut < endOut; f.begIn++ {
			result := f.op.fn(f.in[f.begIn])
			n := copy(out[begOut:endOut], result)
			begOut += n
			// We've run out of output space. In this case, stash the rest
			// of our output into f.out, if any.
			if n < len(result) {
				f.out = append(f.out, result[n:]...)
			}
		}
	}
	var err error
	// We're EOF if we've encountered an EOF from the underlying
	// reader, there's no buffered output, and no buffered input.
	if f.eof && len(f.out) == 0 && f.begIn == f.endIn {
		err = bagio.EOF
	}
	return begOut, err
}

func (f *flatmapBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &flatmapReader{op: f, reader: deps[0]}
}

type headBag struct {
	Bag
	n int
}

// Head returns a bag that returns at most the first n records from
// each partition of the underlying bag. It is used to bound the work
// performed by short-circuiting operations such as take.
func Head(bag Bag, n int) Bag {
	return headBag{bag, n}
}

func (h headBag) Op() string    { return fmt.Sprintf("head(%d)", h.n) }
func (headBag) NumDep() int     { return 1 }
func (h headBag) Dep(i int) Dep { return singleDep(i, h.Bag) }

type headReader struct {
	reader bagio.Reader
	n      int
}

func (h headBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &headReader{deps[0], h.n}
}

func (h *headReader) Read(ctx context.Context, out []interface{}) (n int, err error) {
	if h.n <= 0 {
		return 0, bagio.EOF
	}
	n, err = h.reader.Read(ctx, out)
	h.n -= n
	if h.n < 0 {
		n -= -h.n
	}
	return
}

// String returns a string describing the bag and its partitioning.
func String(bag Bag) string {
	return fmt.Sprintf("%s@%d", bag.Op(), bag.NumPartition())
}

func singleDep(i int, bag Bag) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{bag, false, 0}
}
