// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"context"

	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/bigbag/typecheck"
)

// GroupBy returns a bag of Keyed records pairing each distinct key,
// as computed by the provided key function, with the group of all
// records sharing that key. The result has the same number of
// partitions as the input bag.
//
// GroupBy requires an all-to-all shuffle: every input partition may
// contribute records to every output partition. It is the expensive
// path; when the per-key result can be computed by an associative
// reduction, FoldBy should be preferred.
//
// Keys are unordered across groups. Within a group, record order is
// arbitrary but stable for a single execution.
func GroupBy(bag Bag, key func(v interface{}) interface{}) Bag {
	return groupByN(bag, key, bag.NumPartition())
}

// GroupByN is GroupBy with an explicit output partition count.
func GroupByN(bag Bag, key func(v interface{}) interface{}, npartition int) Bag {
	return groupByN(bag, key, npartition)
}

func groupByN(bag Bag, key func(v interface{}) interface{}, npartition int) Bag {
	if key == nil {
		typecheck.Panic(2, "groupby: nil key function")
	}
	if npartition < 1 {
		typecheck.Panic(2, "groupby: npartition must be >= 1")
	}
	return &groupBag{
		dep:        Dep{&keyedBag{bag, key}, true, 0},
		npartition: npartition,
	}
}

// A keyedBag wraps each record of its underlying bag in a Keyed
// record carrying its shuffle key. It is pipelined into the source
// task; the shuffle boundary lies between it and its consumer.
type keyedBag struct {
	Bag
	key func(v interface{}) interface{}
}

func (*keyedBag) Op() string      { return "keyed" }
func (*keyedBag) NumDep() int     { return 1 }
func (k *keyedBag) Dep(i int) Dep { return singleDep(i, k.Bag) }

type keyedReader struct {
	op     *keyedBag
	reader bagio.Reader
	err    error
}

func (k *keyedReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if k.err != nil {
		return 0, k.err
	}
	var n int
	n, k.err = k.reader.Read(ctx, out)
	for i := 0; i < n; i++ {
		out[i] = Keyed{Key: k.op.key(out[i]), Value: out[i]}
	}
	return n, k.err
}

func (k *keyedBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &keyedReader{op: k, reader: deps[0]}
}

type groupBag struct {
	dep        Dep
	npartition int
}

func (*groupBag) Op() string          { return "groupby" }
func (g *groupBag) NumPartition() int { return g.npartition }
func (*groupBag) NumDep() int         { return 1 }
func (g *groupBag) Dep(i int) Dep {
	if i != 0 {
		panic("no such dep")
	}
	return g.dep
}

type groupReader struct {
	reader bagio.Reader

	groups []*group
	err    error
}

type group struct {
	key     interface{}
	records []interface{}
}

// Gather drains the partition's keyed records into per-key groups.
// Keys are tracked in first-seen order so that group contents and
// output order are stable within one execution.
func (g *groupReader) gather(ctx context.Context) error {
	var (
		byKey = make(map[string]*group)
		in    = make([]interface{}, defaultChunksize)
	)
	for {
		n, err := g.reader.Read(ctx, in)
		for i := 0; i < n; i++ {
			keyed := in[i].(Keyed)
			id := string(keyBytes(keyed.Key))
			grp, ok := byKey[id]
			if !ok {
				grp = &group{key: keyed.Key}
				byKey[id] = grp
				g.groups = append(g.groups, grp)
			}
			grp.records = append(grp.records, keyed.Value)
		}
		if err == bagio.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (g *groupReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	if g.reader != nil {
		if g.err = g.gather(ctx); g.err != nil {
			return 0, g.err
		}
		g.reader = nil
	}
	var n int
	for n < len(out) && len(g.groups) > 0 {
		grp := g.groups[0]
		out[n] = Keyed{Key: grp.key, Value: grp.records}
		g.groups = g.groups[1:]
		n++
	}
	if len(g.groups) == 0 {
		g.err = bagio.EOF
	}
	return n, g.err
}

func (g *groupBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return &groupReader{reader: deps[0]}
}
