// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/bigbag/typecheck"
)

type reshuffleBag struct {
	op         string
	dep        Dep
	npartition int
}

// Reshuffle returns a bag whose records are shuffled by their own
// hash value, with the same number of partitions as the input. This
// can be used to rebalance skewed partitions. Record order within a
// partition is not preserved across a reshuffle.
func Reshuffle(bag Bag) Bag {
	return &reshuffleBag{
		op:         "reshuffle",
		dep:        Dep{bag, true, 0},
		npartition: bag.NumPartition(),
	}
}

// Repartition returns a bag with the provided number of partitions,
// its records redistributed by their hash value. Repartition and the
// shuffle operations are the only ways a computation changes its
// partition count.
func Repartition(bag Bag, npartition int) Bag {
	if npartition < 1 {
		typecheck.Panic(1, "repartition: npartition must be >= 1")
	}
	return &reshuffleBag{
		op:         "repartition",
		dep:        Dep{bag, true, 0},
		npartition: npartition,
	}
}

func (r *reshuffleBag) Op() string        { return r.op }
func (r *reshuffleBag) NumPartition() int { return r.npartition }
func (*reshuffleBag) NumDep() int         { return 1 }
func (r *reshuffleBag) Dep(i int) Dep {
	if i != 0 {
		panic("no such dep")
	}
	return r.dep
}

func (r *reshuffleBag) Reader(partition int, deps []bagio.Reader) bagio.Reader {
	return deps[0]
}
