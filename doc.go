// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigbag implements a lazy, partitioned collection execution
	engine for semi-structured data. Users compose computations by
	operating over unordered collections ("bags") of opaque records,
	transforming them with a handful of combinators. Combinators are
	lazy: they build up an immutable operation graph, and no work is
	performed until the graph is handed to an execution session
	(package exec), which compiles it into a task graph and evaluates
	the tasks across a pool of workers.

	Records are opaque to the engine: a record may be a number, a
	string, or a nested structure (for example the result of decoding
	a line of JSON). Only user-supplied functions inspect records; the
	engine moves them between partitions without interpretation.

	A bag is partitioned: each partition is an ordered sequence of
	records and the unit of parallelism. Record order is preserved
	within a partition across map and filter chains; no order is
	guaranteed across partitions. The number of partitions is fixed
	when a bag is created and changes only through explicit shuffle
	operations (GroupBy, Reshuffle, Repartition).

	User functions passed to combinators must be pure: tasks may be
	retried after failures, and a task must produce the same output
	each time it is run.

	For example, to sum the even and odd integers in a collection:

		bag := bigbag.Const(4, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
		bag = bigbag.FoldBy(bag,
			func(v interface{}) interface{} { return v.(int)%2 == 0 },
			func(acc, v interface{}) interface{} { return acc.(int) + v.(int) },
			0,
		)
		sess := exec.Start(exec.Local)
		defer sess.Shutdown()
		result, err := sess.Run(ctx, bag)
*/
package bigbag
