// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/bigbag/bagio"
)

// A taskBuffer is an in-memory buffer of task output. It has the
// ability to handle multiple partitions, and stores chunks of
// records for efficiency.
//
// taskBuffer layout is: partition, chunks, records.
type taskBuffer [][][]interface{}

type taskBufferReader struct {
	q       taskBuffer
	i, j, k int
}

func (r *taskBufferReader) Read(ctx context.Context, out []interface{}) (int, error) {
loop:
	for {
		switch {
		case len(r.q) == r.i:
			return 0, bagio.EOF
		case len(r.q[r.i]) == r.j:
			r.i++
			r.j, r.k = 0, 0
		case len(r.q[r.i][r.j]) == r.k:
			r.j++
			r.k = 0
		default:
			break loop
		}
	}
	chunk := r.q[r.i][r.j]
	n := copy(out, chunk[r.k:])
	r.k += n
	return n, nil
}

// Reader returns a reader for a partition of the taskBuffer.
func (b taskBuffer) Reader(partition int) bagio.Reader {
	if len(b) == 0 {
		return bagio.EmptyReader{}
	}
	return &taskBufferReader{q: b[partition : partition+1]}
}
