// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bagio provides utilities for managing record I/O for
// bigbag operations.
package bagio

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
)

// DefaultChunksize is the default size used for I/O vectors within the
// bagio package.
const defaultChunksize = 1024

// EOF is the error returned by Reader.Read when no more data is
// available. EOF is intended as a sentinel error: it signals a
// graceful end of output. If output terminates unexpectedly, a
// different error should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of records. Each call to
// Read reads the next set of available records.
type Reader interface {
	// Read reads a vector of records from the underlying collection.
	// The records are deposited in the passed-in buffer, beginning at
	// index 0.
	//
	// Read returns the total number of records read, or an error. When
	// no more records are available, Read returns EOF. Read may return
	// EOF when n > 0. In this case, n records were read, but no more
	// are available.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, out []interface{}) (int, error)
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of
// the provided input readers. Once every underlying Reader has
// returned EOF, Read will return EOF, too. Non-EOF errors are
// returned immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out []interface{}) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			err = nil
			m.q = m.q[1:]
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, err
		}
	}
	return 0, EOF
}

type sliceReader struct {
	records []interface{}
}

// SliceReader returns a Reader that reads the provided records
// to completion.
func SliceReader(records []interface{}) Reader {
	return &sliceReader{records}
}

func (s *sliceReader) Read(ctx context.Context, out []interface{}) (int, error) {
	n := copy(out, s.records)
	s.records = s.records[n:]
	if len(s.records) == 0 {
		return n, EOF
	}
	return n, nil
}

// ReadAll reads all records from reader r, returning them as a single
// slice. ReadAll is not tuned for performance and is intended for
// testing purposes.
func ReadAll(ctx context.Context, r Reader) ([]interface{}, error) {
	var (
		records []interface{}
		buf     = make([]interface{}, defaultChunksize)
	)
	for {
		n, err := r.Read(ctx, buf)
		records = append(records, buf[:n]...)
		if err == EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadFull reads len(out) records from reader r. ReadFull reads short
// only on EOF.
func ReadFull(ctx context.Context, r Reader, out []interface{}) (n int, err error) {
	for n < len(out) {
		m, err := r.Read(ctx, out[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// An errReader is a reader that only returns errors.
type errReader struct{ Err error }

// ErrReader returns a reader that returns the provided error
// on every call to read. ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("nil error")
	}
	return &errReader{err}
}

func (e errReader) Read(ctx context.Context, out []interface{}) (int, error) {
	return 0, e.Err
}

// A ClosingReader closes the provided io.Closer when Read returns
// any error.
type ClosingReader struct {
	Reader
	io.Closer
}

// Read implements bagio.Reader.
func (c *ClosingReader) Read(ctx context.Context, out []interface{}) (int, error) {
	n, err := c.Reader.Read(ctx, out)
	if err != nil && c.Closer != nil {
		c.Closer.Close()
		c.Closer = nil
	}
	return n, err
}

// EmptyReader returns an EOF.
type EmptyReader struct{}

func (EmptyReader) Read(ctx context.Context, out []interface{}) (int, error) {
	return 0, EOF
}
