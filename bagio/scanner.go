// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bagio

import (
	"context"
	"io"
)

// A Scanner provides a convenient interface for reading records (e.g.
// from a Bag or a partition of a Bag). Successive calls to Scan return
// the next record. Scanning stops when no more data are available or
// if an error is encountered. Scan returns true while it's safe to
// continue scanning. When scanning is complete, the user should
// inspect the scanner's error to see if scanning stopped because of an
// EOF or because another error occurred.
type Scanner struct {
	reader Reader
	closer io.Closer

	err      error
	started  bool
	in       []interface{}
	beg, end int
}

// NewScanner returns a new scanner of records from the provided
// reader. If closer is non-nil, it is closed when the scanner is
// closed.
func NewScanner(reader Reader, closer io.Closer) *Scanner {
	return &Scanner{reader: reader, closer: closer}
}

// Scan the next record into the provided pointer. Scan returns true
// while no errors are encountered and there remains data to be
// scanned.
func (s *Scanner) Scan(ctx context.Context, out *interface{}) bool {
	if s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		s.in = make([]interface{}, defaultChunksize)
		s.beg, s.end = 0, 0
	}
	// Read the next batch of input.
	for s.beg == s.end {
		if s.reader == nil {
			s.err = EOF
			return false
		}
		n, err := s.reader.Read(ctx, s.in)
		if err != nil && err != EOF {
			s.err = err
			return false
		}
		s.beg, s.end = 0, n
		if err == EOF {
			s.reader = nil
		}
	}
	*out = s.in[s.beg]
	s.beg++
	return true
}

// Err returns any error that occurred while scanning.
func (s *Scanner) Err() error {
	if s.err == EOF {
		return nil
	}
	return s.err
}

// Close releases resources held by the scanner. It must be called
// when the scanner is no longer in use.
func (s *Scanner) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
