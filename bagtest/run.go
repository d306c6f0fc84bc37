// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bagtest provides utilities for testing bigbag user code.
// The utilities here are generally not optimized for performance or
// robustness; they are strictly intended for unit testing.
package bagtest

import (
	"context"
	"testing"

	"github.com/grailbio/bigbag"
	"github.com/grailbio/bigbag/bagio"
	"github.com/grailbio/bigbag/exec"
)

// Run evaluates the provided bag in local execution mode, returning
// a scanner for the result. Errors are reported as fatal to the
// provided t instance. Run is intended for unit testing of Bag
// implementations.
func Run(t *testing.T, bag bigbag.Bag) *bagio.Scanner {
	t.Helper()
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	res, err := sess.Run(ctx, bag)
	if err != nil {
		t.Fatal(err)
	}
	return res.Scanner()
}

// ScanAll scans all records from the scanner into a slice. Errors
// are reported as fatal to the provided t instance.
func ScanAll(t *testing.T, scan *bagio.Scanner) []interface{} {
	t.Helper()
	ctx := context.Background()
	var (
		records []interface{}
		rec     interface{}
	)
	for scan.Scan(ctx, &rec) {
		records = append(records, rec)
	}
	if err := scan.Err(); err != nil {
		t.Fatal(err)
	}
	return records
}

// RunAndScan evaluates the provided bag and returns all of its
// records. Errors are reported as fatal to the provided t instance.
func RunAndScan(t *testing.T, bag bigbag.Bag) []interface{} {
	t.Helper()
	return ScanAll(t, Run(t, bag))
}

// RunErr evaluates the provided bag in local execution mode and
// returns the evaluation error, if any.
func RunErr(bag bigbag.Bag) error {
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	_, err := sess.Run(ctx, bag)
	return err
}
