// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bagio

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func records(vs ...int) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func TestSliceReader(t *testing.T) {
	ctx := context.Background()
	r := SliceReader(records(1, 2, 3, 4, 5))
	out := make([]interface{}, 2)
	n, err := r.Read(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := out, records(1, 2); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	rest, err := ReadAll(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := rest, records(3, 4, 5); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := r.Read(ctx, out); err != EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestMultiReader(t *testing.T) {
	ctx := context.Background()
	r := MultiReader(
		SliceReader(records(1, 2)),
		EmptyReader{},
		SliceReader(records(3)),
		SliceReader(records(4, 5, 6)),
	)
	all, err := ReadAll(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := all, records(1, 2, 3, 4, 5, 6); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMultiReaderErr(t *testing.T) {
	ctx := context.Background()
	expected := errors.New("some error")
	r := MultiReader(
		SliceReader(records(1)),
		ErrReader(expected),
		SliceReader(records(2)),
	)
	if _, err := ReadAll(ctx, r); err != expected {
		t.Errorf("got %v, want %v", err, expected)
	}
	// The error is sticky.
	if _, err := r.Read(ctx, make([]interface{}, 1)); err != expected {
		t.Errorf("got %v, want %v", err, expected)
	}
}

func TestReadFull(t *testing.T) {
	ctx := context.Background()
	out := make([]interface{}, 3)
	n, err := ReadFull(ctx, SliceReader(records(1, 2, 3, 4)), out)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	out = make([]interface{}, 10)
	n, err = ReadFull(ctx, SliceReader(records(1, 2)), out)
	if err != EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

type testCloser bool

func (c *testCloser) Close() error {
	*c = true
	return nil
}

func TestClosingReader(t *testing.T) {
	ctx := context.Background()
	var closed testCloser
	r := &ClosingReader{Reader: SliceReader(records(1, 2, 3)), Closer: &closed}
	all, err := ReadAll(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := all, records(1, 2, 3); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !closed {
		t.Error("reader not closed on EOF")
	}
}
