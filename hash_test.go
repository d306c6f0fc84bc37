// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"bytes"
	"testing"
)

func TestHash32(t *testing.T) {
	keys := []interface{}{nil, true, false, 0, 1, -1, uint(1), 1.0, "", "1", "hello", []interface{}{1, 2}}
	for _, key := range keys {
		if got, want := Hash32(key), Hash32(key); got != want {
			t.Errorf("key %v: hash not deterministic", key)
		}
	}
}

func TestKeyBytesWidths(t *testing.T) {
	// Numerically equal integers of different widths are the same key.
	if !bytes.Equal(keyBytes(int(42)), keyBytes(int64(42))) {
		t.Error("int and int64 keys differ")
	}
	if !bytes.Equal(keyBytes(int8(42)), keyBytes(int32(42))) {
		t.Error("int8 and int32 keys differ")
	}
	if !bytes.Equal(keyBytes(uint(42)), keyBytes(uint64(42))) {
		t.Error("uint and uint64 keys differ")
	}
	if !bytes.Equal(keyBytes(float32(1.5)), keyBytes(float64(1.5))) {
		t.Error("float32 and float64 keys differ")
	}
}

func TestKeyBytesKinds(t *testing.T) {
	// Values of different kinds never share an encoding, even when
	// their payloads would collide.
	for i, x := range []interface{}{nil, false, int(0), uint(0), 0.0, "", "0"} {
		for j, y := range []interface{}{nil, false, int(0), uint(0), 0.0, "", "0"} {
			if i == j {
				continue
			}
			if bytes.Equal(keyBytes(x), keyBytes(y)) {
				t.Errorf("keys %#v and %#v collide", x, y)
			}
		}
	}
	// Signed and unsigned are distinguished even at equal magnitudes.
	if bytes.Equal(keyBytes(int(7)), keyBytes(uint(7))) {
		t.Error("int and uint keys collide")
	}
}

func TestKeyBytesGobFallback(t *testing.T) {
	type pair struct{ A, B int }
	if !bytes.Equal(keyBytes(pair{1, 2}), keyBytes(pair{1, 2})) {
		t.Error("equal struct keys differ")
	}
	if bytes.Equal(keyBytes(pair{1, 2}), keyBytes(pair{2, 1})) {
		t.Error("unequal struct keys collide")
	}
}

func TestPartition(t *testing.T) {
	keys := []interface{}{nil, true, 0, 1, 1000, "a", "b", 3.14}
	for _, width := range []int{1, 2, 7, 64} {
		for _, key := range keys {
			p := Partition(key, width)
			if p < 0 || p >= width {
				t.Errorf("key %v: partition %d out of range [0, %d)", key, p, width)
			}
			// Keyed records are partitioned by key alone.
			if got, want := Partition(Keyed{Key: key, Value: "x"}, width), p; got != want {
				t.Errorf("key %v: got %v, want %v", key, got, want)
			}
		}
	}
	if got, want := Partition("anything", 1), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
