// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigbag

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"

	"github.com/spaolacci/murmur3"
)

// Key encodings are tagged by kind so that, e.g., the string "1" and
// the integer 1 never collide. Keys of distinct Go integer widths
// hash alike; all other types are distinguished.
const (
	keyTagNil = iota
	keyTagBool
	keyTagInt
	keyTagUint
	keyTagFloat
	keyTagString
	keyTagGob
)

// Hash32 returns a deterministic 32-bit murmur3 hash of the provided
// key. Strings, booleans, integers, and floats are hashed from a
// fixed-width encoding; all other types fall back to their gob
// encoding, which is deterministic for a given type within a process.
// Equal keys always receive equal hashes within one execution, which
// is the property shuffling relies on.
func Hash32(key interface{}) uint32 {
	return murmur3.Sum32WithSeed(keyBytes(key), 0)
}

// Partition returns the partition index, in [0, width), to which a
// record is assigned during a shuffle. Keyed records are partitioned
// by their key; all other records are partitioned by their own value.
// Assignment is hash modulo width, so all records sharing an equal
// key are assigned the same partition.
func Partition(record interface{}, width int) int {
	if k, ok := record.(Keyed); ok {
		record = k.Key
	}
	return int(Hash32(record) % uint32(width))
}

func keyBytes(key interface{}) []byte {
	var b [9]byte
	switch k := key.(type) {
	case nil:
		return []byte{keyTagNil}
	case bool:
		b[0] = keyTagBool
		if k {
			b[1] = 1
		}
		return b[:2]
	case int:
		return intKey(b[:], uint64(k))
	case int8:
		return intKey(b[:], uint64(k))
	case int16:
		return intKey(b[:], uint64(k))
	case int32:
		return intKey(b[:], uint64(k))
	case int64:
		return intKey(b[:], uint64(k))
	case uint:
		return uintKey(b[:], uint64(k))
	case uint8:
		return uintKey(b[:], uint64(k))
	case uint16:
		return uintKey(b[:], uint64(k))
	case uint32:
		return uintKey(b[:], uint64(k))
	case uint64:
		return uintKey(b[:], k)
	case float32:
		b[0] = keyTagFloat
		binary.LittleEndian.PutUint64(b[1:], math.Float64bits(float64(k)))
		return b[:]
	case float64:
		b[0] = keyTagFloat
		binary.LittleEndian.PutUint64(b[1:], math.Float64bits(k))
		return b[:]
	case string:
		p := make([]byte, 1+len(k))
		p[0] = keyTagString
		copy(p[1:], k)
		return p
	default:
		var buf bytes.Buffer
		buf.WriteByte(keyTagGob)
		if err := gob.NewEncoder(&buf).Encode(&key); err != nil {
			panic(err)
		}
		return buf.Bytes()
	}
}

func intKey(b []byte, k uint64) []byte {
	b[0] = keyTagInt
	binary.LittleEndian.PutUint64(b[1:], k)
	return b[:9]
}

func uintKey(b []byte, k uint64) []byte {
	b[0] = keyTagUint
	binary.LittleEndian.PutUint64(b[1:], k)
	return b[:9]
}
