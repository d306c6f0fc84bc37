// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bagio

import (
	"context"
	"encoding/gob"
	"io"

	"github.com/grailbio/base/errors"
)

func init() {
	// Common record shapes produced by decoders of semi-structured
	// data. User-defined record types must be registered by the user.
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
}

// An Encoder manages transmission of batches of records through an
// underlying io.Writer. Batches are encoded with Go's gob; record
// types beyond gob's predefined and the shapes registered by this
// package must be registered with gob.Register.
type Encoder struct {
	enc *gob.Encoder
}

// NewEncoder returns a new Encoder that streams batches into the
// provided writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w)}
}

// Encode encodes a batch of records into the encoder's stream.
func (e *Encoder) Encode(records []interface{}) error {
	if err := e.enc.Encode(len(records)); err != nil {
		return err
	}
	for i := range records {
		if err := e.enc.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// DecodingReader provides a Reader on top of a gob stream encoded
// with an Encoder.
type decodingReader struct {
	dec *gob.Decoder
	buf []interface{}
	err error
}

// NewDecodingReader returns a new Reader that decodes batches of
// records from the provided reader. Since gob streams are stateful,
// decoding must begin at the beginning of a stream written by a
// single Encoder.
func NewDecodingReader(r io.Reader) Reader {
	return &decodingReader{dec: gob.NewDecoder(r)}
}

func (d *decodingReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	for len(d.buf) == 0 {
		var n int
		switch err := d.dec.Decode(&n); err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			d.err = EOF
			return 0, d.err
		default:
			d.err = errors.E(errors.Fatal, err)
			return 0, d.err
		}
		d.buf = make([]interface{}, n)
		for i := range d.buf {
			if err := d.dec.Decode(&d.buf[i]); err != nil {
				d.err = errors.E(errors.Fatal, err)
				return 0, d.err
			}
		}
	}
	n := copy(out, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}
