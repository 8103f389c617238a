// Package mulaw implements the G.711 μ-law companding codec used by
// telephony media streams.
//
// Decoding goes through a 256-entry table computed once at package
// initialization. Encoding is not supported yet; Encode always fails with
// ErrNotImplemented so callers notice instead of sending garbage audio.
package mulaw

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by Encode.
var ErrNotImplemented = fmt.Errorf("mulaw: encode not implemented: %w", errors.ErrUnsupported)

// bias added to the mantissa before the exponent shift (G.711 §3.2).
const bias = 0x84

var table = buildTable()

func buildTable() *[256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = expand(byte(i))
	}
	return &t
}

// expand converts a single μ-law code word into a linear sample.
func expand(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F

	v := (int32(mant)<<3 + bias) << exp
	v -= bias
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}

// Table returns the decode table. The same table is returned on every call
// and must not be modified.
func Table() *[256]int16 {
	return table
}

// DecodeSample decodes one μ-law byte.
func DecodeSample(u byte) int16 {
	return table[u]
}

// Decode expands μ-law bytes into 16-bit linear samples, one sample per
// input byte.
func Decode(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, u := range b {
		out[i] = table[u]
	}
	return out
}

// Encode compresses linear samples into μ-law. It is not implemented and
// always returns ErrNotImplemented.
func Encode(samples []int16) ([]byte, error) {
	return nil, ErrNotImplemented
}
