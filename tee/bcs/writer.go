// Package bcs implements the subset of Binary Canonical Serialization
// used to frame signed messages: fixed-width little-endian integers,
// ULEB128 length-prefixed byte arrays and strings, and structs encoded
// field-in-declaration-order with no padding.
package bcs

import "bytes"

// Writer accumulates a canonical BCS encoding.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteByte appends a single byte (u8).
func (w *Writer) WriteByte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBool appends a single byte, 0 or 1.
func (w *Writer) WriteBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// WriteU16 appends a little-endian u16.
func (w *Writer) WriteU16(v uint16) {
	w.buf.Write([]byte{byte(v), byte(v >> 8)})
}

// WriteU32 appends a little-endian u32.
func (w *Writer) WriteU32(v uint32) {
	w.buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// WriteU64 appends a little-endian u64.
func (w *Writer) WriteU64(v uint64) {
	w.buf.Write([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	})
}

// WriteI64 appends a little-endian two's-complement i64.
func (w *Writer) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

// WriteULEB128 appends an unsigned LEB128-encoded length, as BCS uses
// for the length prefix of variable-length sequences.
func (w *Writer) WriteULEB128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.buf.WriteByte(b | 0x80)
			continue
		}
		w.buf.WriteByte(b)
		return
	}
}

// WriteBytes appends a ULEB128 length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteULEB128(uint64(len(b)))
	w.buf.Write(b)
}

// WriteString appends a ULEB128 length prefix followed by the UTF-8
// bytes of s.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// Marshaler is implemented by any payload type that can serialize
// itself into a Writer in canonical, declaration order.
type Marshaler interface {
	MarshalBCS(w *Writer) error
}

// Encode serializes m and returns the resulting bytes.
func Encode(m Marshaler) ([]byte, error) {
	w := NewWriter()
	if err := m.MarshalBCS(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
