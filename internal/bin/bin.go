// Package bin provides the big-endian primitives shared by the class file
// reader and writer.
package bin

import (
	"encoding/binary"

	"github.com/cloudcmds/classfile/errz"
)

// Buffer is an append-only big-endian byte buffer. Length prefixes are
// written by assembling nested structures in their own Buffers and splicing
// them, so lengths always come from actual buffer sizes.
type Buffer struct {
	b []byte
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Len returns the number of bytes written so far.
func (w *Buffer) Len() int {
	return len(w.b)
}

// Bytes returns the accumulated bytes. The returned slice aliases the
// buffer's storage.
func (w *Buffer) Bytes() []byte {
	return w.b
}

// U8 appends one byte.
func (w *Buffer) U8(v uint8) {
	w.b = append(w.b, v)
}

// U16 appends a big-endian 16-bit value.
func (w *Buffer) U16(v uint16) {
	w.b = append(w.b, byte(v>>8), byte(v))
}

// U32 appends a big-endian 32-bit value.
func (w *Buffer) U32(v uint32) {
	w.b = append(w.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// U64 appends a big-endian 64-bit value.
func (w *Buffer) U64(v uint64) {
	w.b = append(w.b, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Write appends raw bytes.
func (w *Buffer) Write(data []byte) {
	w.b = append(w.b, data...)
}

// WriteString appends the raw bytes of s.
func (w *Buffer) WriteString(s string) {
	w.b = append(w.b, s...)
}

// SetU16 overwrites a previously written big-endian 16-bit value at off.
func (w *Buffer) SetU16(off int, v uint16) {
	binary.BigEndian.PutUint16(w.b[off:], v)
}

// SetU32 overwrites a previously written big-endian 32-bit value at off.
func (w *Buffer) SetU32(off int, v uint32) {
	binary.BigEndian.PutUint32(w.b[off:], v)
}

// Splice appends inner's bytes preceded by a 32-bit length prefix, the
// layout used by attribute structures.
func (w *Buffer) Splice(inner *Buffer) {
	w.U32(uint32(inner.Len()))
	w.Write(inner.Bytes())
}

// Reader reads big-endian values from an immutable byte slice. Reading past
// the end panics with a format error carrying the byte offset; callers are
// expected to recover at the parsing entry point.
type Reader struct {
	b   []byte
	off int
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{b: data}
}

// Offset returns the current byte offset.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.b) - r.off
}

// Seek moves the read position to an absolute offset.
func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.b) {
		panic(errz.Format(int64(off), "seek out of range (size %d)", len(r.b)))
	}
	r.off = off
}

func (r *Reader) need(n int) {
	if r.Remaining() < n {
		panic(errz.Format(int64(r.off), "truncated input: need %d bytes, have %d", n, r.Remaining()))
	}
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	r.need(1)
	v := r.b[r.off]
	r.off++
	return v
}

// U16 reads a big-endian 16-bit value.
func (r *Reader) U16() uint16 {
	r.need(2)
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

// U32 reads a big-endian 32-bit value.
func (r *Reader) U32() uint32 {
	r.need(4)
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

// U64 reads a big-endian 64-bit value.
func (r *Reader) U64() uint64 {
	r.need(8)
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

// S16 reads a big-endian signed 16-bit value.
func (r *Reader) S16() int16 {
	return int16(r.U16())
}

// S32 reads a big-endian signed 32-bit value.
func (r *Reader) S32() int32 {
	return int32(r.U32())
}

// Bytes reads n raw bytes. The returned slice aliases the input.
func (r *Reader) Bytes(n int) []byte {
	if n < 0 {
		panic(errz.Format(int64(r.off), "negative length %d", n))
	}
	r.need(n)
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

// String reads n bytes as a string.
func (r *Reader) String(n int) string {
	return string(r.Bytes(n))
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	if n < 0 {
		panic(errz.Format(int64(r.off), "negative skip %d", n))
	}
	r.need(n)
	r.off += n
}
