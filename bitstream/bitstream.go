// Package bitstream reads and writes values packed at bit granularity.
//
// Bits fill each byte from the most significant bit down. Multi-bit fields
// can be stored either most significant bit first (prefix codes) or least
// significant bit first (operand fields of the ESET-VM2 encoding). Whole
// little-endian integers are stored byte by byte.
package bitstream

import "io"

// Writer accumulates bits into a byte slice.
type Writer struct {
	buf []byte
	n   uint64
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit appends the lowest bit of b.
func (w *Writer) WriteBit(b uint) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b&1 != 0 {
		w.buf[w.n/8] |= 0x80 >> (w.n % 8)
	}
	w.n++
}

// WriteBits appends the low n bits of v, most significant bit first.
func (w *Writer) WriteBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint(v>>uint(i)) & 1)
	}
}

// WriteBitsLSB appends the low n bits of v, least significant bit first.
func (w *Writer) WriteBitsLSB(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.WriteBit(uint(v>>uint(i)) & 1)
	}
}

// WriteUint appends v as an n-byte little-endian integer.
func (w *Writer) WriteUint(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.WriteByte(byte(v >> (8 * uint(i))))
	}
}

// WriteByte appends one byte. It never fails.
func (w *Writer) WriteByte(b byte) error {
	if w.n%8 == 0 {
		w.buf = append(w.buf, b)
		w.n += 8
		return nil
	}
	w.WriteBits(uint64(b), 8)
	return nil
}

// Write appends p byte by byte. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, p...)
		w.n += uint64(len(p)) * 8
		return len(p), nil
	}
	for _, b := range p {
		w.WriteBits(uint64(b), 8)
	}
	return len(p), nil
}

// Len returns the number of bits written so far.
func (w *Writer) Len() uint64 {
	return w.n
}

// Bytes returns the written bits, with the final byte zero-padded.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader extracts bits from a byte slice.
type Reader struct {
	buf []byte
	pos uint64
}

// NewReader returns a Reader positioned at the first bit of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the total number of bits in the underlying buffer.
func (r *Reader) Len() uint64 {
	return uint64(len(r.buf)) * 8
}

// Pos returns the index of the next bit to be read.
func (r *Reader) Pos() uint64 {
	return r.pos
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() uint64 {
	return r.Len() - r.pos
}

// Seek moves the read position to bit pos.
func (r *Reader) Seek(pos uint64) {
	r.pos = min(pos, r.Len())
}

func (r *Reader) bit() uint {
	b := r.buf[r.pos/8] >> (7 - r.pos%8) & 1
	r.pos++
	return uint(b)
}

// ReadBit returns the next bit.
func (r *Reader) ReadBit() (uint, error) {
	if r.Remaining() == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return r.bit(), nil
}

// ReadBits reads an n-bit field stored most significant bit first.
// Nothing is consumed when fewer than n bits remain.
func (r *Reader) ReadBits(n int) (uint64, error) {
	if r.Remaining() < uint64(n) {
		return 0, io.ErrUnexpectedEOF
	}
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(r.bit())
	}
	return v, nil
}

// ReadBitsLSB reads an n-bit field stored least significant bit first.
// Nothing is consumed when fewer than n bits remain.
func (r *Reader) ReadBitsLSB(n int) (uint64, error) {
	if r.Remaining() < uint64(n) {
		return 0, io.ErrUnexpectedEOF
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(r.bit()) << uint(i)
	}
	return v, nil
}

// ReadUint reads an n-byte little-endian integer.
func (r *Reader) ReadUint(n int) (uint64, error) {
	if r.Remaining() < uint64(n)*8 {
		return 0, io.ErrUnexpectedEOF
	}
	var v uint64
	for i := 0; i < n; i++ {
		b, _ := r.ReadBits(8)
		v |= b << (8 * uint(i))
	}
	return v, nil
}

// ZeroTail reports whether every unread bit is zero.
func (r *Reader) ZeroTail() bool {
	for p := r.pos; p < r.Len(); p++ {
		if r.buf[p/8]>>(7-p%8)&1 != 0 {
			return false
		}
	}
	return true
}
