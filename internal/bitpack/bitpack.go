// Package bitpack stores 2-bit and 4-bit quantized levels several to a byte.
//
// Values fill a byte from bit 0 upwards: for 4-bit values the first goes in
// the low nibble, for 2-bit values value i of a byte sits in bits 2i..2i+1.
// This layout is read by downstream consumers and must not change.
//
// Sizing and decoding go through go-highway's bitpack, which uses the same
// layout. Encoding stays here: highway's packer ORs into dst, while Writer
// stores whole bytes and never reads the destination.
package bitpack

import (
	hwybitpack "github.com/ajroetker/go-highway/hwy/contrib/bitpack"
)

// PackedSize returns the number of bytes needed to store n values of the
// given bit width.
func PackedSize(n int, bits uint) int {
	if n <= 0 {
		return 0
	}
	return hwybitpack.PackedSize(n, int(bits))
}

// Writer packs values into a byte slice. It holds the byte being filled
// until all of its slots are populated and never reads dst, so the output
// does not depend on what the buffer held before.
type Writer struct {
	dst  []byte
	pos  int
	bits uint
	mask uint8
	acc  uint8
	fill uint
}

// NewWriter returns a Writer that packs bits-wide values into dst.
// bits must divide 8.
func NewWriter(dst []byte, bits uint) *Writer {
	return &Writer{
		dst:  dst,
		bits: bits,
		mask: uint8(1<<bits - 1),
	}
}

// Put appends one value. Bits above the value width are dropped.
func (w *Writer) Put(v uint8) {
	w.acc |= (v & w.mask) << w.fill
	w.fill += w.bits
	if w.fill == 8 {
		w.dst[w.pos] = w.acc
		w.pos++
		w.acc = 0
		w.fill = 0
	}
}

// Flush stores a partially filled byte, with unused slots zero.
func (w *Writer) Flush() {
	if w.fill == 0 {
		return
	}
	w.dst[w.pos] = w.acc
	w.pos++
	w.acc = 0
	w.fill = 0
}

// Written returns the number of bytes stored so far.
func (w *Writer) Written() int {
	return w.pos
}

// Pack packs src into dst and returns the number of bytes written.
func Pack(dst []byte, src []uint8, bits uint) int {
	w := NewWriter(dst, bits)
	for _, v := range src {
		w.Put(v)
	}
	w.Flush()
	return w.Written()
}

// Unpack reads len(dst) values from src and returns how many were decoded.
// It stops early if src is too short.
func Unpack(dst []uint8, src []byte, bits uint) int {
	if len(dst) == 0 {
		return 0
	}
	wide := make([]uint32, len(dst))
	n := hwybitpack.Unpack32(src[:min(len(src), PackedSize(len(dst), bits))], int(bits), wide)
	for i, v := range wide[:n] {
		dst[i] = uint8(v)
	}
	return n
}

// At returns value i of a packed buffer.
func At(src []byte, bits uint, i int) uint8 {
	perByte := int(8 / bits)
	var vals [8]uint32
	hwybitpack.Unpack32(src[i/perByte:i/perByte+1], int(bits), vals[:perByte])
	return uint8(vals[i%perByte])
}
