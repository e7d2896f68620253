// Package lanes holds the packed-lane primitives shared by the kernels:
// 32-bit paired halfword arithmetic, sub-byte field extraction, the weight
// lane decoders and the activation/weight orderings that tie them together.
package lanes

import (
	"encoding/binary"
	"math/bits"
)

// A 32-bit word carries two 16-bit lanes: lane 0 in bits 0..15, lane 1 in
// bits 16..31. The helpers below follow the DSP SIMD32 instruction set.

// UXTB16 zero-extends bytes 0 and 2 of x into lanes 0 and 1.
func UXTB16(x uint32) uint32 {
	return x & 0x00FF00FF
}

// ROR rotates x right by n bits.
func ROR(x uint32, n int) uint32 {
	return bits.RotateLeft32(x, -n)
}

// SSUB16 subtracts the lanes of b from the lanes of a, wrapping per lane.
func SSUB16(a, b uint32) uint32 {
	lo := uint16(a) - uint16(b)
	hi := uint16(a>>16) - uint16(b>>16)
	return uint32(lo) | uint32(hi)<<16
}

// SMLAD multiplies the signed lanes of a and b pairwise and adds both
// products to acc.
func SMLAD(a, b uint32, acc int32) int32 {
	p0 := int32(int16(a)) * int32(int16(b))
	p1 := int32(int16(a>>16)) * int32(int16(b>>16))
	return acc + p0 + p1
}

// PKHBT keeps the bottom lane of a and takes the top lane from b<<sh.
func PKHBT(a, b uint32, sh int) uint32 {
	return a&0x0000FFFF | (b<<sh)&0xFFFF0000
}

// PKHTB keeps the top lane of a and takes the bottom lane from b>>sh.
func PKHTB(a, b uint32, sh int) uint32 {
	return a&0xFFFF0000 | uint32(int32(b)>>sh)&0x0000FFFF
}

// Pair builds a word from two signed lanes.
func Pair(lo, hi int16) uint32 {
	return uint32(uint16(lo)) | uint32(uint16(hi))<<16
}

// Splat puts v in both lanes.
func Splat(v int16) uint32 {
	return Pair(v, v)
}

// Word reads four bytes as a little-endian word.
func Word(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
