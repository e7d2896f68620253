package lanes

// U2Block is the number of 2-bit fields held in one 32-bit word.
const U2Block = 16

// Field extracts the i-th width-bit field of w, counting from bit 0.
func Field(w uint32, width, i uint) uint32 {
	return (w >> (width * i)) & (1<<width - 1)
}

// UnpackU2Reordered decodes n 2-bit fields from src into dst, subtracting
// offset from each value.
//
// Whole words of 16 fields are emitted as the lane pairs
// (f0,f8),(f1,f9),...,(f7,f15), which is the order SMLAD consumes them in.
// Fields past the last whole word are emitted in natural order.
// dst must hold n values and src ceil(n/4) bytes.
func UnpackU2Reordered(dst []int16, src []byte, n int, offset uint8) {
	off := int16(offset)
	blocks := n / U2Block
	for blk := 0; blk < blocks; blk++ {
		w := Word(src[blk*4:])
		out := dst[blk*U2Block : (blk+1)*U2Block]
		for k := uint(0); k < U2Block/2; k++ {
			out[2*k] = int16(Field(w, 2, k)) - off
			out[2*k+1] = int16(Field(w, 2, k+U2Block/2)) - off
		}
	}

	for i := blocks * U2Block; i < n; i++ {
		b := src[i/4]
		dst[i] = int16((b>>(2*(i%4)))&0x3) - off
	}
}

// ReadPadU8 decodes four 8-bit weights into the lane pairs (x0,x2) and
// (x1,x3).
func ReadPadU8(src []byte) (lo, hi uint32) {
	w := Word(src)
	return UXTB16(w), UXTB16(ROR(w, 8))
}

// ReadPadU4 decodes four bytes holding eight 4-bit weights n0..n7 (low
// nibble first) into the lane pairs (n0,n4),(n1,n5),(n2,n6),(n3,n7).
func ReadPadU4(src []byte) [4]uint32 {
	w := Word(src)
	const mask = 0x0F0F0F0F
	return [4]uint32{
		UXTB16(w & mask),
		UXTB16((w >> 4) & mask),
		UXTB16(ROR(w, 8) & mask),
		UXTB16(ROR(w, 12) & mask),
	}
}

// Lane order of the weight decoders: lane m of a group reads packed
// element laneU8[m] (or laneU4[m]) of that group.
var (
	laneU8 = [4]int{0, 2, 1, 3}
	laneU4 = [8]int{0, 4, 1, 5, 2, 6, 3, 7}
)

// GroupSize is the number of columns one weight decode step consumes.
func GroupSize(weightBits int) int {
	if weightBits == 4 {
		return len(laneU4)
	}
	return len(laneU8)
}

// LaneSource returns which packed element of a decode group feeds lane m.
func LaneSource(weightBits, m int) int {
	if weightBits == 4 {
		return laneU4[m]
	}
	return laneU8[m]
}

// Weight returns the value feeding memory slot m of a weight row laid out by
// AlignRow, without any lane arithmetic.
func Weight(row []byte, weightBits, cols, m int) int32 {
	g := GroupSize(weightBits)
	full := cols - cols%g
	idx := m
	if m < full {
		idx = m - m%g + LaneSource(weightBits, m%g)
	}
	if weightBits == 4 {
		return int32((row[idx/2] >> (4 * (idx % 2))) & 0x0F)
	}
	return int32(row[idx])
}
