package lanes

// Order maps activation memory slots to logical columns: slot m holds
// logical column Order[m].
type Order []int

// Identity is the natural order.
func Identity(n int) Order {
	o := make(Order, n)
	for i := range o {
		o[i] = i
	}
	return o
}

// ReorderedOrder is the order in which the weight decoder for weightBits
// produces lanes. Activations permuted into this order meet weights stored
// in their natural order.
func ReorderedOrder(n, weightBits int) Order {
	o := Identity(n)
	g := GroupSize(weightBits)
	for base := 0; base+g <= n; base += g {
		for m := range g {
			o[base+m] = base + LaneSource(weightBits, m)
		}
	}
	return o
}

// U2StreamOrder is the order UnpackU2Reordered emits n fields in.
func U2StreamOrder(n int) Order {
	o := Identity(n)
	for base := 0; base+U2Block <= n; base += U2Block {
		for k := range U2Block / 2 {
			o[base+2*k] = base + k
			o[base+2*k+1] = base + k + U2Block/2
		}
	}
	return o
}

// Permute writes logical activations src into memory order.
func Permute(dst, src []int16, o Order) {
	for m, c := range o {
		dst[m] = src[c]
	}
}

// RowBytes is the stored size of one weight row.
func RowBytes(weightBits, cols int) int {
	if weightBits == 4 {
		return (cols + 1) / 2
	}
	return cols
}

// AlignRow lays out one logical weight row so that the decoder lane feeding
// memory slot m carries the weight of logical column o[m]. Whole decode
// groups follow the decoder lane order, the tail is stored slot by slot.
// 4-bit rows are nibble packed, low nibble first.
func AlignRow(dst []byte, src []uint8, weightBits int, o Order) {
	cols := len(o)
	g := GroupSize(weightBits)
	full := cols - cols%g
	if weightBits == 4 {
		clear(dst[:RowBytes(4, cols)])
	}
	for m, c := range o {
		idx := m
		if m < full {
			idx = m - m%g + LaneSource(weightBits, m%g)
		}
		v := src[c]
		if weightBits == 4 {
			dst[idx/2] |= (v & 0x0F) << (4 * (idx % 2))
		} else {
			dst[idx] = v
		}
	}
}
