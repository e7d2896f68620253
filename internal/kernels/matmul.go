package kernels

import (
	"fmt"

	"github.com/samcharles93/mixq/internal/bitpack"
	"github.com/samcharles93/mixq/internal/lanes"
	"github.com/samcharles93/mixq/internal/requant"
)

// Layout pairs a weight width with an output width.
type Layout uint8

const (
	// W8O4 reads 8-bit weights and writes 4-bit outputs.
	W8O4 Layout = iota + 1
	// W4O2 reads nibble-packed 4-bit weights and writes 2-bit outputs.
	W4O2
)

func (l Layout) String() string {
	switch l {
	case W8O4:
		return "w8o4"
	case W4O2:
		return "w4o2"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// ParseLayout parses the String form of a layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "w8o4":
		return W8O4, nil
	case "w4o2":
		return W4O2, nil
	}
	return 0, fmt.Errorf("%w: %q (expected w8o4 or w4o2)", ErrLayout, s)
}

// WeightBits is the stored weight width.
func (l Layout) WeightBits() int {
	if l == W4O2 {
		return 4
	}
	return 8
}

// OutBits is the packed output width.
func (l Layout) OutBits() uint {
	if l == W4O2 {
		return 2
	}
	return 4
}

// RowBytes is the stored size of one weight row of cols columns.
func (l Layout) RowBytes(cols int) int {
	return lanes.RowBytes(l.WeightBits(), cols)
}

// OutStride is the packed size of one output column of rows values.
func (l Layout) OutStride(rows int) int {
	return bitpack.PackedSize(rows, l.OutBits())
}

// MatMul describes one matrix multiply call. Weights holds Rows rows of
// Layout.RowBytes(Cols) bytes, aligned with lanes.AlignRow to the order of
// Input. Input holds two activation columns back to back. ZeroW is the weight
// zero point.
type MatMul struct {
	Weights []byte
	Input   []int16
	Rows    int
	Cols    int
	Bias    []int32
	ZeroW   uint8
	Layout  Layout
}

// Validate checks the shape contract. Kernels do not check it per call.
func (m MatMul) Validate() error {
	if m.Layout != W8O4 && m.Layout != W4O2 {
		return fmt.Errorf("%w: %v", ErrLayout, m.Layout)
	}
	if m.Rows <= 0 || m.Rows%2 != 0 {
		return fmt.Errorf("%w: rows must be positive and even, got %d", ErrShape, m.Rows)
	}
	if m.Cols <= 0 {
		return fmt.Errorf("%w: cols must be positive, got %d", ErrShape, m.Cols)
	}
	if need := m.Rows * m.Layout.RowBytes(m.Cols); len(m.Weights) < need {
		return fmt.Errorf("%w: weights have %d bytes, need %d", ErrShape, len(m.Weights), need)
	}
	if len(m.Input) < 2*m.Cols {
		return fmt.Errorf("%w: input has %d values, need %d", ErrShape, len(m.Input), 2*m.Cols)
	}
	if len(m.Bias) < m.Rows {
		return fmt.Errorf("%w: bias has %d values, need %d", ErrShape, len(m.Bias), m.Rows)
	}
	return nil
}

// OutBytes is the number of bytes one call writes.
func (m MatMul) OutBytes() int {
	return 2 * m.Layout.OutStride(m.Rows)
}

// columns splits the output into the two disjoint column views.
func (m MatMul) columns(out []byte) (first, second *bitpack.Writer) {
	stride := m.Layout.OutStride(m.Rows)
	return bitpack.NewWriter(out[:stride], m.Layout.OutBits()),
		bitpack.NewWriter(out[stride:2*stride], m.Layout.OutBits())
}

// quad holds the accumulators of one row pair: rows r and r+1 against
// columns 0 and 1.
type quad struct {
	r0c0, r0c1, r1c0, r1c1 int32
}

// zeroOffsets returns ZeroW times the sum of each activation column.
func (m MatMul) zeroOffsets() (int32, int32) {
	b1 := m.Input[:m.Cols]
	b2 := m.Input[m.Cols : 2*m.Cols]
	z := lanes.Splat(int16(m.ZeroW))
	var off1, off2 int32
	i := 0
	for ; i+2 <= m.Cols; i += 2 {
		off1 = lanes.SMLAD(z, lanes.Pair(b1[i], b1[i+1]), off1)
		off2 = lanes.SMLAD(z, lanes.Pair(b2[i], b2[i+1]), off2)
	}
	if i < m.Cols {
		off1 += int32(b1[i]) * int32(m.ZeroW)
		off2 += int32(b2[i]) * int32(m.ZeroW)
	}
	return off1, off2
}

// Packed is the paired-lane engine.
type Packed struct{}

func (Packed) Name() string { return "packed" }

func (Packed) MatMulFold(out []byte, m MatMul, f requant.Fold) int {
	p := f.Prepare(m.Layout.OutBits())
	w1, w2 := m.columns(out)
	packedRowPairs(m, func(_ int, q quad) {
		w1.Put(p.Apply(q.r0c0))
		w1.Put(p.Apply(q.r1c0))
		w2.Put(p.Apply(q.r0c1))
		w2.Put(p.Apply(q.r1c1))
	})
	w1.Flush()
	w2.Flush()
	return m.OutBytes()
}

func (Packed) MatMulThreshold(out []byte, m MatMul, t requant.Table) int {
	w1, w2 := m.columns(out)
	packedRowPairs(m, func(r int, q quad) {
		w1.Put(t.Level(r, q.r0c0))
		w1.Put(t.Level(r+1, q.r1c0))
		w2.Put(t.Level(r, q.r0c1))
		w2.Put(t.Level(r+1, q.r1c1))
	})
	w1.Flush()
	w2.Flush()
	return m.OutBytes()
}

// packedRowPairs accumulates every row pair and hands the result to emit
// in row order.
func packedRowPairs(m MatMul, emit func(r int, q quad)) {
	off1, off2 := m.zeroOffsets()
	rowBytes := m.Layout.RowBytes(m.Cols)
	b1 := m.Input[:m.Cols]
	b2 := m.Input[m.Cols : 2*m.Cols]

	for r := 0; r < m.Rows; r += 2 {
		a1 := m.Weights[r*rowBytes : (r+1)*rowBytes]
		a2 := m.Weights[(r+1)*rowBytes : (r+2)*rowBytes]
		q := quad{
			r0c0: m.Bias[r] - off1,
			r0c1: m.Bias[r] - off2,
			r1c0: m.Bias[r+1] - off1,
			r1c1: m.Bias[r+1] - off2,
		}
		if m.Layout == W4O2 {
			accumulateU4(&q, a1, a2, b1, b2, m.Cols)
		} else {
			accumulateU8(&q, a1, a2, b1, b2, m.Cols)
		}
		emit(r, q)
	}
}

func accumulateU8(q *quad, a1, a2 []byte, b1, b2 []int16, cols int) {
	c := 0
	for ; c+4 <= cols; c += 4 {
		in1 := lanes.Pair(b1[c], b1[c+1])
		in2 := lanes.Pair(b2[c], b2[c+1])
		a11, a12 := lanes.ReadPadU8(a1[c:])
		a21, a22 := lanes.ReadPadU8(a2[c:])

		q.r0c0 = lanes.SMLAD(a11, in1, q.r0c0)
		q.r0c1 = lanes.SMLAD(a11, in2, q.r0c1)
		q.r1c0 = lanes.SMLAD(a21, in1, q.r1c0)
		q.r1c1 = lanes.SMLAD(a21, in2, q.r1c1)

		in1 = lanes.Pair(b1[c+2], b1[c+3])
		in2 = lanes.Pair(b2[c+2], b2[c+3])

		q.r0c0 = lanes.SMLAD(a12, in1, q.r0c0)
		q.r0c1 = lanes.SMLAD(a12, in2, q.r0c1)
		q.r1c0 = lanes.SMLAD(a22, in1, q.r1c0)
		q.r1c1 = lanes.SMLAD(a22, in2, q.r1c1)
	}
	for ; c < cols; c++ {
		x1, x2 := int32(a1[c]), int32(a2[c])
		y1, y2 := int32(b1[c]), int32(b2[c])
		q.r0c0 += x1 * y1
		q.r0c1 += x1 * y2
		q.r1c0 += x2 * y1
		q.r1c1 += x2 * y2
	}
}

func accumulateU4(q *quad, a1, a2 []byte, b1, b2 []int16, cols int) {
	c := 0
	for ; c+8 <= cols; c += 8 {
		w1 := lanes.ReadPadU4(a1[c/2:])
		w2 := lanes.ReadPadU4(a2[c/2:])
		for k := range 4 {
			in1 := lanes.Pair(b1[c+2*k], b1[c+2*k+1])
			in2 := lanes.Pair(b2[c+2*k], b2[c+2*k+1])
			q.r0c0 = lanes.SMLAD(w1[k], in1, q.r0c0)
			q.r0c1 = lanes.SMLAD(w1[k], in2, q.r0c1)
			q.r1c0 = lanes.SMLAD(w2[k], in1, q.r1c0)
			q.r1c1 = lanes.SMLAD(w2[k], in2, q.r1c1)
		}
	}
	for ; c < cols; c++ {
		sh := 4 * (c % 2)
		x1 := int32((a1[c/2] >> sh) & 0x0F)
		x2 := int32((a2[c/2] >> sh) & 0x0F)
		y1, y2 := int32(b1[c]), int32(b2[c])
		q.r0c0 += x1 * y1
		q.r0c1 += x1 * y2
		q.r1c0 += x2 * y1
		q.r1c1 += x2 * y2
	}
}
