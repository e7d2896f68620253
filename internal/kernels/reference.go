package kernels

import (
	"github.com/samcharles93/mixq/internal/bitpack"
	"github.com/samcharles93/mixq/internal/lanes"
	"github.com/samcharles93/mixq/internal/requant"
)

// Reference is the element-at-a-time engine. It reads weights through
// lanes.Weight instead of the lane decoders and serves hosts with no
// packed-lane target.
type Reference struct{}

func (Reference) Name() string { return "reference" }

func (Reference) MatMulFold(out []byte, m MatMul, f requant.Fold) int {
	p := f.Prepare(m.Layout.OutBits())
	w1, w2 := m.columns(out)
	for r := 0; r < m.Rows; r += 2 {
		w1.Put(p.Apply(referenceDot(m, r, 0)))
		w1.Put(p.Apply(referenceDot(m, r+1, 0)))
		w2.Put(p.Apply(referenceDot(m, r, 1)))
		w2.Put(p.Apply(referenceDot(m, r+1, 1)))
	}
	w1.Flush()
	w2.Flush()
	return m.OutBytes()
}

func (Reference) MatMulThreshold(out []byte, m MatMul, t requant.Table) int {
	w1, w2 := m.columns(out)
	for r := 0; r < m.Rows; r += 2 {
		w1.Put(t.Level(r, referenceDot(m, r, 0)))
		w1.Put(t.Level(r+1, referenceDot(m, r+1, 0)))
		w2.Put(t.Level(r, referenceDot(m, r, 1)))
		w2.Put(t.Level(r+1, referenceDot(m, r+1, 1)))
	}
	w1.Flush()
	w2.Flush()
	return m.OutBytes()
}

// referenceDot is bias[row] + sum((a - ZeroW) * b) over column col of the
// input.
func referenceDot(m MatMul, row, col int) int32 {
	bits := m.Layout.WeightBits()
	rowBytes := m.Layout.RowBytes(m.Cols)
	a := m.Weights[row*rowBytes : (row+1)*rowBytes]
	b := m.Input[col*m.Cols : (col+1)*m.Cols]
	sum := m.Bias[row]
	for i, v := range b {
		sum += (lanes.Weight(a, bits, m.Cols, i) - int32(m.ZeroW)) * int32(v)
	}
	return sum
}

func (Reference) DepthwiseConv(out []byte, d Depthwise, col []byte) error {
	return depthwiseRows(out, d, col, 0, d.OutDim, referencePixel)
}

func (Reference) DepthwiseRows(out []byte, d Depthwise, col []byte, y0, y1 int) error {
	return depthwiseRows(out, d, col, y0, y1, referencePixel)
}

func referencePixel(w *bitpack.Writer, d Depthwise, col []byte) {
	for c := range d.OutCh {
		w.Put(d.Thresholds.Level(c, channelSum(d, col, c)))
	}
}
