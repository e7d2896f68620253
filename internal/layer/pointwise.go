package layer

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/lanes"
	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/requant"
)

// Pointwise is a 1x1 convolution over 2-bit HWC activations, run as a
// matrix multiply over pixel pairs. Exactly one of Fold and Thresholds is
// set. Weights hold OutCh rows aligned with AlignPointwise.
type Pointwise struct {
	LayerName  string
	Dim        int
	InCh       int
	OutCh      int
	Layout     kernels.Layout
	Weights    []byte
	Bias       []int32
	ZeroIn     uint8
	ZeroW      uint8
	Fold       *requant.Fold
	Thresholds *requant.Table
	Workers    int
}

// InBits is the activation width a pointwise layer reads.
const InBits = 2

// AlignPointwise lays out logical weight rows (OutCh rows of InCh values)
// for the activation order the 2-bit decoder produces.
func AlignPointwise(rows [][]uint8, layout kernels.Layout) []byte {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	order := lanes.U2StreamOrder(cols)
	rowBytes := layout.RowBytes(cols)
	out := make([]byte, len(rows)*rowBytes)
	for r, row := range rows {
		lanes.AlignRow(out[r*rowBytes:(r+1)*rowBytes], row, layout.WeightBits(), order)
	}
	return out
}

func (l *Pointwise) Name() string { return l.LayerName }
func (l *Pointwise) Kind() Kind   { return KindPointwise }

func (l *Pointwise) In() Shape {
	return Shape{Dim: l.Dim, Channels: l.InCh, Bits: InBits}
}

func (l *Pointwise) Out() Shape {
	return Shape{Dim: l.Dim, Channels: l.OutCh, Bits: l.Layout.OutBits()}
}

// matmul returns the kernel call for a pair of decoded pixels.
func (l *Pointwise) matmul(input []int16) kernels.MatMul {
	return kernels.MatMul{
		Weights: l.Weights,
		Input:   input,
		Rows:    l.OutCh,
		Cols:    l.InCh,
		Bias:    l.Bias,
		ZeroW:   l.ZeroW,
		Layout:  l.Layout,
	}
}

func (l *Pointwise) Validate() error {
	if l.Dim <= 0 {
		return fmt.Errorf("%w: layer %s: dim must be positive", ErrInvalidShape, l.LayerName)
	}
	if err := l.matmul(make([]int16, 2*max(l.InCh, 0))).Validate(); err != nil {
		return fmt.Errorf("layer %s: %w", l.LayerName, err)
	}
	if want := l.OutCh * l.Layout.RowBytes(l.InCh); len(l.Weights) != want {
		return fmt.Errorf("%w: layer %s: %d weight bytes, want %d", ErrInvalidShape, l.LayerName, len(l.Weights), want)
	}
	if len(l.Bias) != l.OutCh {
		return fmt.Errorf("%w: layer %s: %d bias values, want %d", ErrInvalidShape, l.LayerName, len(l.Bias), l.OutCh)
	}
	switch {
	case (l.Fold == nil) == (l.Thresholds == nil):
		return fmt.Errorf("%w: layer %s: exactly one of fold and thresholds must be set", ErrInvalidShape, l.LayerName)
	case l.Thresholds != nil:
		if l.Thresholds.Bits != l.Layout.OutBits() {
			return fmt.Errorf("%w: layer %s: thresholds are %d-bit, layout %v writes %d-bit", ErrInvalidShape, l.LayerName, l.Thresholds.Bits, l.Layout, l.Layout.OutBits())
		}
		if err := l.Thresholds.Validate(l.OutCh); err != nil {
			return fmt.Errorf("layer %s: %w", l.LayerName, err)
		}
	}
	return nil
}

// Run processes pixel pairs: both pixels are decoded into the two matmul
// input columns and the two output columns land on consecutive output
// pixels. An odd last pixel is paired with itself and the duplicate output
// is dropped.
func (l *Pointwise) Run(ctx context.Context, eng kernels.Engine, input []byte) ([]byte, error) {
	if err := checkInput(l, input); err != nil {
		return nil, err
	}
	start := time.Now()
	pixels := l.Dim * l.Dim
	inStride := l.In().PixelBytes()
	outStride := l.Out().PixelBytes()
	out := make([]byte, pixels*outStride)
	pairs := (pixels + 1) / 2

	err := partition(ctx, pairs, l.Workers, func(lo, hi int) error {
		cols := make([]int16, 2*l.InCh)
		tail := make([]byte, 2*outStride)
		for pair := lo; pair < hi; pair++ {
			p0 := 2 * pair
			p1 := min(p0+1, pixels-1)
			lanes.UnpackU2Reordered(cols[:l.InCh], input[p0*inStride:], l.InCh, l.ZeroIn)
			lanes.UnpackU2Reordered(cols[l.InCh:], input[p1*inStride:], l.InCh, l.ZeroIn)

			dst := out[p0*outStride:]
			if p1 == p0 {
				dst = tail
			}
			m := l.matmul(cols)
			if l.Fold != nil {
				eng.MatMulFold(dst, m, *l.Fold)
			} else {
				eng.MatMulThreshold(dst, m, *l.Thresholds)
			}
			if p1 == p0 {
				copy(out[p0*outStride:], tail[:outStride])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("layer run",
		"layer", l.LayerName,
		"kind", KindPointwise,
		"layout", l.Layout.String(),
		"engine", eng.Name(),
		"pixels", pixels,
		"workers", l.Workers,
		"elapsed", time.Since(start),
	)
	return out, nil
}
