package layer

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/logger"
)

// Depthwise is a depthwise convolution over 8-bit activations producing
// 2-bit threshold-quantized outputs. Params.Input is ignored; Run supplies
// the input.
type Depthwise struct {
	LayerName string
	Params    kernels.Depthwise
	Workers   int
}

func (l *Depthwise) Name() string { return l.LayerName }
func (l *Depthwise) Kind() Kind   { return KindDepthwise }

func (l *Depthwise) In() Shape {
	return Shape{Dim: l.Params.InDim, Channels: l.Params.InCh, Bits: 8}
}

func (l *Depthwise) Out() Shape {
	return Shape{Dim: l.Params.OutDim, Channels: l.Params.OutCh, Bits: kernels.DepthwiseOutBits}
}

func (l *Depthwise) Validate() error {
	p := l.Params
	if p.InCh != p.OutCh {
		return fmt.Errorf("layer %s: %w: %d input channels, %d output channels", l.LayerName, kernels.ErrSizeMismatch, p.InCh, p.OutCh)
	}
	if p.InDim <= 0 || p.InCh <= 0 || p.Kernel <= 0 || p.Stride <= 0 {
		return fmt.Errorf("%w: layer %s: dim, channels, kernel and stride must be positive", ErrInvalidShape, l.LayerName)
	}
	pad := p.Pad
	if pad.Left < 0 || pad.Right < 0 || pad.Top < 0 || pad.Bottom < 0 {
		return fmt.Errorf("%w: layer %s: negative padding", ErrInvalidShape, l.LayerName)
	}
	span := p.InDim + pad.Top + pad.Bottom - p.Kernel
	if span < 0 {
		return fmt.Errorf("%w: layer %s: kernel %d larger than padded input %d", ErrInvalidShape, l.LayerName, p.Kernel, p.InDim+pad.Top+pad.Bottom)
	}
	if want := span/p.Stride + 1; p.OutDim != want {
		return fmt.Errorf("%w: layer %s: output dim %d, geometry gives %d", ErrInvalidShape, l.LayerName, p.OutDim, want)
	}
	if p.InDim+pad.Left+pad.Right != p.InDim+pad.Top+pad.Bottom {
		return fmt.Errorf("%w: layer %s: horizontal and vertical padding must give a square output", ErrInvalidShape, l.LayerName)
	}
	if want := p.Kernel * p.Kernel * p.InCh; len(p.Weights) != want {
		return fmt.Errorf("%w: layer %s: %d weight bytes, want %d", ErrInvalidShape, l.LayerName, len(p.Weights), want)
	}
	if len(p.Bias) != p.OutCh {
		return fmt.Errorf("%w: layer %s: %d bias values, want %d", ErrInvalidShape, l.LayerName, len(p.Bias), p.OutCh)
	}
	if p.Thresholds.Bits != kernels.DepthwiseOutBits {
		return fmt.Errorf("%w: layer %s: thresholds are %d-bit, want %d-bit", ErrInvalidShape, l.LayerName, p.Thresholds.Bits, kernels.DepthwiseOutBits)
	}
	if err := p.Thresholds.Validate(p.OutCh); err != nil {
		return fmt.Errorf("layer %s: %w", l.LayerName, err)
	}
	return nil
}

// Run partitions the output rows across workers, each with its own column
// buffer.
func (l *Depthwise) Run(ctx context.Context, eng kernels.Engine, input []byte) ([]byte, error) {
	if err := checkInput(l, input); err != nil {
		return nil, err
	}
	start := time.Now()
	p := l.Params
	p.Input = input
	out := make([]byte, p.OutBytes())

	err := partition(ctx, p.OutDim, l.Workers, func(y0, y1 int) error {
		col := make([]byte, p.ColBytes())
		return eng.DepthwiseRows(out, p, col, y0, y1)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("layer run",
		"layer", l.LayerName,
		"kind", KindDepthwise,
		"engine", eng.Name(),
		"pixels", p.OutDim*p.OutDim,
		"workers", l.Workers,
		"elapsed", time.Since(start),
	)
	return out, nil
}
