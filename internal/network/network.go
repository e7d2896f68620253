// Package network assembles layers described by an MQF container into a
// runnable chain.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/requant"
	"github.com/samcharles93/mixq/pkg/mqf"
)

var (
	ErrUnknownLayer  = errors.New("network: unknown layer")
	ErrShapeMismatch = errors.New("network: shape mismatch")
	ErrEmpty         = errors.New("network: no layers")
)

// Network is an ordered chain of layers. The output shape of each layer is
// the input shape of the next.
type Network struct {
	Name     string
	Producer string

	layers []layer.Layer
	byName map[string]layer.Layer
}

type options struct {
	workers int
}

// Option configures Load.
type Option func(*options)

// WithWorkers sets the goroutine limit of every layer. Zero or less uses
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// New validates layers and checks that their shapes chain.
func New(name string, layers []layer.Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, ErrEmpty
	}
	n := &Network{Name: name, layers: layers, byName: make(map[string]layer.Layer, len(layers))}
	for i, l := range layers {
		if _, dup := n.byName[l.Name()]; dup {
			return nil, fmt.Errorf("network: duplicate layer %q", l.Name())
		}
		n.byName[l.Name()] = l
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if i > 0 {
			prev := layers[i-1]
			if prev.Out() != l.In() {
				return nil, fmt.Errorf("%w: %s produces %v, %s consumes %v", ErrShapeMismatch, prev.Name(), prev.Out(), l.Name(), l.In())
			}
		}
	}
	return n, nil
}

// Load builds the network stored in f. Parameters are copied, so f may be
// closed afterwards.
func Load(f *mqf.File, opts ...Option) (*Network, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	info, err := f.ModelInfo()
	if err != nil {
		return nil, err
	}
	layers := make([]layer.Layer, 0, len(info.Layers))
	for _, li := range info.Layers {
		l, err := build(f, li, o.workers)
		if err != nil {
			return nil, fmt.Errorf("network: layer %q: %w", li.Name, err)
		}
		layers = append(layers, l)
	}
	n, err := New(info.Name, layers)
	if err != nil {
		return nil, err
	}
	n.Producer = info.Producer
	return n, nil
}

func build(f *mqf.File, li mqf.LayerInfo, workers int) (layer.Layer, error) {
	bias, err := int32Tensor(f, li.Bias, li.OutChannels)
	if err != nil {
		return nil, err
	}

	switch layer.Kind(li.Kind) {
	case layer.KindDepthwise:
		weights, err := rawTensor(f, li.Weights, mqf.DTypeU8)
		if err != nil {
			return nil, err
		}
		table, err := thresholdTensor(f, li.Thresholds, kernels.DepthwiseOutBits)
		if err != nil {
			return nil, err
		}
		pad := kernels.Padding{Left: li.Padding.Left, Right: li.Padding.Right, Top: li.Padding.Top, Bottom: li.Padding.Bottom}
		outDim := 0
		if li.Stride > 0 {
			outDim = (li.Dim+pad.Top+pad.Bottom-li.Kernel)/li.Stride + 1
		}
		return &layer.Depthwise{
			LayerName: li.Name,
			Workers:   workers,
			Params: kernels.Depthwise{
				InDim:      li.Dim,
				InCh:       li.InChannels,
				Weights:    weights,
				OutCh:      li.OutChannels,
				Kernel:     li.Kernel,
				Pad:        pad,
				Stride:     li.Stride,
				Bias:       bias,
				OutDim:     outDim,
				ZeroIn:     li.ZeroIn,
				ZeroW:      li.ZeroW,
				Thresholds: table,
			},
		}, nil

	case layer.KindPointwise:
		layout, err := kernels.ParseLayout(li.Layout)
		if err != nil {
			return nil, err
		}
		dtype := mqf.DTypeU8
		if layout.WeightBits() == 4 {
			dtype = mqf.DTypeU4
		}
		weights, err := rawTensor(f, li.Weights, dtype)
		if err != nil {
			return nil, err
		}
		pw := &layer.Pointwise{
			LayerName: li.Name,
			Dim:       li.Dim,
			InCh:      li.InChannels,
			OutCh:     li.OutChannels,
			Layout:    layout,
			Weights:   weights,
			Bias:      bias,
			ZeroIn:    li.ZeroIn,
			ZeroW:     li.ZeroW,
			Workers:   workers,
		}
		if li.Fold != nil {
			pw.Fold = &requant.Fold{Mult: li.Fold.Mult, Shift: li.Fold.Shift, ZeroOut: li.Fold.ZeroOut}
		}
		if li.Thresholds != "" {
			table, err := thresholdTensor(f, li.Thresholds, layout.OutBits())
			if err != nil {
				return nil, err
			}
			pw.Thresholds = &table
		}
		return pw, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", layer.ErrInvalidShape, li.Kind)
	}
}

func rawTensor(f *mqf.File, name string, dtype mqf.DType) ([]byte, error) {
	t, err := f.Tensor(name)
	if err != nil {
		return nil, err
	}
	if t.DType != dtype {
		return nil, fmt.Errorf("%w: tensor %q is %v, want %v", layer.ErrInvalidShape, name, t.DType, dtype)
	}
	return bytes.Clone(t.Bytes()), nil
}

func int32Tensor(f *mqf.File, name string, n int) ([]int32, error) {
	t, err := f.Tensor(name)
	if err != nil {
		return nil, err
	}
	v, err := t.Int32s()
	if err != nil {
		return nil, err
	}
	if len(v) != n {
		return nil, fmt.Errorf("%w: tensor %q has %d values, want %d", layer.ErrInvalidShape, name, len(v), n)
	}
	return v, nil
}

func thresholdTensor(f *mqf.File, name string, bits uint) (requant.Table, error) {
	if name == "" {
		return requant.Table{}, fmt.Errorf("%w: missing threshold tensor", layer.ErrInvalidShape)
	}
	t, err := f.Tensor(name)
	if err != nil {
		return requant.Table{}, err
	}
	v, err := t.Int16s()
	if err != nil {
		return requant.Table{}, err
	}
	return requant.Table{Bits: bits, Values: v}, nil
}

// Layers returns the layers in execution order.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// Layer looks up a layer by name.
func (n *Network) Layer(name string) (layer.Layer, bool) {
	l, ok := n.byName[name]
	return l, ok
}

// In is the shape the first layer consumes.
func (n *Network) In() layer.Shape { return n.layers[0].In() }

// Out is the shape the last layer produces.
func (n *Network) Out() layer.Shape { return n.layers[len(n.layers)-1].Out() }

// Run feeds input through every layer in order.
func (n *Network) Run(ctx context.Context, eng kernels.Engine, input []byte) ([]byte, error) {
	start := time.Now()
	act := input
	for _, l := range n.layers {
		out, err := l.Run(ctx, eng, act)
		if err != nil {
			return nil, err
		}
		act = out
	}
	logger.FromContext(ctx).Info("network run",
		"network", n.Name,
		"layers", len(n.layers),
		"engine", eng.Name(),
		"elapsed", time.Since(start),
	)
	return act, nil
}

// RunLayer runs a single named layer.
func (n *Network) RunLayer(ctx context.Context, eng kernels.Engine, name string, input []byte) ([]byte, error) {
	l, ok := n.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return l.Run(ctx, eng, input)
}
