package main

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/pkg/mqf"
)

// modelDesc is the YAML description pack turns into a container. Weights
// are given in logical order and are aligned and packed here.
type modelDesc struct {
	Name     string      `yaml:"name"`
	Producer string      `yaml:"producer"`
	Layers   []layerDesc `yaml:"layers"`
}

// layerDesc describes one layer.
//
// Depthwise weights are Kernel*Kernel rows (one per kernel cell, row-major)
// of InChannels values. Pointwise weights are OutChannels rows of
// InChannels values. Thresholds hold one row of 2^bits-1 boundaries per
// output channel.
type layerDesc struct {
	Name        string      `yaml:"name"`
	Kind        string      `yaml:"kind"`
	Dim         int         `yaml:"dim"`
	InChannels  int         `yaml:"in_channels"`
	OutChannels int         `yaml:"out_channels"`
	Layout      string      `yaml:"layout"`
	Kernel      int         `yaml:"kernel"`
	Stride      int         `yaml:"stride"`
	Padding     paddingDesc `yaml:"padding"`
	ZeroIn      int         `yaml:"zero_in"`
	ZeroW       int         `yaml:"zero_w"`
	Fold        *foldDesc   `yaml:"fold"`
	Weights     [][]int     `yaml:"weights"`
	Bias        []int32     `yaml:"bias"`
	Thresholds  [][]int16   `yaml:"thresholds"`
}

type paddingDesc struct {
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
	Top    int `yaml:"top"`
	Bottom int `yaml:"bottom"`
}

type foldDesc struct {
	Mult    int32 `yaml:"mult"`
	Shift   int8  `yaml:"shift"`
	ZeroOut uint8 `yaml:"zero_out"`
}

func parseModelDesc(data []byte) (*modelDesc, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var desc modelDesc
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("parse model description: %w", err)
	}
	if len(desc.Layers) == 0 {
		return nil, fmt.Errorf("model description has no layers")
	}
	return &desc, nil
}

// builder converts the description into container contents.
func (d *modelDesc) builder() (*mqf.Builder, error) {
	b := mqf.NewBuilder(mqf.ModelInfo{Name: d.Name, Producer: d.Producer})
	for _, ls := range d.Layers {
		info, err := ls.add(b)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ls.Name, err)
		}
		b.Info.Layers = append(b.Info.Layers, info)
	}
	return b, nil
}

func (ls layerDesc) add(b *mqf.Builder) (mqf.LayerInfo, error) {
	info := mqf.LayerInfo{
		Name:        ls.Name,
		Kind:        ls.Kind,
		Dim:         ls.Dim,
		InChannels:  ls.InChannels,
		OutChannels: ls.OutChannels,
		Weights:     ls.Name + ".weight",
		Bias:        ls.Name + ".bias",
	}
	zeroIn, err := byteValue("zero_in", ls.ZeroIn, 255)
	if err != nil {
		return info, err
	}
	zeroW, err := byteValue("zero_w", ls.ZeroW, 255)
	if err != nil {
		return info, err
	}
	info.ZeroIn, info.ZeroW = zeroIn, zeroW

	if len(ls.Bias) != ls.OutChannels {
		return info, fmt.Errorf("%d bias values for %d output channels", len(ls.Bias), ls.OutChannels)
	}
	if err := b.AddInt32s(info.Bias, ls.Bias); err != nil {
		return info, err
	}

	switch layer.Kind(ls.Kind) {
	case layer.KindDepthwise:
		info.Kernel = ls.Kernel
		info.Stride = ls.Stride
		info.Padding = mqf.Padding(ls.Padding)
		if ls.Fold != nil {
			return info, fmt.Errorf("depthwise layers quantize through thresholds only")
		}
		rows, err := weightRows(ls.Weights, ls.Kernel*ls.Kernel, ls.InChannels, 255)
		if err != nil {
			return info, err
		}
		if err := b.AddU8(info.Weights, bytes.Join(rows, nil)); err != nil {
			return info, err
		}
		info.Thresholds = ls.Name + ".thresholds"
		return info, addThresholds(b, info.Thresholds, ls.Thresholds, ls.OutChannels, kernels.DepthwiseOutBits)

	case layer.KindPointwise:
		layout, err := kernels.ParseLayout(ls.Layout)
		if err != nil {
			return info, err
		}
		info.Layout = layout.String()
		rows, err := weightRows(ls.Weights, ls.OutChannels, ls.InChannels, 1<<layout.WeightBits()-1)
		if err != nil {
			return info, err
		}
		packed := layer.AlignPointwise(rows, layout)
		if layout.WeightBits() == 4 {
			err = b.AddU4(info.Weights, 2*len(packed), packed)
		} else {
			err = b.AddU8(info.Weights, packed)
		}
		if err != nil {
			return info, err
		}
		switch {
		case (ls.Fold == nil) == (len(ls.Thresholds) == 0):
			return info, fmt.Errorf("exactly one of fold and thresholds must be given")
		case ls.Fold != nil:
			info.Fold = &mqf.Fold{Mult: ls.Fold.Mult, Shift: ls.Fold.Shift, ZeroOut: ls.Fold.ZeroOut}
			return info, nil
		default:
			info.Thresholds = ls.Name + ".thresholds"
			return info, addThresholds(b, info.Thresholds, ls.Thresholds, ls.OutChannels, layout.OutBits())
		}

	default:
		return info, fmt.Errorf("unknown kind %q (want depthwise or pointwise)", ls.Kind)
	}
}

func byteValue(field string, v, limit int) (uint8, error) {
	if v < 0 || v > limit {
		return 0, fmt.Errorf("%s %d out of range [0, %d]", field, v, limit)
	}
	return uint8(v), nil
}

// weightRows checks a rows x cols weight matrix and narrows it to bytes.
func weightRows(in [][]int, rows, cols, limit int) ([][]uint8, error) {
	if len(in) != rows {
		return nil, fmt.Errorf("%d weight rows, want %d", len(in), rows)
	}
	out := make([][]uint8, rows)
	for r, row := range in {
		if len(row) != cols {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", r, len(row), cols)
		}
		out[r] = make([]uint8, cols)
		for c, v := range row {
			b, err := byteValue(fmt.Sprintf("weight[%d][%d]", r, c), v, limit)
			if err != nil {
				return nil, err
			}
			out[r][c] = b
		}
	}
	return out, nil
}

// addThresholds stores one 2^bits entry row per channel: the boundaries
// followed by a copy of the last one.
func addThresholds(b *mqf.Builder, name string, rows [][]int16, channels int, bits uint) error {
	if len(rows) != channels {
		return fmt.Errorf("%d threshold rows for %d channels", len(rows), channels)
	}
	stride := 1 << bits
	values := make([]int16, 0, channels*stride)
	for ch, row := range rows {
		if len(row) != stride-1 {
			return fmt.Errorf("channel %d has %d thresholds, want %d", ch, len(row), stride-1)
		}
		values = append(values, row...)
		values = append(values, row[len(row)-1])
	}
	return b.AddInt16s(name, values)
}
