package mqf

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ModelInfoVersion is the version of the model info section payload.
const ModelInfoVersion uint32 = 1

// ModelInfo describes the network stored in a container. Layers reference
// their parameter tensors by name.
type ModelInfo struct {
	Name     string      `json:"name"`
	Producer string      `json:"producer,omitempty"`
	Created  string      `json:"created,omitempty"`
	Layers   []LayerInfo `json:"layers"`
}

// LayerInfo describes one layer. Dim is the square input dimension.
//
// Depthwise layers use Kernel, Stride and Padding and always quantize
// through Thresholds. Pointwise layers use Layout and either Fold or
// Thresholds.
type LayerInfo struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Dim         int     `json:"dim"`
	InChannels  int     `json:"in_channels"`
	OutChannels int     `json:"out_channels"`
	Layout      string  `json:"layout,omitempty"`
	Kernel      int     `json:"kernel,omitempty"`
	Stride      int     `json:"stride,omitempty"`
	Padding     Padding `json:"padding"`
	ZeroIn      uint8   `json:"zero_in"`
	ZeroW       uint8   `json:"zero_w"`
	Fold        *Fold   `json:"fold,omitempty"`
	Weights     string  `json:"weights"`
	Bias        string  `json:"bias"`
	Thresholds  string  `json:"thresholds,omitempty"`
}

type Padding struct {
	Left   int `json:"left"`
	Right  int `json:"right"`
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

// Fold holds affine requantization parameters.
type Fold struct {
	Mult    int32 `json:"mult"`
	Shift   int8  `json:"shift"`
	ZeroOut uint8 `json:"zero_out"`
}

// Tensors lists the tensor names a layer references.
func (l LayerInfo) Tensors() []string {
	names := []string{l.Weights, l.Bias}
	if l.Thresholds != "" {
		names = append(names, l.Thresholds)
	}
	return names
}

// Validate checks names. Layer semantics are checked when the network is
// built.
func (m *ModelInfo) Validate() error {
	seen := make(map[string]struct{}, len(m.Layers))
	for i, l := range m.Layers {
		if l.Name == "" {
			return fmt.Errorf("mqf: layer %d has no name", i)
		}
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("mqf: duplicate layer name %q", l.Name)
		}
		seen[l.Name] = struct{}{}
		if l.Weights == "" || l.Bias == "" {
			return fmt.Errorf("mqf: layer %q must name its weights and bias tensors", l.Name)
		}
	}
	return nil
}

// EncodeModelInfo marshals m as JSON.
func EncodeModelInfo(m *ModelInfo) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeModelInfo parses a model info payload.
func DecodeModelInfo(data []byte) (*ModelInfo, error) {
	var m ModelInfo
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: model info: %v", ErrCorruptFile, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return &m, nil
}
