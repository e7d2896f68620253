package network

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/pkg/mqf"
)

// ramp returns a threshold table with evenly spaced boundaries centred on
// zero for every channel.
func ramp(channels int, bits uint, step int) []int16 {
	stride := 1 << bits
	out := make([]int16, 0, channels*stride)
	for range channels {
		for j := range stride - 1 {
			out = append(out, int16((j-(stride-1)/2)*step))
		}
		out = append(out, out[len(out)-1])
	}
	return out
}

func logical(rng *rand.Rand, rows, cols, levels int) [][]uint8 {
	out := make([][]uint8, rows)
	for r := range out {
		out[r] = make([]uint8, cols)
		for c := range out[r] {
			out[r][c] = uint8(rng.Intn(levels))
		}
	}
	return out
}

// buildModel writes dw -> pw(w4o2, thresholds) -> pw(w8o4, fold) and
// returns its path.
func buildModel(t *testing.T, secondLayout string) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	const dim, ch = 5, 6

	b := mqf.NewBuilder(mqf.ModelInfo{
		Name: "chain",
		Layers: []mqf.LayerInfo{
			{
				Name: "dw", Kind: "depthwise", Dim: dim, InChannels: ch, OutChannels: ch,
				Kernel: 3, Stride: 1, Padding: mqf.Padding{Left: 1, Right: 1, Top: 1, Bottom: 1},
				ZeroIn: 12, ZeroW: 128, Weights: "dw.w", Bias: "dw.b", Thresholds: "dw.t",
			},
			{
				Name: "pw1", Kind: "pointwise", Dim: dim, InChannels: ch, OutChannels: 4,
				Layout: secondLayout, ZeroIn: 1, ZeroW: 7, Weights: "pw1.w", Bias: "pw1.b", Thresholds: "pw1.t",
			},
			{
				Name: "pw2", Kind: "pointwise", Dim: dim, InChannels: 4, OutChannels: 2,
				Layout: "w8o4", ZeroIn: 2, ZeroW: 100, Weights: "pw2.w", Bias: "pw2.b",
				Fold: &mqf.Fold{Mult: 1 << 20, Shift: -8, ZeroOut: 4},
			},
		},
	})

	dww := make([]byte, 9*ch)
	rng.Read(dww)
	must(t, b.AddU8("dw.w", dww))
	must(t, b.AddInt32s("dw.b", []int32{-50, 0, 10, 200, -300, 5}))
	must(t, b.AddInt16s("dw.t", ramp(ch, kernels.DepthwiseOutBits, 2000)))

	layout, err := kernels.ParseLayout(secondLayout)
	must(t, err)
	pw1 := layer.AlignPointwise(logical(rng, 4, ch, 1<<layout.WeightBits()), layout)
	if layout.WeightBits() == 4 {
		must(t, b.AddU4("pw1.w", 2*len(pw1), pw1))
	} else {
		must(t, b.AddU8("pw1.w", pw1))
	}
	must(t, b.AddInt32s("pw1.b", []int32{1, -2, 3, -4}))
	must(t, b.AddInt16s("pw1.t", ramp(4, layout.OutBits(), 30)))

	pw2 := layer.AlignPointwise(logical(rng, 2, 4, 256), kernels.W8O4)
	must(t, b.AddU8("pw2.w", pw2))
	must(t, b.AddInt32s("pw2.b", []int32{-1000, 1000}))

	path := filepath.Join(t.TempDir(), "chain.mqf")
	must(t, b.WriteFile(path))
	return path
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func load(t *testing.T, path string, opts ...Option) *Network {
	t.Helper()
	f, err := mqf.Open(path)
	must(t, err)
	defer func() { _ = f.Close() }()
	n, err := Load(f, opts...)
	must(t, err)
	return n
}

func TestLoadAndRun(t *testing.T) {
	t.Parallel()

	n := load(t, buildModel(t, "w4o2"), WithWorkers(3))
	if n.Name != "chain" || len(n.Layers()) != 3 {
		t.Fatalf("unexpected network %q with %d layers", n.Name, len(n.Layers()))
	}
	if got, want := n.In(), (layer.Shape{Dim: 5, Channels: 6, Bits: 8}); got != want {
		t.Fatalf("In() = %v, want %v", got, want)
	}
	if got, want := n.Out(), (layer.Shape{Dim: 5, Channels: 2, Bits: 4}); got != want {
		t.Fatalf("Out() = %v, want %v", got, want)
	}

	rng := rand.New(rand.NewSource(1))
	input := make([]byte, n.In().Bytes())
	rng.Read(input)

	ctx := context.Background()
	var outputs [][]byte
	for _, eng := range []kernels.Engine{kernels.Packed{}, kernels.Reference{}} {
		out, err := n.Run(ctx, eng, input)
		must(t, err)
		if len(out) != n.Out().Bytes() {
			t.Fatalf("%s: output %d bytes, want %d", eng.Name(), len(out), n.Out().Bytes())
		}

		// Running layer by layer gives the same result.
		act := input
		for _, l := range n.Layers() {
			act, err = n.RunLayer(ctx, eng, l.Name(), act)
			must(t, err)
		}
		if !bytes.Equal(act, out) {
			t.Fatalf("%s: layer-by-layer output differs", eng.Name())
		}
		outputs = append(outputs, out)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatalf("packed and reference engines disagree:\n%x\n%x", outputs[0], outputs[1])
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	f, err := mqf.Open(buildModel(t, "w8o4"))
	must(t, err)
	defer func() { _ = f.Close() }()

	if _, err := Load(f); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	n := load(t, buildModel(t, "w4o2"))
	ctx := context.Background()
	eng := kernels.Packed{}

	if _, err := n.RunLayer(ctx, eng, "nope", nil); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("got %v, want ErrUnknownLayer", err)
	}
	if _, err := n.Run(ctx, eng, make([]byte, 3)); !errors.Is(err, layer.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if _, ok := n.Layer("pw2"); !ok {
		t.Fatalf("Layer(pw2) not found")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := n.Run(cctx, eng, make([]byte, n.In().Bytes())); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNewRejectsEmptyAndDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := New("x", nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("got %v, want ErrEmpty", err)
	}
	n := load(t, buildModel(t, "w4o2"))
	l := n.Layers()[1]
	if _, err := New("x", []layer.Layer{l, l}); err == nil {
		t.Fatalf("duplicate layers accepted")
	}
}
