package layer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/mixq/internal/bitpack"
	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/requant"
)

var engines = []kernels.Engine{kernels.Packed{}, kernels.Reference{}}

func randomTable(rng *rand.Rand, bits uint, channels int) requant.Table {
	t := requant.Table{Bits: bits, Values: make([]int16, channels<<bits)}
	for ch := range channels {
		v := int16(rng.Intn(400) - 300)
		for j := range t.Stride() - 1 {
			v += int16(rng.Intn(150))
			t.Values[ch*t.Stride()+j] = v
		}
	}
	return t
}

func newDepthwise(rng *rand.Rand, dim, ch int) *Depthwise {
	l := &Depthwise{
		LayerName: "dw",
		Params: kernels.Depthwise{
			InDim:      dim,
			InCh:       ch,
			Weights:    make([]byte, 9*ch),
			OutCh:      ch,
			Kernel:     3,
			Pad:        kernels.Padding{Left: 1, Right: 1, Top: 1, Bottom: 1},
			Stride:     1,
			Bias:       make([]int32, ch),
			OutDim:     dim,
			ZeroIn:     uint8(rng.Intn(256)),
			ZeroW:      uint8(rng.Intn(256)),
			Thresholds: randomTable(rng, 2, ch),
		},
	}
	rng.Read(l.Params.Weights)
	return l
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func TestDepthwiseRunMatchesKernel(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	l := newDepthwise(rng, 9, 6)
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	input := randomBytes(rng, l.In().Bytes())

	p := l.Params
	p.Input = input
	want := make([]byte, p.OutBytes())
	if err := (kernels.Reference{}).DepthwiseConv(want, p, make([]byte, p.ColBytes())); err != nil {
		t.Fatal(err)
	}

	for _, eng := range engines {
		for _, workers := range []int{1, 2, 3, 16, 0} {
			l.Workers = workers
			got, err := l.Run(context.Background(), eng, input)
			if err != nil {
				t.Fatalf("%s workers=%d: %v", eng.Name(), workers, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("%s workers=%d: output differs", eng.Name(), workers)
			}
		}
	}
}

func TestDepthwiseValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*kernels.Depthwise)
		want error
	}{
		{"channel mismatch", func(p *kernels.Depthwise) { p.OutCh = 5 }, kernels.ErrSizeMismatch},
		{"out dim", func(p *kernels.Depthwise) { p.OutDim = 4 }, ErrInvalidShape},
		{"stride", func(p *kernels.Depthwise) { p.Stride = 0 }, ErrInvalidShape},
		{"asymmetric", func(p *kernels.Depthwise) { p.Pad.Right = 0 }, ErrInvalidShape},
		{"weights", func(p *kernels.Depthwise) { p.Weights = p.Weights[:3] }, ErrInvalidShape},
		{"bias", func(p *kernels.Depthwise) { p.Bias = nil }, ErrInvalidShape},
		{"threshold bits", func(p *kernels.Depthwise) { p.Thresholds.Bits = 4 }, ErrInvalidShape},
		{"threshold order", func(p *kernels.Depthwise) { p.Thresholds.Values[0] = 32000 }, requant.ErrNonMonotonic},
	}
	for _, tc := range tests {
		l := newDepthwise(rand.New(rand.NewSource(3)), 5, 4)
		tc.mod(&l.Params)
		if err := l.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestRunRejectsWrongInputSize(t *testing.T) {
	t.Parallel()

	l := newDepthwise(rand.New(rand.NewSource(3)), 5, 4)
	_, err := l.Run(context.Background(), kernels.Packed{}, make([]byte, 7))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Run err = %v, want ErrInvalidInput", err)
	}
}

// pointwiseCase builds a pointwise layer from logical weights and keeps them
// for the oracle.
type pointwiseCase struct {
	l       *Pointwise
	weights [][]uint8
}

func newPointwise(rng *rand.Rand, dim, in, out int, layout kernels.Layout, threshold bool) pointwiseCase {
	wmax := 1 << layout.WeightBits()
	weights := make([][]uint8, out)
	for r := range weights {
		weights[r] = make([]uint8, in)
		for c := range weights[r] {
			weights[r][c] = uint8(rng.Intn(wmax))
		}
	}
	l := &Pointwise{
		LayerName: "pw",
		Dim:       dim,
		InCh:      in,
		OutCh:     out,
		Layout:    layout,
		Weights:   AlignPointwise(weights, layout),
		Bias:      make([]int32, out),
		ZeroIn:    uint8(rng.Intn(4)),
		ZeroW:     uint8(rng.Intn(wmax)),
	}
	for r := range l.Bias {
		l.Bias[r] = int32(rng.Intn(200) - 100)
	}
	if threshold {
		tbl := randomTable(rng, layout.OutBits(), out)
		l.Thresholds = &tbl
	} else {
		l.Fold = &requant.Fold{Mult: int32(rng.Intn(1<<28) + 1<<26), Shift: int8(rng.Intn(6) - 3), ZeroOut: 1}
	}
	return pointwiseCase{l: l, weights: weights}
}

// oracle computes the layer pixel by pixel in logical channel order.
func (pc pointwiseCase) oracle(input []byte) []byte {
	l := pc.l
	inStride := l.In().PixelBytes()
	outStride := l.Out().PixelBytes()
	out := make([]byte, l.Dim*l.Dim*outStride)
	act := make([]uint8, l.InCh)
	levels := make([]uint8, l.OutCh)
	for p := range l.Dim * l.Dim {
		bitpack.Unpack(act, input[p*inStride:], InBits)
		for r := range l.OutCh {
			acc := int64(l.Bias[r])
			for c := range l.InCh {
				acc += (int64(pc.weights[r][c]) - int64(l.ZeroW)) * (int64(act[c]) - int64(l.ZeroIn))
			}
			if l.Fold != nil {
				levels[r] = l.Fold.Apply(int32(acc), l.Layout.OutBits())
			} else {
				levels[r] = l.Thresholds.Level(r, int32(acc))
			}
		}
		bitpack.Pack(out[p*outStride:(p+1)*outStride], levels, l.Layout.OutBits())
	}
	return out
}

func TestPointwiseRunMatchesOracle(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for _, layout := range []kernels.Layout{kernels.W8O4, kernels.W4O2} {
		for _, threshold := range []bool{false, true} {
			for _, shape := range [][3]int{{3, 4, 2}, {4, 16, 6}, {5, 17, 4}, {2, 33, 8}, {1, 40, 2}} {
				dim, in, out := shape[0], shape[1], shape[2]
				name := fmt.Sprintf("%v/thr=%v/%dx%d->%d", layout, threshold, dim, in, out)
				pc := newPointwise(rng, dim, in, out, layout, threshold)
				if err := pc.l.Validate(); err != nil {
					t.Fatalf("%s: Validate: %v", name, err)
				}

				// valid 2-bit pixels: unused slots of the last byte are zero
				input := make([]byte, pc.l.In().Bytes())
				vals := make([]uint8, in)
				inStride := pc.l.In().PixelBytes()
				for p := range dim * dim {
					for c := range vals {
						vals[c] = uint8(rng.Intn(4))
					}
					bitpack.Pack(input[p*inStride:(p+1)*inStride], vals, InBits)
				}
				want := pc.oracle(input)

				for _, eng := range engines {
					for _, workers := range []int{1, 3} {
						pc.l.Workers = workers
						got, err := pc.l.Run(context.Background(), eng, input)
						if err != nil {
							t.Fatalf("%s %s: %v", name, eng.Name(), err)
						}
						if !bytes.Equal(got, want) {
							t.Fatalf("%s %s workers=%d:\n got %x\nwant %x", name, eng.Name(), workers, got, want)
						}
					}
				}
			}
		}
	}
}

func TestPointwiseValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*Pointwise)
		want error
	}{
		{"odd out channels", func(l *Pointwise) { l.OutCh = 3; l.Bias = l.Bias[:3] }, kernels.ErrShape},
		{"no requant", func(l *Pointwise) { l.Fold = nil }, ErrInvalidShape},
		{"both requant", func(l *Pointwise) { l.Thresholds = &requant.Table{Bits: 4} }, ErrInvalidShape},
		{"weights", func(l *Pointwise) { l.Weights = append(l.Weights, 0) }, ErrInvalidShape},
		{"layout", func(l *Pointwise) { l.Layout = 0 }, kernels.ErrLayout},
		{"dim", func(l *Pointwise) { l.Dim = 0 }, ErrInvalidShape},
	}
	for _, tc := range tests {
		pc := newPointwise(rand.New(rand.NewSource(5)), 3, 8, 4, kernels.W8O4, false)
		tc.mod(pc.l)
		if err := pc.l.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate = %v, want %v", tc.name, err, tc.want)
		}
	}

	pc := newPointwise(rand.New(rand.NewSource(5)), 3, 8, 4, kernels.W4O2, true)
	pc.l.Thresholds.Bits = 4
	if err := pc.l.Validate(); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("threshold width mismatch: Validate = %v", err)
	}
}

func TestPartitionCoversRange(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 7, 64, 101} {
		for _, workers := range []int{1, 2, 5, 200} {
			seen := make([]atomic.Int32, n)
			err := partition(context.Background(), n, workers, func(lo, hi int) error {
				for i := lo; i < hi; i++ {
					seen[i].Add(1)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			for i := range seen {
				if seen[i].Load() != 1 {
					t.Fatalf("n=%d workers=%d: index %d visited %d times", n, workers, i, seen[i].Load())
				}
			}
		}
	}
}

func TestPartitionStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := partition(ctx, 10, 1, func(lo, hi int) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("partition on cancelled ctx: err=%v called=%v", err, called)
	}

	l := newDepthwise(rand.New(rand.NewSource(3)), 5, 4)
	if _, err := l.Run(ctx, kernels.Packed{}, make([]byte, l.In().Bytes())); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run on cancelled ctx: %v", err)
	}
}

func TestPartitionPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := partition(context.Background(), 50, 4, func(lo, hi int) error {
		if lo == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("partition err = %v, want boom", err)
	}
}

func TestShape(t *testing.T) {
	t.Parallel()

	s := Shape{Dim: 3, Channels: 5, Bits: 2}
	if s.PixelBytes() != 2 || s.Bytes() != 18 {
		t.Fatalf("Shape %v: pixel %d bytes %d", s, s.PixelBytes(), s.Bytes())
	}
	if s.String() != "3x3x5@u2" {
		t.Fatalf("String = %q", s.String())
	}
}
