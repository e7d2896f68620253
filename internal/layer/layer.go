// Package layer wraps the kernels into validated convolution layers that
// own their parameters and split work across goroutines.
package layer

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/mixq/internal/bitpack"
	"github.com/samcharles93/mixq/internal/kernels"
)

var (
	ErrInvalidShape = errors.New("layer: invalid shape")
	ErrInvalidInput = errors.New("layer: invalid input")
)

// Kind names a layer type.
type Kind string

const (
	KindDepthwise Kind = "depthwise"
	KindPointwise Kind = "pointwise"
)

// Shape is a square HWC activation tensor of Bits-wide values. Sub-byte
// pixels are packed and every pixel starts on a fresh byte.
type Shape struct {
	Dim      int  `json:"dim"`
	Channels int  `json:"channels"`
	Bits     uint `json:"bits"`
}

// PixelBytes is the stored size of one pixel.
func (s Shape) PixelBytes() int {
	return bitpack.PackedSize(s.Channels, s.Bits)
}

// Bytes is the stored size of the whole tensor.
func (s Shape) Bytes() int {
	return s.Dim * s.Dim * s.PixelBytes()
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d@u%d", s.Dim, s.Dim, s.Channels, s.Bits)
}

// Layer is one step of a network.
type Layer interface {
	Name() string
	Kind() Kind
	In() Shape
	Out() Shape
	Validate() error
	// Run consumes In().Bytes() of input and returns Out().Bytes() of
	// output.
	Run(ctx context.Context, eng kernels.Engine, input []byte) ([]byte, error)
}

func checkInput(l Layer, input []byte) error {
	if want := l.In().Bytes(); len(input) != want {
		return fmt.Errorf("%w: layer %s wants %d bytes (%v), got %d", ErrInvalidInput, l.Name(), want, l.In(), len(input))
	}
	return nil
}

// partsPerWorker is the number of ranges handed to each worker.
// Cancellation is checked between ranges.
const partsPerWorker = 4

// partition splits [0, n) into contiguous ranges and runs fn over them on
// at most workers goroutines. A range that has started always completes.
func partition(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, n)
	if workers == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, n)
	}

	parts := min(n, workers*partsPerWorker)
	chunk := (n + parts - 1) / parts

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
