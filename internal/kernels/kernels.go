// Package kernels implements the sub-byte quantized compute kernels: the
// two-row by two-column matrix multiply used for pointwise convolution and
// the depthwise convolution driver.
//
// Two implementations share one contract. The packed engine works on 32-bit
// paired lanes the way a DSP-capable microcontroller core would. The
// reference engine computes the same results one element at a time.
// Kernels never allocate. All buffers belong to the caller for the duration
// of a call.
package kernels

import (
	"errors"

	"github.com/samcharles93/mixq/internal/requant"
	"github.com/samcharles93/mixq/internal/target"
)

var (
	// ErrSizeMismatch is returned by depthwise convolution when the input
	// and output channel counts differ.
	ErrSizeMismatch = errors.New("kernels: size mismatch")

	// ErrLayout is returned for an unknown matmul layout name or value.
	ErrLayout = errors.New("kernels: invalid layout")
	// ErrShape is returned when matmul dimensions or buffer lengths do
	// not fit together.
	ErrShape = errors.New("kernels: invalid shape")
)

// Engine runs the kernel suite.
type Engine interface {
	Name() string

	// MatMulFold multiplies two activation columns by the weight matrix,
	// requantizes with f and writes both packed output columns to out.
	// It returns the number of bytes written.
	MatMulFold(out []byte, m MatMul, f requant.Fold) int

	// MatMulThreshold is MatMulFold with threshold requantization.
	MatMulThreshold(out []byte, m MatMul, t requant.Table) int

	// DepthwiseConv runs the whole depthwise convolution.
	DepthwiseConv(out []byte, d Depthwise, col []byte) error

	// DepthwiseRows runs the output rows [y0, y1) only; out is the full
	// output tensor.
	DepthwiseRows(out []byte, d Depthwise, col []byte, y0, y1 int) error
}

// New returns the engine for a resolved target path.
func New(p target.Path) Engine {
	if p == target.PathReference {
		return Reference{}
	}
	return Packed{}
}
