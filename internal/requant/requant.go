// Package requant reduces wide signed accumulators to small unsigned
// quantized levels, either through an affine multiply-shift ("folding") or
// through per-channel threshold tables.
package requant

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNonMonotonic is returned when a channel's boundaries decrease.
	ErrNonMonotonic = errors.New("requant: threshold table is not monotonic")
	// ErrShortTable is returned when a table holds fewer than Stride()
	// entries per channel.
	ErrShortTable = errors.New("requant: threshold table too short")
	// ErrBits is returned for an output width other than 2 or 4 bits.
	ErrBits = errors.New("requant: unsupported output width")
)

// Saturate clamps v into [0, 2^bits-1].
func Saturate(v int32, bits uint) uint8 {
	hi := int32(1)<<bits - 1
	if v < 0 {
		return 0
	}
	if v > hi {
		return uint8(hi)
	}
	return uint8(v)
}

// SplitShift splits a signed shift into a left pre-shift and a right
// post-shift, at most one of which is non-zero.
func SplitShift(n int8) (left, right uint) {
	if n > 0 {
		return 0, uint(n)
	}
	return uint(-int(n)), 0
}

// Fold is the affine requantization
//
//	out = sat(((int64(acc << left) * Mult) >> 32) >> right + ZeroOut)
//
// where (left, right) = SplitShift(Shift).
type Fold struct {
	Mult    int32
	Shift   int8
	ZeroOut uint8
}

// HighMul returns the upper 32 bits of the 64-bit product a*b.
func HighMul(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> 32)
}

// Prepared caches the shift split of a Fold for use inside a kernel loop.
type Prepared struct {
	mult        int32
	left, right uint
	zero        int32
	bits        uint
}

// Prepare resolves f for a bits-wide output.
func (f Fold) Prepare(bits uint) Prepared {
	left, right := SplitShift(f.Shift)
	return Prepared{mult: f.Mult, left: left, right: right, zero: int32(f.ZeroOut), bits: bits}
}

// Apply requantizes one accumulator.
func (p Prepared) Apply(acc int32) uint8 {
	v := HighMul(acc<<p.left, p.mult) >> p.right
	return Saturate(v+p.zero, p.bits)
}

// Apply requantizes one accumulator into a bits-wide level.
func (f Fold) Apply(acc int32, bits uint) uint8 {
	return f.Prepare(bits).Apply(acc)
}

// Table holds per-channel threshold boundaries for a Bits-wide output.
// Channel ch owns Values[ch*Stride() : (ch+1)*Stride()], of which the first
// 2^Bits-1 entries are boundaries and the last is padding.
type Table struct {
	Bits   uint
	Values []int16
}

// Stride is the number of entries reserved per channel.
func (t Table) Stride() int {
	return 1 << t.Bits
}

// Levels is the number of output levels.
func (t Table) Levels() int {
	return 1 << t.Bits
}

// Level classifies acc, truncated to int16, for channel ch: the result j
// satisfies Values[j-1] <= acc < Values[j] within the channel's boundaries,
// with the lowest and highest levels open-ended.
func (t Table) Level(ch int, acc int32) uint8 {
	s := int16(acc)
	stride := t.Stride()
	bounds := t.Values[ch*stride : ch*stride+stride-1]
	j := sort.Search(len(bounds), func(i int) bool { return s < bounds[i] })
	return uint8(j)
}

// Validate checks that the table covers channels and that every channel's
// boundaries are non-decreasing.
func (t Table) Validate(channels int) error {
	if t.Bits != 2 && t.Bits != 4 {
		return fmt.Errorf("%w: %d bits", ErrBits, t.Bits)
	}
	stride := t.Stride()
	if need := channels * stride; len(t.Values) < need {
		return fmt.Errorf("%w: have %d entries, need %d", ErrShortTable, len(t.Values), need)
	}
	for ch := range channels {
		b := t.Values[ch*stride : ch*stride+stride-1]
		for i := 1; i < len(b); i++ {
			if b[i] < b[i-1] {
				return fmt.Errorf("%w: channel %d index %d", ErrNonMonotonic, ch, i)
			}
		}
	}
	return nil
}
