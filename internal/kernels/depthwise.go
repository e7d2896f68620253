package kernels

import (
	"fmt"

	"github.com/samcharles93/mixq/internal/bitpack"
	"github.com/samcharles93/mixq/internal/lanes"
	"github.com/samcharles93/mixq/internal/requant"
)

// DepthwiseOutBits is the width of depthwise outputs.
const DepthwiseOutBits = 2

// Padding is the number of virtual cells around each input edge.
type Padding struct {
	Left, Right, Top, Bottom int
}

// Depthwise describes one depthwise convolution over a square HWC input of
// 8-bit activations with 8-bit HWC weights (Weights[cell*InCh + c]).
// Thresholds must be a 2-bit table covering OutCh channels.
type Depthwise struct {
	Input      []byte
	InDim      int
	InCh       int
	Weights    []byte
	OutCh      int
	Kernel     int
	Pad        Padding
	Stride     int
	Bias       []int32
	OutDim     int
	ZeroIn     uint8
	ZeroW      uint8
	Thresholds requant.Table
}

// PixelBytes is the packed size of one output pixel. Every pixel starts on
// a fresh byte.
func (d Depthwise) PixelBytes() int {
	return bitpack.PackedSize(d.OutCh, DepthwiseOutBits)
}

// OutBytes is the size of the whole output tensor.
func (d Depthwise) OutBytes() int {
	return d.OutDim * d.OutDim * d.PixelBytes()
}

// ColBytes is the size of the column buffer.
func (d Depthwise) ColBytes() int {
	return d.Kernel * d.Kernel * d.InCh
}

func (d Depthwise) check() error {
	if d.InCh != d.OutCh {
		return fmt.Errorf("%w: %d input channels, %d output channels", ErrSizeMismatch, d.InCh, d.OutCh)
	}
	return nil
}

// im2col stages the receptive field of output pixel (oy, ox) into col.
// Cells outside the input hold ZeroIn.
func (d Depthwise) im2col(col []byte, oy, ox int) {
	ch := d.InCh
	p := 0
	for ky := oy*d.Stride - d.Pad.Top; ky < oy*d.Stride-d.Pad.Top+d.Kernel; ky++ {
		for kx := ox*d.Stride - d.Pad.Left; kx < ox*d.Stride-d.Pad.Left+d.Kernel; kx++ {
			dst := col[p : p+ch]
			if ky < 0 || ky >= d.InDim || kx < 0 || kx >= d.InDim {
				for i := range dst {
					dst[i] = d.ZeroIn
				}
			} else {
				off := (ky*d.InDim + kx) * ch
				copy(dst, d.Input[off:off+ch])
			}
			p += ch
		}
	}
}

// depthwiseRows drives im2col and the per-pixel compute over rows [y0, y1).
func depthwiseRows(out []byte, d Depthwise, col []byte, y0, y1 int, pixel func(w *bitpack.Writer, d Depthwise, col []byte)) error {
	if err := d.check(); err != nil {
		return err
	}
	y0 = max(y0, 0)
	y1 = min(y1, d.OutDim)
	stride := d.PixelBytes()
	for oy := y0; oy < y1; oy++ {
		for ox := 0; ox < d.OutDim; ox++ {
			d.im2col(col, oy, ox)
			off := (oy*d.OutDim + ox) * stride
			w := bitpack.NewWriter(out[off:off+stride], DepthwiseOutBits)
			pixel(w, d, col)
			w.Flush()
		}
	}
	return nil
}

func (Packed) DepthwiseConv(out []byte, d Depthwise, col []byte) error {
	return depthwiseRows(out, d, col, 0, d.OutDim, packedPixel)
}

func (Packed) DepthwiseRows(out []byte, d Depthwise, col []byte, y0, y1 int) error {
	return depthwiseRows(out, d, col, y0, y1, packedPixel)
}

// packedPixel computes four channels per step, two kernel cells at a time.
// A word read at cell k holds channels c..c+3; PKHBT/PKHTB regroup two
// cells so each 16-bit lane pair carries one channel across both cells.
func packedPixel(w *bitpack.Writer, d Depthwise, col []byte) {
	ch := d.InCh
	cells := d.Kernel * d.Kernel
	zw := lanes.Splat(int16(d.ZeroW))
	zi := lanes.Splat(int16(d.ZeroIn))

	c := 0
	for ; c+4 <= ch; c += 4 {
		s := [4]int32{d.Bias[c], d.Bias[c+1], d.Bias[c+2], d.Bias[c+3]}
		k := 0
		for ; k+2 <= cells; k += 2 {
			b0 := lanes.Word(col[k*ch+c:])
			b1 := lanes.Word(col[(k+1)*ch+c:])
			inB2 := lanes.PKHTB(b1, b0, 16)
			inB1 := lanes.PKHBT(b0, b1, 16)

			a0 := lanes.Word(d.Weights[k*ch+c:])
			a1 := lanes.Word(d.Weights[(k+1)*ch+c:])
			inA2 := lanes.PKHTB(a1, a0, 16)
			inA1 := lanes.PKHBT(a0, a1, 16)

			s[0] = lanes.SMLAD(lanes.SSUB16(lanes.UXTB16(inA1), zw), lanes.SSUB16(lanes.UXTB16(inB1), zi), s[0])
			s[1] = lanes.SMLAD(lanes.SSUB16(lanes.UXTB16(lanes.ROR(inA1, 8)), zw), lanes.SSUB16(lanes.UXTB16(lanes.ROR(inB1, 8)), zi), s[1])
			s[2] = lanes.SMLAD(lanes.SSUB16(lanes.UXTB16(inA2), zw), lanes.SSUB16(lanes.UXTB16(inB2), zi), s[2])
			s[3] = lanes.SMLAD(lanes.SSUB16(lanes.UXTB16(lanes.ROR(inA2, 8)), zw), lanes.SSUB16(lanes.UXTB16(lanes.ROR(inB2, 8)), zi), s[3])
		}
		if k < cells {
			for j := range 4 {
				s[j] += tap(d, col, k, c+j)
			}
		}
		for j := range 4 {
			w.Put(d.Thresholds.Level(c+j, s[j]))
		}
	}
	for ; c < ch; c++ {
		w.Put(d.Thresholds.Level(c, channelSum(d, col, c)))
	}
}

// tap is the zero-corrected product of kernel cell k on channel c.
func tap(d Depthwise, col []byte, k, c int) int32 {
	i := k*d.InCh + c
	return (int32(d.Weights[i]) - int32(d.ZeroW)) * (int32(col[i]) - int32(d.ZeroIn))
}

// channelSum accumulates one channel over the whole kernel window.
func channelSum(d Depthwise, col []byte, c int) int32 {
	sum := d.Bias[c]
	for k := range d.Kernel * d.Kernel {
		sum += tap(d, col, k, c)
	}
	return sum
}
