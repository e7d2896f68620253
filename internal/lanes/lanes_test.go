package lanes

import (
	"math/rand"
	"testing"
)

func packU2(vals []uint8) []byte {
	out := make([]byte, (len(vals)+3)/4)
	for i, v := range vals {
		out[i/4] |= (v & 0x3) << (2 * (i % 4))
	}
	return out
}

func TestSMLAD(t *testing.T) {
	t.Parallel()

	a := Pair(-3, 7)
	b := Pair(5, -2)
	if got := SMLAD(a, b, 100); got != 100-15-14 {
		t.Fatalf("SMLAD = %d, want %d", got, 100-15-14)
	}
}

func TestSSUB16WrapsPerLane(t *testing.T) {
	t.Parallel()

	got := SSUB16(Pair(0, 10), Pair(1, 3))
	if int16(got) != -1 || int16(got>>16) != 7 {
		t.Fatalf("SSUB16 lanes = (%d,%d), want (-1,7)", int16(got), int16(got>>16))
	}
}

func TestPKH(t *testing.T) {
	t.Parallel()

	a := uint32(0x11223344)
	b := uint32(0x55667788)
	if got := PKHBT(a, b, 16); got != 0x77883344 {
		t.Fatalf("PKHBT = %#x", got)
	}
	if got := PKHTB(b, a, 16); got != 0x55661122 {
		t.Fatalf("PKHTB = %#x", got)
	}
}

func TestReadPadU8(t *testing.T) {
	t.Parallel()

	lo, hi := ReadPadU8([]byte{10, 20, 30, 40})
	if lo != Pair(10, 30) || hi != Pair(20, 40) {
		t.Fatalf("ReadPadU8 = %#x %#x", lo, hi)
	}
}

func TestReadPadU4(t *testing.T) {
	t.Parallel()

	// nibbles n0..n7 = 1..8
	src := []byte{0x21, 0x43, 0x65, 0x87}
	got := ReadPadU4(src)
	want := [4]uint32{Pair(1, 5), Pair(2, 6), Pair(3, 7), Pair(4, 8)}
	if got != want {
		t.Fatalf("ReadPadU4 = %#x, want %#x", got, want)
	}
}

func TestUnpackU2ReorderedBlockOrder(t *testing.T) {
	t.Parallel()

	vals := make([]uint8, 16)
	for i := range vals {
		vals[i] = uint8(i % 4)
	}
	dst := make([]int16, 16)
	UnpackU2Reordered(dst, packU2(vals), 16, 0)

	want := []int16{0, 0, 1, 1, 2, 2, 3, 3, 0, 0, 1, 1, 2, 2, 3, 3}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d] = %d, want %d (dst=%v)", i, dst[i], want[i], dst)
		}
	}
}

func TestUnpackU2ReorderedMatchesStreamOrder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{0, 1, 5, 15, 16, 17, 20, 31, 32, 37, 64} {
		for _, off := range []uint8{0, 1, 3} {
			vals := make([]uint8, n)
			for i := range vals {
				vals[i] = uint8(rng.Intn(4))
			}
			src := packU2(vals)
			src = append(src, 0, 0, 0, 0)
			dst := make([]int16, n)
			UnpackU2Reordered(dst, src, n, off)

			order := U2StreamOrder(n)
			for m := range n {
				want := int16(vals[order[m]]) - int16(off)
				if dst[m] != want {
					t.Fatalf("n=%d off=%d: dst[%d] = %d, want %d", n, off, m, dst[m], want)
				}
			}
		}
	}
}

func TestUnpackU2ReorderedTailSubtractsOffset(t *testing.T) {
	t.Parallel()

	vals := []uint8{3, 2, 1}
	dst := make([]int16, 3)
	UnpackU2Reordered(dst, packU2(vals), 3, 2)
	want := []int16{1, 0, -1}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestAlignRowWeightRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	for _, bits := range []int{8, 4} {
		for _, cols := range []int{1, 3, 4, 7, 8, 9, 16, 21, 32} {
			orders := map[string]Order{
				"identity":  Identity(cols),
				"reordered": ReorderedOrder(cols, bits),
				"u2stream":  U2StreamOrder(cols),
			}
			for name, o := range orders {
				src := make([]uint8, cols)
				for i := range src {
					src[i] = uint8(rng.Intn(1 << bits))
				}
				row := make([]byte, RowBytes(bits, cols))
				AlignRow(row, src, bits, o)
				for m := range cols {
					if got := Weight(row, bits, cols, m); got != int32(src[o[m]]) {
						t.Fatalf("bits=%d cols=%d %s: slot %d = %d, want %d", bits, cols, name, m, got, src[o[m]])
					}
				}
			}
		}
	}
}

func TestReorderedOrderKeepsWeightsNatural(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{8, 4} {
		cols := 19
		src := make([]uint8, cols)
		for i := range src {
			src[i] = uint8(i % (1 << bits))
		}
		row := make([]byte, RowBytes(bits, cols))
		AlignRow(row, src, bits, ReorderedOrder(cols, bits))
		for i := range cols {
			var got uint8
			if bits == 4 {
				got = (row[i/2] >> (4 * (i % 2))) & 0x0F
			} else {
				got = row[i]
			}
			if got != src[i] {
				t.Fatalf("bits=%d: element %d = %d, want %d", bits, i, got, src[i])
			}
		}
	}
}
