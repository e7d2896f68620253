package bitpack

import (
	"bytes"
	"math/rand"
	"testing"

	hwybitpack "github.com/ajroetker/go-highway/hwy/contrib/bitpack"
)

func TestPackU2ByteLayout(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 1)
	n := Pack(dst, []uint8{0, 1, 2, 3}, 2)
	if n != 1 {
		t.Fatalf("Pack wrote %d bytes, want 1", n)
	}
	if dst[0] != 0b11100100 {
		t.Fatalf("packed byte = %08b, want 11100100", dst[0])
	}
}

func TestPackU4ByteLayout(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2)
	Pack(dst, []uint8{0xA, 0x3, 0xF}, 4)
	if !bytes.Equal(dst, []byte{0x3A, 0x0F}) {
		t.Fatalf("packed = %#v, want [0x3a 0x0f]", dst)
	}
}

func TestWriterIgnoresPriorContents(t *testing.T) {
	t.Parallel()

	dst := []byte{0xFF, 0xFF}
	w := NewWriter(dst, 2)
	for _, v := range []uint8{1, 0, 0, 0, 2} {
		w.Put(v)
	}
	w.Flush()
	if !bytes.Equal(dst, []byte{0x01, 0x02}) {
		t.Fatalf("dst = %#v, want [0x01 0x02]", dst)
	}
	if w.Written() != 2 {
		t.Fatalf("Written = %d, want 2", w.Written())
	}
}

func TestPutMasksValue(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 1)
	w := NewWriter(dst, 4)
	w.Put(0x1F)
	w.Put(0x02)
	if dst[0] != 0x2F {
		t.Fatalf("dst[0] = %#x, want 0x2f", dst[0])
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	for _, bits := range []uint{2, 4} {
		for _, n := range []int{0, 1, 2, 3, 4, 5, 7, 8, 33, 100} {
			src := make([]uint8, n)
			for i := range src {
				src[i] = uint8(rng.Intn(1 << bits))
			}
			packed := make([]byte, PackedSize(n, bits))
			if got := Pack(packed, src, bits); got != len(packed) {
				t.Fatalf("bits=%d n=%d: wrote %d bytes, want %d", bits, n, got, len(packed))
			}
			out := make([]uint8, n)
			Unpack(out, packed, bits)
			if !bytes.Equal(out, src) {
				t.Fatalf("bits=%d n=%d: round trip %v != %v", bits, n, out, src)
			}
			for i := range src {
				if At(packed, bits, i) != src[i] {
					t.Fatalf("bits=%d n=%d: At(%d) = %d, want %d", bits, n, i, At(packed, bits, i), src[i])
				}
			}
		}
	}
}

func TestPackedSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		bits uint
		want int
	}{
		{0, 2, 0},
		{1, 2, 1},
		{4, 2, 1},
		{5, 2, 2},
		{6, 4, 3},
		{7, 4, 4},
		{3, 8, 3},
	}
	for _, tc := range tests {
		if got := PackedSize(tc.n, tc.bits); got != tc.want {
			t.Errorf("PackedSize(%d, %d) = %d, want %d", tc.n, tc.bits, got, tc.want)
		}
	}
}

func TestUnpackShortSource(t *testing.T) {
	t.Parallel()

	dst := []uint8{9, 9, 9, 9, 9, 9}
	if n := Unpack(dst, []byte{0xE4}, 2); n != 4 {
		t.Fatalf("Unpack decoded %d values, want 4", n)
	}
	if !bytes.Equal(dst, []uint8{0, 1, 2, 3, 9, 9}) {
		t.Fatalf("dst = %v, want [0 1 2 3 9 9]", dst)
	}
	if n := Unpack(nil, []byte{0xE4}, 2); n != 0 {
		t.Fatalf("Unpack into empty dst = %d, want 0", n)
	}
}

func TestPackMatchesHighwayLayout(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	for _, bits := range []uint{2, 4} {
		src := make([]uint8, 37)
		wide := make([]uint32, len(src))
		for i := range src {
			src[i] = uint8(rng.Intn(1 << bits))
			wide[i] = uint32(src[i])
		}
		got := make([]byte, PackedSize(len(src), bits))
		Pack(got, src, bits)
		want := make([]byte, len(got))
		hwybitpack.Pack32(wide, int(bits), want)
		if !bytes.Equal(got, want) {
			t.Fatalf("bits=%d: Pack = %x, highway = %x", bits, got, want)
		}
	}
}
