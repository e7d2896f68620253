package mqf

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// Builder collects a model description and named tensors and writes them
// as one container.
type Builder struct {
	Info    ModelInfo
	tensors map[string]Tensor
}

func NewBuilder(info ModelInfo) *Builder {
	return &Builder{Info: info, tensors: make(map[string]Tensor)}
}

// Add registers a tensor payload. data is retained until WriteFile.
func (b *Builder) Add(name string, dtype DType, elems uint64, data []byte) error {
	if name == "" {
		return fmt.Errorf("mqf: empty tensor name")
	}
	if _, dup := b.tensors[name]; dup {
		return fmt.Errorf("mqf: duplicate tensor %q", name)
	}
	if want := dtype.Bytes(elems); want == 0 && elems != 0 || uint64(len(data)) != want {
		return fmt.Errorf("mqf: tensor %q: %d bytes for %d %v elements", name, len(data), elems, dtype)
	}
	b.tensors[name] = Tensor{Name: name, DType: dtype, Elems: elems, Size: uint64(len(data)), data: data}
	return nil
}

func (b *Builder) AddU8(name string, v []uint8) error {
	return b.Add(name, DTypeU8, uint64(len(v)), v)
}

// AddU4 registers nibble-packed data holding elems values.
func (b *Builder) AddU4(name string, elems int, packed []byte) error {
	return b.Add(name, DTypeU4, uint64(elems), packed)
}

func (b *Builder) AddInt16s(name string, v []int16) error {
	data := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(x))
	}
	return b.Add(name, DTypeI16, uint64(len(v)), data)
}

func (b *Builder) AddInt32s(name string, v []int32) error {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(x))
	}
	return b.Add(name, DTypeI32, uint64(len(v)), data)
}

// Len is the number of registered tensors.
func (b *Builder) Len() int {
	return len(b.tensors)
}

// WriteFile writes the container to path. Every tensor a layer references
// must have been added.
func (b *Builder) WriteFile(path string) error {
	for _, l := range b.Info.Layers {
		for _, name := range l.Tensors() {
			if _, ok := b.tensors[name]; !ok {
				return fmt.Errorf("%w: layer %q references %q", ErrTensorNotFound, l.Name, name)
			}
		}
	}
	info, err := EncodeModelInfo(&b.Info)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.write(f, info); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (b *Builder) write(f *os.File, info []byte) error {
	w, err := NewWriter(f)
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionModelInfo, ModelInfoVersion, info); err != nil {
		return err
	}

	names := make([]string, 0, len(b.tensors))
	for name := range b.tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	sw, err := w.BeginSection(SectionTensorData, 1)
	if err != nil {
		return err
	}
	index := make([]Tensor, 0, len(names))
	for _, name := range names {
		t := b.tensors[name]
		if err := sw.Align(align); err != nil {
			return err
		}
		off, err := sw.Offset()
		if err != nil {
			return err
		}
		if _, err := sw.Write(t.data); err != nil {
			return err
		}
		t.Offset = off
		t.data = nil
		index = append(index, t)
	}
	if err := sw.End(); err != nil {
		return err
	}

	if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, encodeTensorIndex(index)); err != nil {
		return err
	}
	return w.Finalise()
}
