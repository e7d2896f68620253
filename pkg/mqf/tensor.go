package mqf

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// TensorIndexVersion is the on-disk version of the tensor index payload.
const TensorIndexVersion uint32 = 1

const (
	indexHeaderSize = 16
	indexEntrySize  = 40
)

// DType identifies a tensor element encoding. Values are stable.
type DType uint32

const (
	DTypeUnknown DType = iota
	DTypeU8
	// DTypeU4 holds two values per byte, low nibble first.
	DTypeU4
	DTypeI16
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeU8:
		return "u8"
	case DTypeU4:
		return "u4"
	case DTypeI16:
		return "i16"
	case DTypeI32:
		return "i32"
	default:
		return fmt.Sprintf("dtype(%d)", uint32(d))
	}
}

func (d DType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDType parses the String form of a dtype.
func ParseDType(s string) (DType, error) {
	for _, d := range []DType{DTypeU8, DTypeU4, DTypeI16, DTypeI32} {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return DTypeUnknown, fmt.Errorf("mqf: unknown dtype %q", s)
}

// Bytes is the stored size of n elements.
func (d DType) Bytes(n uint64) uint64 {
	switch d {
	case DTypeU8:
		return n
	case DTypeU4:
		return (n + 1) / 2
	case DTypeI16:
		return 2 * n
	case DTypeI32:
		return 4 * n
	default:
		return 0
	}
}

// Tensor is one tensor index entry. Offset is absolute within the file.
type Tensor struct {
	Name   string `json:"name"`
	DType  DType  `json:"dtype"`
	Elems  uint64 `json:"elems"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`

	data []byte
}

// Bytes returns the raw payload. It aliases the file data.
func (t Tensor) Bytes() []byte {
	return t.data
}

// Int16s decodes an i16 tensor.
func (t Tensor) Int16s() ([]int16, error) {
	if t.DType != DTypeI16 {
		return nil, fmt.Errorf("mqf: tensor %q is %v, not i16", t.Name, t.DType)
	}
	out := make([]int16, t.Elems)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(t.data[2*i:]))
	}
	return out, nil
}

// Int32s decodes an i32 tensor.
func (t Tensor) Int32s() ([]int32, error) {
	if t.DType != DTypeI32 {
		return nil, fmt.Errorf("mqf: tensor %q is %v, not i32", t.Name, t.DType)
	}
	out := make([]int32, t.Elems)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.data[4*i:]))
	}
	return out, nil
}

func findTensor(index []Tensor, name string) (Tensor, bool) {
	i := sort.Search(len(index), func(i int) bool { return index[i].Name >= name })
	if i < len(index) && index[i].Name == name {
		return index[i], true
	}
	return Tensor{}, false
}

// encodeTensorIndex writes the index payload. Entries are sorted by name.
func encodeTensorIndex(tensors []Tensor) []byte {
	sorted := append([]Tensor(nil), tensors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	stringsOff := indexHeaderSize + len(sorted)*indexEntrySize
	var names strings.Builder
	for _, t := range sorted {
		names.WriteString(t.Name)
	}
	out := make([]byte, stringsOff+names.Len())
	binary.LittleEndian.PutUint32(out[0:4], TensorIndexVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(sorted)))
	binary.LittleEndian.PutUint64(out[8:16], uint64(stringsOff))

	nameOff := 0
	for i, t := range sorted {
		e := out[indexHeaderSize+i*indexEntrySize:]
		binary.LittleEndian.PutUint32(e[0:4], uint32(nameOff))
		binary.LittleEndian.PutUint32(e[4:8], uint32(len(t.Name)))
		binary.LittleEndian.PutUint32(e[8:12], uint32(t.DType))
		binary.LittleEndian.PutUint64(e[16:24], t.Elems)
		binary.LittleEndian.PutUint64(e[24:32], t.Offset)
		binary.LittleEndian.PutUint64(e[32:40], t.Size)
		nameOff += len(t.Name)
	}
	copy(out[stringsOff:], names.String())
	return out
}

func decodeTensorIndex(sec []byte, fileSize uint64) ([]Tensor, error) {
	if len(sec) < indexHeaderSize {
		return nil, fmt.Errorf("%w: short tensor index", ErrCorruptFile)
	}
	if v := binary.LittleEndian.Uint32(sec[0:4]); v != TensorIndexVersion {
		return nil, fmt.Errorf("%w: tensor index version %d", ErrCorruptFile, v)
	}
	count := uint64(binary.LittleEndian.Uint32(sec[4:8]))
	stringsOff := binary.LittleEndian.Uint64(sec[8:16])
	if indexHeaderSize+count*indexEntrySize > stringsOff || stringsOff > uint64(len(sec)) {
		return nil, fmt.Errorf("%w: tensor index tables out of bounds", ErrCorruptFile)
	}
	names := sec[stringsOff:]

	out := make([]Tensor, count)
	for i := range out {
		e := sec[indexHeaderSize+i*indexEntrySize:]
		nameOff := uint64(binary.LittleEndian.Uint32(e[0:4]))
		nameLen := uint64(binary.LittleEndian.Uint32(e[4:8]))
		if nameOff+nameLen > uint64(len(names)) {
			return nil, fmt.Errorf("%w: tensor %d name out of bounds", ErrCorruptFile, i)
		}
		t := Tensor{
			Name:   string(names[nameOff : nameOff+nameLen]),
			DType:  DType(binary.LittleEndian.Uint32(e[8:12])),
			Elems:  binary.LittleEndian.Uint64(e[16:24]),
			Offset: binary.LittleEndian.Uint64(e[24:32]),
			Size:   binary.LittleEndian.Uint64(e[32:40]),
		}
		if end := t.Offset + t.Size; end < t.Offset || end > fileSize {
			return nil, fmt.Errorf("%w: tensor %q data out of bounds", ErrCorruptFile, t.Name)
		}
		// Size is bounded by fileSize here, so 2*Size cannot wrap. No dtype
		// stores more than two elements per byte.
		if t.Elems > 2*t.Size || t.DType.Bytes(t.Elems) != t.Size {
			return nil, fmt.Errorf("%w: tensor %q: %d %v elements in %d bytes", ErrCorruptFile, t.Name, t.Elems, t.DType, t.Size)
		}
		if i > 0 && out[i-1].Name >= t.Name {
			return nil, fmt.Errorf("%w: tensor index not sorted at %q", ErrCorruptFile, t.Name)
		}
		out[i] = t
	}
	return out, nil
}
