// Package mqf implements the Model Quantized File format.
//
// An MQF file is a single memory-mappable container holding a quantized
// convolutional network: a JSON model description, a binary tensor index
// and the raw tensor payloads. All integers are little-endian.
//
//	header (40 bytes) | sections, each 8-byte aligned | section directory
package mqf

import (
	"encoding/binary"
	"errors"
)

// Format constants must never change.
const (
	// Magic is the file magic, "MQF\0".
	Magic = "MQF\x00"

	// CurrentMajor changes only with breaking format changes.
	CurrentMajor uint16 = 1
	// CurrentMinor changes when optional sections or fields are added.
	CurrentMinor uint16 = 0

	HeaderSize  = 40
	SectionSize = 24

	align = 8
)

var (
	ErrInvalidMagic     = errors.New("mqf: invalid magic")
	ErrUnsupportedMajor = errors.New("mqf: unsupported major version")
	ErrCorruptFile      = errors.New("mqf: corrupt file")
	ErrTensorNotFound   = errors.New("mqf: tensor not found")
)

type SectionType uint32

const (
	SectionModelInfo   SectionType = 0x0001
	SectionTensorIndex SectionType = 0x0002
	SectionTensorData  SectionType = 0x0003
)

func (t SectionType) String() string {
	switch t {
	case SectionModelInfo:
		return "model_info"
	case SectionTensorIndex:
		return "tensor_index"
	case SectionTensorData:
		return "tensor_data"
	default:
		return "unknown"
	}
}

// Header is the fixed file header.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == Magic
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Section is one section directory record.
type Section struct {
	Type    SectionType
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s Section) End() uint64 {
	return s.Offset + s.Size
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < HeaderSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < HeaderSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < SectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], uint32(s.Type))
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < SectionSize {
		return Section{}, false
	}
	return Section{
		Type:    SectionType(binary.LittleEndian.Uint32(src[0:4])),
		Version: binary.LittleEndian.Uint32(src[4:8]),
		Offset:  binary.LittleEndian.Uint64(src[8:16]),
		Size:    binary.LittleEndian.Uint64(src[16:24]),
	}, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
