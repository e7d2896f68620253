package mqf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened MQF container. Slices returned by its accessors alias
// the file data and must not be used after Close.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool

	index []Tensor
}

// Open maps an MQF file read-only and validates its structure.
// If mmap is unavailable, it falls back to ReadAt-based loading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < HeaderSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: size %d", ErrCorruptFile, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		mf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return mf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates an MQF from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// Parse validates an in-memory container.
func Parse(data []byte) (*File, error) {
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, fmt.Errorf("%w: short header", ErrCorruptFile)
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMajor, hdr.Major)
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header says %d bytes, file has %d", ErrCorruptFile, hdr.FileSize, len(data))
	}
	if hdr.HeaderSize < HeaderSize || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %d", ErrCorruptFile, hdr.HeaderSize)
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*SectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*SectionSize
		sections[i], _ = decodeSection(data[start : start+SectionSize])
	}

	for i, s := range sections {
		end := s.End()
		switch {
		case end < s.Offset || end > uint64(len(data)):
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case s.Offset < uint64(hdr.HeaderSize):
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(s.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case s.Offset%align != 0:
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, align)
		}
	}

	mf := &File{Data: data, Header: &hdr, Sections: sections, mmapped: mmapped}
	if sec := mf.Section(SectionTensorIndex); sec != nil {
		index, err := decodeTensorIndex(mf.SectionData(sec), uint64(len(data)))
		if err != nil {
			return nil, err
		}
		mf.index = index
	}
	return mf, nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.index = nil
	f.mmapped = false
	return err
}

// Section returns the first section of type t, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if f.Sections[i].Type == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns the payload of s without copying.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.End()
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[int(s.Offset):int(end)]
}

// ModelInfo decodes the model description section.
func (f *File) ModelInfo() (*ModelInfo, error) {
	sec := f.Section(SectionModelInfo)
	if sec == nil {
		return nil, fmt.Errorf("%w: missing %s section", ErrCorruptFile, SectionModelInfo)
	}
	return DecodeModelInfo(f.SectionData(sec))
}

// Tensors lists the tensor index in name order.
func (f *File) Tensors() []Tensor {
	return f.index
}

// Tensor looks up a tensor by name.
func (f *File) Tensor(name string) (Tensor, error) {
	t, ok := findTensor(f.index, name)
	if !ok {
		return Tensor{}, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	t.data = f.Data[t.Offset : t.Offset+t.Size]
	return t, nil
}
