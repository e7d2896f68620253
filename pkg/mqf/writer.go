package mqf

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

var (
	errFinalised   = errors.New("mqf: writer already finalised")
	errInProgress  = errors.New("mqf: section write in progress")
	errDuplicate   = errors.New("mqf: duplicate section type")
	errEnded       = errors.New("mqf: section writer ended")
	errNotActive   = errors.New("mqf: section writer not active")
	errBadPosition = errors.New("mqf: invalid file position")
)

// Writer builds an MQF file in a streaming fashion. It reserves the header
// up front and patches it in Finalise.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool
	flags    uint64
	padBuf   []byte

	mu sync.Mutex
}

// SectionWriter streams one section payload. It must be ended before any
// other section is written. Padding added with Align counts towards the
// section size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("mqf: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(HeaderSize); err != nil {
		return nil, err
	}
	return w, nil
}

// AddFlags ORs format flags into the header.
func (w *Writer) AddFlags(flags uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flags |= flags
}

func (w *Writer) checkStart(typ SectionType) error {
	if w.closed {
		return errFinalised
	}
	if w.open != nil {
		return errInProgress
	}
	if _, ok := w.seen[typ]; ok {
		return errDuplicate
	}
	return nil
}

// WriteSection writes a whole section payload. A section type may only be
// written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkStart(typ); err != nil {
		return err
	}
	if err := w.alignTo(align); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(data); err != nil {
		return err
	}
	w.sections = append(w.sections, Section{Type: typ, Version: version, Offset: uint64(offset), Size: uint64(len(data))})
	w.seen[typ] = struct{}{}
	return nil
}

// BeginSection starts streaming a section payload.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkStart(typ); err != nil {
		return nil, err
	}
	if err := w.alignTo(align); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errEnded
	}
	if sw.w.open != sw {
		return errNotActive
	}
	return nil
}

// Offset returns the absolute file offset the next Write lands at.
func (sw *SectionWriter) Offset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align pads with zeros until the file position is a multiple of n.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	return sw.w.f.Write(p)
}

// End records the section in the directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errBadPosition
	}
	sw.w.sections = append(sw.w.sections, Section{
		Type:    sw.typ,
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is End, for use with defer.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory, patches the header and syncs the
// file. The writer must not be used afterwards.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errFinalised
	}
	if w.open != nil {
		return errInProgress
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(align); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	var secBuf [SectionSize]byte
	for _, s := range w.sections {
		encodeSection(secBuf[:], s)
		if _, err := w.f.Write(secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	h := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       HeaderSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(dirOffset),
		FileSize:         uint64(fileSize),
		Flags:            w.flags,
	}
	copy(h.Magic[:], Magic)
	var hdrBuf [HeaderSize]byte
	encodeHeader(hdrBuf[:], h)
	if _, err := w.f.WriteAt(hdrBuf[:], 0); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if mod := pos % n; mod != 0 {
		return w.writeZeros(int(n - mod))
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if _, err := w.f.Write(w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
