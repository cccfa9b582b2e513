package ubersurface

import (
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/internal/rect"
)

// Store is the authoritative, memory-mapped on-disk sample array for
// one terrain cell.
type Store struct {
	mu     sync.RWMutex
	file   *os.File
	data   mmap.MMap
	header Header
	closed bool
}

// Create makes a new uber-surface file at path sized for width x
// height samples in format, writes its header, and memory-maps it.
func Create(path string, width, height uint32, format gpucore.SampleFormat) (*Store, error) {
	header := Header{Width: width, Height: height, Format: format}
	size := int64(HeaderSize) + header.DataSize()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, terrastream.NewError(terrastream.SourceIOFailure, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("truncate: %w", err))
	}
	buf := header.encode()
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		f.Close()
		return nil, terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("write header: %w", err))
	}

	return mapStore(f, header)
}

// Open memory-maps an existing uber-surface file at path, validating
// its header.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, terrastream.NewError(terrastream.SourceIOFailure, err)
	}

	var hb [HeaderSize]byte
	if _, err := f.ReadAt(hb[:], 0); err != nil {
		f.Close()
		return nil, terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("read header: %w", err))
	}
	header, err := decodeHeader(hb[:])
	if err != nil {
		f.Close()
		return nil, terrastream.NewError(terrastream.SourceIOFailure, err)
	}

	return mapStore(f, header)
}

func mapStore(f *os.File, header Header) (*Store, error) {
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("mmap: %w", err))
	}
	return &Store{file: f, data: data, header: header}, nil
}

// Header returns the store's fixed header.
func (s *Store) Header() Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header
}

func (s *Store) offsetOf(x, y uint32) int64 {
	return int64(HeaderSize) + (int64(y)*int64(s.header.Width)+int64(x))*int64(s.header.bytesPerSample())
}

// ReadRect copies the samples covered by r out of the mapping.
func (s *Store) ReadRect(r rect.Rect) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("ubersurface: store is closed"))
	}
	if err := s.boundsCheckLocked(r); err != nil {
		return nil, err
	}

	bps := s.header.bytesPerSample()
	rowBytes := r.Width() * bps
	out := make([]byte, 0, rowBytes*r.Height())
	for y := r.MinY; y < r.MaxY; y++ {
		off := s.offsetOf(uint32(r.MinX), uint32(y))
		out = append(out, s.data[off:off+int64(rowBytes)]...)
	}
	return out, nil
}

// WriteRect writes data (row-major, tightly packed) into the region
// covered by r.
func (s *Store) WriteRect(r rect.Rect, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("ubersurface: store is closed"))
	}
	if err := s.boundsCheckLocked(r); err != nil {
		return err
	}

	bps := s.header.bytesPerSample()
	rowBytes := r.Width() * bps
	if len(data) != rowBytes*r.Height() {
		return fmt.Errorf("ubersurface: data length %d does not match rect %dx%d at %d bytes/sample", len(data), r.Width(), r.Height(), bps)
	}
	for y := r.MinY; y < r.MaxY; y++ {
		off := s.offsetOf(uint32(r.MinX), uint32(y))
		src := data[(y-r.MinY)*rowBytes : (y-r.MinY+1)*rowBytes]
		copy(s.data[off:off+int64(rowBytes)], src)
	}
	return nil
}

func (s *Store) boundsCheckLocked(r rect.Rect) error {
	if r.MinX < 0 || r.MinY < 0 || uint32(r.MaxX) > s.header.Width || uint32(r.MaxY) > s.header.Height {
		return fmt.Errorf("ubersurface: rect %+v out of bounds for %dx%d surface", r, s.header.Width, s.header.Height)
	}
	return nil
}

// Flush synchronizes the mapping to disk, as required before
// considering a write-back durable.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.data.Flush(); err != nil {
		return terrastream.NewError(terrastream.SourceIOFailure, fmt.Errorf("flush: %w", err))
	}
	return nil
}

// Close unmaps the file and closes its descriptor.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.data.Unmap(); err != nil {
		return fmt.Errorf("ubersurface: unmap: %w", err)
	}
	return s.file.Close()
}
