package datasource

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FileReaderAt is the minimal capability a backing file handle must
// provide: positioned reads, so multiple FileRangePackets can share one
// open file concurrently without racing over a shared cursor.
type FileReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// FileRangePacket is a Source backed by a file handle plus a byte
// range. It implements AsyncSource so streaming can prefetch bytes off the calling goroutine.
type FileRangePacket struct {
	mu       sync.Mutex
	file     FileReaderAt
	offset   int64
	size     int64
	rowPitch uint64
	consumed bool

	loadOnce sync.Once
	data     []byte
	loadErr  error
}

// NewFileRangePacket describes a Source that reads size bytes starting
// at offset from file. rowPitch is the byte stride between rows, or 0
// if the range has no row structure.
func NewFileRangePacket(file FileReaderAt, offset, size int64, rowPitch uint64) *FileRangePacket {
	return &FileRangePacket{file: file, offset: offset, size: size, rowPitch: rowPitch}
}

// BeginBackgroundLoad starts reading the range in a new goroutine and
// returns a channel that receives the result (nil on success) once.
func (p *FileRangePacket) BeginBackgroundLoad(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := p.load()
		select {
		case done <- err:
		case <-ctx.Done():
		}
	}()
	return done
}

func (p *FileRangePacket) load() error {
	p.loadOnce.Do(func() {
		buf := make([]byte, p.size)
		n, readErr := p.file.ReadAt(buf, p.offset)
		if readErr != nil && readErr != io.EOF {
			p.loadErr = fmt.Errorf("datasource: read range [%d,%d): %w", p.offset, p.offset+p.size, readErr)
			return
		}
		if int64(n) != p.size {
			p.loadErr = fmt.Errorf("datasource: short read: got %d of %d bytes", n, p.size)
			return
		}
		p.data = buf[:n]
	})
	return p.loadErr
}

// GetBytes implements Source. If BeginBackgroundLoad was not called
// first, GetBytes performs the read synchronously on the calling
// goroutine (the I/O error, if any, maps to source-io-failure at the
// caller — see the root package's Kind enum).
func (p *FileRangePacket) GetBytes(subresource int) ([]byte, error) {
	if subresource != 0 {
		return nil, ErrSubresourceRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return nil, ErrConsumed
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	p.consumed = true
	return p.data, nil
}

// RowPitch implements Source.
func (p *FileRangePacket) RowPitch(subresource int) uint64 {
	if subresource != 0 {
		return 0
	}
	return p.rowPitch
}

// SlicePitch implements Source.
func (p *FileRangePacket) SlicePitch(int) uint64 { return 0 }

// SubresourceCount implements Source.
func (p *FileRangePacket) SubresourceCount() int { return 1 }
