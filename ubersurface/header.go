package ubersurface

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/terrastream/gpucore"
)

// headerMagic identifies a valid uber-surface file.
const headerMagic = 0x55425346 // "UBSF"

// headerVersion is bumped when the on-disk layout changes.
const headerVersion = 1

// HeaderSize is the fixed size, in bytes, of the file header that
// precedes sample data.
const HeaderSize = 32

// Header is the fixed-size record at the start of every uber-surface
// file.
type Header struct {
	Width  uint32
	Height uint32
	Format gpucore.SampleFormat
}

func (h Header) bytesPerSample() int {
	n := h.Format.BytesPerSample()
	if n == 0 {
		n = 1
	}
	return n
}

// DataSize returns the number of sample bytes following the header.
func (h Header) DataSize() int64 {
	return int64(h.Width) * int64(h.Height) * int64(h.bytesPerSample())
}

func (h Header) encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Width)
	binary.LittleEndian.PutUint32(buf[12:16], h.Height)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Format))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("ubersurface: header too short (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return Header{}, fmt.Errorf("ubersurface: bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != headerVersion {
		return Header{}, fmt.Errorf("ubersurface: unsupported version %d", version)
	}
	return Header{
		Width:  binary.LittleEndian.Uint32(buf[8:12]),
		Height: binary.LittleEndian.Uint32(buf[12:16]),
		Format: gpucore.SampleFormat(binary.LittleEndian.Uint32(buf[16:20])),
	}, nil
}
