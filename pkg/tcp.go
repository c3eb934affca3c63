package pkg

import (
	"encoding/binary"
	"errors"
	"io"
)

const frame_header_size = 4

// MaxFrameSize bounds a single framed message.
const MaxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ConnReadBytes reads one frame: a 4 byte big-endian length followed by the payload.
func ConnReadBytes(conn io.Reader) ([]byte, error) {
	header := make([]byte, frame_header_size)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ConnWriteBytes writes buf as one length-prefixed frame.
func ConnWriteBytes(conn io.Writer, buf []byte) (int, error) {
	if len(buf) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	header := make([]byte, frame_header_size)
	binary.BigEndian.PutUint32(header, uint32(len(buf)))

	return conn.Write(append(header, buf...))
}
