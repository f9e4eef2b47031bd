// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. Any zlib reader accepts the output; the encoder needs no
// tables or window, which keeps it small enough for 8-bit targets.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

// MaxBlockSize is the largest payload a stored block can carry.
const MaxBlockSize = 0xFFFF

// DefaultBlockSize bounds the Writer's staging buffer.
const DefaultBlockSize = 256

var zlibHeader = [2]byte{0x78, 0x01} // deflate, 32K window, fastest

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("tinycompress: writer closed")

// Writer is an io.WriteCloser producing a zlib stream. Input is staged and
// flushed as one stored block per BlockSize bytes.
type Writer struct {
	w          io.Writer
	buf        []byte
	adler      hash.Hash32
	headerDone bool
	closed     bool
	err        error
}

// NewWriter returns a Writer with DefaultBlockSize staging.
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, DefaultBlockSize)
}

// NewWriterSize returns a Writer emitting blocks of at most size bytes.
func NewWriterSize(w io.Writer, size int) *Writer {
	if size <= 0 {
		size = DefaultBlockSize
	}
	if size > MaxBlockSize {
		size = MaxBlockSize
	}
	return &Writer{
		w:     w,
		buf:   make([]byte, 0, size),
		adler: adler32.New(),
	}
}

func (z *Writer) Write(p []byte) (int, error) {
	if z.closed {
		return 0, ErrClosed
	}
	if z.err != nil {
		return 0, z.err
	}
	n := 0
	for len(p) > 0 {
		room := cap(z.buf) - len(z.buf)
		if room == 0 {
			if err := z.flushBlock(false); err != nil {
				return n, err
			}
			continue
		}
		if room > len(p) {
			room = len(p)
		}
		z.buf = append(z.buf, p[:room]...)
		z.adler.Write(p[:room])
		p = p[room:]
		n += room
	}
	return n, nil
}

// Close writes the final block and the Adler-32 trailer. It does not close
// the underlying writer.
func (z *Writer) Close() error {
	if z.closed {
		return z.err
	}
	z.closed = true
	if z.err != nil {
		return z.err
	}
	if err := z.flushBlock(true); err != nil {
		return err
	}
	sum := z.adler.Sum32()
	z.err = z.write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return z.err
}

func (z *Writer) flushBlock(final bool) error {
	if !z.headerDone {
		if err := z.write(zlibHeader[:]); err != nil {
			return err
		}
		z.headerDone = true
	}
	var bfinal byte
	if final {
		bfinal = 1
	}
	n := uint16(len(z.buf))
	hdr := []byte{bfinal, byte(n), byte(n >> 8), byte(^n), byte(^n >> 8)}
	if err := z.write(hdr); err != nil {
		return err
	}
	if err := z.write(z.buf); err != nil {
		return err
	}
	z.buf = z.buf[:0]
	return nil
}

func (z *Writer) write(p []byte) error {
	if _, err := z.w.Write(p); err != nil {
		z.err = err
		return err
	}
	return nil
}

// Compress returns data wrapped as a complete zlib stream.
func Compress(data []byte) []byte {
	sum := adler32.Checksum(data)
	blocks := len(data)/MaxBlockSize + 1
	out := make([]byte, 0, len(zlibHeader)+5*blocks+len(data)+4)
	out = append(out, zlibHeader[:]...)
	for {
		n := len(data)
		final := n <= MaxBlockSize
		if !final {
			n = MaxBlockSize
		}
		var bfinal byte
		if final {
			bfinal = 1
		}
		l := uint16(n)
		out = append(out, bfinal, byte(l), byte(l>>8), byte(^l), byte(^l>>8))
		out = append(out, data[:n]...)
		data = data[n:]
		if final {
			break
		}
	}
	return append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}
