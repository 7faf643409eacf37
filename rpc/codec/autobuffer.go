package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// DefaultBufferSize is the initial size of buffers created without an explicit size
	DefaultBufferSize = 1024

	// MaxRawLen bounds the length of a single decoded byte slice or string
	MaxRawLen = 256<<20 + 64<<10
)

// AutoBuffer is a binary cursor that is either in write or in read mode.
//
// A write buffer is backed by a growable byte slice (doubled on overflow) or by a
// stream (io.Writer) that receives the full buffer whenever it runs out of space.
// A read buffer is backed by a byte slice or by a stream (io.Reader) that is asked
// for more bytes whenever the buffer is exhausted.
//
// Errors are sticky: the first failed read or flush is recorded, every following
// getter returns zero values and Err reports the failure.
type AutoBuffer struct {
	buf  []byte
	pos  int // next byte to write / next byte to read
	lim  int // number of valid bytes (read mode only)
	read bool

	w   io.Writer
	r   io.Reader
	err error

	flushed int // bytes already flushed to w
}

// --------------------------------------------------------------------------
// Factory Functions
// --------------------------------------------------------------------------

// NewWriteBuffer creates an in-memory write buffer with the given initial size
func NewWriteBuffer(size int) *AutoBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &AutoBuffer{buf: make([]byte, size)}
}

// NewReadBuffer creates a read buffer over the given bytes. The bytes are not copied.
func NewReadBuffer(b []byte) *AutoBuffer {
	return &AutoBuffer{buf: b, lim: len(b), read: true}
}

// NewStreamWriter creates a write buffer that flushes to w whenever it is full
func NewStreamWriter(w io.Writer, size int) *AutoBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &AutoBuffer{buf: make([]byte, size), w: w}
}

// NewStreamReader creates a read buffer that pulls bytes from r on demand
func NewStreamReader(r io.Reader, size int) *AutoBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &AutoBuffer{buf: make([]byte, size), r: r, read: true}
}

// --------------------------------------------------------------------------
// Buffer State
// --------------------------------------------------------------------------

// Err returns the first error recorded by the buffer
func (ab *AutoBuffer) Err() error {
	return ab.err
}

// IsReading returns true if the buffer is in read mode
func (ab *AutoBuffer) IsReading() bool {
	return ab.read
}

// Position returns the number of bytes written or read so far
func (ab *AutoBuffer) Position() int {
	if ab.read {
		return ab.pos
	}
	return ab.flushed + ab.pos
}

// Remaining returns the number of buffered bytes not read yet
func (ab *AutoBuffer) Remaining() int {
	if !ab.read {
		return 0
	}
	return ab.lim - ab.pos
}

// Bytes returns the bytes written to an in-memory write buffer
func (ab *AutoBuffer) Bytes() []byte {
	if ab.read || ab.w != nil {
		panic("codec: Bytes called on a read or stream buffer")
	}
	return ab.buf[:ab.pos]
}

// Flip switches an in-memory write buffer into read mode over the bytes written so far
func (ab *AutoBuffer) Flip() *AutoBuffer {
	if ab.read || ab.w != nil {
		panic("codec: Flip called on a read or stream buffer")
	}
	ab.lim = ab.pos
	ab.pos = 0
	ab.read = true
	return ab
}

// Flush writes all buffered bytes to the underlying stream. It is a no-op for in-memory buffers.
func (ab *AutoBuffer) Flush() error {
	if ab.w == nil || ab.err != nil {
		return ab.err
	}
	if ab.pos > 0 {
		if _, err := ab.w.Write(ab.buf[:ab.pos]); err != nil {
			ab.err = fmt.Errorf("codec: flush failed: %w", err)
			return ab.err
		}
		ab.flushed += ab.pos
		ab.pos = 0
	}
	return nil
}

// fail records err if no error was recorded before
func (ab *AutoBuffer) fail(err error) {
	if ab.err == nil {
		ab.err = err
	}
}

// ensureWrite makes room for n more bytes
func (ab *AutoBuffer) ensureWrite(n int) bool {
	if ab.read {
		panic("codec: put on a read buffer")
	}
	if ab.err != nil {
		return false
	}
	if ab.pos+n <= len(ab.buf) {
		return true
	}

	// stream backed: hand the full buffer to the transport and reuse it
	if ab.w != nil {
		if err := ab.Flush(); err != nil {
			return false
		}
		if n > len(ab.buf) {
			ab.buf = make([]byte, n)
		}
		return true
	}

	// memory backed: double until it fits
	size := len(ab.buf) * 2
	if size == 0 {
		size = DefaultBufferSize
	}
	for size < ab.pos+n {
		size *= 2
	}
	grown := make([]byte, size)
	copy(grown, ab.buf[:ab.pos])
	ab.buf = grown
	return true
}

// ensureRead makes sure n unread bytes are buffered, pulling from the stream if needed
func (ab *AutoBuffer) ensureRead(n int) bool {
	if !ab.read {
		panic("codec: get on a write buffer")
	}
	if ab.err != nil {
		return false
	}
	if ab.pos+n <= ab.lim {
		return true
	}
	if ab.r == nil {
		ab.fail(fmt.Errorf("codec: need %d bytes, %d left: %w", n, ab.lim-ab.pos, io.ErrUnexpectedEOF))
		return false
	}

	// compact the unread tail to the front, then pull until n bytes are available
	copy(ab.buf, ab.buf[ab.pos:ab.lim])
	ab.lim -= ab.pos
	ab.pos = 0
	if n > len(ab.buf) {
		grown := make([]byte, n)
		copy(grown, ab.buf[:ab.lim])
		ab.buf = grown
	}
	read, err := io.ReadAtLeast(ab.r, ab.buf[ab.lim:], n-ab.lim)
	ab.lim += read
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		ab.fail(fmt.Errorf("codec: stream read failed: %w", err))
		return false
	}
	return true
}

// --------------------------------------------------------------------------
// Fixed Size Primitives
// --------------------------------------------------------------------------

// Put1 writes a single byte
func (ab *AutoBuffer) Put1(b byte) *AutoBuffer {
	if ab.ensureWrite(1) {
		ab.buf[ab.pos] = b
		ab.pos++
	}
	return ab
}

// Get1 reads a single byte
func (ab *AutoBuffer) Get1() byte {
	if !ab.ensureRead(1) {
		return 0
	}
	b := ab.buf[ab.pos]
	ab.pos++
	return b
}

// PutBool writes a boolean as a single byte
func (ab *AutoBuffer) PutBool(v bool) *AutoBuffer {
	if v {
		return ab.Put1(1)
	}
	return ab.Put1(0)
}

// GetBool reads a boolean written by PutBool
func (ab *AutoBuffer) GetBool() bool {
	return ab.Get1() != 0
}

// Put2 writes a 2 byte big endian integer
func (ab *AutoBuffer) Put2(v uint16) *AutoBuffer {
	if ab.ensureWrite(2) {
		binary.BigEndian.PutUint16(ab.buf[ab.pos:], v)
		ab.pos += 2
	}
	return ab
}

// Get2 reads a 2 byte big endian integer
func (ab *AutoBuffer) Get2() uint16 {
	if !ab.ensureRead(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(ab.buf[ab.pos:])
	ab.pos += 2
	return v
}

// Put4 writes a 4 byte big endian integer
func (ab *AutoBuffer) Put4(v uint32) *AutoBuffer {
	if ab.ensureWrite(4) {
		binary.BigEndian.PutUint32(ab.buf[ab.pos:], v)
		ab.pos += 4
	}
	return ab
}

// Get4 reads a 4 byte big endian integer
func (ab *AutoBuffer) Get4() uint32 {
	if !ab.ensureRead(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(ab.buf[ab.pos:])
	ab.pos += 4
	return v
}

// Put8 writes an 8 byte big endian integer
func (ab *AutoBuffer) Put8(v uint64) *AutoBuffer {
	if ab.ensureWrite(8) {
		binary.BigEndian.PutUint64(ab.buf[ab.pos:], v)
		ab.pos += 8
	}
	return ab
}

// Get8 reads an 8 byte big endian integer
func (ab *AutoBuffer) Get8() uint64 {
	if !ab.ensureRead(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(ab.buf[ab.pos:])
	ab.pos += 8
	return v
}

// PutF4 writes a float32
func (ab *AutoBuffer) PutF4(v float32) *AutoBuffer {
	return ab.Put4(math.Float32bits(v))
}

// GetF4 reads a float32
func (ab *AutoBuffer) GetF4() float32 {
	return math.Float32frombits(ab.Get4())
}

// PutF8 writes a float64
func (ab *AutoBuffer) PutF8(v float64) *AutoBuffer {
	return ab.Put8(math.Float64bits(v))
}

// GetF8 reads a float64
func (ab *AutoBuffer) GetF8() float64 {
	return math.Float64frombits(ab.Get8())
}

// --------------------------------------------------------------------------
// Raw Bytes
// --------------------------------------------------------------------------

// PutRaw writes b without a length prefix
func (ab *AutoBuffer) PutRaw(b []byte) *AutoBuffer {
	for len(b) > 0 && ab.err == nil {
		// write in buffer sized pieces so stream buffers never grow for large payloads
		n := len(b)
		if ab.w != nil && n > len(ab.buf) {
			n = len(ab.buf)
		}
		if !ab.ensureWrite(n) {
			break
		}
		copy(ab.buf[ab.pos:], b[:n])
		ab.pos += n
		b = b[n:]
	}
	return ab
}

// GetRaw reads exactly n bytes into a new slice. The slice is only allocated
// for bytes that are actually available, a corrupt length fails without
// reserving memory for it.
func (ab *AutoBuffer) GetRaw(n int) []byte {
	if n < 0 {
		ab.fail(fmt.Errorf("codec: negative length %d", n))
		return nil
	}
	if ab.r == nil {
		if !ab.ensureRead(n) {
			return nil
		}
		out := make([]byte, n)
		copy(out, ab.buf[ab.pos:ab.pos+n])
		ab.pos += n
		return out
	}

	// streams: grow the result as the bytes arrive
	if n > MaxRawLen {
		ab.fail(fmt.Errorf("codec: length %d exceeds the maximum of %d", n, MaxRawLen))
		return nil
	}
	out := make([]byte, 0, min(n, len(ab.buf)))
	for len(out) < n && ab.err == nil {
		chunk := min(n-len(out), len(ab.buf))
		if !ab.ensureRead(chunk) {
			return nil
		}
		out = append(out, ab.buf[ab.pos:ab.pos+chunk]...)
		ab.pos += chunk
	}
	if ab.err != nil {
		return nil
	}
	return out
}
