package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"io"
	"net"
	"time"
)

const (
	// SentinelWriter terminates every frame written to a stream
	SentinelWriter byte = 0xAB
	// SentinelReader is the reader's answer once the frame was consumed completely
	SentinelReader byte = 0xCD

	// MaxFrameSize bounds a single frame (largest value plus headroom)
	MaxFrameSize = 256<<20 + 64<<10
)

// ErrBadSentinel is returned if a frame does not end with the expected sentinel
var ErrBadSentinel = errors.New("stream frame ended with an unexpected sentinel")

// WriteFrame writes a frame to the connection with the format:
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
// - 1 byte: 0xAB
//
// It then blocks until the reader answered with 0xCD, so the connection can be
// reused as soon as WriteFrame returns without error.
func WriteFrame(conn net.Conn, data []byte, bufferSize int, timeout time.Duration) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the maximum of %d", len(data), MaxFrameSize)
	}
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetDeadline(time.Time{})
	}

	ab := codec.NewStreamWriter(conn, bufferSize)
	ab.Put4(uint32(len(data))).PutRaw(data).Put1(SentinelWriter)
	if err := ab.Flush(); err != nil {
		return err
	}

	// wait for the reader's handshake
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("waiting for frame handshake: %w", err)
	}
	if ack[0] != SentinelReader {
		return ErrBadSentinel
	}
	return nil
}

// ReadFrame reads a frame written by WriteFrame and answers with the handshake byte.
// The writer waits for the handshake before writing again, so the stream reader
// never consumes bytes of the next frame.
func ReadFrame(conn net.Conn, bufferSize int) ([]byte, error) {
	ab := codec.NewStreamReader(conn, bufferSize)

	// Read header
	length := ab.Get4()
	if ab.Err() != nil {
		return nil, unwrapEOF(ab.Err())
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds the maximum of %d", length, MaxFrameSize)
	}

	// Read data and sentinel
	data := ab.GetRaw(int(length))
	sentinel := ab.Get1()
	if ab.Err() != nil {
		return nil, ab.Err()
	}
	if sentinel != SentinelWriter {
		return nil, ErrBadSentinel
	}

	// Release the writer
	if _, err := conn.Write([]byte{SentinelReader}); err != nil {
		return nil, err
	}
	return data, nil
}

// unwrapEOF reports a stream closed between two frames as io.EOF
func unwrapEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}
