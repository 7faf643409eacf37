package base

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("frame")},
		{"larger than buffer", bytes.Repeat([]byte("abc"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, r := net.Pipe()
			defer w.Close()
			defer r.Close()

			errc := make(chan error, 1)
			go func() { errc <- WriteFrame(w, tt.data, 256, time.Second) }()

			got, err := ReadFrame(r, 256)
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("expected %d bytes, got %d", len(tt.data), len(got))
			}
			if err := <-errc; err != nil {
				t.Errorf("WriteFrame failed: %v", err)
			}
		})
	}
}

func TestReadFrameBadSentinel(t *testing.T) {
	w, r := net.Pipe()
	defer w.Close()
	defer r.Close()

	go func() { _, _ = w.Write([]byte{0, 0, 0, 1, 'x', 0x00}) }()

	if _, err := ReadFrame(r, 64); !errors.Is(err, ErrBadSentinel) {
		t.Errorf("expected ErrBadSentinel, got %v", err)
	}
}

func TestReadFrameClosed(t *testing.T) {
	w, r := net.Pipe()
	defer r.Close()
	w.Close()

	if _, err := ReadFrame(r, 64); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
