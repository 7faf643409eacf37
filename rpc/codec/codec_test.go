package codec

import (
	"bytes"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"
)

// TestCompressedIntSizes checks the number of bytes used per value range
func TestCompressedIntSizes(t *testing.T) {
	tests := []struct {
		value int
		want  []byte
	}{
		{-1, []byte{0}},
		{0, []byte{1}},
		{252, []byte{253}},
		{253, []byte{markerShort, 0x00, 0xFD}},
		{300, []byte{markerShort, 0x01, 0x2C}},
		{-2, []byte{markerShort, 0xFF, 0xFE}},
		{math.MaxInt16, []byte{markerShort, 0x7F, 0xFF}},
		{math.MaxInt16 + 1, []byte{markerInt, 0x00, 0x00, 0x80, 0x00}},
		{math.MinInt32, []byte{markerInt, 0x80, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		ab := NewWriteBuffer(0)
		ab.PutInt(tt.value)
		if got := ab.Bytes(); !bytes.Equal(got, tt.want) {
			t.Errorf("PutInt(%d) = %v, want %v", tt.value, got, tt.want)
		}
		if size := IntSize(tt.value); size != len(tt.want) {
			t.Errorf("IntSize(%d) = %d, want %d", tt.value, size, len(tt.want))
		}
		if got := ab.Flip().GetInt(); got != tt.value {
			t.Errorf("GetInt() = %d, want %d", got, tt.value)
		}
	}
}

// TestCompressedIntRoundTrip walks the int32 range with a coarse stride plus all boundaries
func TestCompressedIntRoundTrip(t *testing.T) {
	values := []int{-1, 0, 1, 252, 253, 254, 255, 256, math.MaxInt16, math.MinInt16,
		math.MaxInt16 + 1, math.MinInt16 - 1, math.MaxInt32, math.MinInt32}
	for x := int64(math.MinInt32); x <= math.MaxInt32; x += 65521 {
		values = append(values, int(x))
	}

	ab := NewWriteBuffer(16)
	for _, v := range values {
		ab.PutInt(v)
	}
	ab.Flip()
	for _, v := range values {
		if got := ab.GetInt(); got != v {
			t.Fatalf("round trip of %d returned %d", v, got)
		}
	}
	if ab.Err() != nil {
		t.Fatalf("unexpected error: %v", ab.Err())
	}
}

// TestPutIntOutOfRange ensures values outside int32 are rejected
func TestPutIntOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for value outside int32 range")
		}
	}()
	NewWriteBuffer(0).PutInt(math.MaxInt32 + 1)
}

// TestZeroRunEncoding pins the exact encoding of the array edge cases
func TestZeroRunEncoding(t *testing.T) {
	tests := []struct {
		name  string
		input []int64
		want  []byte
	}{
		{"nil", nil, []byte{0}},
		{"empty", []int64{}, []byte{1, 1}},
		{"all zero", []int64{0, 0, 0}, []byte{4, 1}},
		{"leading and trailing", []int64{0, 0, 5, 7, 0}, []byte{3, 3, 2, 1, 5, 7}},
		{"all non-zero", []int64{1, 2, 3}, []byte{1, 4, 1, 1, 1, 2, 3}},
		{"single non-zero", []int64{9}, []byte{1, 2, 1, 1, 9}},
		{"single zero", []int64{0}, []byte{2, 1}},
		{"inner zeros stay", []int64{4, 0, 4}, []byte{1, 4, 1, 1, 4, 0, 4}},
		{"short width", []int64{0, -3, 300}, []byte{2, 3, 1, 2, 0xFF, 0xFD, 0x01, 0x2C}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := NewWriteBuffer(0)
			ab.PutA8(tt.input)
			if got := ab.Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("PutA8(%v) = %v, want %v", tt.input, got, tt.want)
			}
			got := ab.Flip().GetA8()
			if !reflect.DeepEqual(got, tt.input) {
				t.Errorf("GetA8() = %#v, want %#v", got, tt.input)
			}
		})
	}
}

// TestZeroRunRoundTrip checks every combination of leading, run and trailing lengths
func TestZeroRunRoundTrip(t *testing.T) {
	fills := map[string]int64{
		"byte":  200,
		"short": -20000,
		"int":   1 << 30,
		"long":  1 << 40,
	}

	for name, fill := range fills {
		t.Run(name, func(t *testing.T) {
			for lead := 0; lead < 4; lead++ {
				for run := 0; run < 4; run++ {
					for trail := 0; trail < 4; trail++ {
						arr := make([]int64, lead+run+trail)
						for i := lead; i < lead+run; i++ {
							arr[i] = fill + int64(i)
						}
						ab := NewWriteBuffer(4)
						ab.PutA8(arr)
						got := ab.Flip().GetA8()
						if !reflect.DeepEqual(got, arr) {
							t.Fatalf("lead=%d run=%d trail=%d: got %v, want %v", lead, run, trail, got, arr)
						}
					}
				}
			}
		})
	}
}

// TestOtherArrayTypes round trips the int32, float64 and byte arrays
func TestOtherArrayTypes(t *testing.T) {
	ints := []int32{0, 0, -7, math.MaxInt32, 0}
	floats := []float64{0, 1.5, math.Copysign(0, -1), math.Pi, 0}
	narrow := []float64{0.5, 2, 0}
	raw := []byte("hello, cloud")

	ab := NewWriteBuffer(0)
	ab.PutA4(ints).PutA4(nil).PutA8d(floats).PutA8d(narrow).PutA8d(nil).PutA1(raw).PutA1(nil).PutStr("key")
	ab.Flip()

	if got := ab.GetA4(); !reflect.DeepEqual(got, ints) {
		t.Errorf("GetA4() = %v, want %v", got, ints)
	}
	if got := ab.GetA4(); got != nil {
		t.Errorf("GetA4() = %v, want nil", got)
	}
	gotFloats := ab.GetA8d()
	if len(gotFloats) != len(floats) {
		t.Fatalf("GetA8d() length = %d, want %d", len(gotFloats), len(floats))
	}
	for i := range floats {
		if math.Float64bits(gotFloats[i]) != math.Float64bits(floats[i]) {
			t.Errorf("float %d = %v, want %v", i, gotFloats[i], floats[i])
		}
	}
	if got := ab.GetA8d(); !reflect.DeepEqual(got, narrow) {
		t.Errorf("GetA8d() = %v, want %v", got, narrow)
	}
	if got := ab.GetA8d(); got != nil {
		t.Errorf("GetA8d() = %v, want nil", got)
	}
	if got := ab.GetA1(); !bytes.Equal(got, raw) {
		t.Errorf("GetA1() = %q, want %q", got, raw)
	}
	if got := ab.GetA1(); got != nil {
		t.Errorf("GetA1() = %v, want nil", got)
	}
	if got := ab.GetStr(); got != "key" {
		t.Errorf("GetStr() = %q, want %q", got, "key")
	}
}

// TestBufferGrowth writes far past the initial size of an in-memory buffer
func TestBufferGrowth(t *testing.T) {
	ab := NewWriteBuffer(2)
	for i := 0; i < 1000; i++ {
		ab.Put8(uint64(i))
	}
	if len(ab.Bytes()) != 8000 {
		t.Fatalf("expected 8000 bytes, got %d", len(ab.Bytes()))
	}
	ab.Flip()
	for i := 0; i < 1000; i++ {
		if got := ab.Get8(); got != uint64(i) {
			t.Fatalf("Get8() = %d, want %d", got, i)
		}
	}
}

// TestStreamBuffers writes through a small stream buffer and reads back through another
func TestStreamBuffers(t *testing.T) {
	var sink bytes.Buffer
	payload := bytes.Repeat([]byte{0xAA, 0x55}, 100)
	arr := make([]int64, 50)
	for i := range arr {
		arr[i] = int64(i * 1000)
	}

	w := NewStreamWriter(&sink, 8)
	w.PutInt(300).PutA1(payload).PutA8(arr).PutF8(math.E).PutStr("done")
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if w.Position() != sink.Len() {
		t.Errorf("Position() = %d, want %d", w.Position(), sink.Len())
	}

	r := NewStreamReader(bytes.NewReader(sink.Bytes()), 8)
	if got := r.GetInt(); got != 300 {
		t.Errorf("GetInt() = %d, want 300", got)
	}
	if got := r.GetA1(); !bytes.Equal(got, payload) {
		t.Errorf("GetA1() mismatch")
	}
	if got := r.GetA8(); !reflect.DeepEqual(got, arr) {
		t.Errorf("GetA8() = %v, want %v", got, arr)
	}
	if got := r.GetF8(); got != math.E {
		t.Errorf("GetF8() = %v, want %v", got, math.E)
	}
	if got := r.GetStr(); got != "done" {
		t.Errorf("GetStr() = %q, want done", got)
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}

	// reading past the end is recorded as a sticky error
	if got := r.Get4(); got != 0 {
		t.Errorf("Get4() past end = %d, want 0", got)
	}
	if !errors.Is(r.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("Err() = %v, want io.ErrUnexpectedEOF", r.Err())
	}
	if got := r.Get1(); got != 0 {
		t.Errorf("Get1() after error = %d, want 0", got)
	}
}

// TestShortRead checks the error reported for truncated in-memory data
func TestShortRead(t *testing.T) {
	ab := NewReadBuffer([]byte{markerInt, 0x01})
	if got := ab.GetInt(); got != 0 {
		t.Errorf("GetInt() = %d, want 0", got)
	}
	if !errors.Is(ab.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("Err() = %v, want io.ErrUnexpectedEOF", ab.Err())
	}
}

// TestCorruptLengths feeds lengths far beyond the available data and expects
// an error without the decoded value ever being allocated
func TestCorruptLengths(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		get  func(ab *AutoBuffer) any
	}{
		{"byte slice", []byte{markerInt, 0x7F, 0xFF, 0xFF, 0xFF, 0}, func(ab *AutoBuffer) any { return ab.GetA1() }},
		{"string", []byte{markerInt, 0x00, 0x10, 0x00, 0x00, 'a'}, func(ab *AutoBuffer) any { return ab.GetStr() }},
		{"int run", []byte{1, markerInt, 0x01, 0x00, 0x00, 0x00, 1, 8, 0}, func(ab *AutoBuffer) any { return ab.GetA8() }},
		{"float run", []byte{1, markerInt, 0x01, 0x00, 0x00, 0x00, 1, 4}, func(ab *AutoBuffer) any { return ab.GetA8d() }},
	}

	for _, tt := range tests {
		t.Run(tt.name+" in memory", func(t *testing.T) {
			ab := NewReadBuffer(tt.data)
			tt.get(ab)
			if !errors.Is(ab.Err(), io.ErrUnexpectedEOF) {
				t.Errorf("Err() = %v, want io.ErrUnexpectedEOF", ab.Err())
			}
		})
		t.Run(tt.name+" on a stream", func(t *testing.T) {
			ab := NewStreamReader(bytes.NewReader(tt.data), 8)
			tt.get(ab)
			if ab.Err() == nil {
				t.Errorf("expected an error")
			}
		})
	}

	t.Run("length above the maximum", func(t *testing.T) {
		var sink bytes.Buffer
		NewStreamWriter(&sink, 0).PutInt(MaxRawLen + 1).Flush()
		ab := NewStreamReader(io.MultiReader(&sink, zeros{}), 64)
		if got := ab.GetA1(); got != nil || ab.Err() == nil {
			t.Errorf("GetA1() = %d bytes, err %v, want an error", len(got), ab.Err())
		}
	})
}

// zeros is an endless stream of zero bytes
type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// TestModeMisuse ensures puts on read buffers and gets on write buffers panic
func TestModeMisuse(t *testing.T) {
	t.Run("put on read buffer", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("expected panic")
			}
		}()
		NewReadBuffer([]byte{1}).Put1(1)
	})
	t.Run("get on write buffer", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("expected panic")
			}
		}()
		NewWriteBuffer(0).Get1()
	})
}
