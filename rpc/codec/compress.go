package codec

import (
	"fmt"
	"io"
	"math"
)

// Marker bytes of the compressed integer format. Values whose successor fits into
// [0, 253] are written as a single byte, everything else is prefixed by a marker.
const (
	markerShort byte = 254
	markerInt   byte = 255
	maxTiny          = 252

	// maxArrayLen bounds decoded array lengths (256MB of int64)
	maxArrayLen = 1 << 25
	// runPrealloc is the number of run elements reserved before they are read
	runPrealloc = 1 << 12
)

// --------------------------------------------------------------------------
// Compressed Integers
// --------------------------------------------------------------------------

// PutInt writes x in the compressed integer format.
//   - [-1, 252]  -> 1 byte (x+1)
//   - int16      -> marker 254 + 2 bytes
//   - int32      -> marker 255 + 4 bytes
//
// Values outside the int32 range are rejected with a panic.
func (ab *AutoBuffer) PutInt(x int) *AutoBuffer {
	switch {
	case x >= -1 && x <= maxTiny:
		return ab.Put1(byte(x + 1))
	case x >= math.MinInt16 && x <= math.MaxInt16:
		return ab.Put1(markerShort).Put2(uint16(int16(x)))
	case x >= math.MinInt32 && x <= math.MaxInt32:
		return ab.Put1(markerInt).Put4(uint32(int32(x)))
	default:
		panic(fmt.Sprintf("codec: %d does not fit the compressed integer format", x))
	}
}

// GetInt reads an integer written by PutInt
func (ab *AutoBuffer) GetInt() int {
	b := ab.Get1()
	switch b {
	case markerShort:
		return int(int16(ab.Get2()))
	case markerInt:
		return int(int32(ab.Get4()))
	default:
		return int(b) - 1
	}
}

// IntSize returns the number of bytes PutInt uses for x
func IntSize(x int) int {
	switch {
	case x >= -1 && x <= maxTiny:
		return 1
	case x >= math.MinInt16 && x <= math.MaxInt16:
		return 3
	default:
		return 5
	}
}

// --------------------------------------------------------------------------
// Length Prefixed Bytes and Strings
// --------------------------------------------------------------------------

// PutA1 writes a byte slice prefixed with its compressed length, nil is written as -1
func (ab *AutoBuffer) PutA1(b []byte) *AutoBuffer {
	if b == nil {
		return ab.PutInt(-1)
	}
	ab.PutInt(len(b))
	return ab.PutRaw(b)
}

// GetA1 reads a byte slice written by PutA1
func (ab *AutoBuffer) GetA1() []byte {
	n := ab.GetInt()
	if n == -1 || ab.err != nil {
		return nil
	}
	return ab.GetRaw(n)
}

// PutStr writes a string prefixed with its compressed length
func (ab *AutoBuffer) PutStr(s string) *AutoBuffer {
	ab.PutInt(len(s))
	return ab.PutRaw([]byte(s))
}

// GetStr reads a string written by PutStr
func (ab *AutoBuffer) GetStr() string {
	n := ab.GetInt()
	if n <= 0 || ab.err != nil {
		return ""
	}
	return string(ab.GetRaw(n))
}

// --------------------------------------------------------------------------
// Zero-Run Compressed Arrays
// --------------------------------------------------------------------------

// zeroRun returns the bounds [lo, hi) of the non-zero middle run of a
func zeroRun[T comparable](a []T, isZero func(T) bool) (lo, hi int) {
	lo = 0
	for lo < len(a) && isZero(a[lo]) {
		lo++
	}
	hi = len(a)
	for hi > lo && isZero(a[hi-1]) {
		hi--
	}
	return lo, hi
}

// putRunHeader writes the leading zero count, the run length and, for a non-empty
// run, the trailing zero count. It returns false if nothing else has to be written.
func (ab *AutoBuffer) putRunHeader(n, lo, hi int) bool {
	ab.PutInt(lo)
	ab.PutInt(hi - lo)
	if hi == lo {
		return false
	}
	ab.PutInt(n - hi)
	return true
}

// getRunHeader reads a header written by putRunHeader. nil reports a null array.
func (ab *AutoBuffer) getRunHeader() (lead, run, trail int, null bool) {
	lead = ab.GetInt()
	if lead == -1 {
		return 0, 0, 0, true
	}
	run = ab.GetInt()
	if run > 0 {
		trail = ab.GetInt()
	}
	if ab.err == nil && (lead < 0 || run < 0 || trail < 0 || lead+run+trail > maxArrayLen) {
		ab.fail(fmt.Errorf("codec: corrupt zero-run header %d/%d/%d", lead, run, trail))
	}
	// each element of the run takes at least one byte after the width byte
	if ab.err == nil && ab.r == nil && run > 0 && run+1 > ab.Remaining() {
		ab.fail(fmt.Errorf("codec: zero-run of %d elements, %d bytes left: %w", run, ab.Remaining(), io.ErrUnexpectedEOF))
	}
	return lead, run, trail, false
}

// elemWidth picks the narrowest width (1, 2, 4 or 8 bytes) holding all values in a
func elemWidth(a []int64) byte {
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	for _, v := range a {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	switch {
	case lo >= 0 && hi <= math.MaxUint8:
		return 1
	case lo >= math.MinInt16 && hi <= math.MaxInt16:
		return 2
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		return 4
	default:
		return 8
	}
}

// PutA8 writes an int64 array with zero-run compression: leading zero count,
// non-zero run length, trailing zero count (only if the run is not empty), the
// element width and the run's elements. nil is written as -1.
func (ab *AutoBuffer) PutA8(a []int64) *AutoBuffer {
	if a == nil {
		return ab.PutInt(-1)
	}
	lo, hi := zeroRun(a, func(v int64) bool { return v == 0 })
	if !ab.putRunHeader(len(a), lo, hi) {
		return ab
	}
	run := a[lo:hi]
	width := elemWidth(run)
	ab.Put1(width)
	for _, v := range run {
		switch width {
		case 1:
			ab.Put1(byte(v))
		case 2:
			ab.Put2(uint16(int16(v)))
		case 4:
			ab.Put4(uint32(int32(v)))
		default:
			ab.Put8(uint64(v))
		}
	}
	return ab
}

// GetA8 reads an array written by PutA8
func (ab *AutoBuffer) GetA8() []int64 {
	lead, run, trail, null := ab.getRunHeader()
	if null || ab.err != nil {
		return nil
	}
	if run == 0 {
		return make([]int64, lead+trail)
	}
	out := make([]int64, lead, lead+min(run, runPrealloc))
	width := ab.Get1()
	for i := 0; i < run && ab.err == nil; i++ {
		switch width {
		case 1:
			out = append(out, int64(ab.Get1()))
		case 2:
			out = append(out, int64(int16(ab.Get2())))
		case 4:
			out = append(out, int64(int32(ab.Get4())))
		case 8:
			out = append(out, int64(ab.Get8()))
		default:
			ab.fail(fmt.Errorf("codec: invalid element width %d", width))
			return nil
		}
	}
	if ab.err != nil {
		return nil
	}
	return append(out, make([]int64, trail)...)
}

// PutA4 writes an int32 array with the same zero-run compression as PutA8
func (ab *AutoBuffer) PutA4(a []int32) *AutoBuffer {
	if a == nil {
		return ab.PutInt(-1)
	}
	wide := make([]int64, len(a))
	for i, v := range a {
		wide[i] = int64(v)
	}
	return ab.PutA8(wide)
}

// GetA4 reads an array written by PutA4
func (ab *AutoBuffer) GetA4() []int32 {
	wide := ab.GetA8()
	if wide == nil {
		return nil
	}
	out := make([]int32, len(wide))
	for i, v := range wide {
		out[i] = int32(v)
	}
	return out
}

// PutA8d writes a float64 array with zero-run compression. Only positive zero counts
// as zero so that -0.0 survives the round trip. The run is written as float32 when
// every element is exactly representable, as float64 otherwise.
func (ab *AutoBuffer) PutA8d(a []float64) *AutoBuffer {
	if a == nil {
		return ab.PutInt(-1)
	}
	lo, hi := zeroRun(a, func(v float64) bool { return math.Float64bits(v) == 0 })
	if !ab.putRunHeader(len(a), lo, hi) {
		return ab
	}
	run := a[lo:hi]
	var width byte = 4
	for _, v := range run {
		if math.Float64bits(float64(float32(v))) != math.Float64bits(v) {
			width = 8
			break
		}
	}
	ab.Put1(width)
	for _, v := range run {
		if width == 4 {
			ab.PutF4(float32(v))
		} else {
			ab.PutF8(v)
		}
	}
	return ab
}

// GetA8d reads an array written by PutA8d
func (ab *AutoBuffer) GetA8d() []float64 {
	lead, run, trail, null := ab.getRunHeader()
	if null || ab.err != nil {
		return nil
	}
	if run == 0 {
		return make([]float64, lead+trail)
	}
	out := make([]float64, lead, lead+min(run, runPrealloc))
	width := ab.Get1()
	for i := 0; i < run && ab.err == nil; i++ {
		switch width {
		case 4:
			out = append(out, float64(ab.GetF4()))
		case 8:
			out = append(out, ab.GetF8())
		default:
			ab.fail(fmt.Errorf("codec: invalid float width %d", width))
			return nil
		}
	}
	if ab.err != nil {
		return nil
	}
	return append(out, make([]float64, trail)...)
}
