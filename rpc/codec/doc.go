// Package codec provides the compact binary format used for every message
// exchanged between nodes of the cloud.
//
// The package focuses on:
//   - A single buffer type (AutoBuffer) that is either written or read
//   - Compressed integers, small values and -1 take a single byte
//   - Zero-run compression of numeric arrays
//   - Polymorphic object framing through a 2 byte type-id
//
// Key Components:
//
//   - AutoBuffer: Read XOR write cursor. In-memory write buffers double on
//     overflow, stream backed buffers flush to (or pull from) the underlying
//     connection. Errors are sticky and reported by Err().
//
//   - Compressed integers (PutInt / GetInt): values in [-1, 252] are written as
//     one byte, int16 values as marker + 2 bytes, int32 values as marker + 4 bytes.
//
//   - Zero-run arrays (PutA8, PutA4, PutA8d): leading zero count, non-zero run
//     length, trailing zero count (only for a non-empty run) and the run itself in
//     the narrowest width that holds all elements. A nil array is written as -1.
//     An array without zeros has leading and trailing counts of 0.
//
//   - Freezable / Registry: types that cross the wire implement explicit Write
//     and Read methods and are created on decode through a per-node registry
//     keyed by their static type-id.
//
// Thread Safety:
//
//	An AutoBuffer must only be used by one goroutine at a time.
//	The Registry is safe for concurrent use.
//
// Usage:
//
//	ab := codec.NewWriteBuffer(0)
//	ab.PutInt(300).PutA8([]int64{0, 0, 5, 7, 0})
//	ab.Flip()
//	n := ab.GetInt()    // 300
//	arr := ab.GetA8()   // [0 0 5 7 0]
package codec
