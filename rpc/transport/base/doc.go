// Package base provides the stream framing and accept loop shared by the
// transport implementations.
//
// The package focuses on:
//   - Frame-based stream protocol with an explicit end-of-frame handshake
//   - Protocol-agnostic accept loop with connection upgrades
//
// Frame Format:
//
//	+-----------+----------------+------+        +------+
//	| length 4  | payload ...    | 0xAB |  --->  |      |
//	+-----------+----------------+------+        |      |
//	                                      <---   | 0xCD |
//	                                             +------+
//
// The writer does not reuse the connection before the reader answered with
// 0xCD. This guarantees that the reader consumed exactly one frame before the
// connection goes back to the pool, and lets the reader buffer aggressively.
//
// Key Components:
//
//   - WriteFrame / ReadFrame: Write and read one frame through stream backed
//     codec buffers, including the handshake.
//
//   - AcceptLoop: Accepts connections, applies an IConnUpgrader and hands them
//     to a handler goroutine. Temporary accept errors back off exponentially.
//
//   - ServeFrames: Reads frames from one connection until the peer closes it.
//
// Thread Safety:
//
//	A connection must only be used by one writer at a time. Pooling of stream
//	connections is done by the peer registry, not by this package.
package base
