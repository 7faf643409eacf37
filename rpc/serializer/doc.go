// Package serializer converts Messages to and from their wire representation.
//
// Every message starts with a fixed header:
//
//	+--------+-----------+-------------+-------+------------------+
//	| kind 1 | port 2    | task 4      | flags | body ...         |
//	+--------+-----------+-------------+-------+------------------+
//
// The flag byte is only present for RPC kinds (Exec, Ack, AckAck, Nack). The
// body is opaque to the serializer; its layout is owned by the messenger.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewExecMessage(port, task, body))
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(data, &received)
package serializer
