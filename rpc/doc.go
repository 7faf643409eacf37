// Package rpc provides the communication layer of a dCloud node: the wire
// format, the peer-to-peer remote task protocol and the admin HTTP API.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, type ids and logging.
//
//   - codec: The AutoBuffer wire codec (fixed width and compressed integers,
//     strings, arrays and registered Freezable objects).
//
//   - serializer: Converts Messages to and from their fixed wire header.
//
//   - transport: Datagram and stream abstraction with an UDP/TCP implementation
//     (inet) and an in-process network for tests (mem).
//
//   - peer: The registry of remote nodes with their connection pools and the
//     ledgers of outgoing and incoming calls.
//
//   - messenger: Remote task execution with exactly-once semantics (Exec, Ack,
//     AckAck) on top of unreliable datagrams and pooled streams.
//
//   - server: The admin HTTP server exposing health, metrics, statistics, key
//     value and lock routes of a node.
//
//   - client: A client of the admin HTTP API, implementing the lock manager
//     interface.
package rpc
