// Package common provides core data structures and utilities shared across
// the cloud. It defines the wire header, configuration structures and the
// static type-id table used by every other package.
//
// The package focuses on:
//   - Message header definition for node to node communication
//   - Configuration structures for the node and its components
//   - Custom logging implementation on top of Dragonboat's logger package
//
// Key Components:
//
//   - Message: The frame exchanged between nodes. A control byte (MessageKind),
//     the sender's port, a task number, a flag byte for RPC kinds and the body.
//
//   - MessageKind / MessageFlags: Exec, Ack, AckAck, Nack and Rebooted, and the
//     stream / reply / retry variants of them.
//
//   - NodeConfig: Transport, messenger, scheduler and store settings plus the
//     initial member list, with a sectioned String() for startup logs.
//
//   - Type-ids: The static table of ids for every type that crosses the wire.
//
//   - Logger: Custom logger factory registered with Dragonboat's logger package
//     to get consistent formatting across all packages.
package common
