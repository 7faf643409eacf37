package common

// Static type-id table. Every type that crosses the wire is registered under one
// of these ids on every node. Ids below TypeIDUser are reserved.
const (
	_ uint16 = iota // 0 is codec.NullTypeID

	// store coherence tasks
	TypeIDGetKey
	TypeIDPutKey
	TypeIDInvalidate

	// store values
	TypeIDValue

	// map/reduce
	TypeIDDataset
	TypeIDChunk
	TypeIDMRRemote
	TypeIDMRSum
	TypeIDMRScale

	// lock leases
	TypeIDLease

	// messenger diagnostics
	TypeIDPing
)

// TypeIDUser is the first type-id available to applications
const TypeIDUser uint16 = 1000
