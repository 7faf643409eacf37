// Package store provides the distributed, cache-coherent key-value table of a
// dCloud node.
//
// Every key has exactly one home node, selected from the ordered member list:
//
//   - user keys are placed by murmur3 hash modulo the number of members
//   - system keys may pin a list of candidate homes, the first live member wins
//   - chunk keys of a dataset are striped over the members in groups of 1, 2, 4,
//     8 and then 16 consecutive chunks per node, starting at the home of the
//     dataset's group, so datasets with equal groups are aligned
//
// The home holds the authoritative value. Other nodes cache copies they fetched
// or wrote, and the home tracks every holder in the replica set of the value.
//
// Coherence Protocol:
//
//	reader                 home                      replica holders
//	  | getKey --------------> | lockRead, addReplica      |
//	  | <------------- Ack --- |                           |
//	  | AckAck --------------> | unlockRead                |
//	  |                        |                           |
//	writer                     |                           |
//	  | putKey --------------> | tryLockWrite (no reads)   |
//	  |                        | invalidate -------------> | drop copy
//	  |                        | <-------------------- Ack |
//	  | <------------- Ack --- | publish                   |
//
// A cacheable get reply keeps a pending read on the home's value until the
// reader acknowledged the reply. A write waits for all pending reads, so it never
// overtakes a copy still in flight, and then invalidates every replica holder
// before it publishes the new value. Puts return once that happened, so any get
// started after a put returned sees the new value or a newer one.
//
// Puts of one node to the same key are chained and applied in the order they
// were started. A node always reads its own pending writes.
//
// Memory:
//
// Values are immutable byte payloads. Above StoreConfig.MemoryLimit the cleaner
// spills the least recently touched home values to the persistence backend
// (package persist) and drops cached copies. Puts block while usage is above
// twice the limit.
//
// Usage:
//
//	s := store.NewStore(config.Store, m, members, backend, false, set, stats)
//	k := s.Key("greeting")
//	if _, err := s.Put(ctx, k, store.NewValue([]byte("hello"))); err != nil {
//		...
//	}
//	v, err := s.Get(ctx, k)
package store
