// Package lockmgr implements a locking mechanism on top of the coherent store
// (store.IStore). It provides a simple way to coordinate access to shared
// resources across the nodes of a cloud.
//
// The lockmgr only ever stores in the provided IStore and has no other internal
// state. Therefor it is safe to be created multiple times on the same store.
// As long as the same cloud is used every time, all locks will work as expected.
//
// Implementation Approach:
//
//	Every lock is a system key ("lock/<name>") holding a Lease: a random owner
//	ID (a uuid) and an optional expiry.
//
//	- Lock Acquisition: The lease is installed with PutIfMatch, expecting the
//	  key to be absent. The home node of the key decides the race, so only one
//	  requester can succeed.
//
//	- Expiry: A lease whose expiry passed is taken over by a PutIfMatch that
//	  expects exactly the expired lease, so two nodes never take over the same
//	  expired lease.
//
//	- Safe Release: ReleaseLock verifies that the requester owns the lease and
//	  removes it with a PutIfMatch expecting that lease.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(node.Store(), node.Types())
//
//	acquired, ownerID, err := locks.AcquireLock(ctx, "resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//	if acquired {
//	    // Use the resource safely
//	    released, err := locks.ReleaseLock(ctx, "resource:123", ownerID)
//	}
//
// Expiry compares wall clocks of different nodes, so timeouts should be large
// compared to the clock skew of the cloud.
package lockmgr
