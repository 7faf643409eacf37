// Package client implements the client of the admin HTTP API of a cloud node.
//
// The client is used by the command line tools. It reaches a single node, which
// executes every operation as a member of the cloud: a get or put is routed to
// the home of the key by that node, not by the client.
//
// Key Components:
//
//   - Client: Get, Put, PutIfAbsent, Delete and Keys on user keys, node
//     information (Health, Cloud, Stats) and the lock manager operations.
//     Client implements lockmgr.ILockManager.
//
// Usage Example:
//
//	c, err := client.NewClient(common.ClientConfig{
//		Endpoint: "http://localhost:8080",
//		Timeout:  5 * time.Second,
//		Retries:  3,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if _, _, err := c.Put(ctx, "greeting", []byte("hello")); err != nil {
//		log.Fatal(err)
//	}
//	ok, owner, err := c.AcquireLock(ctx, "batch", 30*time.Second)
//
// Only reads are retried. A put whose response was lost is not repeated, the
// caller decides.
package client
