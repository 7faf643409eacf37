// Package persist provides the backends the store spills values to under memory
// pressure.
//
// Two implementations exist:
//
//   - memory: a concurrent map inside the process. Spilled values still occupy
//     memory but no longer count against the store's limit.
//   - disk: one checksummed file per key below a data directory.
package persist
