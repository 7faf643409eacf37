// Package membership provides the view of the cloud every node places keys by.
//
// Voting and failure detection are not part of this package. An IProvider only
// exposes the ordered member list and a generation counter; the store caches
// computed key homes per generation and recomputes them once it advances.
//
// Static is the provider used by the CLI and the tests. Its list comes from
// flags or a flatfile (one host:port per line) and changes only by Update.
package membership
