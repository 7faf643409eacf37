// Package peer provides the registry of remote nodes and the per-peer state of
// the RPC protocol.
//
// Key Components:
//
//   - Registry: Interns exactly one Peer per address (host:port). Peers also carry
//     a small stable handle that can stand in for the address in ledgers.
//
//   - Peer: Owns the bounded stream connection pool (Acquire / Release), the
//     generator of task numbers for outgoing calls, the ledger of outgoing calls
//     (PendingCall) and the ledger of incoming calls (InProgressCall) together
//     with the rolled-up watermark below which every incoming task number is
//     known to be complete.
//
// Thread Safety:
//
// All ledgers are lock-free concurrent maps; watermark, epoch and counters are
// updated with compare-and-swap. Acquire may block and should be wrapped in a
// managed block of the caller's scheduler.
package peer
