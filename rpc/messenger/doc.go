// Package messenger implements reliable remote task execution on top of an
// unreliable datagram transport.
//
// A call ships a Task to a peer, the peer runs Task.Compute and sends the task
// back with its result fields filled in. Every call is executed at most once per
// incarnation of the callee, no matter how often its request is lost, duplicated
// or retried.
//
// Protocol:
//
//	caller                                 callee
//	  | ---- Exec(task#, epoch, prio, task) --> |  ledger: Running, computes
//	  | <----------- Nack (busy) -------------- |  duplicate while Running
//	  | <----------- Ack(result | error) ------ |  ledger: Replied, reply cached
//	  | ---- AckAck(task#, low-water) --------> |  ledger: Done, reply released
//
//   - Task numbers are allocated per peer and never reused. The caller resends
//     an unanswered Exec with exponential backoff until the Ack arrives.
//
//   - The callee keeps a ledger entry for every task number it has seen. A
//     duplicate Exec is answered with Nack while the task runs and with the
//     cached reply once it has been sent. Replies that are not acknowledged are
//     re-offered periodically.
//
//   - Every Ack is answered with an AckAck, even for calls the caller already
//     forgot. The AckAck carries the caller's low-water mark (the smallest task
//     number still pending); the callee drops all ledger entries below it and
//     ignores Execs at or below it from then on.
//
//   - Each incarnation of a node has a random epoch. It travels in every Exec and
//     is announced with a Rebooted message on start. A peer that sees a new epoch
//     forgets the old ledger and resends its pending calls.
//
// Requests and replies larger than the transport's packet size are sent as a
// single frame over a pooled stream connection instead.
//
// Priorities:
//
// A remote task runs one priority above its caller (or at the fixed priority of a
// Prioritized task), and waiting for the reply is a managed block on the local
// scheduler. Calls whose priority would not be strictly above the caller's are
// programmer errors and panic.
//
// Usage:
//
//	m := messenger.NewMessenger(config.Messenger, tr, types, peers, s, set, stats)
//	if err := m.Start(config.Transport); err != nil {
//		...
//	}
//	m.Announce(members)
//
//	res, err := m.Call(ctx, m.Peers().Intern("10.0.0.2:7000"), &messenger.Ping{})
package messenger
