// Package mem implements an in-process transport. Several nodes of one process
// share a Network and address each other by arbitrary host:port strings.
//
// Datagrams are delivered on their own goroutine and can be dropped or
// duplicated at random (SetLoss) or selectively (SetFilter), which makes the
// package suitable for exercising the messenger's retry and dedupe paths.
// Stream connections are net.Pipe pairs that report the endpoint addresses.
package mem
