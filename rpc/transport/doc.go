// Package transport defines the interface between the messenger and the network.
//
// The package focuses on:
//   - A single interface for connectionless datagrams and stream connections
//   - Callbacks for received datagrams and accepted streams
//   - Multiple implementations (inet for UDP and TCP, mem for in-process clouds)
//
// Key Components:
//
//   - ITransport: Binds one endpoint for datagrams and streams, sends datagrams,
//     dials stream connections and reports the largest datagram it accepts.
//
//   - PacketHandleFunc / StreamHandleFunc: Callbacks invoked for every received
//     datagram and every accepted stream connection.
package transport
