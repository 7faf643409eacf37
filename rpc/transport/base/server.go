package base

import (
	"errors"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"time"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IConnUpgrader applies protocol specific settings to an established connection
type IConnUpgrader interface {
	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn) error
}

// -----------------------------------------------------------
// Server Helper
// -----------------------------------------------------------

// AcceptLoop accepts connections until the listener is closed and hands every
// upgraded connection to handle in its own goroutine.
func AcceptLoop(listener net.Listener, upgrader IConnUpgrader, handle func(conn net.Conn)) {
	backoff := 5 * time.Millisecond
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// temporary accept errors (e.g. too many open files): wait and retry
			Logger.Errorf("Accept error on %s: %v", listener.Addr(), err)
			time.Sleep(backoff)
			backoff = min(2*backoff, time.Second)
			continue
		}
		backoff = 5 * time.Millisecond

		if upgrader != nil {
			if err := upgrader.UpgradeConnection(conn); err != nil {
				Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
				conn.Close()
				continue
			}
		}

		// Handle the connection in a goroutine
		go handle(conn)
	}
}

// ServeFrames reads frames from conn until the peer closes it and passes every
// frame to handle
func ServeFrames(conn net.Conn, bufferSize int, handle func(data []byte)) {
	defer conn.Close()

	for {
		data, err := ReadFrame(conn, bufferSize)

		// Case EOF: Connection closed by the peer
		if err == io.EOF {
			Logger.Debugf("Connection closed by %s", conn.RemoteAddr())
			return
		}

		// Case error: log and close connection
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				Logger.Errorf("Error reading frame from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		handle(data)
	}
}
