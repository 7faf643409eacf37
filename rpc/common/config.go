package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Default values
// --------------------------------------------------------------------------

const (
	// DefaultMaxPacketSize is the largest message sent as a single datagram.
	// Everything above goes over a pooled stream connection.
	DefaultMaxPacketSize = 1400

	DefaultConnectionsPerPeer = 2
	DefaultRetryInitial       = 50 * time.Millisecond
	DefaultRetryMax           = 5 * time.Second
	DefaultReofferInterval    = time.Second
	DefaultTickInterval       = 10 * time.Millisecond

	DefaultSchedulerLevels = 16
	DefaultWorkersPerLevel = 8

	DefaultCleanerInterval = 100 * time.Millisecond

	DefaultClientTimeout = 10 * time.Second
	DefaultClientRetries = 3
)

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// TCPConf holds the settings applied to every stream connection
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// SocketConf holds socket buffer sizes (0 keeps the OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TransportConfig configures the hybrid datagram/stream transport
type TransportConfig struct {
	// Endpoint is the host:port both the datagram socket and the stream listener bind to
	Endpoint string
	// MaxPacketSize is the largest payload sent connectionless
	MaxPacketSize int
	// StreamBufferSize is the buffer size used when reading stream frames
	StreamBufferSize int

	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Component configuration
// --------------------------------------------------------------------------

// MessengerConfig configures retries and connection pooling of the RPC protocol
type MessengerConfig struct {
	// RetryInitial is the first resend deadline, doubled on every retry
	RetryInitial time.Duration
	// RetryMax caps the resend deadline
	RetryMax time.Duration
	// ReofferInterval is how often an unacknowledged result is sent again
	ReofferInterval time.Duration
	// TickInterval is the resolution of the retry loop
	TickInterval time.Duration
	// ConnectionsPerPeer bounds the stream connection pool of every peer
	ConnectionsPerPeer int
}

// SchedulerConfig configures the priority scheduler
type SchedulerConfig struct {
	// Levels is the number of priorities, the highest priority is Levels-1
	Levels int
	// WorkersPerLevel is the worker budget of every priority queue
	WorkersPerLevel int
}

// StoreConfig configures the coherent store
type StoreConfig struct {
	// MemoryLimit is the number of cached payload bytes above which home values are
	// spilled to the persistence backend (0 disables spilling)
	MemoryLimit int64
	// Backend selects the persistence backend (memory, disk)
	Backend string
	// DataDir is the directory of the disk backend
	DataDir string
	// CleanerInterval is how often memory usage is checked
	CleanerInterval time.Duration
}

// NodeConfig holds the configuration of a single node
type NodeConfig struct {
	Transport TransportConfig
	Messenger MessengerConfig
	Scheduler SchedulerConfig
	Store     StoreConfig

	// Members is the initial ordered list of cloud members (host:port)
	Members []string
	// ClientMode nodes take part in the protocol but never become home of a key
	ClientMode bool

	// AdminEndpoint is the address of the admin HTTP server (empty disables it)
	AdminEndpoint string

	// Logging configuration
	LogLevel string
}

// ClientConfig configures the client of the admin API
type ClientConfig struct {
	// Endpoint is the base URL of the admin server (http://host:port)
	Endpoint string
	// Timeout bounds every request
	Timeout time.Duration
	// Retries is how often a failed read is repeated
	Retries int
}

// DefaultNodeConfig returns a configuration with every field set to its default
func DefaultNodeConfig(endpoint string) NodeConfig {
	return NodeConfig{
		Transport: TransportConfig{
			Endpoint:         endpoint,
			MaxPacketSize:    DefaultMaxPacketSize,
			StreamBufferSize: 64 * 1024,
			TCPConf: TCPConf{
				TCPNoDelay:   true,
				TCPLingerSec: -1,
			},
		},
		Messenger: MessengerConfig{
			RetryInitial:       DefaultRetryInitial,
			RetryMax:           DefaultRetryMax,
			ReofferInterval:    DefaultReofferInterval,
			TickInterval:       DefaultTickInterval,
			ConnectionsPerPeer: DefaultConnectionsPerPeer,
		},
		Scheduler: SchedulerConfig{
			Levels:          DefaultSchedulerLevels,
			WorkersPerLevel: DefaultWorkersPerLevel,
		},
		Store: StoreConfig{
			Backend:         "memory",
			DataDir:         "data",
			CleanerInterval: DefaultCleanerInterval,
		},
		LogLevel: "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *NodeConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node identity
	addSection("Node")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Client Mode", strconv.FormatBool(c.ClientMode))
	if c.AdminEndpoint != "" {
		addField("Admin Endpoint", c.AdminEndpoint)
	}

	// Transport
	addSection("Transport")
	addField("Max Packet Size", fmt.Sprintf("%d bytes", c.Transport.MaxPacketSize))
	addField("Stream Buffer", fmt.Sprintf("%d bytes", c.Transport.StreamBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))

	// Messenger
	addSection("Messenger")
	addField("Retry Initial", c.Messenger.RetryInitial.String())
	addField("Retry Max", c.Messenger.RetryMax.String())
	addField("Reoffer Interval", c.Messenger.ReofferInterval.String())
	addField("Connections Per Peer", strconv.Itoa(c.Messenger.ConnectionsPerPeer))

	// Scheduler
	addSection("Scheduler")
	addField("Levels", strconv.Itoa(c.Scheduler.Levels))
	addField("Workers Per Level", strconv.Itoa(c.Scheduler.WorkersPerLevel))

	// Store
	addSection("Store")
	addField("Backend", c.Store.Backend)
	if c.Store.Backend == "disk" {
		addField("Data Directory", c.Store.DataDir)
	}
	if c.Store.MemoryLimit > 0 {
		addField("Memory Limit", fmt.Sprintf("%d bytes", c.Store.MemoryLimit))
	} else {
		addField("Memory Limit", "unlimited")
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Members
	addSection("Members")
	for i, member := range c.Members {
		addField(strconv.Itoa(i), member)
	}

	return sb.String()
}
