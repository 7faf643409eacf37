package common

// --------------------------------------------------------------------------
// Admin API Structures
// --------------------------------------------------------------------------

// The admin HTTP API of a node exchanges JSON documents. Values of the key value
// routes travel as raw request and response bodies.

// Admin API routes
const (
	AdminRouteHealth  = "/healthz"
	AdminRouteMetrics = "/metrics"
	AdminRouteStats   = "/stats"
	AdminRouteCloud   = "/cloud"
	AdminRouteKV      = "/kv"
	AdminRouteLock    = "/lock"
)

// HeaderHome carries the home node of a key in key value responses
const HeaderHome = "X-Dcloud-Home"

// PeerInfo describes a peer as seen by the reporting node
type PeerInfo struct {
	Addr    string `json:"addr"`
	Handle  uint16 `json:"handle"`
	Epoch   uint32 `json:"epoch"`
	Ledger  int    `json:"ledger"`
	Pending int    `json:"pending"`
}

// CloudInfo describes the cloud as seen by the reporting node
type CloudInfo struct {
	Self       string     `json:"self"`
	Epoch      uint32     `json:"epoch"`
	ClientMode bool       `json:"client_mode"`
	Uptime     string     `json:"uptime"`
	Generation uint64     `json:"generation"`
	Members    []string   `json:"members"`
	Peers      []PeerInfo `json:"peers"`
}

// LockResponse is the reply of the lock routes. Owner is hex encoded.
type LockResponse struct {
	Ok    bool   `json:"ok"`
	Owner string `json:"owner,omitempty"`
}

// ErrorResponse is returned with every non 2xx status
type ErrorResponse struct {
	Err string `json:"error"`
}
