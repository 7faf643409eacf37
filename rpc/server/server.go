package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("admin")

// AdminServer is the HTTP server of a node. It serves health, metrics and cloud
// information and gives CLI clients access to the store and the lock manager.
type AdminServer struct {
	endpoint string
	node     INode
	srv      *http.Server

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewAdminServer creates an admin server for node listening on endpoint
//
// Usage:
//
//	s := server.NewAdminServer("127.0.0.1:8080", node)
//	if err := s.Start(); err != nil {
//		panic(err)
//	}
//	defer s.Shutdown(context.Background())
func NewAdminServer(endpoint string, node INode) *AdminServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &AdminServer{
		endpoint: endpoint,
		node:     node,
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router of the admin API
func (s *AdminServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(common.AdminRouteHealth, s.handleHealth)
	r.Get(common.AdminRouteMetrics, s.handleMetrics)
	r.Get(common.AdminRouteStats, s.handleStats)
	r.Get(common.AdminRouteCloud, s.handleCloud)

	kv := &kvAdapter{node: s.node}
	r.Route(common.AdminRouteKV, func(r chi.Router) {
		r.Get("/", kv.list)
		r.Get("/{key}", kv.get)
		r.Put("/{key}", kv.put)
		r.Delete("/{key}", kv.remove)
	})

	locks := &lockAdapter{node: s.node}
	r.Route(common.AdminRouteLock, func(r chi.Router) {
		r.Post("/{key}", locks.acquire)
		r.Delete("/{key}", locks.release)
	})
	return r
}

// Start binds the endpoint and serves in the background
func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Admin server on %s failed: %v", ln.Addr(), err)
		}
	}()
	Logger.Infof("Admin server listening on http://%s", ln.Addr())
	return nil
}

// Addr returns the bound address, empty before Start
func (s *AdminServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server and waits for running requests until ctx ends
func (s *AdminServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Node Routes
// --------------------------------------------------------------------------

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": s.node.Addr()})
}

func (s *AdminServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.node.Metrics().WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}

// statsResponse is the document served by the stats route
type statsResponse struct {
	Node   string                            `json:"node"`
	Store  any                               `json:"store"`
	Timers map[string]map[string]interface{} `json:"timers"`
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Node:   s.node.Addr(),
		Store:  s.node.Store().Stats(),
		Timers: s.node.Registry().GetAll(),
	})
}

func (s *AdminServer) handleCloud(w http.ResponseWriter, r *http.Request) {
	members := s.node.Members()
	info := common.CloudInfo{
		Self:       s.node.Addr(),
		Epoch:      s.node.Epoch(),
		ClientMode: s.node.ClientMode(),
		Uptime:     s.node.Uptime().Truncate(time.Second).String(),
		Generation: members.Generation(),
		Members:    members.Members(),
	}
	s.node.Peers().Range(func(p *peer.Peer) bool {
		if p.Addr() == info.Self {
			return true
		}
		info.Peers = append(info.Peers, common.PeerInfo{
			Addr:    p.Addr(),
			Handle:  p.Handle(),
			Epoch:   p.Epoch(),
			Ledger:  p.LedgerSize(),
			Pending: p.PendingCount(),
		})
		return true
	})
	writeJSON(w, http.StatusOK, info)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warningf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, common.ErrorResponse{Err: fmt.Sprintf(format, args...)})
}
