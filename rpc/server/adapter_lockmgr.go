package server

import (
	"encoding/hex"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"net/http"
	"time"
)

// defaultLockTimeout is the lease of a lock acquired without ?timeout
const defaultLockTimeout = 30 * time.Second

// lockAdapter maps the lock routes onto the lock manager of a node
type lockAdapter struct {
	node INode
}

// acquire tries to take the lock once. ?timeout sets the lease (a Go duration).
func (a *lockAdapter) acquire(w http.ResponseWriter, r *http.Request) {
	timeout := defaultLockTimeout
	if q := r.URL.Query().Get("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout %q", q)
			return
		}
		timeout = d
	}

	ok, owner, err := a.node.Locks().AcquireLock(r.Context(), keyParam(r), timeout)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.LockResponse{Ok: ok, Owner: hex.EncodeToString(owner)})
}

// release releases the lock held by ?owner (hex encoded)
func (a *lockAdapter) release(w http.ResponseWriter, r *http.Request) {
	owner, err := hex.DecodeString(r.URL.Query().Get("owner"))
	if err != nil || len(owner) == 0 {
		writeError(w, http.StatusBadRequest, "invalid owner %q", r.URL.Query().Get("owner"))
		return
	}

	ok, err := a.node.Locks().ReleaseLock(r.Context(), keyParam(r), owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.LockResponse{Ok: ok})
}
