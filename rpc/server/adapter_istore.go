package server

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/go-chi/chi/v5"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// maxBodySize bounds the value accepted by a put
const maxBodySize = 64 << 20

// kvAdapter maps the key value routes onto the store of a node. Route keys are
// user keys; the home node of the key is reported in common.HeaderHome.
type kvAdapter struct {
	node INode
}

// list returns the names of the user keys held by the node, ?home=true limits
// the list to keys the node is home of
func (a *kvAdapter) list(w http.ResponseWriter, r *http.Request) {
	homeOnly := r.URL.Query().Get("home") == "true"
	var names []string
	for _, k := range a.node.Store().LocalKeys(homeOnly) {
		if k.Type() == store.KeyUser {
			names = append(names, k.Name())
		}
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (a *kvAdapter) get(w http.ResponseWriter, r *http.Request) {
	s := a.node.Store()
	k := s.Key(keyParam(r))
	w.Header().Set(common.HeaderHome, s.HomeOf(k))

	v, err := s.Get(r.Context(), k)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "key %s not found", k.Name())
		return
	}
	writeValue(w, http.StatusOK, v)
}

// put installs the request body. With "If-None-Match: *" the value is only
// installed if the key is absent, 412 is returned otherwise.
func (a *kvAdapter) put(w http.ResponseWriter, r *http.Request) {
	s := a.node.Store()
	k := s.Key(keyParam(r))
	w.Header().Set(common.HeaderHome, s.HomeOf(k))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "reading value: %v", err)
		return
	}

	if r.Header.Get("If-None-Match") == "*" {
		cur, ok, err := s.PutIfMatch(r.Context(), k, store.NewValue(data), nil)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !ok {
			writeValue(w, http.StatusPreconditionFailed, cur)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	prev, err := s.Put(r.Context(), k, store.NewValue(data))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev == nil {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeValue(w, http.StatusOK, prev)
}

func (a *kvAdapter) remove(w http.ResponseWriter, r *http.Request) {
	s := a.node.Store()
	k := s.Key(keyParam(r))
	w.Header().Set(common.HeaderHome, s.HomeOf(k))

	prev, err := s.Remove(r.Context(), k)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev == nil {
		writeError(w, http.StatusNotFound, "key %s not found", k.Name())
		return
	}
	writeValue(w, http.StatusOK, prev)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// keyParam returns the unescaped key of a route
func keyParam(r *http.Request) string {
	key := chi.URLParam(r, "key")
	if unescaped, err := url.PathUnescape(key); err == nil {
		return unescaped
	}
	return key
}

func writeValue(w http.ResponseWriter, status int, v *store.Value) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	if v != nil {
		_, _ = w.Write(v.Bytes())
	}
}

// writeStoreError maps store and context errors to a status code
func writeStoreError(w http.ResponseWriter, err error) {
	var se *store.Error
	switch {
	case errors.As(err, &se) && se.Code == store.RetCInvalidOperation:
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.As(err, &se) && se.Code == store.RetCNoMembers:
		writeError(w, http.StatusServiceUnavailable, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}
