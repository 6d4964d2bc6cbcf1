// Package httpapi exposes a member.Member's store over HTTP. A
// non-leader member relays a request to the current leader over
// member.SendRequest instead of servicing it locally.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ryandielhenn/flock/pkg/member"
	"github.com/ryandielhenn/flock/pkg/store"
)

// API wires a Member to a Store and exposes both over HTTP.
type API struct {
	m *member.Member
	s *store.Store
}

// New returns an API that services KV requests against s when m is
// leader, and forwards them to the leader over the fabric otherwise. m
// should have been constructed with WithRequestHandler(api.HandleLeaderRequest)
// so that remote members' forwarded requests reach this same store.
func New(m *member.Member, s *store.Store) *API {
	return &API{m: m, s: s}
}

// HandleLeaderRequest is the member.WithRequestHandler callback: decode
// a store.Request and apply it locally. Only ever invoked by pkg/flock
// when m is leader-local.
func (a *API) HandleLeaderRequest(payload json.RawMessage) (json.RawMessage, error) {
	req, err := store.UnmarshalRequest(payload)
	if err != nil {
		return nil, err
	}
	resp := store.Handle(a.s, req)
	return store.MarshalResponse(resp)
}

// Healthz reports process liveness.
func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info reports process identity, leadership, and store size.
func (a *API) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID      int    `json:"pid"`
		MemberID string `json:"member_id"`
		Now      string `json:"now"`
		Items    int    `json:"items"`
		IsLeader bool   `json:"is_leader"`
		LeaderID string `json:"leader_id,omitempty"`
	}
	r := resp{
		PID:      os.Getpid(),
		MemberID: a.m.ID(),
		Now:      time.Now().Format(time.RFC3339),
		Items:    a.s.Len(),
		IsLeader: a.m.IsLeader(),
	}
	data, _ := json.Marshal(r)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// KV dispatches PUT/GET/DELETE on /kv/{key}, servicing locally when
// this member is leader and forwarding over the fabric otherwise.
func (a *API) KV(w http.ResponseWriter, req *http.Request) {
	key := req.URL.Path[len("/kv/"):]
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	var kvReq store.Request
	kvReq.Key = key
	switch req.Method {
	case http.MethodPut, http.MethodPost:
		val, err := io.ReadAll(req.Body)
		if err != nil && err.Error() != "EOF" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kvReq.Op = store.OpPut
		kvReq.Value = val
		if ttlStr := req.URL.Query().Get("ttl"); ttlStr != "" {
			sec, err := strconv.Atoi(ttlStr)
			if err != nil {
				http.Error(w, "invalid ttl", http.StatusBadRequest)
				return
			}
			kvReq.TTL = time.Duration(sec) * time.Second
		}
	case http.MethodGet:
		kvReq.Op = store.OpGet
	case http.MethodDelete:
		kvReq.Op = store.OpDelete
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.m.IsLeader() {
		resp := store.Handle(a.s, kvReq)
		a.writeResponse(w, resp, kvReq.Op)
		return
	}

	payload, err := store.MarshalRequest(kvReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ft := a.m.SendRequest(payload)
	raw, err := ft.Wait(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp, err := store.UnmarshalResponse(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeResponse(w, resp, kvReq.Op)
}

func (a *API) writeResponse(w http.ResponseWriter, resp store.Response, op store.Op) {
	if resp.Err != "" {
		http.Error(w, resp.Err, http.StatusInternalServerError)
		return
	}
	switch op {
	case store.OpPut, store.OpDelete:
		if !resp.Found && op == store.OpDelete {
			http.NotFound(w, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case store.OpGet:
		if !resp.Found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(resp.Value)
	}
}
