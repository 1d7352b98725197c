// Package admin exposes the operator API: stage inspection and the two
// interventions (force-timeout, reassign-turn). It binds to loopback
// semantics only; interventions are logged to the override trail before
// they take effect.
package admin

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"parleylab/internal/cohort"
	"parleylab/internal/engine"
	"parleylab/internal/persistence/store"
)

type Server struct {
	registry *cohort.Registry
	store    *store.Store
	log      *log.Logger
}

func NewServer(registry *cohort.Registry, st *store.Store, logger *log.Logger) *Server {
	return &Server{registry: registry, store: st, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/stages", s.handleList)
	mux.HandleFunc("/admin/stage", s.handleInspect)
	mux.HandleFunc("/admin/stage/timeout", s.handleIntervene(engine.CmdTimeout))
	mux.HandleFunc("/admin/stage/reassign", s.handleIntervene(engine.CmdReassign))
}

type stageRef struct {
	ExperimentID string `json:"experiment_id"`
	CohortID     string `json:"cohort_id"`
	StageID      string `json:"stage_id"`
}

type interveneRequest struct {
	stageRef
	Operator    string `json:"operator"`
	Participant string `json:"participant,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

func (s *Server) handleList(rw http.ResponseWriter, r *http.Request) {
	if !s.guard(rw, r, http.MethodGet) {
		return
	}
	keys := s.registry.Keys()
	refs := make([]stageRef, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, stageRef{ExperimentID: k.ExperimentID, CohortID: k.CohortID, StageID: k.StageID})
	}
	writeJSON(rw, map[string]any{"stages": refs})
}

func (s *Server) handleInspect(rw http.ResponseWriter, r *http.Request) {
	if !s.guard(rw, r, http.MethodGet) {
		return
	}
	key := keyFromQuery(r)
	if s.store == nil {
		http.Error(rw, "no store configured", http.StatusServiceUnavailable)
		return
	}
	rec, err := s.store.LoadState(r.Context(), key)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}
	overrides, err := s.store.ListOverrides(r.Context(), key)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, map[string]any{
		"version":   rec.Version,
		"game_over": rec.GameOver,
		"state":     json.RawMessage(rec.Payload),
		"overrides": overrides,
	})
}

func (s *Server) handleIntervene(act string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.guard(rw, r, http.MethodPost) {
			return
		}
		var req interveneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad request body", http.StatusBadRequest)
			return
		}
		if req.Operator == "" {
			http.Error(rw, "operator is required", http.StatusBadRequest)
			return
		}
		if act == engine.CmdReassign && req.Participant == "" {
			http.Error(rw, "participant is required", http.StatusBadRequest)
			return
		}
		key := store.Key{ExperimentID: req.ExperimentID, CohortID: req.CohortID, StageID: req.StageID}
		in, err := s.registry.Get(key)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusNotFound)
			return
		}
		resp := make(chan error, 1)
		in.Admin() <- cohort.AdminRequest{
			Act:         act,
			Operator:    req.Operator,
			Participant: req.Participant,
			Detail:      req.Detail,
			Resp:        resp,
		}
		select {
		case err := <-resp:
			if err != nil {
				http.Error(rw, err.Error(), http.StatusConflict)
				return
			}
		case <-time.After(5 * time.Second):
			http.Error(rw, "intervention timed out", http.StatusGatewayTimeout)
			return
		}
		s.log.Printf("admin: %s on %s by %s", act, key, req.Operator)
		writeJSON(rw, map[string]any{"ok": true})
	}
}

func (s *Server) guard(rw http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func keyFromQuery(r *http.Request) store.Key {
	q := r.URL.Query()
	return store.Key{
		ExperimentID: q.Get("experiment"),
		CohortID:     q.Get("cohort"),
		StageID:      q.Get("stage"),
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
