package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

const serviceName = "Dexterity backend"

type Route struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

type indexResponse struct {
	Name   string  `json:"name"`
	Routes []Route `json:"routes"`
}

var routeIndex = []Route{
	{Path: "/", Description: "return backend title"},
	{Path: "/tokens", Description: "return existing tokens in dexterity"},
	{Path: "/swaps", Description: "return swap count that have been executed in dexterity"},
	{Path: "/pools", Description: "return pools created in dexterity with their token names"},
	{Path: "/tokens/metadata", Description: "return erc20 metadata of existing tokens"},
	{Path: "/ready", Description: "return readiness of the exchange binding and rpc node"},
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	routes := routeIndex
	if s.gatherer != nil {
		routes = append(routes[:len(routes):len(routes)], Route{Path: "/metrics", Description: "return prometheus metrics"})
	}
	s.writeJSON(w, http.StatusOK, indexResponse{Name: serviceName, Routes: routes})
}

func (s *Server) tokensHandler(w http.ResponseWriter, r *http.Request) {
	names, err := s.discovery.Tokens(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) swapsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.discovery.Swaps(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, count)
}

func (s *Server) poolsHandler(w http.ResponseWriter, r *http.Request) {
	pools, err := s.discovery.Pools(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pools)
}

func (s *Server) tokenMetadataHandler(w http.ResponseWriter, r *http.Request) {
	metas, err := s.discovery.TokenMetadata(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metas)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ReadyTimeout)
	defer cancel()

	if err := s.discovery.Ready(ctx); err != nil {
		s.logger.Warn("not ready", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeJSON encodes before writing the header so an encode failure still yields a 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(internalErrorBody))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
