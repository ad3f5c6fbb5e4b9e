// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package localserver provides the loopback HTTP origin the Tunnel
// Session forwards remote requests to. spec.md §6 defines only the three
// keepalive control endpoints as part of the core; everything else (screen
// capture, input injection, filesystem, shell) is an opaque, out-of-scope
// origin that a real build wires in separately. This package supplies a
// runnable stand-in for that surface so `start`/`join` have something to
// listen on: the three real control endpoints, the required
// no-buffering middleware, and a catch-all stub for the excluded routes.
package localserver

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

// Server is the local HTTP origin (spec.md §6).
type Server struct {
	coordinator *keepalive.Coordinator
	log         zerolog.Logger
	handler     http.Handler
}

// New returns a Server wired to coordinator.
func New(coordinator *keepalive.Coordinator, log zerolog.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		log:         log.With().Str("component", "local_server").Logger(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/keepalive/remote/activity", s.handleActivity)
	mux.HandleFunc("/internal/keepalive/remote/enable", s.handleEnable)
	mux.HandleFunc("/internal/keepalive/remote/disable", s.handleDisable)
	mux.HandleFunc("/", s.handleNotImplemented)
	s.handler = noBufferingMiddleware(mux)
	return s
}

// Handler returns the http.Handler to serve (exposed for tests and for
// wiring into an *http.Server elsewhere).
func (s *Server) Handler() http.Handler { return s.handler }

// Listen finds the first free port starting at preferred and returns a
// listener bound to 127.0.0.1 on it (spec.md §6: "the first free port
// found starting at a configured default").
func Listen(preferred int) (net.Listener, int, error) {
	port := preferred
	for {
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			return ln, port, nil
		}
		port++
		if port > preferred+1000 {
			return nil, 0, err
		}
	}
}

// Serve runs an *http.Server on ln until it errors or is closed.
func (s *Server) Serve(ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpSrv.Serve(ln)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.coordinator.MarkRemoteActivity()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.coordinator.Enable()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.coordinator.Disable()
	w.WriteHeader(http.StatusNoContent)
}

// handleNotImplemented stands in for the screen/input/fs/shell surface
// spec.md §1 explicitly excludes from this repository.
func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	json.NewEncoder(w).Encode(map[string]string{"detail": "not implemented in this build"})
}

// noBufferingMiddleware sets the headers spec.md §6 requires on every
// local response so no intermediate proxy buffers the output.
func noBufferingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}
