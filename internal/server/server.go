// Package server exposes the scan pipeline over a small JSON HTTP API:
// package checks, atomic rule reloads, and server metadata.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/scanner"
)

// ScanRunner runs one scan request. Satisfied by *scanner.Scanner.
type ScanRunner interface {
	Scan(ctx context.Context, ref scanner.PackageReference) (*scanner.Verdict, error)
}

// Server handles the HTTP API.
type Server struct {
	scanner  ScanRunner
	provider *rules.Provider
	log      *slog.Logger

	version string
	commit  string
}

// CheckRequest is the incoming scan request body.
type CheckRequest struct {
	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version,omitempty"`
}

// Metadata describes the running server.
type Metadata struct {
	Version      string `json:"version"`
	ServerCommit string `json:"server_commit"`
	RulesVersion string `json:"rules_version"`
	RuleCount    int    `json:"rule_count"`
}

// ErrorResponse is returned when a request is rejected before scanning.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// New creates a server around a scanner and rule provider.
func New(sc ScanRunner, provider *rules.Provider, version, commit string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		scanner:  sc,
		provider: provider,
		log:      log,
		version:  version,
		commit:   commit,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/update-rules", s.handleUpdateRules)
	return mux
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.log.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Detail: "not found"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Detail: "method not allowed"})
		return
	}

	rs := s.provider.Current()
	writeJSON(w, http.StatusOK, Metadata{
		Version:      s.version,
		ServerCommit: s.commit,
		RulesVersion: rs.Version,
		RuleCount:    rs.Len(),
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Detail: "method not allowed"})
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if strings.TrimSpace(req.PackageName) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "package_name is required"})
		return
	}

	ref := scanner.PackageReference{Name: req.PackageName, Version: req.PackageVersion}
	verdict, err := s.scanner.Scan(r.Context(), ref)
	if err != nil {
		// Only malformed references reach here; everything else comes
		// back as an error-status verdict.
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	status := http.StatusOK
	if verdict.Status == scanner.StatusError && verdict.Reason == scanner.ReasonNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, verdict)
}

func (s *Server) handleUpdateRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Detail: "method not allowed"})
		return
	}

	if err := s.provider.Reload(); err != nil {
		s.log.Error("rule reload failed", "error", err)
		var compileErr *rules.CompileError
		if errors.As(err, &compileErr) {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	rs := s.provider.Current()
	s.log.Info("rules reloaded", "rules_version", rs.Version, "rule_count", rs.Len())
	writeJSON(w, http.StatusOK, Metadata{
		Version:      s.version,
		ServerCommit: s.commit,
		RulesVersion: rs.Version,
		RuleCount:    rs.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
