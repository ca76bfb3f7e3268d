// Package hostapi exposes tee/seal's two-phase bootstrap protocol as
// the host-only HTTP service on the enclave's port 3001:
// init_parameter_load and complete_parameter_load. The host's bridge
// exposes that port only on its own 127.0.0.1:3001 listener (spec §6's
// host-only surface).
package hostapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nitrosign/enclave-signer/internal/httplog"
	"github.com/nitrosign/enclave-signer/internal/respond"
	"github.com/nitrosign/enclave-signer/tee/seal"
)

// Server wraps a *seal.Service as an HTTP API.
type Server struct {
	seal   *seal.Service
	logger zerolog.Logger
}

// New builds a Server around an already-constructed seal.Service.
func New(svc *seal.Service, logger zerolog.Logger) *Server {
	return &Server{seal: svc, logger: logger}
}

// Router builds the chi.Mux served on the enclave's host-only address,
// which the host forwards from its 127.0.0.1:3001 listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.Middleware(s.logger))

	r.Post("/init_parameter_load", s.handleInit)
	r.Post("/complete_parameter_load", s.handleComplete)

	return r
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req seal.InitRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.seal.Init(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("init_parameter_load failed")
		respond.Error(w, statusFor(err), err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req seal.CompleteRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.seal.Complete(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("complete_parameter_load failed")
		respond.Error(w, statusFor(err), err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, resp)
}

// statusFor prefers seal's own error->status mapping and falls back to
// the ambient one for anything seal does not recognize (e.g. a decode
// failure that slipped through as a generic error).
func statusFor(err error) int {
	if status, ok := seal.StatusFor(err); ok {
		return status
	}
	return respond.StatusFor(err)
}
