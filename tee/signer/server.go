// Package signer implements the public signing HTTP service: the one
// surface a client outside the enclave ever talks to. It is generic
// over the single Application the enclave binary links in, so there is
// no runtime dispatch between applications — the binary commits to one
// at build time, and PCR2 attests to that commitment.
package signer

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nitrosign/enclave-signer/internal/httplog"
	"github.com/nitrosign/enclave-signer/internal/respond"
	"github.com/nitrosign/enclave-signer/tee/app"
	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/identity"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// Config wires a Server to the rest of the enclave's boot sequence.
type Config[In any, Out bcs.Marshaler] struct {
	Identity   *identity.EphemeralIdentity
	Attestor   *attestation.Attestor
	Store      *secrets.Store
	App        app.Application[In, Out]
	Logger     zerolog.Logger
	Registry   *prometheus.Registry
	Now        func() time.Time // overridable for tests; defaults to time.Now
}

// Server exposes health_check, get_attestation and process_data for the
// one Application it was built with.
type Server[In any, Out bcs.Marshaler] struct {
	identity *identity.EphemeralIdentity
	attestor *attestation.Attestor
	store    *secrets.Store
	app      app.Application[In, Out]
	logger   zerolog.Logger
	metrics  *metrics
	now      func() time.Time
}

// New builds a Server. Registry may be nil, in which case metrics are
// registered against a private registry not exposed by Router.
func New[In any, Out bcs.Marshaler](cfg Config[In, Out]) *Server[In, Out] {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server[In, Out]{
		identity: cfg.Identity,
		attestor: cfg.Attestor,
		store:    cfg.Store,
		app:      cfg.App,
		logger:   cfg.Logger,
		metrics:  newMetrics(reg),
		now:      now,
	}
}

// Router builds the chi.Mux the host's VSOCK-forwarded TCP listener for
// port 3000 serves. Grounded on the public/private router split in
// payton-nitriding-daemon's enclave, collapsed here to one router since
// this service only ever needs the public side.
func (s *Server[In, Out]) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.Middleware(s.logger))
	r.Use(s.instrument)

	r.Get("/health_check", s.handleHealthCheck)
	r.Get("/get_attestation", s.handleGetAttestation)
	r.Post("/process_data", s.handleProcessData)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// instrument records the per-route request count and latency.
func (s *Server[In, Out]) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.requests.WithLabelValues(route, http.StatusText(wrapped.Status())).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server[In, Out]) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{
		"pk": hex.EncodeToString(s.identity.SignPK()),
	})
}

func (s *Server[In, Out]) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	pk := s.identity.SignPK()
	doc, err := s.attestor.Attest(pk, nil, pk)
	if err != nil {
		s.logger.Error().Err(err).Msg("get_attestation failed")
		respond.Error(w, respond.StatusFor(err), err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"attestation": hex.EncodeToString(doc),
	})
}

type processResponseEnvelope struct {
	Response  signedPayload `json:"response"`
	Signature string        `json:"signature"`
}

type signedPayload struct {
	Intent      byte   `json:"intent"`
	TimestampMs uint64 `json:"timestamp_ms"`
	Data        any    `json:"data"`
}

func (s *Server[In, Out]) handleProcessData(w http.ResponseWriter, r *http.Request) {
	var input In
	if err := respond.Decode(r, &input); err != nil {
		respond.Error(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	output, err := s.app.Process(ctx, input, s.store)
	if err != nil {
		s.logger.Warn().Err(err).Msg("process_data failed")
		respond.Error(w, respond.StatusFor(err), err.Error())
		return
	}

	timestampMs := uint64(s.now().UnixMilli())
	_, signature, err := s.identity.Sign(s.app.Intent(), timestampMs, output)
	if err != nil {
		s.logger.Error().Err(err).Msg("signing failed")
		respond.Error(w, http.StatusInternalServerError, "signing failed")
		return
	}

	respond.JSON(w, http.StatusOK, processResponseEnvelope{
		Response: signedPayload{
			Intent:      s.app.Intent(),
			TimestampMs: timestampMs,
			Data:        output,
		},
		Signature: hex.EncodeToString(signature),
	})
}
