package respond

import (
	"errors"
	"net/http"

	"github.com/nitrosign/enclave-signer/tee/app"
	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// StatusFor maps a handler error to the HTTP status table in
// SPEC_FULL.md §6/§7. Unrecognized errors fall back to 500. Any error
// wrapping app.ErrUpstream maps to 502, whether or not it came from a
// proxied call; this function does not tell the two apart.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, secrets.ErrSecretNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, attestation.ErrAttestationFailed):
		return http.StatusInternalServerError
	case errors.Is(err, app.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
