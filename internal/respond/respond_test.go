package respond

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitrosign/enclave-signer/tee/secrets"
)

func TestErrorWritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "missing field: location")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"missing field: location"}`, rec.Body.String())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/process_data", strings.NewReader(`{"location":"sf","bogus":1}`))

	var v struct {
		Location string `json:"location"`
	}
	err := Decode(req, &v)
	require.Error(t, err)
}

func TestStatusForMapsKnownSentinels(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(secrets.ErrSecretNotInitialized))
	require.Equal(t, http.StatusOK, StatusFor(nil))
}
