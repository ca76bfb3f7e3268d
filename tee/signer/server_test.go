package signer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nitrosign/enclave-signer/tee/app/weather"
	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/identity"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

func newTestServer(t *testing.T) (*Server[weather.Request, weather.Response], *identity.EphemeralIdentity) {
	t.Helper()

	id, err := identity.New()
	require.NoError(t, err)

	store := secrets.New()
	require.NoError(t, store.Write("API_KEY", []byte("test-key")))

	srv := New(Config[weather.Request, weather.Response]{
		Identity: id,
		Attestor: attestation.New(attestation.Config{EnclaveID: "test"}),
		Store:    store,
		App:      weather.New(nil),
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Unix(1_744_038_900, 0) },
	})
	return srv, id
}

func TestHealthCheckReturnsSignPK(t *testing.T) {
	srv, id := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PK string `json:"pk"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, hex.EncodeToString(id.SignPK()), body.PK)
}

func TestGetAttestationBindsSignPK(t *testing.T) {
	srv, id := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get_attestation", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Attestation string `json:"attestation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	raw, err := hex.DecodeString(body.Attestation)
	require.NoError(t, err)

	doc, err := attestation.ParseDocument(raw)
	require.NoError(t, err)
	require.Equal(t, id.SignPK(), []byte(doc.UserData))
}

func TestProcessDataSignsResponse(t *testing.T) {
	srv, id := newTestServer(t)
	router := srv.Router()

	body, err := json.Marshal(weather.Request{Location: "San Francisco"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process_data", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out processResponseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, byte(0), out.Response.Intent)
	require.Equal(t, uint64(1_744_038_900_000), out.Response.TimestampMs)

	sig, err := hex.DecodeString(out.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	// recompute using identity.Verify against the same output the
	// handler signed, to confirm the signature is genuine and not just
	// present.
	resp := weather.Response{Location: "San Francisco", Temperature: 13}
	require.True(t, identity.Verify(id.SignPK(), 0, 1_744_038_900_000, resp, sig))
}

func TestProcessDataRejectsMissingLocation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process_data", bytes.NewReader([]byte(`{"location":""}`)))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessDataRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process_data", bytes.NewReader([]byte(`{not json`)))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
