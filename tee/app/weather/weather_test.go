package weather

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

func TestProcessUsesAPIKeyAndLookup(t *testing.T) {
	store := secrets.New()
	require.NoError(t, store.Write("API_KEY", []byte("test-key")))

	var gotKey string
	app := New(func(_ context.Context, location, apiKey string) (int64, error) {
		gotKey = apiKey
		return 13, nil
	})

	resp, err := app.Process(context.Background(), Request{Location: "San Francisco"}, store)
	require.NoError(t, err)
	require.Equal(t, "test-key", gotKey)
	require.Equal(t, Response{Location: "San Francisco", Temperature: 13}, resp)
}

func TestProcessFailsBeforeBootstrap(t *testing.T) {
	store := secrets.New()
	app := New(nil)

	_, err := app.Process(context.Background(), Request{Location: "SF"}, store)
	require.ErrorIs(t, err, secrets.ErrSecretNotInitialized)
}

func TestResponseMatchesWireVector(t *testing.T) {
	resp := Response{Location: "San Francisco", Temperature: 13}
	got, err := bcs.EncodeIntentMessage(Intent, 1744038900000, resp)
	require.NoError(t, err)

	want, err := hex.DecodeString("0020b1d110960100000d53616e204672616e636973636f0d00000000000000")
	require.NoError(t, err)
	require.Equal(t, want, got)
}
