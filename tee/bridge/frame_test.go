package bridge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello enclave")))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello enclave"), got)
}

func TestWriteReadFrameEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, nil))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEncodeDecodeProxyRequestRoundTrip(t *testing.T) {
	encoded := encodeProxyRequest("example.com", 443, []byte("GET / HTTP/1.1\r\n\r\n"))

	host, port, payload, err := decodeProxyRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, uint16(443), port)
	require.Equal(t, []byte("GET / HTTP/1.1\r\n\r\n"), payload)
}

func TestDecodeProxyRequestRejectsTruncated(t *testing.T) {
	_, _, _, err := decodeProxyRequest([]byte{0, 5, 'a'})
	require.Error(t, err)
}
