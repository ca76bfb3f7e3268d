package attestation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttestSimulatedBindsUserData(t *testing.T) {
	a := New(Config{EnclaveID: "test-enclave"})

	pk := bytes.Repeat([]byte{0xab}, 32)
	raw, err := a.Attest(pk, nil, nil)
	require.NoError(t, err)

	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Equal(t, pk, doc.UserData)

	pcr0, pcr1, pcr2 := doc.PCRTriple()
	for _, pcr := range [][]byte{pcr0, pcr1, pcr2} {
		require.Len(t, pcr, PCRDigestSize)
		require.False(t, bytes.Equal(pcr, make([]byte, PCRDigestSize)))
	}
	require.NotEqual(t, pcr0, pcr1)
	require.NotEqual(t, pcr1, pcr2)
}

func TestAttestSimulatedIsDeterministicPerEnclave(t *testing.T) {
	a1 := New(Config{EnclaveID: "same-id"})
	a2 := New(Config{EnclaveID: "same-id"})

	raw1, err := a1.Attest([]byte("u1"), []byte("n1"), nil)
	require.NoError(t, err)
	raw2, err := a2.Attest([]byte("u2"), []byte("n2"), nil)
	require.NoError(t, err)

	doc1, err := ParseDocument(raw1)
	require.NoError(t, err)
	doc2, err := ParseDocument(raw2)
	require.NoError(t, err)

	require.Equal(t, doc1.PCRs, doc2.PCRs)
}
