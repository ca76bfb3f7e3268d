package registry

import (
	"crypto/sha512"
	"fmt"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/nitrosign/enclave-signer/tee/app/weather"
	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/identity"
)

// weatherApp is the phantom type parameter identifying the weather
// application's registry objects; it is never instantiated.
type weatherApp struct{}

// buildAttestationDocument mirrors attestation.Attestor's simulated
// COSE_Sign1 shape without going through the Attestor (so the test can
// control PCR values directly, including a deliberately wrong pcr2).
func buildAttestationDocument(t *testing.T, enclaveID string, pcr2Override []byte, pk []byte) []byte {
	t.Helper()

	pcrs := make(map[int][]byte, 3)
	for i := 0; i < 3; i++ {
		h := sha512.Sum384([]byte(fmt.Sprintf("simulated-pcr-%d:%s", i, enclaveID)))
		pcrs[i] = h[:]
	}
	if pcr2Override != nil {
		pcrs[2] = pcr2Override
	}

	payload, err := cbor.Marshal(struct {
		ModuleID  string         `cbor:"module_id"`
		Digest    string         `cbor:"digest"`
		PCRs      map[int][]byte `cbor:"pcrs"`
		PublicKey []byte         `cbor:"public_key"`
		UserData  []byte         `cbor:"user_data"`
	}{
		ModuleID:  enclaveID,
		Digest:    "SHA384",
		PCRs:      pcrs,
		PublicKey: pk,
		UserData:  pk,
	})
	require.NoError(t, err)

	envelope, err := cbor.Marshal(struct {
		_           struct{} `cbor:",toarray"`
		Protected   []byte
		Unprotected map[int]any
		Payload     []byte
		Signature   []byte
	}{
		Protected:   []byte{0xa1, 0x01, 0x38, 0x22},
		Unprotected: map[int]any{},
		Payload:     payload,
		Signature:   make([]byte, 96),
	})
	require.NoError(t, err)
	return envelope
}

func referencePCRs(t *testing.T, enclaveID string) (pcr0, pcr1, pcr2 []byte) {
	t.Helper()
	a := attestation.New(attestation.Config{EnclaveID: enclaveID})
	raw, err := a.Attest([]byte("pk"), nil, []byte("pk"))
	require.NoError(t, err)
	doc, err := attestation.ParseDocument(raw)
	require.NoError(t, err)
	pcr0, pcr1, pcr2 = doc.PCRTriple()
	return
}

func TestRegisterEnclaveRejectsForgedPCR(t *testing.T) {
	pcr0, pcr1, pcr2 := referencePCRs(t, "demo-enclave")

	cap := NewCap[weatherApp]()
	cfg := CreateEnclaveConfig(cap, "weather", pcr0, pcr1, pcr2)

	id, err := identity.New()
	require.NoError(t, err)

	forged := buildAttestationDocument(t, "demo-enclave", []byte("not-the-real-pcr2-at-all!!!!!!!"), id.SignPK())

	_, err = RegisterEnclave(cfg, forged, "0xadmin")
	require.ErrorIs(t, err, ErrInvalidPCRs)
}

func TestRegisterEnclaveThenVerifySignature(t *testing.T) {
	pcr0, pcr1, pcr2 := referencePCRs(t, "demo-enclave")

	cap := NewCap[weatherApp]()
	cfg := CreateEnclaveConfig(cap, "weather", pcr0, pcr1, pcr2)

	id, err := identity.New()
	require.NoError(t, err)

	a := attestation.New(attestation.Config{EnclaveID: "demo-enclave"})
	raw, err := a.Attest(id.SignPK(), nil, id.SignPK())
	require.NoError(t, err)

	instance, err := RegisterEnclave(cfg, raw, "0xsender")
	require.NoError(t, err)
	require.Equal(t, uint64(0), instance.ConfigVersion())

	resp := weather.Response{Location: "San Francisco", Temperature: 13}
	_, sig, err := id.Sign(weather.Intent, 1_744_038_900_000, resp)
	require.NoError(t, err)

	require.True(t, VerifySignature(instance, weather.Intent, 1_744_038_900_000, resp, sig))

	flipped := append([]byte(nil), sig...)
	flipped[0] ^= 0xff
	require.False(t, VerifySignature(instance, weather.Intent, 1_744_038_900_000, resp, flipped))
}

func TestConfigVersionMonotonicity(t *testing.T) {
	cap := NewCap[weatherApp]()
	cfg := CreateEnclaveConfig(cap, "weather", []byte("a"), []byte("b"), []byte("c"))
	require.Equal(t, uint64(0), cfg.Version())

	require.NoError(t, cfg.UpdateName(cap, "weather-v2"))
	require.Equal(t, uint64(0), cfg.Version())

	require.NoError(t, cfg.UpdatePCRs(cap, []byte("a2"), []byte("b2"), []byte("c2")))
	require.Equal(t, uint64(1), cfg.Version())

	wrongCap := NewCap[weatherApp]()
	require.ErrorIs(t, cfg.UpdatePCRs(wrongCap, nil, nil, nil), ErrInvalidCap)
}

func TestInstanceLifecycle(t *testing.T) {
	cap := NewCap[weatherApp]()
	cfg := CreateEnclaveConfig(cap, "weather", []byte("a"), []byte("b"), []byte("c"))

	id, err := identity.New()
	require.NoError(t, err)
	a := attestation.New(attestation.Config{EnclaveID: "lifecycle"})
	raw, err := a.Attest(id.SignPK(), nil, id.SignPK())
	require.NoError(t, err)
	pcr0, pcr1, pcr2 := referencePCRs(t, "lifecycle")
	require.NoError(t, cfg.UpdatePCRs(cap, pcr0, pcr1, pcr2))

	instance, err := RegisterEnclave(cfg, raw, "0xowner")
	require.NoError(t, err)
	require.Equal(t, uint64(1), instance.ConfigVersion())

	// Not yet stale: current version equals instance's version.
	require.ErrorIs(t, DestroyOldEnclave(instance, cfg), ErrInvalidConfigVersion)

	// Wrong owner can't destroy.
	require.ErrorIs(t, DestroyEnclaveByOwner(instance, "0xnotowner"), ErrInvalidOwner)

	// Rotate PCRs again: instance is now stale and destroyable by anyone.
	require.NoError(t, cfg.UpdatePCRs(cap, []byte("x"), []byte("y"), []byte("z")))
	require.NoError(t, DestroyOldEnclave(instance, cfg))
	require.True(t, instance.IsDestroyed())

	// Already destroyed: a second destroy attempt fails.
	require.ErrorIs(t, DestroyEnclaveByOwner(instance, "0xowner"), ErrInvalidOwner)
}
