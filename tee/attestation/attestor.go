// Package attestation builds and parses Nitro attestation documents: the
// COSE_Sign1-shaped bundle the Nitro Security Module issues binding PCR0-2
// to an optional public key and caller-supplied user data.
package attestation

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// PCRDigestSize is the length of a single PCR measurement: SHA-384.
const PCRDigestSize = 48

// Document is the decoded payload of a COSE_Sign1 attestation document:
// the fields the signing service and the on-chain registry both care
// about, plus module_id, timestamp, digest algorithm, nonce, CA bundle
// and certificate. Extra is never populated: payload keys outside these
// fields are dropped by ParseDocument.
type Document struct {
	ModuleID  string            `cbor:"module_id"`
	Timestamp uint64            `cbor:"timestamp"`
	Digest    string            `cbor:"digest"`
	PCRs      map[int][]byte    `cbor:"pcrs"`
	PublicKey []byte            `cbor:"public_key"`
	UserData  []byte            `cbor:"user_data"`
	Nonce     []byte            `cbor:"nonce"`
	CABundle  [][]byte          `cbor:"cabundle"`
	Cert      []byte            `cbor:"certificate"`
	Extra     map[string][]byte `cbor:"-"`
}

// PCRTriple returns (pcr0, pcr1, pcr2) as required by the on-chain
// registry's PCR-gated registration.
func (d *Document) PCRTriple() (pcr0, pcr1, pcr2 []byte) {
	return d.PCRs[0], d.PCRs[1], d.PCRs[2]
}

// coseSign1 mirrors the four-element COSE_Sign1 array: protected header,
// unprotected header, payload, signature. Only the payload is meaningful
// here; the enclave's own signature over the NSM-issued document is
// verified by the relying party against AWS's root, not by this service.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]any
	Payload     []byte
	Signature   []byte
}

// Config selects how Attestor obtains documents.
type Config struct {
	// DevicePath is the NSM device New probes for; "/dev/nsm" when
	// empty. If it exists, Attest opens the nsm library's default
	// session, which does not use DevicePath.
	DevicePath string
	// EnclaveID labels simulated documents when no NSM device is present.
	EnclaveID string
}

// Attestor issues attestation documents bound to caller-supplied user
// data (the enclave's Ed25519 signing key, on the /get_attestation
// path). It transparently falls back to a deterministic simulated
// document when /dev/nsm is unavailable, so the signing service and its
// tests run unmodified outside an actual enclave.
type Attestor struct {
	mu        sync.Mutex
	enclaveID string
	simulate  bool
}

// New probes for an NSM device and returns an Attestor. It never fails:
// an absent device just selects simulation mode, since the enclave
// binary must still be testable on a developer workstation.
func New(cfg Config) *Attestor {
	a := &Attestor{enclaveID: cfg.EnclaveID}
	if cfg.EnclaveID == "" {
		a.enclaveID = "local-enclave"
	}

	path := cfg.DevicePath
	if path == "" {
		path = "/dev/nsm"
	}
	if _, err := os.Stat(path); err != nil {
		a.simulate = true
	}
	return a
}

// Attest issues a fresh attestation document with the given user data,
// nonce, and optional public key. Fails with ErrAttestationFailed if the
// NSM is unavailable and simulation was not selected at construction.
func (a *Attestor) Attest(userData, nonce, publicKey []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.simulate {
		return a.attestSimulated(userData, nonce, publicKey)
	}
	return a.attestNSM(userData, nonce, publicKey)
}

func (a *Attestor) attestNSM(userData, nonce, publicKey []byte) ([]byte, error) {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open nsm session: %v", ErrAttestationFailed, err)
	}
	defer sess.Close()

	res, err := sess.Send(&request.Attestation{
		UserData:  userData,
		Nonce:     nonce,
		PublicKey: publicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: nsm request: %v", ErrAttestationFailed, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%w: nsm error: %s", ErrAttestationFailed, res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, fmt.Errorf("%w: nsm returned no document", ErrAttestationFailed)
	}
	return res.Attestation.Document, nil
}

// attestSimulated builds a COSE_Sign1-shaped document whose PCRs are
// derived deterministically from the enclave id, so repeated calls
// outside a real enclave are stable and comparable across a test run.
func (a *Attestor) attestSimulated(userData, nonce, publicKey []byte) ([]byte, error) {
	pcrs := make(map[int][]byte, 3)
	for i := 0; i < 3; i++ {
		h := sha512.Sum384([]byte(fmt.Sprintf("simulated-pcr-%d:%s", i, a.enclaveID)))
		pcrs[i] = h[:]
	}

	if nonce == nil {
		nonce = make([]byte, 20)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("%w: nonce: %v", ErrAttestationFailed, err)
		}
	}

	doc := Document{
		ModuleID:  a.enclaveID,
		Digest:    "SHA384",
		PCRs:      pcrs,
		PublicKey: publicKey,
		UserData:  userData,
		Nonce:     nonce,
	}

	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrAttestationFailed, err)
	}

	envelope := coseSign1{
		Protected:   []byte{0xa1, 0x01, 0x38, 0x22}, // alg: ECDSA384, CBOR-encoded
		Unprotected: map[int]any{},
		Payload:     payload,
		Signature:   make([]byte, 96), // placeholder; no real signing key outside hardware
	}

	out, err := cbor.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal envelope: %v", ErrAttestationFailed, err)
	}
	return out, nil
}

// ParseDocument decodes a COSE_Sign1 attestation document produced by
// either attestNSM or attestSimulated and returns its payload fields.
// Used by the signing service's own tests and by registry.RegisterEnclave
// so both sides share one parser.
func ParseDocument(raw []byte) (*Document, error) {
	var envelope coseSign1
	if err := cbor.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("attestation: decode cose envelope: %w", err)
	}

	var doc Document
	if err := cbor.Unmarshal(envelope.Payload, &doc); err != nil {
		return nil, fmt.Errorf("attestation: decode payload: %w", err)
	}
	return &doc, nil
}
