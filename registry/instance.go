package registry

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/identity"
)

// EnclaveInstance is one registered enclave: its attested public key,
// the config version it was registered against, and its owner. App
// pins it to the same application as the EnclaveConfig it was
// registered from.
type EnclaveInstance[App comparable] struct {
	mu sync.Mutex

	id            string
	pk            ed25519.PublicKey
	configVersion uint64
	owner         string
	destroyed     bool
}

// ID returns the instance's identifier.
func (i *EnclaveInstance[App]) ID() string { return i.id }

// PK returns the attested Ed25519 signing key.
func (i *EnclaveInstance[App]) PK() ed25519.PublicKey { return i.pk }

// ConfigVersion returns the config version this instance was
// registered against.
func (i *EnclaveInstance[App]) ConfigVersion() uint64 { return i.configVersion }

// Owner returns the registering sender.
func (i *EnclaveInstance[App]) Owner() string { return i.owner }

// IsDestroyed reports whether a destroy operation has already
// consumed this instance.
func (i *EnclaveInstance[App]) IsDestroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}

// RegisterEnclave parses attestationDocument via tee/attestation and,
// iff its PCR triple equals config's pinned PCRs, mints a new
// EnclaveInstance owned by sender (spec §4.H, invariant 5: PCR-gated
// registration). Any mismatch — in any of the three PCRs — aborts with
// InvalidPCRs rather than registering a partially-trusted instance.
func RegisterEnclave[App comparable](config *EnclaveConfig[App], attestationDocument []byte, sender string) (*EnclaveInstance[App], error) {
	doc, err := attestation.ParseDocument(attestationDocument)
	if err != nil {
		return nil, fmt.Errorf("registry: parse attestation: %w", err)
	}

	pcr0, pcr1, pcr2 := doc.PCRTriple()
	if !config.matchesPCRs(pcr0, pcr1, pcr2) {
		return nil, ErrInvalidPCRs
	}

	return &EnclaveInstance[App]{
		id:            uuid.NewString(),
		pk:            ed25519.PublicKey(append([]byte(nil), doc.PublicKey...)),
		configVersion: config.Version(),
		owner:         sender,
	}, nil
}

// VerifySignature re-frames (intent, tsMs, payload) under the same
// canonical BCS encoding tee/identity signs with, and checks sig
// against the instance's attested public key. It returns false on any
// mismatch rather than aborting (spec §4.H), so callers can use it as
// a pure predicate in a verification flow.
func VerifySignature[App comparable](instance *EnclaveInstance[App], intent byte, tsMs uint64, payload bcs.Marshaler, sig []byte) bool {
	return identity.Verify(instance.pk, intent, tsMs, payload, sig)
}

// DestroyOldEnclave is permissionless: it succeeds iff instance's
// config version is strictly behind config's current version, i.e. the
// instance was registered against a PCR policy that has since been
// rotated away (spec invariant 7).
func DestroyOldEnclave[App comparable](instance *EnclaveInstance[App], config *EnclaveConfig[App]) error {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.destroyed {
		return ErrInvalidConfigVersion
	}
	if instance.configVersion >= config.Version() {
		return ErrInvalidConfigVersion
	}
	instance.destroyed = true
	return nil
}

// DestroyEnclaveByOwner succeeds iff sender is the instance's
// registering owner (spec invariant 7).
func DestroyEnclaveByOwner[App comparable](instance *EnclaveInstance[App], sender string) error {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.destroyed {
		return ErrInvalidOwner
	}
	if instance.owner != sender {
		return ErrInvalidOwner
	}
	instance.destroyed = true
	return nil
}
