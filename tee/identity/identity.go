// Package identity implements the enclave's crypto core: the ephemeral
// Ed25519 signing keypair and the ephemeral BLS12-381 ElGamal keypair
// used only for the Seal bootstrap, plus IntentMessage signing bound to
// the canonical BCS encoding in tee/bcs.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/nitrosign/enclave-signer/tee/bcs"
)

// EphemeralIdentity holds the keys generated once at enclave boot. The
// private scalars never leave this struct: callers only ever see the
// public keys or the output of Sign/ElGamalDecrypt.
type EphemeralIdentity struct {
	mu sync.RWMutex

	signSK ed25519.PrivateKey
	signPK ed25519.PublicKey

	egSK fr.Element
	egPK bls12381.G1Affine

	zeroed bool
}

// New generates a fresh ephemeral identity from the platform CSPRNG.
// Failure here is fatal: the enclave must not serve requests without a
// signing key.
func New() (*EphemeralIdentity, error) {
	signPK, signSK, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}

	var egSK fr.Element
	if _, err := egSK.SetRandom(); err != nil {
		return nil, fmt.Errorf("identity: generate elgamal scalar: %w", err)
	}

	_, _, g1Gen, _ := bls12381.Generators()
	var egPK bls12381.G1Affine
	egPK.ScalarMultiplication(&g1Gen, egSK.BigInt(new(big.Int)))

	return &EphemeralIdentity{
		signSK: signSK,
		signPK: signPK,
		egSK:   egSK,
		egPK:   egPK,
	}, nil
}

// SignPK returns a copy of the Ed25519 public key.
func (id *EphemeralIdentity) SignPK() ed25519.PublicKey {
	id.mu.RLock()
	defer id.mu.RUnlock()
	pk := make(ed25519.PublicKey, len(id.signPK))
	copy(pk, id.signPK)
	return pk
}

// EgPK returns the ElGamal public key used to bootstrap via Seal.
func (id *EphemeralIdentity) EgPK() bls12381.G1Affine {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.egPK
}

// Sign serializes IntentMessage{intent, timestampMs, payload} under BCS
// and signs the result with the ephemeral Ed25519 key. It returns both
// the serialized bytes (for debugging/reproducibility) and the 64-byte
// signature.
func (id *EphemeralIdentity) Sign(intent byte, timestampMs uint64, payload bcs.Marshaler) (message, signature []byte, err error) {
	message, err = bcs.EncodeIntentMessage(intent, timestampMs, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: encode intent message: %w", err)
	}

	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.zeroed {
		return nil, nil, fmt.Errorf("identity: signing key has been zeroed")
	}
	signature = ed25519.Sign(id.signSK, message)
	return message, signature, nil
}

// Verify re-serializes (intent, timestampMs, payload) and checks sig
// against pk. It never panics and is safe to call with an untrusted pk.
func Verify(pk ed25519.PublicKey, intent byte, timestampMs uint64, payload bcs.Marshaler, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	message, err := bcs.EncodeIntentMessage(intent, timestampMs, payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pk, message, sig)
}

// RegenerateElGamalKey replaces the ElGamal keypair in place. Used to
// implement the Seal bootstrap's "second init after Loaded rotates
// eg_sk" decision (see SPEC_FULL.md §7).
func (id *EphemeralIdentity) RegenerateElGamalKey() error {
	var egSK fr.Element
	if _, err := egSK.SetRandom(); err != nil {
		return fmt.Errorf("identity: regenerate elgamal scalar: %w", err)
	}
	_, _, g1Gen, _ := bls12381.Generators()
	var egPK bls12381.G1Affine
	egPK.ScalarMultiplication(&g1Gen, egSK.BigInt(new(big.Int)))

	id.mu.Lock()
	defer id.mu.Unlock()
	id.egSK.Set(&egSK)
	id.egPK = egPK
	return nil
}

// ElGamalDecrypt recovers the plaintext curve point C2 - egSK*C1 from a
// ciphertext addressed to this identity's ElGamal public key. It is
// used by tee/seal to decrypt threshold key-share responses; the
// scalar egSK never leaves this method.
func (id *EphemeralIdentity) ElGamalDecrypt(c1, c2 bls12381.G1Affine) bls12381.G1Affine {
	id.mu.RLock()
	defer id.mu.RUnlock()

	var shared bls12381.G1Affine
	shared.ScalarMultiplication(&c1, id.egSK.BigInt(new(big.Int)))

	var sharedJac, c2Jac, out bls12381.G1Jac
	sharedJac.FromAffine(&shared)
	c2Jac.FromAffine(&c2)
	out.Sub(&c2Jac, &sharedJac)

	var result bls12381.G1Affine
	result.FromJacobian(&out)
	return result
}

// Zero scrubs the private scalars. The enclave should call this on
// shutdown; it does not persist keys across restarts (Non-goal, spec §1).
func (id *EphemeralIdentity) Zero() {
	id.mu.Lock()
	defer id.mu.Unlock()
	for i := range id.signSK {
		id.signSK[i] = 0
	}
	id.egSK.SetZero()
	id.zeroed = true
}
