// Package seal implements the two-phase secret bootstrap protocol: an
// untrusted host ferries fetch-key traffic between the enclave and a
// set of Seal key servers without ever learning the secrets being
// loaded, because every response is encrypted to the enclave's
// ephemeral ElGamal public key.
package seal

import (
	"crypto/sha256"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"golang.org/x/crypto/blake2b"

	"github.com/nitrosign/enclave-signer/tee/bcs"
)

// digestPTB returns a SHA-256 digest of a PTB's canonical BCS encoding,
// bound into the session certificate so the certificate authorizes
// exactly one transaction shape.
func digestPTB(ptb ServerPTB) ([]byte, error) {
	raw, err := bcs.Encode(ptb)
	if err != nil {
		return nil, fmt.Errorf("seal: encode ptb: %w", err)
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// DeriveAddress computes the Seal transaction sender address bound to
// an Ed25519 public key: blake2b256(0x00 || pk). The leading zero byte
// is the signature-scheme flag (Ed25519 = 0).
func DeriveAddress(signPK []byte) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("seal: new blake2b hash: %w", err)
	}
	h.Write([]byte{0x00})
	h.Write(signPK)
	return h.Sum(nil), nil
}

// ServerPTB stands in for the programmable transaction block a real
// Seal integration would submit to invoke the application's
// seal_approve(id, &Enclave) policy. Chain submission is out of scope
// here; this only needs to be shaped consistently enough for a key
// server to evaluate the policy against and for the certificate to
// authorize.
type ServerPTB struct {
	PackageID string
	Module    string
	Function  string
	IDs       [][]byte
	Sender    []byte
}

// MarshalBCS encodes the PTB in declaration order.
func (p ServerPTB) MarshalBCS(w *bcs.Writer) error {
	w.WriteString(p.PackageID)
	w.WriteString(p.Module)
	w.WriteString(p.Function)
	w.WriteULEB128(uint64(len(p.IDs)))
	for _, id := range p.IDs {
		w.WriteBytes(id)
	}
	w.WriteBytes(p.Sender)
	return nil
}

// SessionCertificate authorizes a bounded-validity window of
// seal_approve evaluations against a specific PTB, signed by the
// enclave's ephemeral sign_sk so a key server can verify the request
// actually originated from an attested enclave session.
type SessionCertificate struct {
	Sender     []byte
	SessionPK  []byte // enclave's Ed25519 public key for this session
	CreationMs uint64
	TTLMs      uint64
	PTBDigest  []byte
	Signature  []byte
}

// MarshalBCS encodes every field but Signature, which is computed over
// this encoding.
func (c SessionCertificate) MarshalBCS(w *bcs.Writer) error {
	w.WriteBytes(c.Sender)
	w.WriteBytes(c.SessionPK)
	w.WriteU64(c.CreationMs)
	w.WriteU64(c.TTLMs)
	w.WriteBytes(c.PTBDigest)
	return nil
}

// ExpiresAt returns the certificate's expiry in epoch milliseconds.
func (c SessionCertificate) ExpiresAt() uint64 {
	return c.CreationMs + c.TTLMs
}

// FetchKeyRequest is emitted by /init_parameter_load, BCS-encoded then
// hex-encoded for transport over the host bridge to the key servers.
type FetchKeyRequest struct {
	Certificate SessionCertificate
	EgPK        bls12381.G1Affine
	IDs         [][]byte
	PTB         ServerPTB
}

// MarshalBCS encodes the certificate, the ElGamal public key in
// compressed form, the id list, and the PTB, in that order.
func (r FetchKeyRequest) MarshalBCS(w *bcs.Writer) error {
	if err := r.Certificate.MarshalBCS(w); err != nil {
		return err
	}
	w.WriteBytes(r.Certificate.Signature)
	compressed := r.EgPK.Bytes()
	w.WriteBytes(compressed[:])
	w.WriteULEB128(uint64(len(r.IDs)))
	for _, id := range r.IDs {
		w.WriteBytes(id)
	}
	return r.PTB.MarshalBCS(w)
}

// KeyShareResponse is one key server's answer to a FetchKeyRequest: a
// partial ElGamal-encrypted share of the master secret for a given id,
// signed by that server's pinned Ed25519 key.
type KeyShareResponse struct {
	ServerIndex int
	ID          []byte
	C1          bls12381.G1Affine
	C2          bls12381.G1Affine
	Signature   []byte
}

// signedPayload is what each server actually signs: (id, c1, c2)
// encoded under BCS, so signature verification does not depend on any
// transport-specific framing.
func (r KeyShareResponse) signedPayload() ([]byte, error) {
	w := bcs.NewWriter()
	w.WriteBytes(r.ID)
	c1 := r.C1.Bytes()
	c2 := r.C2.Bytes()
	w.WriteBytes(c1[:])
	w.WriteBytes(c2[:])
	return w.Bytes(), nil
}
