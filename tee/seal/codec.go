package seal

import (
	"crypto/ed25519"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"

	"github.com/nitrosign/enclave-signer/tee/bcs"
)

// EncryptedObject is one admin-encrypted secret, produced out-of-band
// by the Seal CLI and handed to the enclave (via the host) alongside
// the key servers' responses.
type EncryptedObject struct {
	ID         []byte
	Nonce      []byte
	Ciphertext []byte
}

// MarshalBCS encodes ID, Nonce, Ciphertext in that order.
func (o EncryptedObject) MarshalBCS(w *bcs.Writer) error {
	w.WriteBytes(o.ID)
	w.WriteBytes(o.Nonce)
	w.WriteBytes(o.Ciphertext)
	return nil
}

// EncodeEncryptedObjects BCS-encodes a ULEB128-prefixed list.
func EncodeEncryptedObjects(objs []EncryptedObject) ([]byte, error) {
	w := bcs.NewWriter()
	w.WriteULEB128(uint64(len(objs)))
	for _, o := range objs {
		if err := o.MarshalBCS(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeEncryptedObjects reverses EncodeEncryptedObjects.
func DecodeEncryptedObjects(raw []byte) ([]EncryptedObject, error) {
	r := bcs.NewReader(raw)
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, fmt.Errorf("seal: decode encrypted objects count: %w", err)
	}
	objs := make([]EncryptedObject, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode object %d id: %w", i, err)
		}
		nonce, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode object %d nonce: %w", i, err)
		}
		ct, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode object %d ciphertext: %w", i, err)
		}
		objs = append(objs, EncryptedObject{ID: id, Nonce: nonce, Ciphertext: ct})
	}
	return objs, nil
}

// EncodeKeyShareResponses BCS-encodes a ULEB128-prefixed list of server
// responses.
func EncodeKeyShareResponses(resps []KeyShareResponse) ([]byte, error) {
	w := bcs.NewWriter()
	w.WriteULEB128(uint64(len(resps)))
	for _, resp := range resps {
		w.WriteULEB128(uint64(resp.ServerIndex))
		w.WriteBytes(resp.ID)
		c1 := resp.C1.Bytes()
		c2 := resp.C2.Bytes()
		w.WriteBytes(c1[:])
		w.WriteBytes(c2[:])
		w.WriteBytes(resp.Signature)
	}
	return w.Bytes(), nil
}

// DecodeKeyShareResponses reverses EncodeKeyShareResponses.
func DecodeKeyShareResponses(raw []byte) ([]KeyShareResponse, error) {
	r := bcs.NewReader(raw)
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, fmt.Errorf("seal: decode responses count: %w", err)
	}
	resps := make([]KeyShareResponse, 0, n)
	for i := uint64(0); i < n; i++ {
		idx, err := r.ReadULEB128()
		if err != nil {
			return nil, fmt.Errorf("seal: decode response %d index: %w", i, err)
		}
		id, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode response %d id: %w", i, err)
		}
		c1Bytes, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode response %d c1: %w", i, err)
		}
		c2Bytes, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode response %d c2: %w", i, err)
		}
		sig, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("seal: decode response %d signature: %w", i, err)
		}

		var c1, c2 bls12381.G1Affine
		if _, err := c1.SetBytes(c1Bytes); err != nil {
			return nil, fmt.Errorf("seal: decode response %d c1 point: %w", i, err)
		}
		if _, err := c2.SetBytes(c2Bytes); err != nil {
			return nil, fmt.Errorf("seal: decode response %d c2 point: %w", i, err)
		}

		resps = append(resps, KeyShareResponse{
			ServerIndex: int(idx),
			ID:          id,
			C1:          c1,
			C2:          c2,
			Signature:   sig,
		})
	}
	return resps, nil
}

// VerifySignature checks a KeyShareResponse's signature against the
// pinned public key for its server index.
func (r KeyShareResponse) VerifySignature(serverPK ed25519.PublicKey) bool {
	payload, err := r.signedPayload()
	if err != nil {
		return false
	}
	return ed25519.Verify(serverPK, payload, r.Signature)
}
