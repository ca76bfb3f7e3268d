package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
	"io"
)

// indexedPoint is one decrypted key share: the key server's index (the
// Shamir x-coordinate) and the recovered point s_i*G.
type indexedPoint struct {
	index int
	point bls12381.G1Affine
}

// combineShares Lagrange-interpolates a set of Shamir shares of a
// secret, each given "in the exponent" as s_i*G rather than as the raw
// scalar s_i, and recovers s*G without ever reconstructing s itself.
// This is what lets the enclave combine shares from multiple,
// independently-operated key servers while only the enclave (holding
// eg_sk) ever saw the individual s_i*G points in the first place.
func combineShares(shares []indexedPoint) (bls12381.G1Affine, error) {
	if len(shares) == 0 {
		return bls12381.G1Affine{}, fmt.Errorf("seal: no shares to combine")
	}

	var acc bls12381.G1Jac
	acc.FromAffine(&bls12381.G1Affine{}) // identity

	for i, si := range shares {
		lambda, err := lagrangeCoefficientAtZero(shares, i)
		if err != nil {
			return bls12381.G1Affine{}, err
		}

		var term bls12381.G1Affine
		term.ScalarMultiplication(&si.point, lambda.BigInt(new(big.Int)))

		var termJac bls12381.G1Jac
		termJac.FromAffine(&term)
		acc.AddAssign(&termJac)
	}

	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return result, nil
}

// lagrangeCoefficientAtZero computes lambda_i(0) = prod_{j != i} (0 -
// x_j) / (x_i - x_j) over the scalar field Fr, for the share at
// position i in shares.
func lagrangeCoefficientAtZero(shares []indexedPoint, i int) (fr.Element, error) {
	var num, den, xi, xj, term fr.Element
	num.SetOne()
	den.SetOne()
	xi.SetInt64(int64(shares[i].index))

	for j, sj := range shares {
		if j == i {
			continue
		}
		xj.SetInt64(int64(sj.index))

		term.Neg(&xj) // (0 - x_j)
		num.Mul(&num, &term)

		term.Sub(&xi, &xj) // (x_i - x_j)
		if term.IsZero() {
			return fr.Element{}, fmt.Errorf("seal: duplicate share index %d", shares[i].index)
		}
		den.Mul(&den, &term)
	}

	den.Inverse(&den)
	var lambda fr.Element
	lambda.Mul(&num, &den)
	return lambda, nil
}

// deriveContentKey HKDF-derives a 32-byte AES-256-GCM key from a
// combined ElGamal share point, bound to the object id so two objects
// encrypted to the same share set never reuse a key.
func deriveContentKey(combined bls12381.G1Affine, id []byte) ([]byte, error) {
	compressed := combined.Bytes()
	r := hkdf.New(sha256.New, compressed[:], id, []byte("nitrosign-seal-content-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("seal: hkdf derive: %w", err)
	}
	return key, nil
}

// decryptObject opens an EncryptedObject's ciphertext with an
// AES-256-GCM key derived via deriveContentKey.
func decryptObject(key []byte, obj EncryptedObject) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, obj.Nonce, obj.Ciphertext, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
