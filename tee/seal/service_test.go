package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/nitrosign/enclave-signer/tee/identity"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// fixtureObject bundles one admin-encrypted secret with the per-server
// key shares a simulated key-server fleet would hand back for it.
type fixtureObject struct {
	id        []byte
	plaintext []byte
}

// buildFixtures simulates, for each object, a degree-(threshold-1)
// Shamir polynomial over Fr whose constant term is the object's
// ephemeral content-key scalar, distributes evaluations to serverIdx
// 1..len(serverSKs), ElGamal-encrypts each evaluation point to egPK,
// signs the response with the corresponding server key, and AES-GCM
// encrypts the plaintext under the key the real Complete call will
// independently derive via Lagrange interpolation.
func buildFixtures(t *testing.T, egPK bls12381.G1Affine, serverSKs []ed25519.PrivateKey, threshold int, objs []fixtureObject) ([]EncryptedObject, []KeyShareResponse) {
	t.Helper()

	_, _, g1Gen, _ := bls12381.Generators()

	var encrypted []EncryptedObject
	var responses []KeyShareResponse

	for _, obj := range objs {
		var secretScalar fr.Element
		_, err := secretScalar.SetRandom()
		require.NoError(t, err)

		coeffs := make([]fr.Element, threshold)
		coeffs[0] = secretScalar
		for i := 1; i < threshold; i++ {
			_, err := coeffs[i].SetRandom()
			require.NoError(t, err)
		}

		var combinedPoint bls12381.G1Affine
		combinedPoint.ScalarMultiplication(&g1Gen, secretScalar.BigInt(new(big.Int)))

		for serverIdx := 1; serverIdx <= len(serverSKs); serverIdx++ {
			share := evalPoly(coeffs, serverIdx)

			var sharePoint bls12381.G1Affine
			sharePoint.ScalarMultiplication(&g1Gen, share.BigInt(new(big.Int)))

			var r fr.Element
			_, err := r.SetRandom()
			require.NoError(t, err)

			var c1 bls12381.G1Affine
			c1.ScalarMultiplication(&g1Gen, r.BigInt(new(big.Int)))

			var rEgPK bls12381.G1Affine
			rEgPK.ScalarMultiplication(&egPK, r.BigInt(new(big.Int)))

			var sharePointJac, rEgPKJac, c2Jac bls12381.G1Jac
			sharePointJac.FromAffine(&sharePoint)
			rEgPKJac.FromAffine(&rEgPK)
			c2Jac.Add(&sharePointJac, &rEgPKJac)
			var c2 bls12381.G1Affine
			c2.FromJacobian(&c2Jac)

			resp := KeyShareResponse{ServerIndex: serverIdx, ID: obj.id, C1: c1, C2: c2}
			payload, err := resp.signedPayload()
			require.NoError(t, err)
			resp.Signature = ed25519.Sign(serverSKs[serverIdx-1], payload)

			responses = append(responses, resp)
		}

		key, err := deriveContentKey(combinedPoint, obj.id)
		require.NoError(t, err)

		block, err := aes.NewCipher(key)
		require.NoError(t, err)
		gcm, err := cipher.NewGCM(block)
		require.NoError(t, err)

		nonce := make([]byte, gcm.NonceSize())
		_, err = rand.Read(nonce)
		require.NoError(t, err)
		ciphertext := gcm.Seal(nil, nonce, obj.plaintext, obj.id)

		encrypted = append(encrypted, EncryptedObject{ID: obj.id, Nonce: nonce, Ciphertext: ciphertext})
	}

	return encrypted, responses
}

// evalPoly evaluates sum(coeffs[i] * x^i) over Fr at x = point.
func evalPoly(coeffs []fr.Element, point int) fr.Element {
	var x, xPow, term, acc fr.Element
	x.SetInt64(int64(point))
	xPow.SetOne()
	acc.SetZero()
	for _, c := range coeffs {
		term.Mul(&c, &xPow)
		acc.Add(&acc, &term)
		xPow.Mul(&xPow, &x)
	}
	return acc
}

func TestTwoPhaseBootstrapHappyPath(t *testing.T) {
	id, err := identity.New()
	require.NoError(t, err)

	serverSK1PK, serverSK1, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	serverSK2PK, serverSK2, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	const threshold = 2
	idZero, err := hex.DecodeString("0000")
	require.NoError(t, err)
	idOne, err := hex.DecodeString("0001")
	require.NoError(t, err)

	plainZero, err := hex.DecodeString("303435")
	require.NoError(t, err)
	plainOne, err := hex.DecodeString("0101")
	require.NoError(t, err)

	objects, responses := buildFixtures(t, id.EgPK(), []ed25519.PrivateKey{serverSK1, serverSK2}, threshold,
		[]fixtureObject{
			{id: idZero, plaintext: plainZero},
			{id: idOne, plaintext: plainOne},
		})

	store := secrets.New()
	svc := New(Config{
		Identity:   id,
		Store:      store,
		ServerKeys: []ed25519.PublicKey{serverSK1PK, serverSK2PK},
		Threshold:  threshold,
		Now:        func() time.Time { return time.Unix(1_700_000_000, 0) },
	})

	require.Equal(t, StateIdle, svc.State())

	_, err = svc.Complete(CompleteRequest{})
	require.ErrorIs(t, err, ErrNotInitialized)

	initResp, err := svc.Init(InitRequest{
		EnclaveObjectID:      "0xpkg",
		InitialSharedVersion: 1,
		IDs:                  []string{"0000", "0001"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, initResp.FetchKeyRequest)
	require.Equal(t, StateAwaitingResponses, svc.State())

	encodedObjects, err := EncodeEncryptedObjects(objects)
	require.NoError(t, err)
	encodedResponses, err := EncodeKeyShareResponses(responses)
	require.NoError(t, err)

	completeResp, err := svc.Complete(CompleteRequest{
		EncryptedObjects: hex.EncodeToString(encodedObjects),
		SealResponses:    hex.EncodeToString(encodedResponses),
	})
	require.NoError(t, err)
	require.Equal(t, StateLoaded, svc.State())
	require.Equal(t, [][]byte{plainOne}, completeResp.DummySecrets)

	apiKey, err := store.Read("API_KEY")
	require.NoError(t, err)
	require.Equal(t, plainZero, apiKey)

	_, err = svc.Complete(CompleteRequest{})
	require.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestCompleteRejectsWrongServerSignature(t *testing.T) {
	id, err := identity.New()
	require.NoError(t, err)

	_, serverSK1, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wrongPK, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	idZero, err := hex.DecodeString("0000")
	require.NoError(t, err)
	objects, responses := buildFixtures(t, id.EgPK(), []ed25519.PrivateKey{serverSK1}, 1,
		[]fixtureObject{{id: idZero, plaintext: []byte("secret")}})

	store := secrets.New()
	svc := New(Config{
		Identity:   id,
		Store:      store,
		ServerKeys: []ed25519.PublicKey{wrongPK},
		Threshold:  1,
	})

	_, err = svc.Init(InitRequest{EnclaveObjectID: "0xpkg", IDs: []string{"0000"}})
	require.NoError(t, err)

	encodedObjects, err := EncodeEncryptedObjects(objects)
	require.NoError(t, err)
	encodedResponses, err := EncodeKeyShareResponses(responses)
	require.NoError(t, err)

	_, err = svc.Complete(CompleteRequest{
		EncryptedObjects: hex.EncodeToString(encodedObjects),
		SealResponses:    hex.EncodeToString(encodedResponses),
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestAddressDerivationVector(t *testing.T) {
	pk, err := hex.DecodeString("5c38d3668c45ff891766ee99bd3522ae48d9771dc77e8a6ac9f0bde6c3a2ca48")
	require.NoError(t, err)

	addr, err := DeriveAddress(pk)
	require.NoError(t, err)
	require.Equal(t, "29287d8584fb5b71b8d62e7224b867207d205fb61d42b7cce0deef95bf4e8202", hex.EncodeToString(addr))
}
