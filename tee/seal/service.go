package seal

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/identity"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// IntentCertificate domain-separates session certificate signatures
// from application response signatures: both are produced by the same
// ephemeral Ed25519 key, but a certificate must never be mistakable for
// a signed application response.
const IntentCertificate byte = 0xfe

// State is a bootstrap attempt's position in the Idle -> AwaitingResponses
// -> Loaded state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponses
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponses:
		return "awaiting_responses"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// DefaultCertificateTTL is the default session certificate validity
// window.
const DefaultCertificateTTL = 10 * time.Minute

// Config wires a Service to the enclave's identity and secrets store.
type Config struct {
	Identity   *identity.EphemeralIdentity
	Store      *secrets.Store
	ServerKeys []ed25519.PublicKey // pinned key-server public keys, in index order (1-based)
	Threshold  int
	Now        func() time.Time // overridable for tests
}

// Service implements the two-phase bootstrap state machine. A single
// mutex serializes init/complete calls; the protocol has no legitimate
// concurrent use (spec invariant on the bootstrap state machine).
type Service struct {
	mu sync.Mutex

	identity   *identity.EphemeralIdentity
	store      *secrets.Store
	serverKeys []ed25519.PublicKey
	threshold  int
	now        func() time.Time

	state State
	ids   [][]byte
	cert  SessionCertificate
}

// New constructs a Service in the Idle state.
func New(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		identity:   cfg.Identity,
		store:      cfg.Store,
		serverKeys: cfg.ServerKeys,
		threshold:  cfg.Threshold,
		now:        now,
		state:      StateIdle,
	}
}

// State reports the current bootstrap state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InitRequest is the body of POST /init_parameter_load.
type InitRequest struct {
	EnclaveObjectID      string   `json:"enclave_object_id"`
	InitialSharedVersion uint64   `json:"initial_shared_version"`
	IDs                  []string `json:"ids"` // hex-encoded
}

// InitResponse is the body returned from a successful init call.
type InitResponse struct {
	FetchKeyRequest string `json:"fetch_key_request"` // hex(BCS(FetchKeyRequest))
}

// Init builds and signs a FetchKeyRequest for the given ids. A second
// call after Loaded rotates the ElGamal keypair and returns to
// AwaitingResponses, invalidating any certificate from a prior round:
// this is the deliberate resolution of the spec's open question on
// repeated bootstraps (see DESIGN.md).
func (s *Service) Init(req InitRequest) (*InitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateLoaded {
		if err := s.identity.RegenerateElGamalKey(); err != nil {
			return nil, fmt.Errorf("seal: rotate elgamal key: %w", err)
		}
	}

	ids := make([][]byte, 0, len(req.IDs))
	for _, idHex := range req.IDs {
		id, err := hex.DecodeString(idHex)
		if err != nil {
			return nil, fmt.Errorf("seal: decode id %q: %w", idHex, err)
		}
		ids = append(ids, id)
	}

	signPK := s.identity.SignPK()
	sender, err := DeriveAddress(signPK)
	if err != nil {
		return nil, err
	}

	ptb := ServerPTB{
		PackageID: req.EnclaveObjectID,
		Module:    "enclave",
		Function:  "seal_approve",
		IDs:       ids,
		Sender:    sender,
	}
	ptbDigest, err := digestPTB(ptb)
	if err != nil {
		return nil, err
	}

	nowMs := uint64(s.now().UnixMilli())
	cert := SessionCertificate{
		Sender:     sender,
		SessionPK:  signPK,
		CreationMs: nowMs,
		TTLMs:      uint64(DefaultCertificateTTL.Milliseconds()),
		PTBDigest:  ptbDigest,
	}
	_, sig, err := s.identity.Sign(IntentCertificate, nowMs, cert)
	if err != nil {
		return nil, fmt.Errorf("seal: sign certificate: %w", err)
	}
	cert.Signature = sig

	fkr := FetchKeyRequest{
		Certificate: cert,
		EgPK:        s.identity.EgPK(),
		IDs:         ids,
		PTB:         ptb,
	}
	encoded, err := bcs.Encode(fkr)
	if err != nil {
		return nil, fmt.Errorf("seal: encode fetch key request: %w", err)
	}

	s.ids = ids
	s.cert = cert
	s.state = StateAwaitingResponses

	return &InitResponse{FetchKeyRequest: hex.EncodeToString(encoded)}, nil
}

// CompleteRequest is the body of POST /complete_parameter_load.
type CompleteRequest struct {
	EncryptedObjects string `json:"encrypted_objects"` // hex(BCS([]EncryptedObject))
	SealResponses    string `json:"seal_responses"`    // hex(BCS([]KeyShareResponse))
}

// CompleteResponse reports the non-primary secrets recovered, for the
// caller to route as it sees fit. The primary secret is installed as
// API_KEY and is never returned in the response body.
type CompleteResponse struct {
	DummySecrets [][]byte `json:"dummy_secrets"`
}

// Complete verifies server signatures, performs threshold ElGamal
// decryption, installs the recovered secrets, and transitions to
// Loaded.
func (s *Service) Complete(req CompleteRequest) (*CompleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return nil, ErrNotInitialized
	}
	if s.state == StateLoaded {
		return nil, ErrAlreadyLoaded
	}
	if uint64(s.now().UnixMilli()) > s.cert.ExpiresAt() {
		return nil, ErrCertificateExpired
	}

	rawObjects, err := hex.DecodeString(req.EncryptedObjects)
	if err != nil {
		return nil, fmt.Errorf("seal: decode encrypted_objects hex: %w", err)
	}
	objects, err := DecodeEncryptedObjects(rawObjects)
	if err != nil {
		return nil, err
	}

	rawResponses, err := hex.DecodeString(req.SealResponses)
	if err != nil {
		return nil, fmt.Errorf("seal: decode seal_responses hex: %w", err)
	}
	responses, err := DecodeKeyShareResponses(rawResponses)
	if err != nil {
		return nil, err
	}

	byID := make(map[string][]KeyShareResponse)
	for _, resp := range responses {
		if resp.ServerIndex < 1 || resp.ServerIndex > len(s.serverKeys) {
			return nil, fmt.Errorf("%w: server index %d out of range", ErrSignatureMismatch, resp.ServerIndex)
		}
		if !resp.VerifySignature(s.serverKeys[resp.ServerIndex-1]) {
			return nil, ErrSignatureMismatch
		}
		key := hex.EncodeToString(resp.ID)
		byID[key] = append(byID[key], resp)
	}

	plaintexts := make(map[string][]byte, len(objects))
	order := make([]string, 0, len(objects))
	for _, obj := range objects {
		key := hex.EncodeToString(obj.ID)
		shares := byID[key]
		if len(shares) < s.threshold {
			return nil, fmt.Errorf("%w: id %s has %d of %d required shares", ErrThresholdNotMet, key, len(shares), s.threshold)
		}

		points := make([]indexedPoint, 0, s.threshold)
		for _, share := range shares[:s.threshold] {
			point := s.identity.ElGamalDecrypt(share.C1, share.C2)
			points = append(points, indexedPoint{index: share.ServerIndex, point: point})
		}

		combined, err := combineShares(points)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		contentKey, err := deriveContentKey(combined, obj.ID)
		if err != nil {
			return nil, err
		}
		plaintext, err := decryptObject(contentKey, obj)
		if err != nil {
			return nil, err
		}

		plaintexts[key] = plaintext
		order = append(order, key)
	}

	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no encrypted objects provided", ErrDecryptionFailed)
	}

	if err := s.store.Write("API_KEY", plaintexts[order[0]]); err != nil {
		return nil, fmt.Errorf("seal: install API_KEY: %w", err)
	}
	dummy := make([][]byte, 0, len(order)-1)
	for _, key := range order[1:] {
		if err := s.store.Write(key, plaintexts[key]); err != nil {
			return nil, fmt.Errorf("seal: install secret %s: %w", key, err)
		}
		dummy = append(dummy, plaintexts[key])
	}

	s.state = StateLoaded
	return &CompleteResponse{DummySecrets: dummy}, nil
}
