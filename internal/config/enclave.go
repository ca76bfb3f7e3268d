package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Enclave holds the boot-time configuration for the enclave-side
// process: the NSM device, the app-facing listener, and the host-only
// bootstrap listener the bridge forwards from the parent instance.
type Enclave struct {
	EnclaveID     string `env:"ENCLAVE_ID,default=nitrosign-enclave"`
	NSMDevicePath string `env:"NSM_DEVICE_PATH,default=/dev/nsm"`

	PublicAddr   string `env:"PUBLIC_ADDR,default=0.0.0.0:3000"`
	HostOnlyAddr string `env:"HOST_ONLY_ADDR,default=0.0.0.0:3001"`

	WeatherAPIKeyName string `env:"WEATHER_API_KEY_NAME,default=WEATHER_API_KEY"`

	// SealServerKeys is a comma-separated list of hex-encoded Ed25519
	// public keys, one per pinned key server, in the 1-based index
	// order the Seal protocol signs server-share responses against.
	SealServerKeys string `env:"SEAL_SERVER_KEYS,default="`
	SealThreshold  int    `env:"SEAL_THRESHOLD,default=1"`
}

// LoadEnclave reads envFile if present (a missing file is not an
// error — inside the enclave there usually isn't one; envFile is
// mainly for local simulation) and decodes process environment into an
// Enclave config, the same two-step godotenv-then-envdecode sequence
// the platform's seed tooling uses.
func LoadEnclave(envFile string) (Enclave, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Enclave{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Enclave
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Enclave{}, fmt.Errorf("config: decode enclave env: %w", err)
	}
	return cfg, nil
}

// SealServerPublicKeys parses the comma-separated SealServerKeys field
// into ordered Ed25519 public keys, ready for seal.Config.ServerKeys.
func (e Enclave) SealServerPublicKeys() ([]ed25519.PublicKey, error) {
	raw := strings.TrimSpace(e.SealServerKeys)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	keys := make([]ed25519.PublicKey, 0, len(parts))
	for i, p := range parts {
		b, err := hex.DecodeString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("config: seal server key %d: %w", i+1, err)
		}
		keys = append(keys, ed25519.PublicKey(b))
	}
	return keys, nil
}
