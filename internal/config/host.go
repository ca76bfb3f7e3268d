package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Host holds the boot-time configuration for the parent-instance
// process: which enclave CID to dial, where its secrets bundle lives
// on disk, and the local addresses the host forwards to/from the
// enclave's VSOCK ports.
type Host struct {
	EnclaveCID  uint32 `env:"ENCLAVE_CID,default=4"`
	SecretsPath string `env:"SECRETS_PATH,default=./secrets.json"`

	PublicListenAddr   string `env:"PUBLIC_LISTEN_ADDR,default=0.0.0.0:3000"`
	HostOnlyListenAddr string `env:"HOST_ONLY_LISTEN_ADDR,default=127.0.0.1:3001"`

	OutboundProxyEnabled bool `env:"OUTBOUND_PROXY_ENABLED,default=true"`
}

// LoadHost mirrors LoadEnclave's godotenv-then-envdecode sequence for
// the host-side binary.
func LoadHost(envFile string) (Host, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Host{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Host
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Host{}, fmt.Errorf("config: decode host env: %w", err)
	}
	return cfg, nil
}
