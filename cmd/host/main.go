// Command host runs on the Nitro parent instance: it pushes the
// secrets bundle into the enclave once at startup, then forwards the
// enclave's public and host-only VSOCK ports to local TCP listeners and
// runs the outbound proxy the enclave uses for all network access.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nitrosign/enclave-signer/internal/config"
	"github.com/nitrosign/enclave-signer/tee/bridge"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

func main() {
	envFile := flag.String("env", "", "optional .env file to load before reading the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile); err != nil {
		log.Fatalf("host: %v", err)
	}
}

func run(ctx context.Context, envFile string) error {
	cfg, err := config.LoadHost(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := pushSecrets(cfg); err != nil {
		return fmt.Errorf("push secrets: %w", err)
	}
	log.Printf("host: secrets pushed to enclave cid=%d", cfg.EnclaveCID)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("host: forwarding %s -> cid=%d port=3000", cfg.PublicListenAddr, cfg.EnclaveCID)
		return bridge.ForwardTCP(ctx, cfg.PublicListenAddr, cfg.EnclaveCID, 3000)
	})
	g.Go(func() error {
		log.Printf("host: forwarding %s -> cid=%d port=3001", cfg.HostOnlyListenAddr, cfg.EnclaveCID)
		return bridge.ForwardTCP(ctx, cfg.HostOnlyListenAddr, cfg.EnclaveCID, 3001)
	})
	if cfg.OutboundProxyEnabled {
		g.Go(func() error {
			log.Printf("host: running outbound proxy for cid=%d", cfg.EnclaveCID)
			return bridge.RunOutboundProxy(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// pushSecrets reads the host-local secrets bundle file and pushes it to
// the enclave's secrets port. The file is a JSON object, the same
// shape secrets.EncodeBundle produces, so an operator can hand-author
// one for local testing.
func pushSecrets(cfg config.Host) error {
	raw, err := os.ReadFile(cfg.SecretsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.SecretsPath, err)
	}

	var bundle secrets.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("validate %s: %w", cfg.SecretsPath, err)
	}

	return bridge.PushSecrets(cfg.EnclaveCID, raw)
}
