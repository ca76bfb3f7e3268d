// Command enclave is the process that runs inside the Nitro Enclave: it
// generates the ephemeral identity, waits for the host to push secrets
// over VSOCK, then serves the public signing API and the host-only
// Seal bootstrap API until the host cancels it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nitrosign/enclave-signer/internal/config"
	"github.com/nitrosign/enclave-signer/internal/httplog"
	"github.com/nitrosign/enclave-signer/tee/app/weather"
	"github.com/nitrosign/enclave-signer/tee/attestation"
	"github.com/nitrosign/enclave-signer/tee/bridge"
	"github.com/nitrosign/enclave-signer/tee/hostapi"
	"github.com/nitrosign/enclave-signer/tee/identity"
	"github.com/nitrosign/enclave-signer/tee/seal"
	"github.com/nitrosign/enclave-signer/tee/secrets"
	"github.com/nitrosign/enclave-signer/tee/signer"
)

func main() {
	envFile := flag.String("env", "", "optional .env file to load before reading the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile); err != nil {
		log.Fatalf("enclave: %v", err)
	}
}

func run(ctx context.Context, envFile string) error {
	cfg, err := config.LoadEnclave(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := httplog.New("enclave")
	logger.Info().Str("enclave_id", cfg.EnclaveID).Msg("booting")

	id, err := identity.New()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	defer id.Zero()

	attestor := attestation.New(attestation.Config{
		DevicePath: cfg.NSMDevicePath,
		EnclaveID:  cfg.EnclaveID,
	})

	store := secrets.New()
	defer store.Close()

	logger.Info().Msg("awaiting secrets push")
	payload, err := bridge.ReceiveSecrets(ctx)
	if err != nil {
		return fmt.Errorf("receive secrets: %w", err)
	}
	if err := secrets.Populate(store, payload); err != nil {
		return fmt.Errorf("populate secrets: %w", err)
	}
	logger.Info().Msg("secrets installed")

	serverKeys, err := cfg.SealServerPublicKeys()
	if err != nil {
		return fmt.Errorf("parse seal server keys: %w", err)
	}

	registry := prometheus.NewRegistry()

	sealSvc := seal.New(seal.Config{
		Identity:   id,
		Store:      store,
		ServerKeys: serverKeys,
		Threshold:  cfg.SealThreshold,
	})

	weatherApp := weather.New(nil)

	signingServer := signer.New(signer.Config[weather.Request, weather.Response]{
		Identity: id,
		Attestor: attestor,
		Store:    store,
		App:      weatherApp,
		Logger:   logger,
		Registry: registry,
	})

	bootstrapServer := hostapi.New(sealSvc, logger)

	publicSrv := &http.Server{
		Addr:              cfg.PublicAddr,
		Handler:           signingServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	hostOnlySrv := &http.Server{
		Addr:              cfg.HostOnlyAddr,
		Handler:           bootstrapServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.PublicAddr).Msg("public signing API listening")
		serveErr <- serveOrNil(publicSrv.ListenAndServe())
	}()
	go func() {
		logger.Info().Str("addr", cfg.HostOnlyAddr).Msg("host-only bootstrap API listening")
		serveErr <- serveOrNil(hostOnlySrv.ListenAndServe())
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = publicSrv.Shutdown(shutdownCtx)
	_ = hostOnlySrv.Shutdown(shutdownCtx)

	return nil
}

func serveOrNil(err error) error {
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}
