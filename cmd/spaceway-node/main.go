// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spaceway/spaceway/internal/config"
	"github.com/spaceway/spaceway/internal/dht"
	"github.com/spaceway/spaceway/internal/facade"
	"github.com/spaceway/spaceway/internal/gossip"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/log"
	"github.com/spaceway/spaceway/internal/metrics"
	"github.com/spaceway/spaceway/internal/rendezvous/bootstrap"
	"github.com/spaceway/spaceway/internal/rendezvous/lan"
	"github.com/spaceway/spaceway/internal/store"
)

func main() {
	listenAddr := flag.String("listen", ":4001", "address to listen on")
	dataDir := flag.String("data-dir", "./spaceway-data", "persistent data directory")
	identityPath := flag.String("identity", "", "path to a persisted identity seed file (generated if missing)")
	preset := flag.String("preset", string(config.PresetNode), "config preset: node or local")
	relayOnly := flag.Bool("relay-only", false, "set the relay-only flag in the node config (passed to the façade, which does not act on it)")
	bootstrapDomain := flag.String("bootstrap-domain", "", "DNS domain to resolve for bootstrap peers")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := log.New("spaceway-node", level)

	cfg, err := buildConfig(*preset, *listenAddr, *dataDir, *identityPath, *relayOnly, *bootstrapDomain)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	kp, err := loadOrGenerateIdentity(cfg.IdentityPath)
	if err != nil {
		logger.Error("failed to load identity", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	loopbackPeers := dht.NewLoopback("self")
	overlay := dht.New(loopbackPeers.View("self"))
	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	fabric := gossip.New(gossip.PeerId("self"), nil, registry)

	fc := facade.New(kp, st, fabric, overlay, cfg.RelayOnly, logger)

	if len(cfg.BootstrapDomains) > 0 {
		resolver := bootstrap.NewResolver("")
		for _, domain := range cfg.BootstrapDomains {
			peers, err := resolver.Resolve(domain)
			if err != nil {
				logger.Warn("bootstrap domain resolution failed", "domain", domain, "error", err)
				continue
			}
			for _, p := range peers {
				logger.Info("discovered bootstrap peer", "addr", p.Addr)
			}
		}
	}

	advertiser, err := lan.Advertise("spaceway-node", portFromAddr(cfg.ListenAddr), nil)
	if err != nil {
		logger.Warn("mDNS advertisement unavailable", "error", err)
	} else {
		defer advertiser.Shutdown()
	}

	logger.Info("spaceway node started",
		"listen_addr", cfg.ListenAddr,
		"user_id", kp.UserId().ShortString(),
		"relay_only", cfg.RelayOnly,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down, draining in-flight tasks")
	if err := fc.Wait(); err != nil {
		logger.Warn("background tasks reported an error during shutdown", "error", err)
	}
}

func buildConfig(preset, listenAddr, dataDir, identityPath string, relayOnly bool, bootstrapDomain string) (*config.Config, error) {
	b := config.NewBuilder().FromPreset(config.Preset(preset)).
		WithListenAddr(listenAddr).
		WithDataDir(dataDir).
		WithRelayOnly(relayOnly)
	if identityPath != "" {
		b = b.WithIdentityPath(identityPath)
	}
	if bootstrapDomain != "" {
		b = b.WithBootstrapDomains(bootstrapDomain)
	}
	return b.Build()
}

func loadOrGenerateIdentity(path string) (*identity.Keypair, error) {
	if path == "" {
		return identity.Generate()
	}
	seed, err := os.ReadFile(path)
	if err == nil {
		return identity.FromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, genErr := identity.Generate()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, kp.Seed(), 0o600); writeErr != nil {
		return nil, writeErr
	}
	return kp, nil
}

// portFromAddr extracts the numeric port suffix from a ":PORT" or
// "HOST:PORT" listen address, defaulting to 0 (OS-assigned) on any
// parse failure rather than failing node startup over an mDNS nicety.
func portFromAddr(addr string) int {
	var port int
	if _, err := fmt.Sscanf(lastColonSegment(addr), "%d", &port); err != nil {
		return 0
	}
	return port
}

func lastColonSegment(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i+1:]
		}
	}
	return addr
}
