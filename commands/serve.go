package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"cachenet/config"
	"cachenet/swarm/node"
	"cachenet/swarm/registry"
	"cachenet/swarm/transport"

	log "github.com/sirupsen/logrus"
)

// RunServe boots a full node, joins the overlay through the bootstrap
// peer if one is configured, and serves until interrupted.
func RunServe(ctx context.Context, cfg *config.Config) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := openStack(cfg)
	defer s.close()

	reg := registry.New(s.peerID)
	tr := transport.NewManager(s.peerID, reg)

	if err := tr.Start(cfg.Network.ListenAddress); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	n := node.New(cfg, s.peerID, s.ledger, s.store, reg, tr)

	if cfg.Network.Bootstrap != "" {
		if err := n.JoinAddress(cfg.Network.Bootstrap); err != nil {
			log.Errorf("Failed to join through %s: %v", cfg.Network.Bootstrap, err)
		}
	}

	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Node stopped with error: %v", err)
	}
	log.Info("Node shutdown complete")
}
