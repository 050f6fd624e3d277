package commands

import (
	"context"

	"cachenet/config"
	"cachenet/swarm/node"
	"cachenet/swarm/registry"
	"cachenet/swarm/transport"

	log "github.com/sirupsen/logrus"
)

// RunFetch joins the overlay, fetches one file by fingerprint and
// writes it to outputPath.
func RunFetch(ctx context.Context, cfg *config.Config, fileHash, outputPath string) {
	s := openStack(cfg)
	defer s.close()

	reg := registry.New(s.peerID)
	tr := transport.NewManager(s.peerID, reg)

	if err := tr.Start(cfg.Network.ListenAddress); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tr.Serve(ctx)

	n := node.New(cfg, s.peerID, s.ledger, s.store, reg, tr)

	if cfg.Network.Bootstrap != "" {
		if err := n.JoinAddress(cfg.Network.Bootstrap); err != nil {
			log.Errorf("Failed to join through %s: %v", cfg.Network.Bootstrap, err)
		}
	}

	if !n.Fetch(fileHash, outputPath) {
		log.Fatalf("Failed to fetch %s", fileHash)
	}
	log.Infof("Fetched %s into %s", fileHash, outputPath)
}
