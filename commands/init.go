package commands

import (
	"context"

	"cachenet/config"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a fresh default configuration, pinning a generated
// peer id so the node keeps its identity across restarts.
func RunInit(ctx context.Context, cfg *config.Config) {
	cfg.Node.PeerID = resolvePeerID(cfg)

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Initialized node %s", cfg.Node.PeerID)
}
