package commands

import (
	"context"

	"cachenet/config"

	log "github.com/sirupsen/logrus"
)

// RunInfo prints the state of the local stores.
func RunInfo(ctx context.Context, cfg *config.Config) {
	s := openStack(cfg)
	defer s.close()

	log.Infof("Peer ID: %s", s.peerID)
	log.Infof("Chunks cached: %d", s.store.ChunkCount())
	log.Infof("Ledger blocks: %d", s.ledger.ChainSize())
	log.Infof("Ledger valid: %t", s.ledger.ValidateChain())

	if last := s.ledger.LastBlock(); last != nil {
		log.Infof("Last block: %s (%d actions, hash %s)", last.BlockID, len(last.Actions), last.BlockHash)
	}

	chunks, err := s.index.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate chunk index: %v", err)
		return
	}
	files := make(map[string]int)
	for _, md := range chunks {
		files[md.FileHash]++
	}
	log.Infof("Chunk index: %d chunks across %d files", len(chunks), len(files))
}
