package commands

import (
	"github.com/google/uuid"

	"cachenet/config"
	"cachenet/datastore/chunkstore"
	"cachenet/datastore/leveldb"
	"cachenet/ledger"

	log "github.com/sirupsen/logrus"
)

// stack is the storage core shared by every subcommand: the ledger,
// the chunk index and the chunk store.
type stack struct {
	peerID string
	ledger *ledger.Ledger
	index  *leveldb.ChunkIndex
	store  *chunkstore.Store
}

// resolvePeerID returns the configured peer id, or generates a fresh
// short one for this boot.
func resolvePeerID(cfg *config.Config) string {
	if cfg.Node.PeerID != "" {
		return cfg.Node.PeerID
	}
	return uuid.NewString()[:8]
}

func openStack(cfg *config.Config) *stack {
	peerID := resolvePeerID(cfg)

	lgr, err := ledger.Open(cfg.DataStore.LedgerPath, peerID, cfg.Ledger.MaxActionsPerBlock)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}

	idx, err := leveldb.NewChunkIndex(cfg.DataStore.ChunkIndexPath)
	if err != nil {
		log.Fatalf("Failed to open chunk index: %v", err)
	}

	store, err := chunkstore.Open(cfg.DataStore.CachePath, cfg.Cache.ChunkSize, peerID, lgr, idx)
	if err != nil {
		log.Fatalf("Failed to open chunk store: %v", err)
	}

	return &stack{
		peerID: peerID,
		ledger: lgr,
		index:  idx,
		store:  store,
	}
}

func (s *stack) close() {
	s.ledger.Close()
	if err := s.index.Close(); err != nil {
		log.Errorf("Failed to close chunk index: %v", err)
	}
}
