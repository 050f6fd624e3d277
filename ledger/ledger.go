// Package ledger implements the hash-chained action ledger: an
// append-only chain of sealed blocks plus exactly one open block that
// accumulates new actions, persisted one JSON file per block.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cachenet/datamodel/action"
	"cachenet/datamodel/block"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxActionsPerBlock is the seal threshold used when the
	// configuration does not override it.
	DefaultMaxActionsPerBlock = 100

	blockFileSuffix = ".json"
)

type Ledger struct {
	peerID     string
	dir        string
	maxActions int

	mu      sync.RWMutex
	chain   []*block.Block
	current *block.Block
	fileSeq uint64 // monotonic prefix of the next block file

	onSeal func(*block.Block)
}

// Open loads the ledger from dir, creating the directory and a genesis
// block as needed, and starts a fresh open block on top of the chain.
func Open(dir, peerID string, maxActions int) (*Ledger, error) {
	if maxActions <= 0 {
		maxActions = DefaultMaxActionsPerBlock
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
	}

	l := &Ledger{
		peerID:     peerID,
		dir:        dir,
		maxActions: maxActions,
	}

	if err := l.load(); err != nil {
		return nil, err
	}

	if len(l.chain) == 0 {
		// The genesis block carries no timestamp and no creator so that
		// every node derives the same genesis hash and ledger sync
		// between independently booted nodes converges.
		genesis := &block.Block{BlockID: block.GenesisID, PreviousHash: block.GenesisID}
		genesis.BlockHash = genesis.ComputeHash()
		l.chain = append(l.chain, genesis)
		if err := l.saveBlock(genesis); err != nil {
			return nil, fmt.Errorf("failed to persist genesis block: %w", err)
		}
		log.Infof("ledger: created genesis block %s", genesis.BlockHash)
	}

	last := l.chain[len(l.chain)-1]
	l.current = block.New(uuid.NewString(), last.BlockHash, peerID)

	log.Infof("ledger: opened at %s with %d blocks", dir, len(l.chain))
	return l, nil
}

// load reloads every block file, in lexicographic filename order,
// keeping only blocks that validate against the chain built so far.
// Unparseable or tampered files are rejected with a warning.
func (l *Ledger) load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blockFileSuffix) {
			continue
		}
		l.fileSeq++

		path := filepath.Join(l.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("ledger: failed to read block file %s: %v", e.Name(), err)
			continue
		}

		b := &block.Block{}
		if err := json.Unmarshal(raw, b); err != nil {
			log.Warnf("ledger: skipping unparseable block file %s: %v", e.Name(), err)
			continue
		}
		if !l.validateLocked(b) {
			log.Warnf("ledger: rejecting invalid block from %s", e.Name())
			continue
		}
		l.chain = append(l.chain, b)
	}

	return nil
}

// OnSeal registers a hook invoked with every block sealed locally. It
// is called outside the ledger lock. Register before concurrent use.
func (l *Ledger) OnSeal(fn func(*block.Block)) {
	l.onSeal = fn
}

// CreateAction builds an action attributed to the local peer.
func (l *Ledger) CreateAction(actionType, fileHash string, chunkID int) *action.Action {
	return action.New(actionType, fileHash, l.peerID, chunkID)
}

// AddAction appends the action to the open block and seals the block
// once the action-count threshold is reached. It returns true iff this
// call sealed a block.
func (l *Ledger) AddAction(a *action.Action) bool {
	l.mu.Lock()
	l.current.Actions = append(l.current.Actions, a)
	log.Debugf("ledger: recorded %s for %s chunk %d", a.Type, a.FileHash, a.ChunkID)

	var sealed *block.Block
	if len(l.current.Actions) >= l.maxActions {
		sealed = l.sealLocked()
	}
	l.mu.Unlock()

	if sealed != nil {
		l.notifySeal(sealed)
		return true
	}
	return false
}

// SealCurrentBlock seals the open block if it holds any actions and
// returns it; with no pending actions it is a no-op returning nil.
func (l *Ledger) SealCurrentBlock() *block.Block {
	l.mu.Lock()
	sealed := l.sealLocked()
	l.mu.Unlock()

	if sealed != nil {
		l.notifySeal(sealed)
	}
	return sealed
}

func (l *Ledger) sealLocked() *block.Block {
	if len(l.current.Actions) == 0 {
		return nil
	}

	l.current.BlockHash = l.current.ComputeHash()
	l.chain = append(l.chain, l.current)

	if err := l.saveBlock(l.current); err != nil {
		// The sealed block stays in the chain and the write is not
		// retried; a peer can re-supply it on the next sync if this node
		// restarts.
		log.Errorf("ledger: failed to persist sealed block %s: %v", l.current.BlockID, err)
	}

	sealed := l.current
	l.current = block.New(uuid.NewString(), sealed.BlockHash, l.peerID)

	log.Infof("ledger: sealed block %s with %d actions", sealed.BlockID, len(sealed.Actions))
	return sealed
}

func (l *Ledger) notifySeal(b *block.Block) {
	if l.onSeal != nil {
		l.onSeal(b)
	}
}

// AddBlock admits a peer-originated sealed block: duplicates and
// blocks that fail validation are rejected, and a persistence failure
// rolls the in-memory append back.
func (l *Ledger) AddBlock(b *block.Block) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.chain {
		if existing.BlockID == b.BlockID {
			log.Debugf("ledger: block %s already in chain", b.BlockID)
			return false
		}
	}

	if !l.validateLocked(b) {
		log.Warnf("ledger: rejecting invalid block %s from peer %s", b.BlockID, b.CreatorPeerID)
		return false
	}

	l.chain = append(l.chain, b)
	if err := l.saveBlock(b); err != nil {
		log.Errorf("ledger: failed to persist block %s, rolling back: %v", b.BlockID, err)
		l.chain = l.chain[:len(l.chain)-1]
		return false
	}

	log.Infof("ledger: added block %s with %d actions from %s", b.BlockID, len(b.Actions), b.CreatorPeerID)
	return true
}

// ValidateBlock checks the block's own hash and, for non-genesis
// blocks, that some block already in the chain carries its
// previousHash. The predecessor may sit anywhere in the chain, so
// blocks can be admitted out of strict order; ValidateChain is the
// authoritative whole-chain check.
func (l *Ledger) ValidateBlock(b *block.Block) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateLocked(b)
}

func (l *Ledger) validateLocked(b *block.Block) bool {
	if b.ComputeHash() != b.BlockHash {
		log.Warnf("ledger: block %s hash does not match its contents", b.BlockID)
		return false
	}

	if b.BlockID == block.GenesisID {
		return true
	}

	for _, existing := range l.chain {
		if existing.BlockHash == b.PreviousHash {
			return true
		}
	}
	log.Warnf("ledger: block %s has no known predecessor %s", b.BlockID, b.PreviousHash)
	return false
}

// ValidateChain verifies every sealed block and the strict
// index-adjacent linkage between consecutive blocks.
func (l *Ledger) ValidateChain() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, b := range l.chain {
		if !l.validateLocked(b) {
			return false
		}
		if i > 0 && b.PreviousHash != l.chain[i-1].BlockHash {
			log.Warnf("ledger: chain broken at block %s", b.BlockID)
			return false
		}
	}
	return true
}

// GetBlocksSince returns the blocks after the one whose blockHash is
// sinceHash. An unknown hash returns the whole chain, which serves
// requesters that are effectively empty.
func (l *Ledger) GetBlocksSince(sinceHash string) []*block.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := -1
	for i, b := range l.chain {
		if b.BlockHash == sinceHash {
			start = i
			break
		}
	}

	var blocks []*block.Block
	if start == -1 {
		blocks = make([]*block.Block, len(l.chain))
		copy(blocks, l.chain)
	} else {
		blocks = make([]*block.Block, len(l.chain)-start-1)
		copy(blocks, l.chain[start+1:])
	}
	return blocks
}

// LastBlock returns the most recently sealed block.
func (l *Ledger) LastBlock() *block.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.chain) == 0 {
		return nil
	}
	return l.chain[len(l.chain)-1]
}

// CurrentBlock returns the open block accumulating actions.
func (l *Ledger) CurrentBlock() *block.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ChainSize returns the number of sealed blocks.
func (l *Ledger) ChainSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Close seals any pending actions so they are not lost across a
// shutdown.
func (l *Ledger) Close() {
	if sealed := l.SealCurrentBlock(); sealed != nil {
		log.Infof("ledger: sealed pending block %s on close", sealed.BlockID)
	}
}

// saveBlock persists b under a filename whose monotonic prefix makes
// lexicographic order match insertion order. Callers hold the write
// lock.
func (l *Ledger) saveBlock(b *block.Block) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%016d-%s%s", l.fileSeq, b.BlockID, blockFileSuffix)
	if err := os.WriteFile(filepath.Join(l.dir, name), raw, 0644); err != nil {
		return err
	}
	l.fileSeq++
	return nil
}
