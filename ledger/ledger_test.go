package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"cachenet/datamodel/action"
	"cachenet/datamodel/block"
)

func openTestLedger(t *testing.T, dir string, maxActions int) *Ledger {
	t.Helper()
	l, err := Open(dir, "peer-test", maxActions)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return l
}

func TestGenesis(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 0)

	if got := l.ChainSize(); got != 1 {
		t.Fatalf("expected chain size 1 after first open, got %d", got)
	}
	last := l.LastBlock()
	if last.BlockID != block.GenesisID || last.PreviousHash != block.GenesisID {
		t.Fatalf("unexpected genesis block: %+v", last)
	}
	if last.BlockHash != last.ComputeHash() {
		t.Fatal("genesis hash does not match its contents")
	}
	if !l.ValidateChain() {
		t.Fatal("fresh chain does not validate")
	}
	if l.CurrentBlock().PreviousHash != last.BlockHash {
		t.Fatal("open block does not reference the genesis hash")
	}
}

func TestGenesisDeterministic(t *testing.T) {
	a, err := Open(t.TempDir(), "peer-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(t.TempDir(), "peer-b", 0)
	if err != nil {
		t.Fatal(err)
	}

	if a.LastBlock().BlockHash != b.LastBlock().BlockHash {
		t.Fatal("genesis hashes differ across nodes; ledger sync cannot converge")
	}
}

func TestSealThreshold(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 4)

	for i := 0; i < 3; i++ {
		if l.AddAction(l.CreateAction(action.CachePut, "hash", i)) {
			t.Fatalf("action %d sealed the block before the threshold", i)
		}
	}
	if got := l.ChainSize(); got != 1 {
		t.Fatalf("expected chain size 1 before threshold, got %d", got)
	}

	if !l.AddAction(l.CreateAction(action.CachePut, "hash", 3)) {
		t.Fatal("threshold action did not seal the block")
	}
	if got := l.ChainSize(); got != 2 {
		t.Fatalf("expected chain size 2 after sealing, got %d", got)
	}

	sealed := l.LastBlock()
	if len(sealed.Actions) != 4 {
		t.Fatalf("sealed block holds %d actions, want 4", len(sealed.Actions))
	}
	if sealed.BlockHash != sealed.ComputeHash() {
		t.Fatal("sealed block hash does not match its contents")
	}

	// The fifth action lands in a fresh open block.
	if l.AddAction(l.CreateAction(action.CacheHit, "hash", 4)) {
		t.Fatal("fifth action sealed a block")
	}
	if got := len(l.CurrentBlock().Actions); got != 1 {
		t.Fatalf("open block holds %d actions, want 1", got)
	}
	if got := l.ChainSize(); got != 2 {
		t.Fatalf("chain size changed to %d, want 2", got)
	}
	if l.CurrentBlock().PreviousHash != sealed.BlockHash {
		t.Fatal("open block does not reference the sealed block")
	}
}

func TestSealEmptyIsNoop(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 0)

	if sealed := l.SealCurrentBlock(); sealed != nil {
		t.Fatalf("sealing an empty block returned %+v", sealed)
	}
	if got := l.ChainSize(); got != 1 {
		t.Fatalf("chain size changed to %d", got)
	}
}

func TestOnSeal(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 2)

	var notified *block.Block
	l.OnSeal(func(b *block.Block) { notified = b })

	l.AddAction(l.CreateAction(action.CachePut, "hash", 0))
	l.AddAction(l.CreateAction(action.CachePut, "hash", 1))

	if notified == nil {
		t.Fatal("seal hook was not invoked")
	}
	if notified.BlockID != l.LastBlock().BlockID {
		t.Fatal("seal hook received a different block than the chain tail")
	}
}

func TestGetBlocksSince(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 0)

	for i := 0; i < 3; i++ {
		l.AddAction(l.CreateAction(action.CachePut, "hash", i))
		if l.SealCurrentBlock() == nil {
			t.Fatal("expected a sealed block")
		}
	}

	if got := l.GetBlocksSince(l.LastBlock().BlockHash); len(got) != 0 {
		t.Fatalf("expected no blocks after the tail, got %d", len(got))
	}

	all := l.GetBlocksSince("unknown")
	if len(all) != l.ChainSize() {
		t.Fatalf("expected the whole chain for an unknown hash, got %d of %d", len(all), l.ChainSize())
	}

	genesisHash := all[0].BlockHash
	since := l.GetBlocksSince(genesisHash)
	if len(since) != l.ChainSize()-1 {
		t.Fatalf("expected %d blocks after genesis, got %d", l.ChainSize()-1, len(since))
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()

	l := openTestLedger(t, dir, 0)
	for i := 0; i < 5; i++ {
		l.AddAction(l.CreateAction(action.CachePut, "hash", i))
		l.SealCurrentBlock()
	}
	size := l.ChainSize()
	tail := l.LastBlock().BlockHash

	l2 := openTestLedger(t, dir, 0)
	if got := l2.ChainSize(); got != size {
		t.Fatalf("reloaded chain has %d blocks, want %d", got, size)
	}
	if l2.LastBlock().BlockHash != tail {
		t.Fatal("reloaded chain has a different tail")
	}
	if !l2.ValidateChain() {
		t.Fatal("reloaded chain does not validate")
	}
}

func TestCloseSealsPending(t *testing.T) {
	dir := t.TempDir()

	l := openTestLedger(t, dir, 0)
	l.AddAction(l.CreateAction(action.CacheGet, "hash", 0))
	l.Close()

	l2 := openTestLedger(t, dir, 0)
	if got := l2.ChainSize(); got != 2 {
		t.Fatalf("pending action was lost across close/reopen: chain size %d", got)
	}
}

func TestTamperedBlockRejectedOnReload(t *testing.T) {
	dir := t.TempDir()

	l := openTestLedger(t, dir, 0)
	for i := 0; i < 2; i++ {
		l.AddAction(l.CreateAction(action.CachePut, "hash", i))
		l.SealCurrentBlock()
	}
	size := l.ChainSize()
	tampered := l.LastBlock().BlockID

	// Alter the persisted contents of the last block without touching
	// its stored hash.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var victim string
	for _, e := range entries {
		if strings.Contains(e.Name(), tampered) {
			victim = filepath.Join(dir, e.Name())
		}
	}
	if victim == "" {
		t.Fatal("block file for the chain tail not found")
	}

	raw, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	b := &block.Block{}
	if err := json.Unmarshal(raw, b); err != nil {
		t.Fatal(err)
	}
	b.Timestamp++
	raw, err = json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(victim, raw, 0644); err != nil {
		t.Fatal(err)
	}

	l2 := openTestLedger(t, dir, 0)
	if got := l2.ChainSize(); got != size-1 {
		t.Fatalf("tampered block survived the reload: chain size %d, want %d", got, size-1)
	}
	if !l2.ValidateChain() {
		t.Fatal("chain is not linkable without the tampered entry")
	}
	if l2.LastBlock().BlockID == tampered {
		t.Fatal("tampered block is still the chain tail")
	}
}

func peerBlock(t *testing.T, prevHash string) *block.Block {
	t.Helper()
	b := block.New(uuid.NewString(), prevHash, "peer-remote")
	b.Actions = append(b.Actions, action.New(action.CachePut, "remotehash", "peer-remote", 0))
	b.BlockHash = b.ComputeHash()
	return b
}

func TestAddBlock(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 0)

	b := peerBlock(t, l.LastBlock().BlockHash)
	if !l.AddBlock(b) {
		t.Fatal("valid peer block was rejected")
	}
	if l.AddBlock(b) {
		t.Fatal("duplicate block id was admitted")
	}

	bad := peerBlock(t, l.LastBlock().BlockHash)
	bad.BlockHash = "deadbeef"
	if l.AddBlock(bad) {
		t.Fatal("block with a wrong hash was admitted")
	}

	orphan := peerBlock(t, "nonexistent-predecessor")
	if l.AddBlock(orphan) {
		t.Fatal("block with no known predecessor was admitted")
	}

	if !l.ValidateChain() {
		t.Fatal("chain does not validate after peer additions")
	}
}

func TestAddBlockOutOfOrder(t *testing.T) {
	l := openTestLedger(t, t.TempDir(), 0)

	b1 := peerBlock(t, l.LastBlock().BlockHash)
	b2 := peerBlock(t, b1.BlockHash)

	// b2 arrives first: its predecessor has not landed yet.
	if l.AddBlock(b2) {
		t.Fatal("block was admitted before its predecessor")
	}
	if !l.AddBlock(b1) {
		t.Fatal("predecessor block was rejected")
	}
	if !l.AddBlock(b2) {
		t.Fatal("block was rejected after its predecessor landed")
	}

	if !l.ValidateChain() {
		t.Fatal("chain does not validate after out-of-order arrival")
	}
	if got := l.ChainSize(); got != 3 {
		t.Fatalf("chain size %d, want 3", got)
	}
}
