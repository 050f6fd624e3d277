package block

import (
	"testing"

	"github.com/fxamacker/cbor/v2"

	"cachenet/datamodel/action"
)

func createTestBlock() *Block {
	b := New("blk-1", "prevhash", "peer-a")
	b.Timestamp = 1700000000123
	b.Actions = append(b.Actions,
		&action.Action{Type: action.CachePut, FileHash: "aabb", PeerID: "peer-a", Timestamp: 1700000000124, ChunkID: 0},
		&action.Action{Type: action.CacheHit, FileHash: "aabb", PeerID: "peer-a", Timestamp: 1700000000125, ChunkID: 7},
	)
	return b
}

func TestBlockMarshallUnmarshall(t *testing.T) {
	b := createTestBlock()
	b.BlockHash = b.ComputeHash()

	enc, err := cbor.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}

	var b2 Block
	err = cbor.Unmarshal(enc, &b2)
	if err != nil {
		t.Fatal(err)
	}

	if b.BlockID != b2.BlockID {
		t.Fatalf("BlockIDs do not match: %v != %v", b.BlockID, b2.BlockID)
	}
	if b.PreviousHash != b2.PreviousHash {
		t.Fatalf("PreviousHashes do not match: %v != %v", b.PreviousHash, b2.PreviousHash)
	}
	if b.BlockHash != b2.BlockHash {
		t.Fatalf("BlockHashes do not match: %v != %v", b.BlockHash, b2.BlockHash)
	}
	if len(b.Actions) != len(b2.Actions) {
		t.Fatalf("Action counts do not match: %v != %v", len(b.Actions), len(b2.Actions))
	}
	for i := range b.Actions {
		if *b.Actions[i] != *b2.Actions[i] {
			t.Fatalf("Action %d does not match: %+v != %+v", i, b.Actions[i], b2.Actions[i])
		}
	}

	// The hash must survive the round trip too.
	if b2.ComputeHash() != b2.BlockHash {
		t.Fatalf("decoded block no longer hashes to its BlockHash")
	}
}

func TestHashInput(t *testing.T) {
	b := createTestBlock()

	want := "blk-1prevhash1700000000123" +
		"CACHE_PUTaabbpeer-a17000000001240" +
		"CACHE_HITaabbpeer-a17000000001257"
	if got := b.HashInput(); got != want {
		t.Fatalf("unexpected hash input:\n got %q\nwant %q", got, want)
	}
}

func TestComputeHashSensitivity(t *testing.T) {
	b := createTestBlock()
	h := b.ComputeHash()

	if len(h) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(h))
	}
	if b.ComputeHash() != h {
		t.Fatal("hash is not deterministic")
	}

	b.Actions[0].ChunkID = 1
	if b.ComputeHash() == h {
		t.Fatal("hash did not change with block contents")
	}
}
