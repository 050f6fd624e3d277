// Package block defines the ledger block: an immutable batch of
// actions hash-chained to its predecessor.
package block

import (
	"strconv"
	"strings"
	"time"

	"cachenet/datamodel/action"
	"cachenet/helper/hashing"
)

// GenesisID is the distinguished blockId (and previousHash) of the
// first block in every chain.
const GenesisID = "0"

type Block struct {
	BlockID       string           `cbor:"1,keyasint,omitempty" json:"blockId"`
	PreviousHash  string           `cbor:"2,keyasint,omitempty" json:"previousHash"`
	Timestamp     int64            `cbor:"3,keyasint,omitempty" json:"timestamp"`
	Actions       []*action.Action `cbor:"4,keyasint,omitempty" json:"actions"`
	BlockHash     string           `cbor:"5,keyasint,omitempty" json:"blockHash"`
	CreatorPeerID string           `cbor:"6,keyasint,omitempty" json:"creatorPeerId"`
	Signature     string           `cbor:"7,keyasint,omitempty" json:"signature,omitempty"`
}

// New creates an open block with no actions, stamped with the current
// wall clock in milliseconds. BlockHash is left empty until sealing.
func New(blockID, previousHash, creatorPeerID string) *Block {
	return &Block{
		BlockID:       blockID,
		PreviousHash:  previousHash,
		Timestamp:     time.Now().UnixMilli(),
		CreatorPeerID: creatorPeerID,
	}
}

// HashInput builds the canonical hash preimage: blockId, previousHash
// and the decimal timestamp, followed by type, fileHash, peerId,
// decimal timestamp and decimal chunkId of every action, concatenated
// with no separators.
func (b *Block) HashInput() string {
	var sb strings.Builder
	sb.WriteString(b.BlockID)
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	for _, a := range b.Actions {
		sb.WriteString(a.Type)
		sb.WriteString(a.FileHash)
		sb.WriteString(a.PeerID)
		sb.WriteString(strconv.FormatInt(a.Timestamp, 10))
		sb.WriteString(strconv.Itoa(a.ChunkID))
	}
	return sb.String()
}

// ComputeHash returns the hex-encoded SHA-256 of the canonical hash
// input. It does not modify the block.
func (b *Block) ComputeHash() string {
	return hashing.Sum256String(b.HashInput())
}
