// Package action defines the cache-affecting events recorded in the
// ledger. An Action is immutable once constructed.
package action

import "time"

// Action types. The string values are part of the block hash input and
// the on-disk block format and must not change.
const (
	CachePut = "CACHE_PUT"
	CacheGet = "CACHE_GET"
	CacheHit = "CACHE_HIT"
)

type Action struct {
	Type      string `cbor:"1,keyasint,omitempty" json:"type"`
	FileHash  string `cbor:"2,keyasint,omitempty" json:"fileHash"`
	PeerID    string `cbor:"3,keyasint,omitempty" json:"peerId"`
	Timestamp int64  `cbor:"4,keyasint,omitempty" json:"timestamp"`
	ChunkID   int    `cbor:"5,keyasint,omitempty" json:"chunkId"`
}

// New creates an action stamped with the current wall clock in
// milliseconds.
func New(actionType, fileHash, peerID string, chunkID int) *Action {
	return &Action{
		Type:      actionType,
		FileHash:  fileHash,
		PeerID:    peerID,
		Timestamp: time.Now().UnixMilli(),
		ChunkID:   chunkID,
	}
}
