// Package chunk defines the cache unit: a fixed-size slice of a file,
// content-addressed by the parent file's SHA-256 plus its index.
package chunk

import (
	"strconv"
	"time"
)

type Chunk struct {
	FileHash    string
	ChunkID     int
	TotalChunks int
	Data        []byte
	OwnerPeerID string
	Timestamp   int64
}

// Metadata is the persisted chunk record kept in the chunk index. It
// carries everything the in-memory Chunk has except the payload, so a
// warm-started node can recover TotalChunks without a peer round trip.
type Metadata struct {
	FileHash    string `cbor:"1,keyasint,omitempty"`
	ChunkID     int    `cbor:"2,keyasint,omitempty"`
	TotalChunks int    `cbor:"3,keyasint,omitempty"`
	OwnerPeerID string `cbor:"4,keyasint,omitempty"`
	Timestamp   int64  `cbor:"5,keyasint,omitempty"`
}

// New creates a chunk stamped with the current wall clock in
// milliseconds.
func New(fileHash string, chunkID int, data []byte, ownerPeerID string, totalChunks int) *Chunk {
	return &Chunk{
		FileHash:    fileHash,
		ChunkID:     chunkID,
		TotalChunks: totalChunks,
		Data:        data,
		OwnerPeerID: ownerPeerID,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// Key returns the cache key for a (fileHash, chunkId) pair.
func Key(fileHash string, chunkID int) string {
	return fileHash + "_" + strconv.Itoa(chunkID)
}

// Meta returns the persistable metadata for c.
func (c *Chunk) Meta() *Metadata {
	return &Metadata{
		FileHash:    c.FileHash,
		ChunkID:     c.ChunkID,
		TotalChunks: c.TotalChunks,
		OwnerPeerID: c.OwnerPeerID,
		Timestamp:   c.Timestamp,
	}
}
