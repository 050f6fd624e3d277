package leveldb

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"cachenet/datamodel/chunk"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixChunk = "CHK" // Chunk metadata. Followed by <fileHash>_<chunkId>
)

// ChunkIndex persists per-chunk metadata so a warm-started node can
// recover totalChunks without waiting for an authoritative put.
type ChunkIndex struct {
	LevelDB
}

func NewChunkIndex(path string) (*ChunkIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &ChunkIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromChunk(fileHash string, chunkID int) []byte {
	return append([]byte(keyPrefixChunk), []byte(chunk.Key(fileHash, chunkID))...)
}

// Get returns the metadata for a chunk, or nil if the chunk is not
// indexed.
func (l *ChunkIndex) Get(fileHash string, chunkID int) (*chunk.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromChunk(fileHash, chunkID), nil)
	if err == errors.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	md := &chunk.Metadata{}
	if err := cbor.Unmarshal(raw, md); err != nil {
		return nil, err
	}

	if md.FileHash != fileHash || md.ChunkID != chunkID {
		log.Errorf("ChunkIndex.Get: key mismatch: %s_%d != %s_%d", fileHash, chunkID, md.FileHash, md.ChunkID)
		return nil, ErrCorrupted
	}

	return md, nil
}

func (l *ChunkIndex) Put(md *chunk.Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(md)
	if err != nil {
		return err
	}

	return l.db.Put(keyFromChunk(md.FileHash, md.ChunkID), raw, nil)
}

func (l *ChunkIndex) Delete(fileHash string, chunkID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Delete(keyFromChunk(fileHash, chunkID), nil)
}

// Enumerate returns the metadata of every indexed chunk.
func (l *ChunkIndex) Enumerate() ([]*chunk.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*chunk.Metadata

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixChunk)), nil)
	defer iter.Release()

	for iter.Next() {
		md := &chunk.Metadata{}
		if err := cbor.Unmarshal(iter.Value(), md); err != nil {
			return nil, err
		}
		results = append(results, md)
	}

	return results, nil
}
