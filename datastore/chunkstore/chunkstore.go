// Package chunkstore implements the content-addressed chunk cache: an
// in-memory map of chunks keyed by fileHash_chunkId, mirrored on disk
// as one compressed file per chunk, with chunk metadata persisted in
// the chunk index.
package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"cachenet/datamodel/action"
	"cachenet/datamodel/chunk"
	"cachenet/datastore/leveldb"
	"cachenet/helper/hashing"
	"cachenet/ledger"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultChunkSize is the slice size used when the configuration
	// does not override it.
	DefaultChunkSize = 1024 * 1024

	chunkFileExt = ".zip"
)

type Store struct {
	peerID    string
	dir       string
	chunkSize int
	ledger    *ledger.Ledger
	index     *leveldb.ChunkIndex

	mu     sync.RWMutex
	chunks map[string]*chunk.Chunk
}

// Open creates the cache directory if absent and warm-loads every
// persisted chunk, recovering totalChunks from the chunk index where
// an entry exists. Chunks with no index entry fall back to
// totalChunks=1 until the next authoritative PutChunk corrects them.
func Open(dir string, chunkSize int, peerID string, lgr *ledger.Ledger, idx *leveldb.ChunkIndex) (*Store, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	dir = filepath.Clean(dir)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	s := &Store{
		peerID:    peerID,
		dir:       dir,
		chunkSize: chunkSize,
		ledger:    lgr,
		index:     idx,
		chunks:    make(map[string]*chunk.Chunk),
	}

	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}

	log.Infof("chunkstore: opened at %s with %d chunks", dir, len(s.chunks))
	return s, nil
}

func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// loadFromDisk scans the cache directory for persisted chunk files.
// Files that don't match the <fileHash>_<chunkId>.zip pattern or fail
// to decompress are skipped with a warning.
func (s *Store) loadFromDisk() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkFileExt) {
			continue
		}

		fileHash, chunkID, ok := parseChunkFileName(e.Name())
		if !ok {
			log.Warnf("chunkstore: skipping unrecognized file %s", e.Name())
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Errorf("chunkstore: failed to read %s: %v", e.Name(), err)
			continue
		}
		data, err := decompressChunk(raw)
		if err != nil {
			log.Warnf("chunkstore: skipping undecodable chunk file %s: %v", e.Name(), err)
			continue
		}

		c := chunk.New(fileHash, chunkID, data, s.peerID, 1)
		if md, err := s.index.Get(fileHash, chunkID); err != nil {
			log.Errorf("chunkstore: chunk index lookup for %s failed: %v", e.Name(), err)
		} else if md != nil {
			c.TotalChunks = md.TotalChunks
			c.OwnerPeerID = md.OwnerPeerID
			c.Timestamp = md.Timestamp
		}

		s.chunks[chunk.Key(fileHash, chunkID)] = c
	}

	return nil
}

func parseChunkFileName(name string) (fileHash string, chunkID int, ok bool) {
	base := strings.TrimSuffix(name, chunkFileExt)
	sep := strings.LastIndex(base, "_")
	if sep <= 0 || sep == len(base)-1 {
		return "", 0, false
	}
	id, err := strconv.Atoi(base[sep+1:])
	if err != nil || id < 0 {
		return "", 0, false
	}
	return base[:sep], id, true
}

func (s *Store) chunkFilePath(fileHash string, chunkID int) string {
	return filepath.Join(s.dir, chunk.Key(fileHash, chunkID)+chunkFileExt)
}

// PutChunk stores a chunk in memory and on disk and records a
// CACHE_PUT action. A persistence failure leaves the in-memory entry
// installed and returns false; the next restart may lose the chunk,
// which peers can re-supply.
func (s *Store) PutChunk(fileHash string, chunkID int, data []byte, totalChunks int) bool {
	c := chunk.New(fileHash, chunkID, data, s.peerID, totalChunks)

	s.mu.Lock()
	s.chunks[chunk.Key(fileHash, chunkID)] = c
	s.mu.Unlock()

	compressed, err := compressChunk(data)
	if err != nil {
		log.Errorf("chunkstore: failed to compress chunk %s_%d: %v", fileHash, chunkID, err)
		return false
	}
	if err := os.WriteFile(s.chunkFilePath(fileHash, chunkID), compressed, 0644); err != nil {
		log.Errorf("chunkstore: failed to persist chunk %s_%d: %v", fileHash, chunkID, err)
		return false
	}
	if err := s.index.Put(c.Meta()); err != nil {
		log.Warnf("chunkstore: failed to index chunk %s_%d: %v", fileHash, chunkID, err)
	}

	s.ledger.AddAction(s.ledger.CreateAction(action.CachePut, fileHash, chunkID))
	log.Debugf("chunkstore: stored chunk %s_%d (%d bytes)", fileHash, chunkID, len(data))
	return true
}

// GetChunk returns the chunk from the local cache, recording a
// CACHE_HIT action on a hit. It never consults peers.
func (s *Store) GetChunk(fileHash string, chunkID int) *chunk.Chunk {
	c := s.peek(fileHash, chunkID)
	if c != nil {
		s.ledger.AddAction(s.ledger.CreateAction(action.CacheHit, fileHash, chunkID))
		log.Debugf("chunkstore: cache hit for %s_%d", fileHash, chunkID)
	}
	return c
}

// peek looks a chunk up without touching the ledger.
func (s *Store) peek(fileHash string, chunkID int) *chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[chunk.Key(fileHash, chunkID)]
}

// AnyChunk returns an arbitrary locally held chunk of the file, or nil
// if none is cached. It does not touch the ledger.
func (s *Store) AnyChunk(fileHash string) *chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		if c.FileHash == fileHash {
			return c
		}
	}
	return nil
}

// IngestFile fingerprints the file, slices it into chunks and stores
// every slice. An empty file yields the fingerprint and zero chunks.
func (s *Store) IngestFile(path string) (string, error) {
	fileHash, err := hashing.Sum256File(path)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	totalChunks := (len(data) + s.chunkSize - 1) / s.chunkSize
	for i := 0; i < totalChunks; i++ {
		start := i * s.chunkSize
		end := start + s.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if !s.PutChunk(fileHash, i, data[start:end], totalChunks) {
			log.Warnf("chunkstore: chunk %d of %s not persisted", i, fileHash)
		}
	}

	log.Infof("chunkstore: ingested %s: %d bytes, %d chunks", fileHash, len(data), totalChunks)
	return fileHash, nil
}

// AssembleFile streams the file's chunks, in order, to outputPath,
// recording one CACHE_GET action per chunk written. It fails when no
// chunk of the file is cached or any chunk of the sequence is missing.
func (s *Store) AssembleFile(fileHash, outputPath string) bool {
	anyChunk := s.AnyChunk(fileHash)
	if anyChunk == nil {
		log.Debugf("chunkstore: no chunks cached for %s", fileHash)
		return false
	}

	totalChunks := anyChunk.TotalChunks
	for i := 0; i < totalChunks; i++ {
		if s.peek(fileHash, i) == nil {
			log.Errorf("chunkstore: missing chunk %d of %d for %s", i, totalChunks, fileHash)
			return false
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		log.Errorf("chunkstore: failed to create %s: %v", outputPath, err)
		return false
	}
	defer out.Close()

	for i := 0; i < totalChunks; i++ {
		c := s.peek(fileHash, i)
		if c == nil {
			log.Errorf("chunkstore: chunk %d of %s evicted during assembly", i, fileHash)
			return false
		}
		if _, err := out.Write(c.Data); err != nil {
			log.Errorf("chunkstore: failed to write %s: %v", outputPath, err)
			return false
		}
		s.ledger.AddAction(s.ledger.CreateAction(action.CacheGet, fileHash, i))
	}

	log.Infof("chunkstore: assembled %s from %d chunks into %s", fileHash, totalChunks, outputPath)
	return true
}

// ChunkCount returns the number of chunks held in memory.
func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// CountLocal returns how many of the file's chunks are cached locally.
// It does not touch the ledger.
func (s *Store) CountLocal(fileHash string, totalChunks int) int {
	count := 0
	for i := 0; i < totalChunks; i++ {
		if s.peek(fileHash, i) != nil {
			count++
		}
	}
	return count
}

// EvictOlderThan removes every chunk older than maxAge from memory,
// disk and the chunk index, returning the number removed. Eviction
// does not emit ledger actions.
func (s *Store) EvictOlderThan(maxAge time.Duration) int {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.chunks {
		if now-c.Timestamp <= maxAge.Milliseconds() {
			continue
		}
		delete(s.chunks, key)

		path := s.chunkFilePath(c.FileHash, c.ChunkID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Errorf("chunkstore: failed to remove %s: %v", path, err)
		}
		if err := s.index.Delete(c.FileHash, c.ChunkID); err != nil {
			log.Errorf("chunkstore: failed to unindex %s_%d: %v", c.FileHash, c.ChunkID, err)
		}
		removed++
	}

	if removed > 0 {
		log.Infof("chunkstore: evicted %d chunks older than %v", removed, maxAge)
	}
	return removed
}
