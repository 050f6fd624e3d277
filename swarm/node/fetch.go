package node

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"cachenet/datamodel/chunk"
	"cachenet/datamodel/peer"
	"cachenet/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// FileInfo describes a file as far as the node can tell from one of
// its chunks. EstimatedSize extrapolates from a single chunk's length,
// so the tail chunk usually makes it an overestimate.
type FileInfo struct {
	FileHash      string
	TotalChunks   int
	EstimatedSize int
	ChunksLocally int
}

// Fetch materializes the file at outputPath: from the local cache when
// complete, otherwise by pulling every chunk from active peers (chunk 0
// first, the rest in parallel), including chunks already cached.
// Concurrent fetches of the same fingerprint and output collapse into
// one.
func (n *Node) Fetch(fileHash, outputPath string) bool {
	v, _, _ := n.sg.Do(fileHash+"\x00"+outputPath, func() (interface{}, error) {
		return n.fetchFile(fileHash, outputPath), nil
	})
	return v.(bool)
}

func (n *Node) fetchFile(fileHash, outputPath string) bool {
	log.Infof("fetching %s", fileHash)

	if n.Store.AssembleFile(fileHash, outputPath) {
		log.Infof("assembled %s from the local cache", fileHash)
		return true
	}

	peers := n.Registry.ActivePeers()
	if len(peers) == 0 {
		log.Errorf("no active peers to fetch %s from", fileHash)
		return false
	}

	// Chunk 0 sets the fetch plan: its totalChunks field tells us how
	// many tasks to spawn.
	var first *chunk.Chunk
	for _, p := range peers {
		if c := n.requestChunk(p, fileHash, 0); c != nil {
			first = c
			break
		}
	}
	if first == nil {
		log.Errorf("no peer served chunk 0 of %s", fileHash)
		return false
	}

	totalChunks := first.TotalChunks
	n.Store.PutChunk(fileHash, 0, first.Data, totalChunks)
	log.Infof("fetching %s: %d chunks across %d peers", fileHash, totalChunks, len(peers))

	wg := errgroup.Group{}
	wg.SetLimit(n.fetchWorkers)

	for i := 1; i < totalChunks; i++ {
		chunkID := i
		wg.Go(func() error {
			for _, p := range peers {
				if c := n.requestChunk(p, fileHash, chunkID); c != nil {
					n.Store.PutChunk(fileHash, chunkID, c.Data, totalChunks)
					log.Debugf("fetched chunk %d of %s from %s", chunkID, fileHash, p.ID)
					return nil
				}
			}
			return fmt.Errorf("no peer served chunk %d of %s", chunkID, fileHash)
		})
	}

	if err := wg.Wait(); err != nil {
		// Chunks fetched so far stay cached for future retries.
		log.Errorf("fetch of %s failed: %v", fileHash, err)
		return false
	}

	return n.Store.AssembleFile(fileHash, outputPath)
}

// FileInfo reports what is known about a file, probing peers for chunk
// 0 when nothing is cached locally. It returns nil when neither the
// cache nor any peer knows the file.
func (n *Node) FileInfo(fileHash string) *FileInfo {
	anyChunk := n.Store.AnyChunk(fileHash)
	if anyChunk == nil {
		for _, p := range n.Registry.ActivePeers() {
			if c := n.requestChunk(p, fileHash, 0); c != nil {
				anyChunk = c
				break
			}
		}
	}
	if anyChunk == nil {
		return nil
	}

	return &FileInfo{
		FileHash:      fileHash,
		TotalChunks:   anyChunk.TotalChunks,
		EstimatedSize: anyChunk.TotalChunks * len(anyChunk.Data),
		ChunksLocally: n.Store.CountLocal(fileHash, anyChunk.TotalChunks),
	}
}

// requestChunk asks one peer for one chunk. Transport failures and
// negative responses both come back as nil.
func (n *Node) requestChunk(p *peer.Record, fileHash string, chunkID int) *chunk.Chunk {
	msg := protocol.NewMessage(protocol.TypeFileRequest, n.PeerID)
	msg.Set("fileHash", fileHash)
	msg.Set("chunkId", chunkID)

	resp, err := n.Transport.Send(p, msg)
	if err != nil || resp.Type != protocol.TypeFileResponse {
		return nil
	}

	if !resp.Bool("success") {
		log.Debugf("peer %s has no chunk %s_%d: %s", p.ID, fileHash, chunkID, resp.Text("error"))
		return nil
	}

	return chunk.New(fileHash, chunkID, resp.Bytes("data"), resp.From, resp.Int("totalChunks"))
}
