package node

import (
	"cachenet/datamodel/block"
	"cachenet/datamodel/peer"
	"cachenet/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

func (n *Node) registerHandlers() {
	n.Transport.RegisterHandler(protocol.TypeJoin, n.handleJoin)
	n.Transport.RegisterHandler(protocol.TypePeerList, n.handlePeerList)
	n.Transport.RegisterHandler(protocol.TypeFileRequest, n.handleFileRequest)
	n.Transport.RegisterHandler(protocol.TypeLedgerSync, n.handleLedgerSync)
	n.Transport.RegisterHandler(protocol.TypeLedgerEntry, n.handleLedgerEntry)
	n.Transport.RegisterHandler(protocol.TypePing, n.handlePing)
}

// handleJoin admits the joining peer and, for a first contact, pushes
// our peer list and runs a ledger sync exchange toward it.
func (n *Node) handleJoin(msg *protocol.Message) *protocol.Message {
	rec := peer.New(msg.From, msg.Text("host"), msg.Int("port"))
	isNew := n.Registry.Add(rec)
	log.Infof("JOIN from %s (new=%t)", rec, isNew)

	resp := protocol.NewMessage(protocol.TypeJoinResponse, n.PeerID)
	resp.Set("success", true)

	if isNew {
		go n.sharePeerList(rec)
		go n.syncLedgerWith(rec)
	}

	return resp
}

func (n *Node) handlePeerList(msg *protocol.Message) *protocol.Message {
	var entries []protocol.PeerEntry
	if err := msg.Value("peers", &entries); err != nil {
		log.Warnf("undecodable peer list from %s: %v", msg.From, err)
		return nil
	}

	for _, e := range entries {
		if e.ID == n.PeerID {
			continue
		}
		n.Registry.Add(peer.New(e.ID, e.Host, e.Port))
	}
	log.Debugf("received peer list with %d peers from %s", len(entries), msg.From)
	return nil
}

// handleFileRequest serves a chunk from the local cache. Lookups go
// through GetChunk so served chunks are accounted as cache hits.
func (n *Node) handleFileRequest(msg *protocol.Message) *protocol.Message {
	fileHash := msg.Text("fileHash")
	chunkID := msg.Int("chunkId")

	resp := protocol.NewMessage(protocol.TypeFileResponse, n.PeerID)
	resp.Set("fileHash", fileHash)
	resp.Set("chunkId", chunkID)

	c := n.Store.GetChunk(fileHash, chunkID)
	if c == nil {
		resp.Set("success", false)
		resp.Set("error", "chunk not found")
		log.Debugf("requested chunk not cached: %s_%d", fileHash, chunkID)
		return resp
	}

	resp.Set("success", true)
	resp.Set("data", c.Data)
	resp.Set("totalChunks", c.TotalChunks)
	log.Debugf("serving chunk %s_%d to %s", fileHash, chunkID, msg.From)
	return resp
}

func (n *Node) handleLedgerSync(msg *protocol.Message) *protocol.Message {
	blocks := n.Ledger.GetBlocksSince(msg.Text("lastBlockHash"))

	resp := protocol.NewMessage(protocol.TypeLedgerSyncResponse, n.PeerID)
	resp.Set("blocks", blocks)
	resp.Set("blocksCount", len(blocks))

	log.Debugf("LEDGER_SYNC: sending %d blocks to %s", len(blocks), msg.From)
	return resp
}

func (n *Node) handleLedgerEntry(msg *protocol.Message) *protocol.Message {
	b := &block.Block{}
	if err := msg.Value("block", b); err != nil {
		log.Warnf("undecodable ledger entry from %s: %v", msg.From, err)
		return nil
	}

	added := n.Ledger.AddBlock(b)
	log.Debugf("LEDGER_ENTRY %s from %s, added=%t", b.BlockID, msg.From, added)
	return nil
}

func (n *Node) handlePing(msg *protocol.Message) *protocol.Message {
	return protocol.NewMessage(protocol.TypePong, n.PeerID)
}
