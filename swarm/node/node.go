// Package node wires the chunk store, ledger, peer registry and
// transport into one symmetric overlay node, and implements the join
// flow, ledger gossip and the parallel fetch orchestration.
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cachenet/config"
	"cachenet/datamodel/block"
	"cachenet/datamodel/peer"
	"cachenet/datastore/chunkstore"
	"cachenet/helper/timer"
	"cachenet/ledger"
	"cachenet/swarm/protocol"
	"cachenet/swarm/registry"
	"cachenet/swarm/transport"

	log "github.com/sirupsen/logrus"
)

// DefaultFetchWorkers bounds the parallel chunk-fetch pool when the
// configuration does not override it.
const DefaultFetchWorkers = 10

type Node struct {
	PeerID string

	Ledger    *ledger.Ledger
	Store     *chunkstore.Store
	Registry  *registry.Registry
	Transport *transport.Manager

	advertisedHost string
	advertisedPort int
	fetchWorkers   int
	cacheMaxAge    time.Duration
	cleanupEvery   time.Duration

	sg singleflight.Group
}

func New(cfg *config.Config, peerID string, lgr *ledger.Ledger, store *chunkstore.Store, reg *registry.Registry, tr *transport.Manager) *Node {
	workers := cfg.Fetch.Workers
	if workers <= 0 {
		workers = DefaultFetchWorkers
	}
	maxAgeHours := cfg.Cache.MaxAgeHours
	if maxAgeHours <= 0 {
		maxAgeHours = 24
	}
	cleanupMinutes := cfg.Cache.CleanupIntervalMinutes
	if cleanupMinutes <= 0 {
		cleanupMinutes = 60
	}

	n := &Node{
		PeerID:         peerID,
		Ledger:         lgr,
		Store:          store,
		Registry:       reg,
		Transport:      tr,
		advertisedHost: cfg.Network.AdvertisedHost,
		advertisedPort: cfg.Network.AdvertisedPort,
		fetchWorkers:   workers,
		cacheMaxAge:    time.Duration(maxAgeHours) * time.Hour,
		cleanupEvery:   time.Duration(cleanupMinutes) * time.Minute,
	}

	n.registerHandlers()

	// Locally sealed blocks gossip to the swarm.
	lgr.OnSeal(n.broadcastBlock)

	log.Infof("I am %s, advertising %s:%d", peerID, n.advertisedHost, n.advertisedPort)
	return n
}

// Run drives the node: the transport accept loop, the peer eviction
// sweep and the cache cleanup loop, until the context is cancelled.
// Pending ledger actions are sealed before Run returns.
func (n *Node) Run(ctx context.Context) error {
	defer n.Ledger.Close()

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.Transport.Serve(cctx)
	})

	wg.Go(func() error {
		return n.Registry.Run(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: n.cleanupEvery,
			Jitter:   time.Second * 30,
		}
		return timer.RunWithTicker(cctx, "cache cleanup", interval, func(context.Context) error {
			n.Store.EvictOlderThan(n.cacheMaxAge)
			return nil
		})
	})

	return wg.Wait()
}

// Join dials the bootstrap peer with our advertised address. On
// success the bootstrap peer is registered and our ledger pulls a sync
// from it; the bootstrap side sends back a peer list and its own sync
// exchange.
func (n *Node) Join(host string, port int) error {
	bootstrap := peer.New("bootstrap", host, port)

	msg := protocol.NewMessage(protocol.TypeJoin, n.PeerID)
	msg.Set("host", n.advertisedHost)
	msg.Set("port", n.advertisedPort)

	resp, err := n.Transport.Send(bootstrap, msg)
	if err != nil {
		return fmt.Errorf("failed to reach bootstrap peer %s: %w", bootstrap.Address(), err)
	}
	if resp.Type != protocol.TypeJoinResponse || !resp.Bool("success") {
		return fmt.Errorf("bootstrap peer %s rejected the join", bootstrap.Address())
	}

	rec := peer.New(resp.From, host, port)
	n.Registry.Add(rec)
	log.Infof("joined the overlay through %s", rec)

	n.syncLedgerWith(rec)
	return nil
}

// JoinAddress parses a host:port bootstrap address and joins through
// it.
func (n *Node) JoinAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid bootstrap address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid bootstrap port %q: %w", portStr, err)
	}
	return n.Join(host, port)
}

// Ping checks whether a peer answers a PING with a PONG.
func (n *Node) Ping(p *peer.Record) bool {
	resp, err := n.Transport.Send(p, protocol.NewMessage(protocol.TypePing, n.PeerID))
	return err == nil && resp != nil && resp.Type == protocol.TypePong
}

// sharePeerList pushes our active peers to p.
func (n *Node) sharePeerList(p *peer.Record) {
	active := n.Registry.ActivePeers()
	entries := make([]protocol.PeerEntry, 0, len(active))
	for _, rec := range active {
		entries = append(entries, protocol.PeerEntry{ID: rec.ID, Host: rec.Host, Port: rec.Port})
	}

	msg := protocol.NewMessage(protocol.TypePeerList, n.PeerID)
	msg.Set("peers", entries)

	if _, err := n.Transport.Send(p, msg); err != nil {
		log.Debugf("failed to share peer list with %s: %v", p.ID, err)
		return
	}
	log.Debugf("shared %d peers with %s", len(entries), p.ID)
}

// syncLedgerWith pulls the blocks we are missing from p.
func (n *Node) syncLedgerWith(p *peer.Record) {
	lastHash := ""
	if last := n.Ledger.LastBlock(); last != nil {
		lastHash = last.BlockHash
	}

	msg := protocol.NewMessage(protocol.TypeLedgerSync, n.PeerID)
	msg.Set("lastBlockHash", lastHash)

	resp, err := n.Transport.Send(p, msg)
	if err != nil || resp.Type != protocol.TypeLedgerSyncResponse {
		log.Debugf("ledger sync with %s failed: %v", p.ID, err)
		return
	}

	var blocks []*block.Block
	if err := resp.Value("blocks", &blocks); err != nil {
		log.Warnf("ledger sync response from %s undecodable: %v", p.ID, err)
		return
	}

	added := 0
	for _, b := range blocks {
		if n.Ledger.AddBlock(b) {
			added++
		}
	}
	log.Infof("LEDGER_SYNC: applied %d of %d blocks from %s", added, resp.Int("blocksCount"), p.ID)
}

// broadcastBlock gossips a sealed block to every active peer.
func (n *Node) broadcastBlock(b *block.Block) {
	msg := protocol.NewMessage(protocol.TypeLedgerEntry, n.PeerID)
	msg.Set("block", b)
	n.Transport.Broadcast(msg)
	log.Debugf("propagated sealed block %s", b.BlockID)
}
