// Package registry maintains the in-memory map of known peers with
// their liveness state, and evicts peers not heard from within the
// timeout.
package registry

import (
	"context"
	"sync"
	"time"

	"cachenet/datamodel/peer"
	"cachenet/helper/timer"

	log "github.com/sirupsen/logrus"
)

const (
	// PeerTimeout is how long a peer may stay silent before its record
	// is destroyed.
	PeerTimeout = 5 * time.Minute

	// EvictionInterval is how often the stale-peer sweep runs.
	EvictionInterval = 60 * time.Second
)

type Registry struct {
	selfID string

	mu    sync.RWMutex
	peers map[string]*peer.Record
}

func New(selfID string) *Registry {
	return &Registry{
		selfID: selfID,
		peers:  make(map[string]*peer.Record),
	}
}

// Add registers a peer. Adding the local node is a no-op returning
// false; adding a known peer refreshes its last-seen timestamp and
// returns false; a previously unknown peer returns true.
func (r *Registry) Add(rec *peer.Record) bool {
	if rec.ID == r.selfID {
		log.Debugf("registry: ignoring self as peer: %s", rec.ID)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[rec.ID]; ok {
		existing.Touch()
		existing.Active = true
		log.Debugf("registry: refreshed peer %s", existing)
		return false
	}

	r.peers[rec.ID] = rec
	log.Infof("PEER_JOIN: %s", rec)
	return true
}

func (r *Registry) Get(id string) *peer.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		return false
	}
	delete(r.peers, id)
	log.Infof("registry: removed peer %s", rec)
	return true
}

// ActivePeers returns a snapshot of the peers currently marked active.
func (r *Registry) ActivePeers() []*peer.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*peer.Record
	for _, rec := range r.peers {
		if rec.Active {
			active = append(active, rec)
		}
	}
	return active
}

// AllPeers returns a snapshot of every known peer.
func (r *Registry) AllPeers() []*peer.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*peer.Record, 0, len(r.peers))
	for _, rec := range r.peers {
		all = append(all, rec)
	}
	return all
}

// MarkActive flips the peer active and refreshes its last-seen
// timestamp. Unknown ids are ignored.
func (r *Registry) MarkActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[id]; ok {
		rec.Active = true
		rec.Touch()
	}
}

// MarkInactive flips the peer inactive. The record survives until the
// eviction sweep destroys it.
func (r *Registry) MarkInactive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[id]; ok && rec.Active {
		rec.Active = false
		log.Infof("registry: marked peer inactive: %s", rec)
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.peers {
		if rec.Active {
			count++
		}
	}
	return count
}

// EvictStale runs one eviction cycle, destroying every record whose
// last contact is older than PeerTimeout. Eviction is the only path by
// which a record is destroyed automatically.
func (r *Registry) EvictStale() int {
	now := time.Now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.peers {
		if now-rec.LastSeen > PeerTimeout.Milliseconds() {
			delete(r.peers, id)
			log.Infof("registry: evicted stale peer %s", rec)
			removed++
		}
	}
	return removed
}

// Run drives the periodic eviction sweep until the context is
// cancelled.
func (r *Registry) Run(ctx context.Context) error {
	interval := &timer.Interval{
		Duration: EvictionInterval,
		Jitter:   5 * time.Second,
	}
	return timer.RunWithTicker(ctx, "peer eviction", interval, func(context.Context) error {
		r.EvictStale()
		return nil
	})
}
