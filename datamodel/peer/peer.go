// Package peer defines the record kept for every known node on the
// overlay. Records are owned by the registry; fields are mutated only
// under its lock.
package peer

import (
	"net"
	"strconv"
	"time"
)

type Record struct {
	ID       string
	Host     string
	Port     int
	LastSeen int64 // unix millis of the most recent contact
	Active   bool
}

// New creates a record for a peer first seen now.
func New(id, host string, port int) *Record {
	return &Record{
		ID:       id,
		Host:     host,
		Port:     port,
		LastSeen: time.Now().UnixMilli(),
		Active:   true,
	}
}

// Address returns the dialable host:port of the peer.
func (r *Record) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Touch refreshes the last-seen timestamp.
func (r *Record) Touch() {
	r.LastSeen = time.Now().UnixMilli()
}

func (r *Record) String() string {
	state := "inactive"
	if r.Active {
		state = "active"
	}
	return r.ID + "@" + r.Address() + " (" + state + ")"
}
