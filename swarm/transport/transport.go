// Package transport moves framed messages between peers over TCP. The
// server side accepts one request frame per connection, dispatches it
// to the handler registered for the message type and writes back at
// most one response frame. The client side dials, writes one frame and
// reads a response only for the response-expecting message types.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"cachenet/datamodel/peer"
	"cachenet/swarm/protocol"
	"cachenet/swarm/registry"

	log "github.com/sirupsen/logrus"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 30 * time.Second
	writeTimeout   = 30 * time.Second
)

// Handler processes one inbound message and returns the response to
// write back, or nil when the message type has no response. Handlers
// are invoked concurrently and must be safe for that.
type Handler func(msg *protocol.Message) *protocol.Message

type Manager struct {
	peerID   string
	registry *registry.Registry

	hmu      sync.RWMutex
	handlers map[string]Handler

	lmu      sync.Mutex
	listener net.Listener
}

func NewManager(peerID string, reg *registry.Registry) *Manager {
	return &Manager{
		peerID:   peerID,
		registry: reg,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs the handler for a message type. Register
// everything before Start; later registrations are still synchronized.
func (m *Manager) RegisterHandler(msgType string, h Handler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[msgType] = h
}

func (m *Manager) handler(msgType string) Handler {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	return m.handlers[msgType]
}

// Start binds the listen socket.
func (m *Manager) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	m.lmu.Lock()
	m.listener = l
	m.lmu.Unlock()

	log.Infof("transport: listening on %s", l.Addr())
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (m *Manager) Addr() net.Addr {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop closes the listen socket, unblocking Serve.
func (m *Manager) Stop() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	if m.listener != nil {
		if err := m.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warnf("transport: error closing listener: %v", err)
		}
	}
}

// Serve runs the accept loop until the context is cancelled or the
// listener fails. Each accepted connection is handled on its own
// goroutine.
func (m *Manager) Serve(ctx context.Context) error {
	m.lmu.Lock()
	l := m.listener
	m.lmu.Unlock()
	if l == nil {
		return errors.New("transport: Serve called before Start")
	}

	// Closing the listener is what unblocks Accept on cancellation.
	go func() {
		<-ctx.Done()
		log.Infof("transport: context cancelled, closing listener %s", l.Addr())
		m.Stop()
	}()

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("transport: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("transport: critical accept error: %v", err)
			return err
		}

		tempDelay = 0
		go m.serveConn(conn)
	}
}

// serveConn handles one inbound exchange: read a frame, dispatch,
// write the response frame if the handler produced one, close.
func (m *Manager) serveConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	raw, err := readFrame(conn)
	if err != nil {
		log.Warnf("transport: failed to read frame from %s: %v", conn.RemoteAddr(), err)
		return
	}

	msg := &protocol.Message{}
	if err := cbor.Unmarshal(raw, msg); err != nil {
		log.Warnf("transport: malformed message from %s: %v", conn.RemoteAddr(), err)
		return
	}

	// Any inbound contact counts as liveness for the sender.
	if msg.From != "" && msg.From != m.peerID {
		m.registry.MarkActive(msg.From)
	}

	h := m.handler(msg.Type)
	if h == nil {
		log.Warnf("transport: no handler for message type %s from %s", msg.Type, conn.RemoteAddr())
		return
	}

	resp := h(msg)
	if resp == nil {
		return
	}
	resp.From = m.peerID

	out, err := cbor.Marshal(resp)
	if err != nil {
		log.Errorf("transport: failed to encode %s response: %v", resp.Type, err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(conn, out); err != nil {
		log.Warnf("transport: failed to write %s response to %s: %v", resp.Type, conn.RemoteAddr(), err)
	}
}

// Send dials the peer, writes the message and, for response-expecting
// types, reads one response frame. Any failure marks the peer inactive
// and returns a nil message.
func (m *Manager) Send(p *peer.Record, msg *protocol.Message) (*protocol.Message, error) {
	msg.From = m.peerID

	resp, err := m.exchange(p.Address(), msg)
	if err != nil {
		log.Debugf("transport: send %s to %s failed: %v", msg.Type, p.ID, err)
		m.registry.MarkInactive(p.ID)
		return nil, err
	}

	m.registry.MarkActive(p.ID)
	return resp, nil
}

func (m *Manager) exchange(addr string, msg *protocol.Message) (*protocol.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, err := cbor.Marshal(msg)
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(conn, raw); err != nil {
		return nil, err
	}

	if !protocol.ExpectsResponse(msg.Type) {
		return nil, nil
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	rawResp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}

	resp := &protocol.Message{}
	if err := cbor.Unmarshal(rawResp, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Broadcast sends the message to every active peer on independent
// fire-and-forget goroutines. Per-peer failures only affect that peer;
// there is no ordering guarantee across peers.
func (m *Manager) Broadcast(msg *protocol.Message) {
	peers := m.registry.ActivePeers()
	for _, p := range peers {
		p := p
		// Each goroutine gets its own envelope: Send stamps From.
		msgCopy := *msg
		go func() {
			if _, err := m.Send(p, &msgCopy); err != nil {
				log.Debugf("transport: broadcast %s to %s failed: %v", msg.Type, p.ID, err)
			}
		}()
	}
	log.Debugf("transport: broadcast %s to %d peers", msg.Type, len(peers))
}
