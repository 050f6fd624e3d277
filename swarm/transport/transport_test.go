package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"cachenet/datamodel/peer"
	"cachenet/swarm/protocol"
	"cachenet/swarm/registry"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("framed payload")

	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != headerSize+len(payload) {
		t.Fatalf("frame is %d bytes, want %d", buf.Len(), headerSize+len(payload))
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload does not round-trip: %q != %q", got, payload)
	}
}

func TestFrameSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	// A header announcing more than the frame limit must be rejected
	// before any allocation.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := readFrame(&buf); err == nil {
		t.Fatal("oversized frame header was accepted")
	}
}

// startServer runs a manager with a PING handler on a loopback port
// and returns it together with its bound port.
func startServer(t *testing.T, peerID string) (*Manager, int) {
	t.Helper()

	reg := registry.New(peerID)
	m := NewManager(peerID, reg)
	m.RegisterHandler(protocol.TypePing, func(msg *protocol.Message) *protocol.Message {
		return protocol.NewMessage(protocol.TypePong, peerID)
	})
	m.RegisterHandler(protocol.TypePeerList, func(msg *protocol.Message) *protocol.Message {
		return nil
	})

	if err := m.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Serve(ctx)

	return m, m.Addr().(*net.TCPAddr).Port
}

func TestSendWithResponse(t *testing.T) {
	_, port := startServer(t, "server")

	clientReg := registry.New("client")
	client := NewManager("client", clientReg)

	server := peer.New("server", "127.0.0.1", port)
	clientReg.Add(server)

	resp, err := client.Send(server, protocol.NewMessage(protocol.TypePing, "client"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Type != protocol.TypePong {
		t.Fatalf("response type %s, want %s", resp.Type, protocol.TypePong)
	}
	if resp.From != "server" {
		t.Fatalf("response from %s, want server", resp.From)
	}

	if got := clientReg.Get("server"); !got.Active {
		t.Fatal("successful exchange did not mark the peer active")
	}
}

func TestSendFireAndForget(t *testing.T) {
	_, port := startServer(t, "server")

	clientReg := registry.New("client")
	client := NewManager("client", clientReg)

	server := peer.New("server", "127.0.0.1", port)
	msg := protocol.NewMessage(protocol.TypePeerList, "client")
	msg.Set("peers", []protocol.PeerEntry{})

	resp, err := client.Send(server, msg)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp != nil {
		t.Fatalf("fire-and-forget send returned a response: %v", resp)
	}
}

func TestSendFailureMarksPeerInactive(t *testing.T) {
	clientReg := registry.New("client")
	client := NewManager("client", clientReg)

	// Grab a port with no listener behind it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	dead := peer.New("dead", "127.0.0.1", port)
	clientReg.Add(dead)

	if _, err := client.Send(dead, protocol.NewMessage(protocol.TypePing, "client")); err == nil {
		t.Fatal("Send to a dead peer succeeded")
	}
	if got := clientReg.Get("dead"); got.Active {
		t.Fatal("failed send did not mark the peer inactive")
	}
}

func TestInboundContactMarksSenderActive(t *testing.T) {
	serverMgr, port := startServer(t, "server")

	// The server knows the client but considers it inactive.
	serverReg := serverMgr.registry
	rec := peer.New("client", "127.0.0.1", 1)
	serverReg.Add(rec)
	serverReg.MarkInactive("client")
	before := serverReg.Get("client").LastSeen

	time.Sleep(5 * time.Millisecond)

	clientReg := registry.New("client")
	client := NewManager("client", clientReg)
	if _, err := client.Send(peer.New("server", "127.0.0.1", port), protocol.NewMessage(protocol.TypePing, "client")); err != nil {
		t.Fatal(err)
	}

	got := serverReg.Get("client")
	if !got.Active {
		t.Fatal("inbound contact did not reactivate the sender")
	}
	if got.LastSeen <= before {
		t.Fatal("inbound contact did not refresh lastSeen")
	}
}

func TestBroadcastSkipsInactivePeers(t *testing.T) {
	serverMgr, port := startServer(t, "server")
	_ = serverMgr

	clientReg := registry.New("client")
	client := NewManager("client", clientReg)

	clientReg.Add(peer.New("server", "127.0.0.1", port))
	// The ghost answers on the live server's port, so a broadcast that
	// reached it would mark it active again.
	clientReg.Add(peer.New("ghost", "127.0.0.1", port))
	clientReg.MarkInactive("ghost")

	msg := protocol.NewMessage(protocol.TypePeerList, "client")
	msg.Set("peers", []protocol.PeerEntry{})
	client.Broadcast(msg)

	// Give the fire-and-forget goroutines a moment.
	time.Sleep(100 * time.Millisecond)

	if got := clientReg.Get("ghost"); got.Active {
		t.Fatal("inactive peer was reactivated by a broadcast it must not receive")
	}
}
