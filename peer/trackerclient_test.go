package peer

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/filemesh/pkg/protocol"
)

// fakeTracker answers exactly one style of response for every datagram it
// receives, recording the request lines it saw.
type fakeTracker struct {
	conn     *net.UDPConn
	requests chan string
	respond  func(line string) []byte
}

func startFakeTracker(t *testing.T, respond func(line string) []byte) *fakeTracker {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ft := &fakeTracker{conn: conn, requests: make(chan string, 16), respond: respond}
	go ft.serve()
	t.Cleanup(func() { conn.Close() })
	return ft
}

func (ft *fakeTracker) serve() {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, addr, err := ft.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		line := string(buf[:n])
		ft.requests <- line
		resp := ft.respond(line)
		if resp != nil {
			ft.conn.WriteToUDP(resp, addr)
		}
	}
}

func (ft *fakeTracker) addr() string {
	return ft.conn.LocalAddr().String()
}

func TestTrackerClientRegisterParsesPeersList(t *testing.T) {
	ft := startFakeTracker(t, func(line string) []byte {
		if !strings.HasPrefix(line, protocol.CmdRegister) {
			t.Errorf("expected REGISTER, got %q", line)
		}
		encoded, err := protocol.EncodePeersList(protocol.PeersListResponse{
			ServerTimestampMs: 1000,
			Peers: []protocol.PeerRecord{
				{PeerID: protocol.CanonicalPeerID("10.0.0.5", "9000"), LastSeen: 500, Files: protocol.FileChunkSets{}},
			},
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return encoded
	})

	c := NewTrackerClient(ft.addr(), "127.0.0.1", "6882")
	if err := c.Register(protocol.FileChunkSets{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("expected connected after successful REGISTER")
	}
	peers := c.KnownPeers()
	if len(peers) != 1 || peers[0].PeerID != protocol.CanonicalPeerID("10.0.0.5", "9000") {
		t.Fatalf("unexpected peers: %+v", peers)
	}
}

func TestTrackerClientHeartbeatNoRetry(t *testing.T) {
	var calls int
	ft := startFakeTracker(t, func(line string) []byte {
		calls++
		return protocol.EncodeAck(42)
	})

	c := NewTrackerClient(ft.addr(), "127.0.0.1", "6882")
	if err := c.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestTrackerClientRetriesThenFails(t *testing.T) {
	// Nothing is listening on this address: every attempt should fail fast
	// enough that the test doesn't hang on trackerRequestTimeout, since
	// UDP send to a closed port errors immediately or the read times out.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close() // nobody will ever answer on this port again

	c := NewTrackerClient(addr, "127.0.0.1", "6882")
	start := time.Now()
	err = c.Register(protocol.FileChunkSets{})
	if err == nil {
		t.Fatal("expected error when tracker never responds")
	}
	if c.IsConnected() {
		t.Fatal("expected disconnected after exhausting retries")
	}
	if elapsed := time.Since(start); elapsed > trackerRequestTimeout*trackerMaxRetries+5*time.Second {
		t.Fatalf("retry loop took too long: %v", elapsed)
	}
}
