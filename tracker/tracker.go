// Package tracker implements the UDP peer-discovery rendezvous server,
// spec §4.1: a REGISTER/UPDATE/UNREGISTER/HEARTBEAT directory with a
// sweeper that evicts stale peers, served by a bounded worker pool over a
// single UDP socket.
package tracker

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/filemesh/pkg/logger"
	"github.com/relaymesh/filemesh/pkg/monitor"
	"github.com/relaymesh/filemesh/pkg/protocol"
)

// DefaultPort is the tracker's well-known UDP port, spec §4.1.
const DefaultPort = 6881

// maxWorkers bounds the number of goroutines processing datagrams
// concurrently; the socket read loop itself is single-threaded.
const maxWorkers = 10

// receiveTimeout bounds each ReadFromUDP call so the read loop re-checks
// the stopping flag at least once a second.
const receiveTimeout = 1 * time.Second

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// Tracker owns the UDP socket and the peer directory it serves.
type Tracker struct {
	dir      *Directory
	conn     *net.UDPConn
	jobs     chan datagram
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Tracker with an empty directory. ListenAndServe must be
// called to bind the socket.
func New() *Tracker {
	return &Tracker{
		dir:  NewDirectory(),
		jobs: make(chan datagram, maxWorkers*4),
	}
}

// Directory exposes the peer directory, for the interactive shell's
// status/peers commands.
func (t *Tracker) Directory() *Directory {
	return t.dir
}

// ListenAndServe binds addr (":6881" style) and blocks, dispatching
// datagrams to a bounded worker pool until Stop is called.
func (t *Tracker) ListenAndServe(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	t.conn = conn
	logger.Sugar.Infof("[Tracker] listening on %s (udp)", conn.LocalAddr())

	for i := 0; i < maxWorkers; i++ {
		t.wg.Add(1)
		go t.worker()
	}

	go t.runSweeper()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		if t.stopping.Load() {
			break
		}
		conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if t.stopping.Load() {
				break
			}
			logger.Sugar.Errorf("[Tracker] read error: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.jobs <- datagram{data: data, addr: from}:
		default:
			logger.Sugar.Warnf("[Tracker] worker pool saturated, dropping datagram from %s", from)
		}
	}

	close(t.jobs)
	t.wg.Wait()
	return nil
}

// Stop unblocks ListenAndServe and closes the socket.
func (t *Tracker) Stop() {
	t.stopping.Store(true)
	if t.conn != nil {
		t.conn.Close()
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for dg := range t.jobs {
		monitor.RecordRequest()
		t.handle(dg)
	}
}

func (t *Tracker) handle(dg datagram) {
	nowMs := uint64(time.Now().UnixMilli())

	req, err := protocol.ParseUDPRequest(dg.data)
	if err != nil {
		t.reply(dg.addr, protocol.EncodeError(protocol.ErrInvalidFormat, nowMs))
		return
	}

	peerID := req.PeerID()

	switch req.Command {
	case protocol.CmdRegister:
		files := protocol.ParseFilesInfo(req.Payload)
		t.dir.Register(peerID, files)
		logger.Sugar.Infof("[Tracker] REGISTER %s files=%d", peerID, len(files))
		t.sendPeersList(dg.addr, peerID, nowMs)

	case protocol.CmdUpdate:
		files := protocol.ParseFilesInfo(req.Payload)
		t.dir.Update(peerID, files)
		logger.Sugar.Debugf("[Tracker] UPDATE %s files=%d", peerID, len(files))
		t.sendPeersList(dg.addr, peerID, nowMs)

	case protocol.CmdUnregister:
		t.dir.Unregister(peerID)
		logger.Sugar.Infof("[Tracker] UNREGISTER %s", peerID)
		t.reply(dg.addr, protocol.EncodeAck(nowMs))

	case protocol.CmdHeartbeat:
		t.dir.Heartbeat(peerID)
		t.reply(dg.addr, protocol.EncodeAck(nowMs))

	default:
		t.reply(dg.addr, protocol.EncodeError(protocol.ErrUnknownCommand, nowMs))
	}
}

func (t *Tracker) sendPeersList(addr *net.UDPAddr, requester protocol.PeerID, nowMs uint64) {
	peers := t.dir.PeersExcluding(requester)
	encoded, err := protocol.EncodePeersList(protocol.PeersListResponse{
		ServerTimestampMs: nowMs,
		Peers:             peers,
	})
	if err != nil {
		logger.Sugar.Errorf("[Tracker] failed to encode PEERS_LIST for %s: %v", requester, err)
		t.reply(addr, protocol.EncodeError(protocol.ErrProcessingError, nowMs))
		return
	}
	if len(encoded) > protocol.MaxDatagramSize {
		logger.Sugar.Warnf("[Tracker] PEERS_LIST for %s is %d bytes, exceeds practical UDP payload size", requester, len(encoded))
	}
	t.reply(addr, encoded)
}

func (t *Tracker) reply(addr *net.UDPAddr, data []byte) {
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		logger.Sugar.Errorf("[Tracker] write to %s failed: %v", addr, err)
	}
}

func (t *Tracker) runSweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		if t.stopping.Load() {
			return
		}
		<-ticker.C
		if t.stopping.Load() {
			return
		}
		dropped := t.dir.Sweep(time.Now())
		for _, id := range dropped {
			logger.Sugar.Infof("[Tracker] sweeper evicted stale peer %s", id)
		}
	}
}
