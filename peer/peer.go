// Package peer implements the peer role: a chunk store shared over TCP,
// a tracker client keeping the swarm informed of what this peer holds,
// and a download coordinator pulling files from other peers, per spec
// §4.4-§4.7.
package peer

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
	"github.com/relaymesh/filemesh/pkg/logger"
	"github.com/relaymesh/filemesh/pkg/protocol"
	"github.com/relaymesh/filemesh/pkg/watcher"
)

// Server wires together every peer-side subsystem: the chunk store, the
// TCP responder, the tracker client, the download coordinator and the
// shared-folder watcher.
type Server struct {
	listenIP   string
	listenPort string
	peerName   string

	Store      *chunkstore.Store
	TCP        *TCPServer
	Tracker    *TrackerClient
	Downloader *Downloader
	Journal    *Journal

	watchCancel context.CancelFunc
	stop        chan struct{}
}

// NewServer builds a peer bound to listenAddr ("ip:port"), sharing
// sharedDir's contents, registering with the tracker at trackerAddr.
func NewServer(listenAddr, trackerAddr, sharedDir string) (*Server, error) {
	ip, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if ip == "" || ip == "0.0.0.0" {
		ip = localIPv4()
	}
	peerName := string(protocol.CanonicalPeerID(ip, port))

	store, err := chunkstore.New(sharedDir)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	journal, err := OpenJournal(sharedDir)
	if err != nil {
		logger.Sugar.Warnf("[Peer] journal unavailable, continuing without it: %v", err)
	}

	trackerClient := NewTrackerClient(trackerAddr, ip, port)
	downloader := NewDownloader(store, trackerClient)
	downloader.SetJournal(journal)

	return &Server{
		listenIP:   ip,
		listenPort: port,
		peerName:   peerName,
		Store:      store,
		TCP:        NewTCPServer(listenAddr, peerName, store),
		Tracker:    trackerClient,
		Downloader: downloader,
		Journal:    journal,
		stop:       make(chan struct{}),
	}, nil
}

// Name returns this peer's canonical Peer_<ip>:<port> identity.
func (s *Server) Name() string {
	return s.peerName
}

// currentFiles builds the files-info snapshot the tracker client
// advertises: every file this store currently holds any chunk of.
func (s *Server) currentFiles() protocol.FileChunkSets {
	files := s.Store.AllFiles()
	out := make(protocol.FileChunkSets, len(files))
	for name, indices := range files {
		set := make(map[uint32]struct{}, len(indices))
		for _, idx := range indices {
			set[idx] = struct{}{}
		}
		out[name] = set
	}
	return out
}

// Start brings up the TCP server, the watcher, and registers with the
// tracker, then blocks running the periodic tracker schedule until Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.TCP.ListenAndServe(); err != nil {
			logger.Sugar.Infof("[Peer] TCP server stopped: %v", err)
		}
	}()

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	w, err := watcher.New(s.Store.SharedDir(), s.Store)
	if err != nil {
		logger.Sugar.Warnf("[Peer] failed to start folder watcher: %v", err)
	} else {
		go w.Run(watchCtx)
	}

	if err := s.Tracker.Register(s.currentFiles()); err != nil {
		logger.Sugar.Warnf("[Peer] initial tracker registration failed: %v", err)
	}

	logger.Sugar.Infof("[Peer] %s ready, sharing %s", s.peerName, s.Store.SharedDir())
	s.Tracker.RunPeriodic(s.stop, s.currentFiles)
	return nil
}

// Stop unregisters from the tracker and shuts down the TCP server and
// watcher.
func (s *Server) Stop() {
	close(s.stop)
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if err := s.Tracker.Unregister(); err != nil {
		logger.Sugar.Warnf("[Peer] unregister failed: %v", err)
	}
	s.TCP.Stop()
	if s.Journal != nil {
		s.Journal.Close()
	}
}

// localIPv4 returns the host's primary IPv4 address, or "127.0.0.1" if it
// cannot be resolved, per spec §4.4's peer-id construction rule.
func localIPv4() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	ip := addr.IP.String()
	if strings.Contains(ip, ":") {
		return "127.0.0.1"
	}
	return ip
}
