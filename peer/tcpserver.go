package peer

import (
	"bufio"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
	"github.com/relaymesh/filemesh/pkg/logger"
	"github.com/relaymesh/filemesh/pkg/monitor"
	"github.com/relaymesh/filemesh/pkg/protocol"
)

const (
	// maxConnections bounds the TCP server's concurrent connection count,
	// spec §5.
	maxConnections = 20
	readTimeout    = 30 * time.Second
)

// TCPServer answers GET_CHUNK/LIST_FILES/FILE_INFO/PING/STATS requests
// from other peers, backed by a chunkstore.Store, per spec §4.5/§6.
type TCPServer struct {
	listenAddr string
	peerName   string
	store      *chunkstore.Store
	sem        chan struct{}
	ln         net.Listener
}

// NewTCPServer creates a server that will listen on listenAddr and answer
// requests using store.
func NewTCPServer(listenAddr, peerName string, store *chunkstore.Store) *TCPServer {
	return &TCPServer{
		listenAddr: listenAddr,
		peerName:   peerName,
		store:      store,
		sem:        make(chan struct{}, maxConnections),
	}
}

// ListenAndServe blocks accepting connections until the listener is
// closed by Stop.
func (s *TCPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	logger.Sugar.Infof("[TCPServer] listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		select {
		case s.sem <- struct{}{}:
			go s.handleConn(conn)
		default:
			logger.Sugar.Warnf("[TCPServer] connection limit reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
		}
	}
}

// Stop closes the listener, unblocking ListenAndServe's accept loop.
func (s *TCPServer) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *TCPServer) handleConn(conn net.Conn) {
	traceID := uuid.NewString()
	defer func() { <-s.sem }()
	defer conn.Close()

	monitor.ConnectionOpened()
	defer monitor.ConnectionClosed()

	conn.SetDeadline(time.Now().Add(readTimeout))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		logger.Sugar.Debugf("[TCPServer][%s] read request line from %s failed: %v", traceID, conn.RemoteAddr(), err)
		return
	}

	monitor.RecordRequest()

	req, err := protocol.ParseTCPRequestLine(line)
	if err != nil {
		s.writeError(conn, protocol.TCPErrEmptyRequest, "empty request")
		return
	}

	logger.Sugar.Debugf("[TCPServer][%s] %s from %s", traceID, req.Command, conn.RemoteAddr())

	switch req.Command {
	case protocol.TCPGetChunk:
		s.handleGetChunk(conn, req)
	case protocol.TCPListFiles:
		s.handleListFiles(conn)
	case protocol.TCPFileInfo:
		s.handleFileInfo(conn, req)
	case protocol.TCPPing:
		s.handlePing(conn)
	case protocol.TCPStats:
		s.handleStats(conn)
	default:
		s.writeError(conn, protocol.TCPErrUnknownCommand, "unknown command: "+req.Command)
	}
}

func (s *TCPServer) handleGetChunk(conn net.Conn, req *protocol.TCPRequest) {
	if len(req.Args) != 2 {
		s.writeError(conn, protocol.TCPErrInvalidParams, "usage: GET_CHUNK <file> <index>")
		return
	}
	fileName := req.Args[0]
	index, ok := parseChunkIndex(req.Args[1])
	if !ok {
		s.writeError(conn, protocol.TCPErrInvalidChunkIndex, "chunk index must be a non-negative integer")
		return
	}
	meta, known := s.store.Metadata(fileName)
	if !known {
		s.writeError(conn, protocol.TCPErrFileNotFound, "no such file: "+fileName)
		return
	}
	if index >= meta.TotalChunks {
		s.writeError(conn, protocol.TCPErrInvalidChunkIndex, "index out of range")
		return
	}
	data, ok := s.store.LoadChunk(fileName, index)
	if !ok {
		s.writeError(conn, protocol.TCPErrChunkNotFound, "chunk not present")
		return
	}
	encoded, err := protocol.EncodeGetChunkSuccess(fileName, index, data)
	if err != nil {
		s.writeError(conn, protocol.TCPErrProcessingError, err.Error())
		return
	}
	if _, err := conn.Write(encoded); err != nil {
		logger.Sugar.Debugf("[TCPServer] write GET_CHUNK response failed: %v", err)
		return
	}
	monitor.RecordTransfer(int64(len(data)))
}

func (s *TCPServer) handleListFiles(conn net.Conn) {
	files := s.store.AllFiles()
	entries := make([]protocol.FileListEntry, 0, len(files))
	for name, indices := range files {
		entries = append(entries, protocol.FileListEntry{FileName: name, Indices: indices})
	}
	encoded, err := protocol.EncodeListFilesSuccess(entries)
	if err != nil {
		s.writeError(conn, protocol.TCPErrProcessingError, err.Error())
		return
	}
	conn.Write(encoded)
}

func (s *TCPServer) handleFileInfo(conn net.Conn, req *protocol.TCPRequest) {
	if len(req.Args) != 1 {
		s.writeError(conn, protocol.TCPErrInvalidParams, "usage: FILE_INFO <file>")
		return
	}
	fileName := req.Args[0]
	meta, known := s.store.Metadata(fileName)
	if !known {
		s.writeError(conn, protocol.TCPErrFileNotFound, "no such file: "+fileName)
		return
	}
	indices := s.store.Available(fileName)
	complete := s.store.IsComplete(fileName)
	encoded, err := protocol.EncodeFileInfoSuccess(meta.FileName, meta.FileSize, meta.TotalChunks, meta.FileHash, uint64(meta.CreatedAt), complete, indices)
	if err != nil {
		s.writeError(conn, protocol.TCPErrProcessingError, err.Error())
		return
	}
	conn.Write(encoded)
}

func (s *TCPServer) handlePing(conn net.Conn) {
	encoded, err := protocol.EncodePingSuccess(uint64(time.Now().UnixMilli()), s.peerName)
	if err != nil {
		s.writeError(conn, protocol.TCPErrProcessingError, err.Error())
		return
	}
	conn.Write(encoded)
}

func (s *TCPServer) handleStats(conn net.Conn) {
	files := s.store.AllFiles()
	var chunks uint32
	for _, indices := range files {
		chunks += uint32(len(indices))
	}
	snap := monitor.Snap()
	encoded, err := protocol.EncodeStatsSuccess(
		s.peerName,
		uint32(len(files)),
		chunks,
		snap.TransferBytes,
		snap.ActiveConnections,
		snap.TotalRequests,
		snap.SuccessfulTransfers,
		uint64(time.Now().UnixMilli()),
	)
	if err != nil {
		s.writeError(conn, protocol.TCPErrProcessingError, err.Error())
		return
	}
	conn.Write(encoded)
}

func (s *TCPServer) writeError(conn net.Conn, code, message string) {
	encoded, err := protocol.EncodeTCPError(code, message, uint64(time.Now().UnixMilli()))
	if err != nil {
		logger.Sugar.Errorf("[TCPServer] failed to encode error response: %v", err)
		return
	}
	conn.Write(encoded)
}

func parseChunkIndex(s string) (uint32, bool) {
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	if s == "" || v > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(v), true
}
