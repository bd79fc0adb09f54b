package peer

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/relaymesh/filemesh/pkg/protocol"
)

const (
	tcpConnectTimeout = 10 * time.Second
	tcpReadTimeout    = 15 * time.Second
)

// TCPClient issues GET_CHUNK/LIST_FILES/FILE_INFO/PING/STATS requests
// against a single remote peer address. Every call dials fresh: spec §5
// doesn't describe a persistent per-peer connection, and short-lived
// connections keep the server's connection accounting simple.
type TCPClient struct {
	addr string
}

// NewTCPClient targets a specific "ip:port" peer address.
func NewTCPClient(addr string) *TCPClient {
	return &TCPClient{addr: addr}
}

func (c *TCPClient) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.addr, tcpConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(tcpReadTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// GetChunk fetches one chunk of fileName from this peer.
func (c *TCPClient) GetChunk(fileName string, index uint32) (*protocol.ChunkResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	line := fmt.Sprintf("%s %s %s\n", protocol.TCPGetChunk, fileName, strconv.FormatUint(uint64(index), 10))
	if _, err := conn.Write([]byte(line)); err != nil {
		return nil, fmt.Errorf("send GET_CHUNK: %w", err)
	}
	return protocol.DecodeGetChunkResponse(conn)
}

// ListFiles lists every file this peer advertises.
func (c *TCPClient) ListFiles() ([]protocol.FileListEntry, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.TCPListFiles + "\n")); err != nil {
		return nil, fmt.Errorf("send LIST_FILES: %w", err)
	}
	return protocol.DecodeListFilesResponse(conn)
}

// FileInfo asks this peer for its FileInfo record for fileName.
func (c *TCPClient) FileInfo(fileName string) (*protocol.FileInfoResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	line := fmt.Sprintf("%s %s\n", protocol.TCPFileInfo, fileName)
	if _, err := conn.Write([]byte(line)); err != nil {
		return nil, fmt.Errorf("send FILE_INFO: %w", err)
	}
	return protocol.DecodeFileInfoResponse(conn)
}

// Ping checks that this peer is reachable and responsive.
func (c *TCPClient) Ping() (*protocol.PingResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.TCPPing + "\n")); err != nil {
		return nil, fmt.Errorf("send PING: %w", err)
	}
	return protocol.DecodePingResponse(conn)
}

// Stats fetches this peer's runtime counters.
func (c *TCPClient) Stats() (*protocol.StatsResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.TCPStats + "\n")); err != nil {
		return nil, fmt.Errorf("send STATS: %w", err)
	}
	return protocol.DecodeStatsResponse(conn)
}
