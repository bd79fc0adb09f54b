package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/relaymesh/filemesh/pkg/logger"
	"github.com/relaymesh/filemesh/pkg/protocol"
)

const (
	trackerRequestTimeout = 5 * time.Second
	trackerMaxRetries     = 3
	trackerRetryBackoff   = 1 * time.Second
	updateInterval        = 30 * time.Second
	heartbeatInterval     = 60 * time.Second

	// trackerFreshnessWindow bounds how stale the last successful exchange
	// may be before IsConnected reports false, per spec §4.4's
	// is_connected = active && (now - last_tracker_response_ms < 120s).
	trackerFreshnessWindow = 120 * time.Second
)

// TrackerClient talks the UDP rendezvous protocol to a single tracker on
// behalf of one peer: REGISTER on startup, periodic UPDATE/HEARTBEAT
// after, per spec §5.
type TrackerClient struct {
	trackerAddr string
	selfIP      string
	selfPort    string

	mu         sync.RWMutex
	connected  bool
	lastPeers  []protocol.PeerRecord
	lastSyncAt time.Time
}

// NewTrackerClient creates a client bound to no socket yet — every
// request dials fresh, matching the tracker's stateless-per-datagram
// design.
func NewTrackerClient(trackerAddr, selfIP, selfPort string) *TrackerClient {
	return &TrackerClient{
		trackerAddr: trackerAddr,
		selfIP:      selfIP,
		selfPort:    selfPort,
	}
}

// IsConnected reports whether the last exchange with the tracker
// succeeded and is still fresh, per spec §4.4.
func (c *TrackerClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && time.Since(c.lastSyncAt) < trackerFreshnessWindow
}

// KnownPeers returns the peer list from the most recent successful
// exchange.
func (c *TrackerClient) KnownPeers() []protocol.PeerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.PeerRecord, len(c.lastPeers))
	copy(out, c.lastPeers)
	return out
}

// Register sends REGISTER with the full current file set, retrying up to
// trackerMaxRetries times with linear backoff, per spec §5.
func (c *TrackerClient) Register(files protocol.FileChunkSets) error {
	line := fmt.Sprintf("%s %s %s %s", protocol.CmdRegister, c.selfIP, c.selfPort, protocol.EncodeFilesInfo(files))
	return c.exchangeWithRetry(line)
}

// Update sends UPDATE with the full current file/chunk set, which the
// tracker uses to replace the peer's previous set.
func (c *TrackerClient) Update(files protocol.FileChunkSets) error {
	line := fmt.Sprintf("%s %s %s %s", protocol.CmdUpdate, c.selfIP, c.selfPort, protocol.EncodeFilesInfo(files))
	return c.exchangeWithRetry(line)
}

// Heartbeat sends a bare HEARTBEAT, no retry — a single missed heartbeat
// is expected to be absorbed by the tracker's 120s sweep timeout.
func (c *TrackerClient) Heartbeat() error {
	line := fmt.Sprintf("%s %s %s", protocol.CmdHeartbeat, c.selfIP, c.selfPort)
	return c.exchangeOnce(line)
}

// Unregister sends UNREGISTER, best-effort, on graceful shutdown.
func (c *TrackerClient) Unregister() error {
	line := fmt.Sprintf("%s %s %s", protocol.CmdUnregister, c.selfIP, c.selfPort)
	return c.exchangeOnce(line)
}

func (c *TrackerClient) exchangeWithRetry(line string) error {
	var lastErr error
	for attempt := 1; attempt <= trackerMaxRetries; attempt++ {
		if err := c.exchangeOnce(line); err != nil {
			lastErr = err
			logger.Sugar.Warnf("[TrackerClient] attempt %d/%d failed: %v", attempt, trackerMaxRetries, err)
			if attempt < trackerMaxRetries {
				time.Sleep(time.Duration(attempt) * trackerRetryBackoff)
			}
			continue
		}
		return nil
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return fmt.Errorf("tracker exchange failed after %d attempts: %w", trackerMaxRetries, lastErr)
}

func (c *TrackerClient) exchangeOnce(line string) error {
	conn, err := net.Dial("udp", c.trackerAddr)
	if err != nil {
		return fmt.Errorf("dial tracker: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(trackerRequestTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("send to tracker: %w", err)
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read from tracker: %w", err)
	}

	resp, err := protocol.DecodeUDPResponse(buf[:n])
	if err != nil {
		return fmt.Errorf("decode tracker response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("tracker error: %s", resp.Error.Code)
	}

	c.mu.Lock()
	c.connected = true
	c.lastSyncAt = time.Now()
	if resp.PeersList != nil {
		c.lastPeers = resp.PeersList.Peers
	}
	c.mu.Unlock()
	return nil
}

// RunPeriodic drives the 30s UPDATE / 60s HEARTBEAT schedule until stop is
// closed, sourcing the current file set from filesFn on each tick.
func (c *TrackerClient) RunPeriodic(stop <-chan struct{}, filesFn func() protocol.FileChunkSets) {
	updateTicker := time.NewTicker(updateInterval)
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer updateTicker.Stop()
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-updateTicker.C:
			if err := c.Update(filesFn()); err != nil {
				logger.Sugar.Errorf("[TrackerClient] periodic UPDATE failed: %v", err)
			}
		case <-heartbeatTicker.C:
			if err := c.Heartbeat(); err != nil {
				logger.Sugar.Errorf("[TrackerClient] periodic HEARTBEAT failed: %v", err)
			}
		}
	}
}
