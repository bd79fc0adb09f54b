package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// UDP command tokens, spec §4.1.
const (
	CmdRegister   = "REGISTER"
	CmdUpdate     = "UPDATE"
	CmdUnregister = "UNREGISTER"
	CmdHeartbeat  = "HEARTBEAT"
)

// UDP error codes, spec §4.1.
const (
	ErrInvalidFormat   = "INVALID_FORMAT"
	ErrUnknownCommand  = "UNKNOWN_COMMAND"
	ErrProcessingError = "PROCESSING_ERROR"
)

// MaxDatagramSize is the practical UDP payload ceiling spec §4.2 warns
// about. Implementers SHOULD warn, not refuse, when a PEERS_LIST exceeds
// it.
const MaxDatagramSize = 65535

// UDPRequest is a parsed tracker request datagram.
type UDPRequest struct {
	Command string
	IP      string
	Port    string
	Payload string // fourth token, if any (files-info for REGISTER/UPDATE)
}

// PeerID assembles the canonical requester identity from the IP/port
// tokens carried in the request itself, per spec §4.1.
func (r *UDPRequest) PeerID() PeerID {
	return CanonicalPeerID(r.IP, r.Port)
}

// ParseUDPRequest parses one UDP datagram into a request. It returns
// ErrInvalidFormat as the error's message when fewer than 3 tokens are
// present, matching spec §4.1's "fewer than 3 tokens" rule.
func ParseUDPRequest(data []byte) (*UDPRequest, error) {
	text := strings.TrimRight(string(data), "\r\n")
	tokens := strings.SplitN(text, " ", 4)
	if len(tokens) < 3 {
		return nil, fmt.Errorf(ErrInvalidFormat)
	}
	req := &UDPRequest{
		Command: tokens[0],
		IP:      tokens[1],
		Port:    tokens[2],
	}
	if len(tokens) == 4 {
		req.Payload = tokens[3]
	}
	return req, nil
}

// PeerRecord is one entry of a PEERS_LIST response.
type PeerRecord struct {
	PeerID   PeerID
	LastSeen uint64 // ms
	Files    FileChunkSets
}

// PeersListResponse is the binary PEERS_LIST response, spec §4.2.
type PeersListResponse struct {
	ServerTimestampMs uint64
	Peers             []PeerRecord
}

const peersListTag = "PEERS_LIST"

// EncodePeersList encodes a PEERS_LIST response. The caller is responsible
// for deciding whether to warn on datagrams larger than MaxDatagramSize —
// this function always sends the full encoding, per spec §9.
func EncodePeersList(resp PeersListResponse) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, peersListTag); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, resp.ServerTimestampMs); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, uint32(len(resp.Peers))); err != nil {
		return nil, err
	}
	for _, peer := range resp.Peers {
		if err := WriteString(&buf, string(peer.PeerID)); err != nil {
			return nil, err
		}
		if err := WriteUint64(&buf, peer.LastSeen); err != nil {
			return nil, err
		}
		names := peer.Files.SortedFileNames()
		if err := WriteUint32(&buf, uint32(len(names))); err != nil {
			return nil, err
		}
		for _, name := range names {
			indices := peer.Files.SortedIndices(name)
			if err := WriteString(&buf, name); err != nil {
				return nil, err
			}
			if err := WriteUint32(&buf, uint32(len(indices))); err != nil {
				return nil, err
			}
			for _, idx := range indices {
				if err := WriteUint32(&buf, idx); err != nil {
					return nil, err
				}
			}
		}
	}
	return buf.Bytes(), nil
}

// decodePeersListBody decodes a binary PEERS_LIST payload (the caller has
// already stripped/verified the leading length-prefixed "PEERS_LIST" tag
// via DecodeUDPResponse — this decodes the remainder).
func decodePeersListBody(r *bytes.Reader) (*PeersListResponse, error) {
	ts, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	count, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	resp := &PeersListResponse{ServerTimestampMs: ts, Peers: make([]PeerRecord, 0, count)}
	for i := uint32(0); i < count; i++ {
		peerID, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		lastSeen, err := ReadUint64(r)
		if err != nil {
			return nil, err
		}
		fileCount, err := ReadUint32(r)
		if err != nil {
			return nil, err
		}
		files := make(FileChunkSets)
		for f := uint32(0); f < fileCount; f++ {
			name, err := ReadString(r)
			if err != nil {
				return nil, err
			}
			chunkCount, err := ReadUint32(r)
			if err != nil {
				return nil, err
			}
			set := make(map[uint32]struct{}, chunkCount)
			for c := uint32(0); c < chunkCount; c++ {
				idx, err := ReadUint32(r)
				if err != nil {
					return nil, err
				}
				set[idx] = struct{}{}
			}
			files[name] = set
		}
		resp.Peers = append(resp.Peers, PeerRecord{PeerID: PeerID(peerID), LastSeen: lastSeen, Files: files})
	}
	return resp, nil
}

// AckResponse is the legacy plain-ASCII ACK response, spec §4.2.
type AckResponse struct {
	TimestampMs uint64
}

// EncodeAck renders "ACK <ms>" as plain UTF-8 bytes.
func EncodeAck(nowMs uint64) []byte {
	return []byte(fmt.Sprintf("ACK %d", nowMs))
}

// ErrorResponse is the legacy plain-ASCII ERROR response, spec §4.2.
type ErrorResponse struct {
	Code        string
	TimestampMs uint64
}

// EncodeError renders "ERROR <code> <ms>" as plain UTF-8 bytes.
func EncodeError(code string, nowMs uint64) []byte {
	return []byte(fmt.Sprintf("ERROR %s %d", code, nowMs))
}

// UDPResponse is the decoded form of any tracker UDP response.
type UDPResponse struct {
	PeersList *PeersListResponse
	Ack       *AckResponse
	Error     *ErrorResponse
}

// DecodeUDPResponse dispatches on the first bytes of a datagram, per spec
// §4.2/§9: if the leading field decodes as a length-prefixed "PEERS_LIST"
// tag, take the binary path; otherwise fall back to the plain-ASCII
// "ACK "/"ERROR " text forms, and finally to a legacy headerless binary
// peer list for compatibility with older peers. Length-prefixed "ACK" and
// "ERROR" tags have no binary decoder here and go through the same
// fallbacks.
func DecodeUDPResponse(data []byte) (*UDPResponse, error) {
	if tag, rest, ok := peekLengthPrefixedTag(data); ok {
		switch tag {
		case peersListTag:
			body, err := decodePeersListBody(bytes.NewReader(rest))
			if err != nil {
				return nil, fmt.Errorf("decode PEERS_LIST body: %w", err)
			}
			return &UDPResponse{PeersList: body}, nil
		}
	}

	text := string(data)
	switch {
	case strings.HasPrefix(text, "ACK "):
		var ms uint64
		if _, err := fmt.Sscanf(text, "ACK %d", &ms); err != nil {
			return nil, fmt.Errorf("malformed ACK response: %w", err)
		}
		return &UDPResponse{Ack: &AckResponse{TimestampMs: ms}}, nil
	case strings.HasPrefix(text, "ERROR "):
		fields := strings.SplitN(text, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed ERROR response: %q", text)
		}
		var ms uint64
		if _, err := fmt.Sscanf(fields[2], "%d", &ms); err != nil {
			return nil, fmt.Errorf("malformed ERROR timestamp: %w", err)
		}
		return &UDPResponse{Error: &ErrorResponse{Code: fields[1], TimestampMs: ms}}, nil
	}

	// Legacy headerless binary peer list: no PEERS_LIST tag, no count
	// prefix, just concatenated peer records. Best-effort decode.
	body, err := decodeLegacyPeerRecords(data)
	if err != nil {
		return nil, fmt.Errorf("unrecognized UDP response (%d bytes): %w", len(data), err)
	}
	return &UDPResponse{PeersList: body}, nil
}

// peekLengthPrefixedTag reads a length-prefixed string from the head of
// data and reports whether it looks like one of the known response tags.
func peekLengthPrefixedTag(data []byte) (tag string, rest []byte, ok bool) {
	if len(data) < 2 {
		return "", nil, false
	}
	n := int(uint16(data[0])<<8 | uint16(data[1]))
	if n == 0 || 2+n > len(data) || n > 32 {
		return "", nil, false
	}
	candidate := string(data[2 : 2+n])
	switch candidate {
	case peersListTag, "ACK", "ERROR":
		return candidate, data[2+n:], true
	}
	return "", nil, false
}

// decodeLegacyPeerRecords parses a concatenated sequence of peer records
// with no leading tag or count, for compatibility with older peers per
// spec §9. Each record has the same shape as one PEERS_LIST entry.
func decodeLegacyPeerRecords(data []byte) (*PeersListResponse, error) {
	r := bytes.NewReader(data)
	resp := &PeersListResponse{ServerTimestampMs: uint64(time.Now().UnixMilli())}
	for r.Len() > 0 {
		peerID, err := ReadString(r)
		if err != nil {
			if r.Len() == 0 {
				break
			}
			return nil, err
		}
		lastSeen, err := ReadUint64(r)
		if err != nil {
			return nil, err
		}
		fileCount, err := ReadUint32(r)
		if err != nil {
			return nil, err
		}
		files := make(FileChunkSets)
		for f := uint32(0); f < fileCount; f++ {
			name, err := ReadString(r)
			if err != nil {
				return nil, err
			}
			chunkCount, err := ReadUint32(r)
			if err != nil {
				return nil, err
			}
			set := make(map[uint32]struct{}, chunkCount)
			for c := uint32(0); c < chunkCount; c++ {
				idx, err := ReadUint32(r)
				if err != nil {
					return nil, err
				}
				set[idx] = struct{}{}
			}
			files[name] = set
		}
		resp.Peers = append(resp.Peers, PeerRecord{PeerID: PeerID(peerID), LastSeen: lastSeen, Files: files})
	}
	return resp, nil
}
