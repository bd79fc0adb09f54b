package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TCP request commands, spec §4.5/§6.
const (
	TCPGetChunk  = "GET_CHUNK"
	TCPListFiles = "LIST_FILES"
	TCPFileInfo  = "FILE_INFO"
	TCPPing      = "PING"
	TCPStats     = "STATS"
)

// TCP error codes, spec §4.5.
const (
	TCPErrInvalidFormat      = "INVALID_FORMAT"
	TCPErrInvalidParams      = "INVALID_PARAMS"
	TCPErrInvalidChunkIndex  = "INVALID_CHUNK_INDEX"
	TCPErrChunkNotFound      = "CHUNK_NOT_FOUND"
	TCPErrChunkReadError     = "CHUNK_READ_ERROR"
	TCPErrFileNotFound       = "FILE_NOT_FOUND"
	TCPErrUnknownCommand     = "UNKNOWN_COMMAND"
	TCPErrEmptyRequest       = "EMPTY_REQUEST"
	TCPErrProcessingError    = "PROCESSING_ERROR"
	tcpResultTagSuccess      = "SUCCESS"
	tcpResultTagError        = "ERROR"
)

// TCPRequest is one parsed request line.
type TCPRequest struct {
	Command string
	Args    []string
}

// ParseTCPRequestLine parses a single request line (without its trailing
// "\n"), per spec §4.5/§6.
func ParseTCPRequestLine(line string) (*TCPRequest, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf(TCPErrEmptyRequest)
	}
	fields := strings.Fields(line)
	return &TCPRequest{Command: fields[0], Args: fields[1:]}, nil
}

// --- Encoding: server -> client ---

// EncodeGetChunkSuccess encodes the SUCCESS response for GET_CHUNK.
func EncodeGetChunkSuccess(file string, index uint32, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagSuccess); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, file); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, index); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileListEntry is one file's advertised chunk indices for LIST_FILES.
type FileListEntry struct {
	FileName string
	Indices  []uint32
}

// EncodeListFilesSuccess encodes the SUCCESS response for LIST_FILES.
func EncodeListFilesSuccess(entries []FileListEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagSuccess); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := WriteString(&buf, e.FileName); err != nil {
			return nil, err
		}
		if err := WriteUint32(&buf, uint32(len(e.Indices))); err != nil {
			return nil, err
		}
		for _, idx := range e.Indices {
			if err := WriteUint32(&buf, idx); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// EncodeFileInfoSuccess encodes the SUCCESS response for FILE_INFO.
func EncodeFileInfoSuccess(file string, size uint64, total uint32, hash string, createdAt uint64, complete bool, indices []uint32) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagSuccess); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, file); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, size); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, total); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, hash); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, createdAt); err != nil {
		return nil, err
	}
	completeByte := uint8(0)
	if complete {
		completeByte = 1
	}
	if err := WriteUint8(&buf, completeByte); err != nil {
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
	return buf.Bytes(), nil
}

// EncodePingSuccess encodes the SUCCESS response for PING.
func EncodePingSuccess(nowMs uint64, peerName string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagSuccess); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, "PONG"); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, nowMs); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, peerName); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeStatsSuccess encodes the SUCCESS response for STATS.
func EncodeStatsSuccess(peerName string, files, chunks uint32, bytesServed uint64, activeConns, totalReqs, transfers uint32, nowMs uint64) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagSuccess); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, peerName); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, files); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, chunks); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, bytesServed); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, activeConns); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, totalReqs); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, transfers); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, nowMs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTCPError encodes the ERROR response shared by every TCP command.
func EncodeTCPError(code, message string, nowMs uint64) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, tcpResultTagError); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, code); err != nil {
		return nil, err
	}
	if err := WriteString(&buf, message); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, nowMs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- Decoding: client <- server ---

// TCPError is the decoded ERROR response, usable as a Go error.
type TCPError struct {
	Code        string
	Message     string
	TimestampMs uint64
}

func (e *TCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// readResultTag reads the leading "SUCCESS"/"ERROR" tag and, if it's an
// error, fully decodes and returns it as a *TCPError.
func readResultTag(r io.Reader) (success bool, tcpErr *TCPError, err error) {
	tag, err := ReadString(r)
	if err != nil {
		return false, nil, err
	}
	switch tag {
	case tcpResultTagSuccess:
		return true, nil, nil
	case tcpResultTagError:
		code, err := ReadString(r)
		if err != nil {
			return false, nil, err
		}
		msg, err := ReadString(r)
		if err != nil {
			return false, nil, err
		}
		ms, err := ReadUint64(r)
		if err != nil {
			return false, nil, err
		}
		return false, &TCPError{Code: code, Message: msg, TimestampMs: ms}, nil
	default:
		return false, nil, fmt.Errorf("unrecognized TCP result tag %q", tag)
	}
}

// ChunkResult is the decoded SUCCESS payload for GET_CHUNK.
type ChunkResult struct {
	FileName string
	Index    uint32
	Data     []byte
}

// DecodeGetChunkResponse reads and decodes a GET_CHUNK response.
func DecodeGetChunkResponse(r io.Reader) (*ChunkResult, error) {
	ok, tcpErr, err := readResultTag(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tcpErr
	}
	file, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	index, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return &ChunkResult{FileName: file, Index: index, Data: data}, nil
}

// DecodeListFilesResponse reads and decodes a LIST_FILES response.
func DecodeListFilesResponse(r io.Reader) ([]FileListEntry, error) {
	ok, tcpErr, err := readResultTag(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tcpErr
	}
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	entries := make([]FileListEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		k, err := ReadUint32(r)
		if err != nil {
			return nil, err
		}
		indices := make([]uint32, k)
		for j := uint32(0); j < k; j++ {
			idx, err := ReadUint32(r)
			if err != nil {
				return nil, err
			}
			indices[j] = idx
		}
		entries = append(entries, FileListEntry{FileName: name, Indices: indices})
	}
	return entries, nil
}

// FileInfoResult is the decoded SUCCESS payload for FILE_INFO.
type FileInfoResult struct {
	FileName    string
	Size        uint64
	TotalChunks uint32
	Hash        string
	CreatedAt   uint64
	Complete    bool
	Indices     []uint32
}

// DecodeFileInfoResponse reads and decodes a FILE_INFO response.
func DecodeFileInfoResponse(r io.Reader) (*FileInfoResult, error) {
	ok, tcpErr, err := readResultTag(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tcpErr
	}
	file, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	size, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	total, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	hash, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	createdAt, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	completeByte, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	k, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	indices := make([]uint32, k)
	for i := uint32(0); i < k; i++ {
		idx, err := ReadUint32(r)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
	}
	return &FileInfoResult{
		FileName:    file,
		Size:        size,
		TotalChunks: total,
		Hash:        hash,
		CreatedAt:   createdAt,
		Complete:    completeByte != 0,
		Indices:     indices,
	}, nil
}

// PingResult is the decoded SUCCESS payload for PING.
type PingResult struct {
	TimestampMs uint64
	PeerName    string
}

// DecodePingResponse reads and decodes a PING response.
func DecodePingResponse(r io.Reader) (*PingResult, error) {
	ok, tcpErr, err := readResultTag(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tcpErr
	}
	pong, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %q", pong)
	}
	ms, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	name, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	return &PingResult{TimestampMs: ms, PeerName: name}, nil
}

// StatsResult is the decoded SUCCESS payload for STATS.
type StatsResult struct {
	PeerName      string
	Files         uint32
	Chunks        uint32
	Bytes         uint64
	ActiveConns   uint32
	TotalRequests uint32
	Transfers     uint32
	TimestampMs   uint64
}

// DecodeStatsResponse reads and decodes a STATS response.
func DecodeStatsResponse(r io.Reader) (*StatsResult, error) {
	ok, tcpErr, err := readResultTag(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tcpErr
	}
	name, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	files, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	chunks, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	bytesServed, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	activeConns, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	totalReqs, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	transfers, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	ms, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	return &StatsResult{
		PeerName:      name,
		Files:         files,
		Chunks:        chunks,
		Bytes:         bytesServed,
		ActiveConns:   activeConns,
		TotalRequests: totalReqs,
		Transfers:     transfers,
		TimestampMs:   ms,
	}, nil
}

// FormatChunkIndex formats a chunk index as the decimal text used for it
// in request lines.
func FormatChunkIndex(index uint32) string {
	return strconv.FormatUint(uint64(index), 10)
}
