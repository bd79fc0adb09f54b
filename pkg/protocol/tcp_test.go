package protocol

import (
	"bytes"
	"testing"
)

func TestParseTCPRequestLine(t *testing.T) {
	req, err := ParseTCPRequestLine("GET_CHUNK doc.txt 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Command != TCPGetChunk || len(req.Args) != 2 || req.Args[0] != "doc.txt" || req.Args[1] != "2" {
		t.Fatalf("unexpected parse: %+v", req)
	}
}

func TestParseTCPRequestLineEmpty(t *testing.T) {
	_, err := ParseTCPRequestLine("   ")
	if err == nil {
		t.Fatal("expected EMPTY_REQUEST error")
	}
}

func TestGetChunkRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 403072)
	encoded, err := EncodeGetChunkSuccess("doc.txt", 2, payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	result, err := DecodeGetChunkResponse(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.FileName != "doc.txt" || result.Index != 2 {
		t.Fatalf("unexpected header: %+v", result)
	}
	if !bytes.Equal(result.Data, payload) {
		t.Fatal("payload bytes mismatch")
	}
}

func TestListFilesRoundTrip(t *testing.T) {
	entries := []FileListEntry{
		{FileName: "a.bin", Indices: []uint32{0, 1, 2}},
		{FileName: "b.txt", Indices: nil},
	}
	encoded, err := EncodeListFilesSuccess(entries)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeListFilesResponse(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0].FileName != "a.bin" || len(decoded[0].Indices) != 3 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestFileInfoRoundTrip(t *testing.T) {
	encoded, err := EncodeFileInfoSuccess("doc.txt", 2500000, 3, "deadbeef", 1700000000000, true, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeFileInfoResponse(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Size != 2500000 || decoded.TotalChunks != 3 || decoded.Hash != "deadbeef" || !decoded.Complete {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestPingRoundTrip(t *testing.T) {
	encoded, err := EncodePingSuccess(555, "Peer_10.0.0.1:9001")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodePingResponse(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.TimestampMs != 555 || decoded.PeerName != "Peer_10.0.0.1:9001" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	encoded, err := EncodeStatsSuccess("Peer_10.0.0.1:9001", 3, 30, 1024, 2, 100, 40, 999)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeStatsResponse(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Files != 3 || decoded.Chunks != 30 || decoded.Bytes != 1024 || decoded.ActiveConns != 2 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	encoded, err := EncodeTCPError(TCPErrChunkNotFound, "no such chunk", 42)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_, err = DecodeGetChunkResponse(bytes.NewReader(encoded))
	tcpErr, ok := err.(*TCPError)
	if !ok {
		t.Fatalf("expected *TCPError, got %T (%v)", err, err)
	}
	if tcpErr.Code != TCPErrChunkNotFound || tcpErr.Message != "no such chunk" {
		t.Fatalf("unexpected error: %+v", tcpErr)
	}
}
