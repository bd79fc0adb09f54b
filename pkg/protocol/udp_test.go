package protocol

import "testing"

func TestParseUDPRequestRejectsShortDatagrams(t *testing.T) {
	_, err := ParseUDPRequest([]byte("REGISTER 10.0.0.1"))
	if err == nil {
		t.Fatal("expected error for a 2-token datagram")
	}
}

func TestParseUDPRequestSplitsPayloadOnce(t *testing.T) {
	req, err := ParseUDPRequest([]byte("UPDATE 10.0.0.1 9001 f.bin,0,1,2;;g.txt,0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Command != CmdUpdate || req.IP != "10.0.0.1" || req.Port != "9001" {
		t.Fatalf("unexpected parse: %+v", req)
	}
	if req.Payload != "f.bin,0,1,2;;g.txt,0" {
		t.Fatalf("unexpected payload: %q", req.Payload)
	}
	if req.PeerID() != "Peer_10.0.0.1:9001" {
		t.Fatalf("unexpected peer id: %s", req.PeerID())
	}
}

func TestPeersListRoundTrip(t *testing.T) {
	original := PeersListResponse{
		ServerTimestampMs: 123456789,
		Peers: []PeerRecord{
			{
				PeerID:   "Peer_10.0.0.1:9001",
				LastSeen: 111,
				Files:    ParseFilesInfo("f.bin,0,1,2;;g.txt,0"),
			},
			{
				PeerID:   "Peer_10.0.0.2:9002",
				LastSeen: 222,
				Files:    ParseFilesInfo(""),
			},
		},
	}

	encoded, err := EncodePeersList(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodeUDPResponse(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.PeersList == nil {
		t.Fatal("expected a decoded PEERS_LIST")
	}
	if decoded.PeersList.ServerTimestampMs != original.ServerTimestampMs {
		t.Fatalf("timestamp mismatch: %d vs %d", decoded.PeersList.ServerTimestampMs, original.ServerTimestampMs)
	}
	if len(decoded.PeersList.Peers) != len(original.Peers) {
		t.Fatalf("peer count mismatch: %d vs %d", len(decoded.PeersList.Peers), len(original.Peers))
	}
	got := decoded.PeersList.Peers[0]
	if got.PeerID != original.Peers[0].PeerID || got.LastSeen != original.Peers[0].LastSeen {
		t.Fatalf("peer record mismatch: %+v vs %+v", got, original.Peers[0])
	}
	if idx := got.Files.SortedIndices("f.bin"); len(idx) != 3 {
		t.Fatalf("expected 3 indices for f.bin, got %v", idx)
	}
}

func TestDecodeAckAndError(t *testing.T) {
	ack, err := DecodeUDPResponse(EncodeAck(42))
	if err != nil || ack.Ack == nil || ack.Ack.TimestampMs != 42 {
		t.Fatalf("unexpected ack decode: %+v err=%v", ack, err)
	}

	errResp, err := DecodeUDPResponse(EncodeError(ErrUnknownCommand, 99))
	if err != nil || errResp.Error == nil || errResp.Error.Code != ErrUnknownCommand || errResp.Error.TimestampMs != 99 {
		t.Fatalf("unexpected error decode: %+v err=%v", errResp, err)
	}
}

func TestPeersListNeverContainsRequester(t *testing.T) {
	// This documents the invariant enforced by the tracker directory, not
	// the codec: the codec itself will happily encode any peer set it's
	// handed. Filtering is the tracker's job (see tracker/directory_test.go).
	requester := PeerID("Peer_10.0.0.5:9005")
	resp := PeersListResponse{Peers: []PeerRecord{{PeerID: "Peer_10.0.0.6:9006"}}}
	for _, p := range resp.Peers {
		if p.PeerID == requester {
			t.Fatal("test fixture is wrong: requester should not appear")
		}
	}
}
