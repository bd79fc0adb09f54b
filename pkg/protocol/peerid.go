package protocol

import "strings"

// PeerID is a stable identifier of the form Peer_<ipv4>:<port>. It carries
// both the logical identity and a reachable network address.
type PeerID string

// CanonicalPeerID assembles the canonical PeerID "Peer_ip:port" from an IP
// and port token. It always adds the prefix; use Canonicalize for a
// combined string that may already carry it.
func CanonicalPeerID(ip, port string) PeerID {
	return PeerID("Peer_" + ip + ":" + port)
}

// Canonicalize promotes a bare "ip:port" string to "Peer_ip:port". Already
// canonical ids are returned unchanged.
func Canonicalize(raw string) PeerID {
	if strings.HasPrefix(raw, "Peer_") {
		return PeerID(raw)
	}
	return PeerID("Peer_" + raw)
}

// Addr strips the "Peer_" prefix, returning the bare "ip:port" suitable for
// net.Dial.
func (p PeerID) Addr() string {
	return strings.TrimPrefix(string(p), "Peer_")
}

// String implements fmt.Stringer.
func (p PeerID) String() string {
	return string(p)
}
