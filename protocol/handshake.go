package protocol

import (
	"time"

	"github.com/pkg/errors"
)

// ErrSelfConnection is returned when a peer's advertised peer id matches
// our own, meaning the connection is a loopback through our own
// listener (or a NAT hairpin) and should be dropped without counting
// against either peer list.
var ErrSelfConnection = errors.New("protocol: peer advertised our own peer id")

func (c *Context) localNodeData() NodeData {
	return NodeData{
		Version:     1,
		NetworkID:   c.cfg.NetworkID,
		PeerID:      c.ownPeerID,
		MyPort:      c.cfg.MyPort,
		LocalTime:   uint64(time.Now().Unix()),
		NodeVersion: c.cfg.NodeVersion,
	}
}

func (c *Context) localSyncData() CoreSyncData {
	return CoreSyncData{CurrentHeight: c.chain.TopHeight(), TopID: c.chain.TopHash()}
}

// BuildHandshakeRequest constructs the outbound HANDSHAKE request an
// outgoing connection sends immediately after the transport connects,
// before any Peer has been registered with the Context.
func (c *Context) BuildHandshakeRequest() *HandshakeRequest {
	return &HandshakeRequest{Node: c.localNodeData(), Sync: c.localSyncData()}
}

// HandleHandshakeRequest processes an inbound HANDSHAKE request on a
// freshly accepted connection and returns the response to send back.
// It and HandleHandshakeResponse are the only entry points that move a
// Peer out of BeforHandshake.
func (c *Context) HandleHandshakeRequest(p *Peer, req *HandshakeRequest) (*HandshakeResponse, error) {
	if p.State != BeforHandshake {
		return nil, errors.Errorf("protocol: HANDSHAKE received in state %s", p.State)
	}
	if req.Node.NetworkID != c.cfg.NetworkID {
		return nil, errors.Errorf("protocol: peer network id %d does not match ours", req.Node.NetworkID)
	}
	if req.Node.PeerID == c.ownPeerID {
		return nil, ErrSelfConnection
	}

	p.NodeData = req.Node
	p.RemoteHeight = req.Sync.CurrentHeight
	p.RemoteTopID = req.Sync.TopID
	c.updateObservedHeight(p.RemoteHeight)
	c.enterPostHandshakeState(p)

	return &HandshakeResponse{
		Node: c.localNodeData(),
		Sync: c.localSyncData(),
	}, nil
}

// HandleHandshakeResponse processes the HANDSHAKE response an outbound
// connection receives after sending its own request.
func (c *Context) HandleHandshakeResponse(p *Peer, resp *HandshakeResponse) error {
	if p.State != BeforHandshake {
		return errors.Errorf("protocol: HANDSHAKE response received in state %s", p.State)
	}
	if resp.Node.NetworkID != c.cfg.NetworkID {
		return errors.Errorf("protocol: peer network id %d does not match ours", resp.Node.NetworkID)
	}
	if resp.Node.PeerID == c.ownPeerID {
		return ErrSelfConnection
	}

	p.NodeData = resp.Node
	p.RemoteHeight = resp.Sync.CurrentHeight
	p.RemoteTopID = resp.Sync.TopID
	c.updateObservedHeight(p.RemoteHeight)
	c.enterPostHandshakeState(p)
	return nil
}

// enterPostHandshakeState moves a peer out of BeforHandshake into
// Synchronizing or Normal depending on whether its reported height
// exceeds the local chain.
func (c *Context) enterPostHandshakeState(p *Peer) {
	if p.RemoteHeight > c.chain.TopHeight() {
		p.State = Synchronizing
	} else {
		p.State = Normal
	}
	c.addPeer(p)
}

// HandleTimedSync processes a periodic TIMED_SYNC exchange: it refreshes
// the peer's reported height and top id and re-enters Synchronizing
// if the peer has pulled ahead again. The peer list the message carries
// is not used.
func (c *Context) HandleTimedSync(p *Peer, t *TimedSync) error {
	if p.State == BeforHandshake || p.State == Shutdown {
		return errors.Errorf("protocol: TIMED_SYNC received in state %s", p.State)
	}
	p.RemoteHeight = t.Sync.CurrentHeight
	p.RemoteTopID = t.Sync.TopID
	c.updateObservedHeight(p.RemoteHeight)
	if p.RemoteHeight > c.chain.TopHeight() && p.State == Normal {
		p.State = SyncRequired
	}
	return nil
}

// BuildTimedSync constructs the outgoing TIMED_SYNC payload for p.
func (c *Context) BuildTimedSync(peerlist []PeerlistEntry) *TimedSync {
	return &TimedSync{
		Sync:      c.localSyncData(),
		Peerlist:  peerlist,
		LocalTime: uint64(time.Now().Unix()),
	}
}

// HandlePing answers a PING request; ping carries no payload to
// validate beyond its flag, so failure here is limited to state checks.
func (c *Context) HandlePing(p *Peer) (*PingResponse, error) {
	if p.State == BeforHandshake || p.State == Shutdown {
		return nil, errors.Errorf("protocol: PING received in state %s", p.State)
	}
	return &PingResponse{Status: "OK", PeerID: c.ownPeerID}, nil
}
