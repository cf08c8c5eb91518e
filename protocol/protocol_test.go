package protocol

import (
	"testing"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

type fakeConn struct {
	addr string
	ip   [4]byte
	sent []sentMessage
}

type sentMessage struct {
	cmd     CommandID
	flags   MessageFlags
	payload []byte
}

func (f *fakeConn) Send(cmd CommandID, flags MessageFlags, payload []byte) error {
	f.sent = append(f.sent, sentMessage{cmd, flags, payload})
	return nil
}
func (f *fakeConn) RemoteAddr() string   { return f.addr }
func (f *fakeConn) RemoteIP() [4]byte    { return f.ip }
func (f *fakeConn) Disconnect()          {}

type fakeChain struct {
	height util.Height
	top    util.Hash
	hashes map[util.Height]util.Hash
}

func newFakeChain(height util.Height) *fakeChain {
	c := &fakeChain{height: height, hashes: make(map[util.Height]util.Hash)}
	for h := util.Height(0); h <= height; h++ {
		c.hashes[h] = util.Hash{byte(h), byte(h >> 8)}
	}
	c.top = c.hashes[height]
	return c
}

func (f *fakeChain) TopHeight() util.Height { return f.height }
func (f *fakeChain) TopHash() util.Hash     { return f.top }
func (f *fakeChain) HashAtHeight(h util.Height) (util.Hash, error) {
	hash, ok := f.hashes[h]
	if !ok {
		return util.Hash{}, errNotFound
	}
	return hash, nil
}
func (f *fakeChain) HeightForHash(hash util.Hash) (util.Height, error) {
	for h, v := range f.hashes {
		if v == hash {
			return h, nil
		}
	}
	return 0, errNotFound
}
func (f *fakeChain) RawBlock(hash util.Hash) ([]byte, bool, error) { return nil, false, nil }

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "not found" }

type fakeSubmitter struct {
	submitted [][]byte
}

func (s *fakeSubmitter) SubmitBlock(raw []byte) error {
	s.submitted = append(s.submitted, raw)
	return nil
}

type fakePool struct {
	have map[util.Hash]bool
	raw  map[util.Hash][]byte
}

func newFakePool() *fakePool {
	return &fakePool{have: make(map[util.Hash]bool), raw: make(map[util.Hash][]byte)}
}

func (p *fakePool) AddTx(tx *core.Transaction, keptByBlock bool) (bool, bool, bool) {
	id := core.Hash(tx)
	p.have[id] = true
	return true, true, false
}
func (p *fakePool) HaveTx(id util.Hash) bool { return p.have[id] }
func (p *fakePool) GetDifference(known []util.Hash) (newIDs, deletedIDs []util.Hash) {
	knownSet := make(map[util.Hash]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}
	for id := range p.have {
		if !knownSet[id] {
			newIDs = append(newIDs, id)
		}
	}
	return newIDs, nil
}
func (p *fakePool) RawTx(id util.Hash) ([]byte, bool) {
	raw, ok := p.raw[id]
	return raw, ok
}

func TestCommandIDStringRoundTrip(t *testing.T) {
	for id, name := range commandNames {
		if id.String() != name {
			t.Fatalf("CommandID(%d).String() = %q, want %q", id, id.String(), name)
		}
	}
	if (CommandID(9999)).String() != "UNKNOWN_COMMAND" {
		t.Fatalf("expected unknown command id to stringify to UNKNOWN_COMMAND")
	}
}

func TestHandshakeRequestEncodeDecodeRoundTrip(t *testing.T) {
	req := &HandshakeRequest{
		Node: NodeData{Version: 1, NetworkID: 42, PeerID: 7, MyPort: 19000, LocalTime: 100, NodeVersion: 3},
		Sync: CoreSyncData{CurrentHeight: 500, TopID: util.Hash{1, 2, 3}},
	}
	decoded, err := DecodeHandshakeRequest(EncodeHandshakeRequest(req))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *req {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, req)
	}
}

func TestHandshakeResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := &HandshakeResponse{
		Node:     NodeData{Version: 1, NetworkID: 42, PeerID: 9, MyPort: 19000, LocalTime: 100, NodeVersion: 3},
		Sync:     CoreSyncData{CurrentHeight: 12, TopID: util.Hash{9}},
		Peerlist: []PeerlistEntry{{IP: [4]byte{127, 0, 0, 1}, Port: 19000, LastSeen: 55}},
	}
	decoded, err := DecodeHandshakeResponse(EncodeHandshakeResponse(resp))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Node != resp.Node || decoded.Sync != resp.Sync || len(decoded.Peerlist) != 1 || decoded.Peerlist[0] != resp.Peerlist[0] {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, resp)
	}
}

func TestHandshakeRejectsWrongNetwork(t *testing.T) {
	chain := newFakeChain(0)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 1)
	peer := NewPeer(&fakeConn{addr: "peer1"})

	_, err := ctx.HandleHandshakeRequest(peer, &HandshakeRequest{
		Node: NodeData{NetworkID: 2, PeerID: 2},
		Sync: CoreSyncData{},
	})
	if err == nil {
		t.Fatalf("expected an error for mismatched network id")
	}
}

func TestHandshakeEntersSynchronizingWhenPeerIsAhead(t *testing.T) {
	chain := newFakeChain(10)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 1)
	peer := NewPeer(&fakeConn{addr: "peer1"})

	_, err := ctx.HandleHandshakeRequest(peer, &HandshakeRequest{
		Node: NodeData{NetworkID: 1, PeerID: 2},
		Sync: CoreSyncData{CurrentHeight: 50, TopID: util.Hash{1}},
	})
	if err != nil {
		t.Fatalf("HandleHandshakeRequest: %v", err)
	}
	if peer.State != Synchronizing {
		t.Fatalf("expected Synchronizing, got %s", peer.State)
	}
	if ctx.ObservedHeight() != 50 {
		t.Fatalf("expected observed height 50, got %d", ctx.ObservedHeight())
	}
}

func TestHandshakeEntersNormalWhenLocalIsCaughtUp(t *testing.T) {
	chain := newFakeChain(100)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 1)
	peer := NewPeer(&fakeConn{addr: "peer1"})

	_, err := ctx.HandleHandshakeRequest(peer, &HandshakeRequest{
		Node: NodeData{NetworkID: 1, PeerID: 2},
		Sync: CoreSyncData{CurrentHeight: 10, TopID: util.Hash{1}},
	})
	if err != nil {
		t.Fatalf("HandleHandshakeRequest: %v", err)
	}
	if peer.State != Normal {
		t.Fatalf("expected Normal, got %s", peer.State)
	}
}

func TestSelfConnectionRejected(t *testing.T) {
	chain := newFakeChain(0)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 77)
	peer := NewPeer(&fakeConn{addr: "peer1"})

	_, err := ctx.HandleHandshakeRequest(peer, &HandshakeRequest{
		Node: NodeData{NetworkID: 1, PeerID: 77},
		Sync: CoreSyncData{},
	})
	if err != ErrSelfConnection {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
}

func TestRequestChainFindsCommonAncestor(t *testing.T) {
	chain := newFakeChain(20)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 1)

	req := &RequestChain{BlockIDs: []util.Hash{{99}, chain.hashes[10], chain.hashes[5]}}
	resp, err := ctx.HandleRequestChain(req)
	if err != nil {
		t.Fatalf("HandleRequestChain: %v", err)
	}
	if resp.StartHeight != 11 {
		t.Fatalf("expected start height 11, got %d", resp.StartHeight)
	}
	if resp.TotalHeight != 20 {
		t.Fatalf("expected total height 20, got %d", resp.TotalHeight)
	}
	if len(resp.BlockIDs) != 10 {
		t.Fatalf("expected 10 block ids (heights 11..20), got %d", len(resp.BlockIDs))
	}
}

func TestRequestChainFailsWithoutCommonAncestor(t *testing.T) {
	chain := newFakeChain(5)
	ctx := NewContext(Config{NetworkID: 1}, chain, &fakeSubmitter{}, newFakePool(), 1)

	_, err := ctx.HandleRequestChain(&RequestChain{BlockIDs: []util.Hash{{200}, {201}}})
	if err == nil {
		t.Fatalf("expected an error when no id in the request chain matches the local chain")
	}
}

func TestRateLimitBlocksExcessRelay(t *testing.T) {
	cfg := Config{TxRelayThreshold: 2, TxRelayThresholdInterval: 1000}
	ctx := NewContext(cfg, newFakeChain(0), &fakeSubmitter{}, newFakePool(), 1)
	peer := NewPeer(&fakeConn{addr: "peer1"})

	if !ctx.allowTx(peer, 2) {
		t.Fatalf("expected the first batch at the threshold to be allowed")
	}
	if ctx.allowTx(peer, 1) {
		t.Fatalf("expected a batch exceeding the threshold to be rejected")
	}
}
