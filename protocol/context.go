package protocol

import (
	"sync"
	"time"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

// ChainReader is the read-only subset of the blockchain cache the
// protocol handler needs to answer sync requests and judge how far a
// peer lags.
type ChainReader interface {
	TopHeight() util.Height
	TopHash() util.Hash
	HashAtHeight(height util.Height) (util.Hash, error)
	HeightForHash(hash util.Hash) (util.Height, error)
	RawBlock(hash util.Hash) ([]byte, bool, error)
}

// BlockSubmitter accepts a block in the raw encoding it was relayed in.
// The implementation decodes, validates and commits it; this package
// runs no validation of its own before calling SubmitBlock.
type BlockSubmitter interface {
	SubmitBlock(rawBlock []byte) error
}

// TxRelay is the subset of the transaction pool the protocol handler
// drives: accepting relayed transactions, answering pool-diff requests,
// and looking raw transactions back up for REQUEST_GET_OBJECTS.
type TxRelay interface {
	AddTx(tx *core.Transaction, keptByBlock bool) (added, shouldRelay, failed bool)
	HaveTx(id util.Hash) bool
	GetDifference(knownIDs []util.Hash) (newIDs, deletedIDs []util.Hash)
	RawTx(id util.Hash) ([]byte, bool)
}

// Config bundles the fixed per-network constants the protocol state
// machine needs.
type Config struct {
	NetworkID                     uint64
	NodeVersion                   uint32
	MyPort                        uint32
	BlocksSynchronizingBatchCount int
	TxRelayThreshold              int
	TxRelayThresholdInterval      time.Duration
}

// DefaultConfig mirrors the reference implementation's
// P2P_DEFAULT_CONNECTIONS_COUNT-adjacent sync/relay constants.
func DefaultConfig() Config {
	return Config{
		BlocksSynchronizingBatchCount: 128,
		TxRelayThreshold:              500,
		TxRelayThresholdInterval:      5 * time.Second,
	}
}

// Context is the state shared across every peer connection handled by
// this node: the chain and pool it serves, the peer registry, the
// observed-height tracker, and the ban set. It plays the role the
// teacher's flowcontext.FlowContext plays for gRPC flows, generalized
// from a DAG's block-added callback to a linear chain's tip-height
// callback.
type Context struct {
	cfg Config

	chain ChainReader
	sub   BlockSubmitter
	pool  TxRelay

	peersMu sync.RWMutex
	peers   map[string]*Peer

	banMu sync.Mutex
	bans  map[[4]byte]time.Time

	heightMu       sync.Mutex
	observedHeight util.Height
	onHeightChange func(util.Height)

	ownPeerID uint64
}

// NewContext builds a Context ready to drive the protocol state machine
// for a set of live connections.
func NewContext(cfg Config, chain ChainReader, sub BlockSubmitter, pool TxRelay, ownPeerID uint64) *Context {
	return &Context{
		cfg:       cfg,
		chain:     chain,
		sub:       sub,
		pool:      pool,
		peers:     make(map[string]*Peer),
		bans:      make(map[[4]byte]time.Time),
		ownPeerID: ownPeerID,
	}
}

// SetOnObservedHeightChanged registers the callback invoked whenever the
// maximum height reported by any connected peer increases, mirroring
// lastKnownBlockHeightUpdated in the reference implementation.
func (c *Context) SetOnObservedHeightChanged(fn func(util.Height)) {
	c.heightMu.Lock()
	defer c.heightMu.Unlock()
	c.onHeightChange = fn
}

// ObservedHeight is the highest height reported by a connected peer.
// When the peer holding that maximum disconnects, OnConnectionClosed
// recomputes it over the peers that remain.
func (c *Context) ObservedHeight() util.Height {
	c.heightMu.Lock()
	defer c.heightMu.Unlock()
	return c.observedHeight
}

func (c *Context) updateObservedHeight(h util.Height) {
	c.heightMu.Lock()
	changed := h > c.observedHeight
	if changed {
		c.observedHeight = h
	}
	cb := c.onHeightChange
	c.heightMu.Unlock()
	if changed && cb != nil {
		cb(h)
	}
}

func (c *Context) addPeer(p *Peer) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	c.peers[p.Conn.RemoteAddr()] = p
}

func (c *Context) removePeer(p *Peer) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	delete(c.peers, p.Conn.RemoteAddr())
}

// IsBanned reports whether ip is currently under a ban.
func (c *Context) IsBanned(ip [4]byte) bool {
	c.banMu.Lock()
	defer c.banMu.Unlock()
	until, ok := c.bans[ip]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.bans, ip)
		return false
	}
	return true
}

// Ban marks ip as banned for the given duration.
func (c *Context) Ban(ip [4]byte, d time.Duration) {
	c.banMu.Lock()
	defer c.banMu.Unlock()
	c.bans[ip] = time.Now().Add(d)
}

func (c *Context) shutdown(p *Peer, reason error) {
	p.State = Shutdown
	c.removePeer(p)
	p.Conn.Disconnect()
	log.Warnf("peer %s shut down: %v", p.Conn.RemoteAddr(), reason)
}

// Shutdown tears p down for reason: any protocol deserialization
// failure, out-of-order message, or invariant violation decays to this
// per §7's error taxonomy. The peer manager calls this once Dispatch
// reports an error instead of driving the connection any further; a
// framing error in the peer package only closes the connection.
func (c *Context) Shutdown(p *Peer, reason error) {
	c.shutdown(p, reason)
}

// CheckConnectionAllowed is consulted by the peer manager's transport
// layer at onConnectionOpened, before a Peer is even constructed: a
// banned IP is refused before it can occupy a connection slot.
func (c *Context) CheckConnectionAllowed(ip [4]byte) bool {
	return !c.IsBanned(ip)
}

// OnConnectionClosed unregisters p and, if its reported height was the
// one driving observedHeight, recomputes the maximum over the peers
// that remain.
func (c *Context) OnConnectionClosed(p *Peer) {
	c.removePeer(p)

	c.heightMu.Lock()
	needsRecompute := p.RemoteHeight != 0 && p.RemoteHeight >= c.observedHeight
	c.heightMu.Unlock()
	if !needsRecompute {
		return
	}

	c.peersMu.RLock()
	var max util.Height
	for _, other := range c.peers {
		if other.RemoteHeight > max {
			max = other.RemoteHeight
		}
	}
	c.peersMu.RUnlock()

	c.heightMu.Lock()
	changed := max != c.observedHeight
	c.observedHeight = max
	cb := c.onHeightChange
	c.heightMu.Unlock()
	if changed && cb != nil {
		cb(max)
	}
}
