package protocol

import (
	"sync"
	"time"

	"github.com/go-cnote/cnoted/util"
)

// Connection is the transport-level handle a Peer drives. The peer
// manager's Levin framer is expected to implement it; this package never
// touches a socket directly.
type Connection interface {
	Send(cmd CommandID, flags MessageFlags, payload []byte) error
	RemoteAddr() string
	RemoteIP() [4]byte
	Disconnect()
}

// PendingLiteBlock stashes a NEW_LITE_BLOCK that referenced transactions
// the local pool did not have, until the peer answers with the
// transaction bodies via NEW_TRANSACTIONS following a MISSING_TXS round
// trip.
type PendingLiteBlock struct {
	RawBlock  []byte
	Height    util.Height
	Hop       uint32
	Missing   map[util.Hash]bool
	Collected map[util.Hash][]byte
}

// Peer is the per-connection mutable state the protocol state machine
// reads and updates. One Peer exists per live Connection; all mutation
// happens on the connection's own single goroutine, so the fields
// themselves are unsynchronized -- only the cross-peer bookkeeping in
// Context needs a lock.
type Peer struct {
	Conn Connection

	State State

	NodeData     NodeData
	RemoteHeight util.Height
	RemoteTopID  util.Hash

	SupportsLiteBlocks bool

	// SparseChain is not set or read by this package: HandleRequestChain
	// works from the ids carried in the request itself.
	SparseChain []util.Hash

	// neededObjects is the windowed queue of block ids still to be
	// requested from this peer during Synchronizing, capped at
	// BLOCKS_SYNCHRONIZING_DEFAULT_COUNT in flight at a time.
	neededObjects []util.Hash
	inFlight      map[util.Hash]bool

	Pending *PendingLiteBlock

	rateMu        sync.Mutex
	txWindowStart time.Time
	txWindowCount int

	Banned bool
}

// NewPeer returns a Peer in its initial, pre-handshake state.
func NewPeer(conn Connection) *Peer {
	return &Peer{
		Conn:     conn,
		State:    BeforHandshake,
		inFlight: make(map[util.Hash]bool),
	}
}

func (p *Peer) queueNeeded(ids []util.Hash) {
	p.neededObjects = append(p.neededObjects, ids...)
}

// nextBatch pops up to n ids off the needed-objects queue and marks them
// in flight, for a windowed REQUEST_GET_OBJECTS round.
func (p *Peer) nextBatch(n int) []util.Hash {
	if n > len(p.neededObjects) {
		n = len(p.neededObjects)
	}
	batch := p.neededObjects[:n]
	p.neededObjects = p.neededObjects[n:]
	for _, id := range batch {
		p.inFlight[id] = true
	}
	return batch
}

func (p *Peer) clearInFlight(id util.Hash) {
	delete(p.inFlight, id)
}

func (p *Peer) hasOutstandingWork() bool {
	return len(p.neededObjects) > 0 || len(p.inFlight) > 0
}
