package protocol

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

// maxRelayHops caps how many times a relayed block may be re-broadcast
// peer-to-peer before a node drops it instead of forwarding, bounding
// relay storms from a malformed hop counter.
const maxRelayHops = 8

// HandleNewBlock processes an inbound NEW_BLOCK: submits the block and
// its referenced transactions, and reports whether (and at what hop
// count) the block should be re-relayed to this node's other peers.
func (c *Context) HandleNewBlock(p *Peer, n *NewBlock) (relay bool, next *NewBlock, err error) {
	if p.State != Normal {
		return false, nil, errors.Errorf("protocol: NEW_BLOCK received in state %s", p.State)
	}
	if n.Hop >= maxRelayHops {
		return false, nil, nil
	}

	for _, raw := range n.Transactions {
		tx, err := core.DecodeTransaction(raw)
		if err != nil {
			return false, nil, errors.Wrap(err, "protocol: decoding transaction attached to NEW_BLOCK")
		}
		if added, _, failed := c.pool.AddTx(tx, true); failed && !added {
			log.Debugf("NEW_BLOCK transaction %s rejected by pool: keeping it for block submission anyway", core.Hash(tx))
		}
	}

	if err := c.sub.SubmitBlock(n.RawBlock); err != nil {
		return false, nil, errors.Wrap(err, "protocol: submitting relayed block")
	}

	block, err := core.DecodeBlock(n.RawBlock)
	if err != nil {
		return false, nil, errors.Wrap(err, "protocol: decoding relayed block")
	}
	p.RemoteTopID = block.Hash()
	p.RemoteHeight = n.CurrentBlockchainHeight
	c.updateObservedHeight(p.RemoteHeight)

	return true, &NewBlock{
		RawBlock:                n.RawBlock,
		Transactions:            n.Transactions,
		CurrentBlockchainHeight: n.CurrentBlockchainHeight,
		Hop:                     n.Hop + 1,
	}, nil
}

// HandleNewLiteBlock processes an inbound NEW_LITE_BLOCK. If every
// transaction the block references is already in the local pool (the
// chain is not consulted), it is equivalent to a full NEW_BLOCK and is submitted
// immediately; otherwise the block is stashed as p.Pending and the
// caller is told which transaction ids to request via MISSING_TXS.
func (c *Context) HandleNewLiteBlock(p *Peer, n *NewLiteBlock) (missing *MissingTxs, relay bool, err error) {
	if p.State != Normal {
		return nil, false, errors.Errorf("protocol: NEW_LITE_BLOCK received in state %s", p.State)
	}
	if n.Hop >= maxRelayHops {
		return nil, false, nil
	}

	block, err := core.DecodeBlock(n.RawBlock)
	if err != nil {
		return nil, false, errors.Wrap(err, "protocol: decoding lite block")
	}

	missingIDs := make([]util.Hash, 0)
	for _, txID := range block.TransactionHashes {
		if !c.pool.HaveTx(txID) {
			missingIDs = append(missingIDs, txID)
		}
	}

	if len(missingIDs) == 0 {
		return nil, true, c.sub.SubmitBlock(n.RawBlock)
	}

	pending := &PendingLiteBlock{
		RawBlock:  n.RawBlock,
		Height:    n.CurrentBlockchainHeight,
		Hop:       n.Hop,
		Missing:   make(map[util.Hash]bool, len(missingIDs)),
		Collected: make(map[util.Hash][]byte, len(missingIDs)),
	}
	for _, id := range missingIDs {
		pending.Missing[id] = true
	}
	p.Pending = pending

	return &MissingTxs{
		CurrentBlockchainHeight: n.CurrentBlockchainHeight,
		BlockHash:               block.Hash(),
		TxIDs:                   missingIDs,
	}, false, nil
}

// HandleMissingTxs answers a peer's MISSING_TXS by returning the raw
// bytes of every transaction it asked for that is in this node's pool;
// transactions already committed to the chain are not returned.
func (c *Context) HandleMissingTxs(m *MissingTxs) (*NewTransactions, error) {
	raws := make([][]byte, 0, len(m.TxIDs))
	for _, id := range m.TxIDs {
		if raw, ok := c.pool.RawTx(id); ok {
			raws = append(raws, raw)
		}
	}
	return &NewTransactions{Transactions: raws}, nil
}

// CompletePendingLiteBlock folds a NEW_TRANSACTIONS answer into p's
// pending lite block; once every missing id has been collected the
// block is submitted and the pending stash is cleared.
func (c *Context) CompletePendingLiteBlock(p *Peer, txs [][]byte) (completed bool, err error) {
	if p.Pending == nil {
		return false, nil
	}
	for _, raw := range txs {
		tx, err := core.DecodeTransaction(raw)
		if err != nil {
			return false, errors.Wrap(err, "protocol: decoding transaction completing a pending lite block")
		}
		id := core.Hash(tx)
		if p.Pending.Missing[id] {
			delete(p.Pending.Missing, id)
			p.Pending.Collected[id] = raw
			if added, _, failed := c.pool.AddTx(tx, true); failed && !added {
				log.Debugf("pending-lite-block transaction %s rejected by pool", id)
			}
		}
	}

	if len(p.Pending.Missing) > 0 {
		return false, nil
	}

	rawBlock := p.Pending.RawBlock
	p.Pending = nil
	return true, c.sub.SubmitBlock(rawBlock)
}
