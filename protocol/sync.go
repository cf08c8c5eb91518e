package protocol

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

// buildSparseChain returns a descending list of block ids sampled at
// exponentially increasing offsets from the local tip back to genesis:
// tip, tip-1, tip-3, tip-7, tip-15, ..., ending at height 0. A peer
// receiving this list can locate the highest id it also has -- the
// common ancestor -- without either side exchanging its entire chain.
func (c *Context) buildSparseChain() ([]util.Hash, error) {
	top := c.chain.TopHeight()
	ids := make([]util.Hash, 0, 32)

	step := util.Height(1)
	h := top
	for {
		hash, err := c.chain.HashAtHeight(h)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol: reading block id at height %d", h)
		}
		ids = append(ids, hash)
		if h == 0 {
			break
		}
		if h < step {
			h = 0
			continue
		}
		h -= step
		step *= 2
	}
	return ids, nil
}

// StartSync begins (or restarts) the synchronizing sequence for p:
// sending our sparse chain so the peer can locate the common ancestor
// and respond with RESPONSE_CHAIN_ENTRY.
func (c *Context) StartSync(p *Peer) (*RequestChain, error) {
	ids, err := c.buildSparseChain()
	if err != nil {
		return nil, err
	}
	p.State = Synchronizing
	return &RequestChain{BlockIDs: ids}, nil
}

// HandleRequestChain answers REQUEST_CHAIN: it finds the highest id in
// req.BlockIDs that is also on the local chain (the common ancestor)
// and returns every id from just after it up to the local tip.
func (c *Context) HandleRequestChain(req *RequestChain) (*ResponseChainEntry, error) {
	if len(req.BlockIDs) == 0 {
		return nil, errors.New("protocol: REQUEST_CHAIN carried no block ids")
	}

	var ancestorHeight util.Height
	found := false
	for _, id := range req.BlockIDs {
		height, err := c.chain.HeightForHash(id)
		if err != nil {
			continue
		}
		ancestorHeight = height
		found = true
		break
	}
	if !found {
		return nil, errors.New("protocol: no common ancestor found in peer's sparse chain")
	}

	top := c.chain.TopHeight()
	const maxEntries = 10000
	ids := make([]util.Hash, 0, maxEntries)
	for h := ancestorHeight + 1; h <= top && len(ids) < maxEntries; h++ {
		hash, err := c.chain.HashAtHeight(h)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol: reading block id at height %d", h)
		}
		ids = append(ids, hash)
	}

	return &ResponseChainEntry{
		StartHeight: ancestorHeight + 1,
		TotalHeight: top,
		BlockIDs:    ids,
	}, nil
}

// HandleResponseChainEntry consumes a RESPONSE_CHAIN_ENTRY, queuing the
// offered ids as the peer's needed-objects window.
func (c *Context) HandleResponseChainEntry(p *Peer, resp *ResponseChainEntry) error {
	if p.State != Synchronizing {
		return errors.Errorf("protocol: RESPONSE_CHAIN_ENTRY received in state %s", p.State)
	}
	p.queueNeeded(resp.BlockIDs)
	if len(resp.BlockIDs) == 0 {
		p.State = PoolSyncRequired
		return nil
	}
	return nil
}

// NextObjectRequest returns the next windowed REQUEST_GET_OBJECTS batch
// for p, bounded by BlocksSynchronizingBatchCount, or nil if there is
// nothing left to request.
func (c *Context) NextObjectRequest(p *Peer) *RequestGetObjects {
	if !p.hasOutstandingWork() {
		return nil
	}
	batch := p.nextBatch(c.cfg.BlocksSynchronizingBatchCount)
	if len(batch) == 0 {
		return nil
	}
	return &RequestGetObjects{Blocks: batch}
}

// HandleResponseGetObjects applies a RESPONSE_GET_OBJECTS answer during
// sync: each returned block is submitted to the chain in order, missed
// ids are removed from the in-flight set and are not queued again, and
// the peer's reported height is refreshed from the
// trailing currentBlockchainHeight field.
func (c *Context) HandleResponseGetObjects(p *Peer, resp *ResponseGetObjects) error {
	if p.State != Synchronizing && p.State != Idle {
		return errors.Errorf("protocol: RESPONSE_GET_OBJECTS received in state %s", p.State)
	}

	for _, entry := range resp.Blocks {
		block, err := core.DecodeBlock(entry.Block)
		if err != nil {
			return errors.Wrap(err, "protocol: decoding synchronized block")
		}
		for _, raw := range entry.Transactions {
			tx, err := core.DecodeTransaction(raw)
			if err != nil {
				return errors.Wrap(err, "protocol: decoding transaction attached to synchronized block")
			}
			if added, _, failed := c.pool.AddTx(tx, true); failed && !added {
				log.Debugf("synchronized-block transaction %s rejected by pool: keeping it for block submission anyway", core.Hash(tx))
			}
		}
		p.clearInFlight(block.Hash())
		if err := c.sub.SubmitBlock(entry.Block); err != nil {
			return errors.Wrap(err, "protocol: submitting synchronized block")
		}
	}
	for _, id := range resp.MissedIDs {
		p.clearInFlight(id)
	}

	p.RemoteHeight = resp.CurrentBlockchainHeight
	c.updateObservedHeight(p.RemoteHeight)

	if !p.hasOutstandingWork() {
		if c.chain.TopHeight() < p.RemoteHeight {
			// More history remains behind what we already queued; ask again.
			p.State = Synchronizing
		} else {
			p.State = PoolSyncRequired
		}
	}
	return nil
}
