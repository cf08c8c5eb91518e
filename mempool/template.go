package mempool

import (
	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/util"
)

// blockTemplateGuard is the in-progress block template's double-spend
// guard: no two included transactions may share a key image or a
// multisig (amount, outputIndex) pair, grounded on
// TransactionPool.cpp's private BlockTemplate helper class.
type blockTemplateGuard struct {
	keyImages      map[util.KeyImage]bool
	multisigOutputs map[multisigKey]bool
	hashes         []util.Hash
}

func newBlockTemplateGuard() *blockTemplateGuard {
	return &blockTemplateGuard{
		keyImages:       make(map[util.KeyImage]bool),
		multisigOutputs: make(map[multisigKey]bool),
	}
}

func (g *blockTemplateGuard) canAdd(tx *core.Transaction) bool {
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case core.InputKey:
			if g.keyImages[v.KeyImage] {
				return false
			}
		case core.InputMultisig:
			if g.multisigOutputs[multisigKey{v.Amount, v.OutputIndex}] {
				return false
			}
		}
	}
	return true
}

func (g *blockTemplateGuard) add(id util.Hash, tx *core.Transaction) bool {
	if !g.canAdd(tx) {
		return false
	}
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case core.InputKey:
			g.keyImages[v.KeyImage] = true
		case core.InputMultisig:
			g.multisigOutputs[multisigKey{v.Amount, v.OutputIndex}] = true
		}
	}
	g.hashes = append(g.hashes, id)
	return true
}

// FillBlockTemplate assembles the ordered list of transaction hashes a
// miner should include, plus their total size and fee: fusion
// transactions (fee-zero, fitting within fusionTxMaxSize) first, then
// fee-bearing transactions in descending priority order, each admitted
// only if it is currently ready and fits
// the remaining size budget, skipping anything carrying a TTL tag.
func (p *Pool) FillBlockTemplate(medianSize, maxCumulativeSize uint64) (hashes []util.Hash, totalSize uint64, fee util.Amount) {
	p.mu.Lock()
	defer p.mu.Unlock()

	maxTotalSize := (125 * medianSize) / 100
	if maxCumulativeSize < maxTotalSize {
		maxTotalSize = maxCumulativeSize
	}
	if maxTotalSize > coinbaseReserveSize {
		maxTotalSize -= coinbaseReserveSize
	} else {
		maxTotalSize = 0
	}

	guard := newBlockTemplateGuard()

	// Pass 1: fusion transactions, walking the fee index from its
	// lowest-priority (fee == 0) end.
	for i := p.fee.len() - 1; i >= 0; i-- {
		id := p.fee.ids[i]
		e := p.byID[id]
		if e.fee != 0 {
			break
		}
		if e.hasTTL {
			continue
		}
		if totalSize+e.blobSize > fusionTxMaxSize {
			continue
		}
		if !e.isFusion() {
			continue
		}
		if !p.isReadyLocked(e) {
			continue
		}
		if guard.add(id, e.tx) {
			totalSize += e.blobSize
		}
	}

	// Pass 2: every transaction in descending priority order.
	for _, id := range p.fee.ids {
		e := p.byID[id]
		if e.hasTTL {
			continue
		}
		if e.isFusion() && e.fee == 0 {
			continue // already handled in pass 1
		}

		limit := maxTotalSize
		if e.fee == 0 {
			limit = medianSize
		}
		if totalSize+e.blobSize > limit {
			continue
		}
		if !p.isReadyLocked(e) {
			continue
		}
		if guard.add(id, e.tx) {
			totalSize += e.blobSize
			fee += e.fee
		}
	}

	return guard.hashes, totalSize, fee
}
