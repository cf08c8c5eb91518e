package protocol

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
)

// HandleNewTransactions processes an inbound NEW_TRANSACTIONS relay: if
// the peer has a pending lite block awaiting these exact ids they are
// routed there first; every transaction in the batch, those routed to
// the pending block included, is then offered to the pool as a fresh
// relay and the subset that should be re-broadcast is returned.
func (c *Context) HandleNewTransactions(p *Peer, n *NewTransactions) (toRelay [][]byte, err error) {
	if p.State == BeforHandshake || p.State == Shutdown {
		return nil, errors.Errorf("protocol: NEW_TRANSACTIONS received in state %s", p.State)
	}
	if !c.allowTx(p, len(n.Transactions)) {
		log.Warnf("peer %s exceeded the transaction relay rate limit, dropping batch", p.Conn.RemoteAddr())
		return nil, nil
	}

	if p.Pending != nil {
		if _, err := c.CompletePendingLiteBlock(p, n.Transactions); err != nil {
			return nil, err
		}
	}

	relayed := make([][]byte, 0, len(n.Transactions))
	for _, raw := range n.Transactions {
		tx, err := core.DecodeTransaction(raw)
		if err != nil {
			return nil, errors.Wrap(err, "protocol: decoding relayed transaction")
		}
		added, shouldRelay, failed := c.pool.AddTx(tx, false)
		if failed {
			continue
		}
		if added && shouldRelay {
			relayed = append(relayed, raw)
		}
	}
	return relayed, nil
}

// HandleRequestTxPool answers REQUEST_TX_POOL: it returns the pool
// transactions the requester does not already have, per
// Pool.GetDifference.
func (c *Context) HandleRequestTxPool(req *RequestTxPool) (*NewTransactions, error) {
	newIDs, _ := c.pool.GetDifference(req.TxIDs)
	raws := make([][]byte, 0, len(newIDs))
	for _, id := range newIDs {
		if raw, ok := c.pool.RawTx(id); ok {
			raws = append(raws, raw)
		}
	}
	return &NewTransactions{Transactions: raws}, nil
}
