package protocol

import (
	"github.com/pkg/errors"
)

// Dispatch decodes and processes one framed message from p, driving
// whatever state transition and I/O it implies. Per the failure
// semantics every package in this tree follows: a decode failure, an
// out-of-order message for the peer's current state, or any other
// invariant violation never panics -- it is reported here, and the
// caller is expected to call Shutdown on the peer and close its
// connection.
func (c *Context) Dispatch(p *Peer, cmd CommandID, flags MessageFlags, payload []byte) error {
	if c.IsBanned(p.Conn.RemoteIP()) {
		return errors.Errorf("protocol: command %s from banned peer %s", cmd, p.Conn.RemoteAddr())
	}
	switch cmd {
	case CmdHandshake:
		return c.dispatchHandshake(p, flags, payload)
	case CmdTimedSync:
		return c.dispatchTimedSync(p, flags, payload)
	case CmdPing:
		return c.dispatchPing(p, flags, payload)
	case CmdRequestChain:
		return c.dispatchRequestChain(p, payload)
	case CmdResponseChainEntry:
		return c.dispatchResponseChainEntry(p, payload)
	case CmdRequestGetObjects:
		return c.dispatchRequestGetObjects(p, payload)
	case CmdResponseGetObjects:
		return c.dispatchResponseGetObjects(p, payload)
	case CmdNewBlock:
		return c.dispatchNewBlock(p, payload)
	case CmdNewLiteBlock:
		return c.dispatchNewLiteBlock(p, payload)
	case CmdMissingTxs:
		return c.dispatchMissingTxs(p, payload)
	case CmdNewTransactions:
		return c.dispatchNewTransactions(p, payload)
	case CmdRequestTxPool:
		return c.dispatchRequestTxPool(p, payload)
	default:
		return errors.Errorf("protocol: unknown command id %d", cmd)
	}
}

func (c *Context) dispatchHandshake(p *Peer, flags MessageFlags, payload []byte) error {
	if flags&FlagRequest != 0 {
		req, err := DecodeHandshakeRequest(payload)
		if err != nil {
			return err
		}
		resp, err := c.HandleHandshakeRequest(p, req)
		if err != nil {
			return err
		}
		if err := p.Conn.Send(CmdHandshake, FlagResponse, EncodeHandshakeResponse(resp)); err != nil {
			return err
		}
		return c.advanceSync(p)
	}
	resp, err := DecodeHandshakeResponse(payload)
	if err != nil {
		return err
	}
	if err := c.HandleHandshakeResponse(p, resp); err != nil {
		return err
	}
	return c.advanceSync(p)
}

func (c *Context) dispatchTimedSync(p *Peer, flags MessageFlags, payload []byte) error {
	t, err := DecodeTimedSync(payload)
	if err != nil {
		return err
	}
	if err := c.HandleTimedSync(p, t); err != nil {
		return err
	}
	if flags&FlagRequest != 0 {
		return p.Conn.Send(CmdTimedSync, FlagResponse, EncodeTimedSync(c.BuildTimedSync(nil)))
	}
	return c.advanceSync(p)
}

func (c *Context) dispatchPing(p *Peer, flags MessageFlags, payload []byte) error {
	if flags&FlagRequest == 0 {
		return nil
	}
	resp, err := c.HandlePing(p)
	if err != nil {
		return err
	}
	return p.Conn.Send(CmdPing, FlagResponse, EncodePingResponse(resp))
}

func (c *Context) dispatchRequestChain(p *Peer, payload []byte) error {
	req, err := DecodeRequestChain(payload)
	if err != nil {
		return err
	}
	resp, err := c.HandleRequestChain(req)
	if err != nil {
		return err
	}
	return p.Conn.Send(CmdResponseChainEntry, FlagResponse, EncodeResponseChainEntry(resp))
}

func (c *Context) dispatchResponseChainEntry(p *Peer, payload []byte) error {
	resp, err := DecodeResponseChainEntry(payload)
	if err != nil {
		return err
	}
	if err := c.HandleResponseChainEntry(p, resp); err != nil {
		return err
	}
	return c.advanceSync(p)
}

func (c *Context) dispatchRequestGetObjects(p *Peer, payload []byte) error {
	req, err := DecodeRequestGetObjects(payload)
	if err != nil {
		return err
	}
	resp, err := c.answerGetObjects(req)
	if err != nil {
		return err
	}
	return p.Conn.Send(CmdResponseGetObjects, FlagResponse, EncodeResponseGetObjects(resp))
}

func (c *Context) dispatchResponseGetObjects(p *Peer, payload []byte) error {
	resp, err := DecodeResponseGetObjects(payload)
	if err != nil {
		return err
	}
	if err := c.HandleResponseGetObjects(p, resp); err != nil {
		return err
	}
	return c.advanceSync(p)
}

func (c *Context) dispatchNewBlock(p *Peer, payload []byte) error {
	n, err := DecodeNewBlock(payload)
	if err != nil {
		return err
	}
	relay, next, err := c.HandleNewBlock(p, n)
	if err != nil {
		return err
	}
	if relay {
		c.broadcastExcept(p, CmdNewBlock, FlagNotify, EncodeNewBlock(next))
	}
	return nil
}

func (c *Context) dispatchNewLiteBlock(p *Peer, payload []byte) error {
	n, err := DecodeNewLiteBlock(payload)
	if err != nil {
		return err
	}
	missing, relay, err := c.HandleNewLiteBlock(p, n)
	if err != nil {
		return err
	}
	if missing != nil {
		return p.Conn.Send(CmdMissingTxs, FlagRequest, EncodeMissingTxs(missing))
	}
	if relay {
		next := *n
		next.Hop = n.Hop + 1
		c.broadcastExcept(p, CmdNewLiteBlock, FlagNotify, EncodeNewLiteBlock(&next))
	}
	return nil
}

func (c *Context) dispatchMissingTxs(p *Peer, payload []byte) error {
	m, err := DecodeMissingTxs(payload)
	if err != nil {
		return err
	}
	resp, err := c.HandleMissingTxs(m)
	if err != nil {
		return err
	}
	return p.Conn.Send(CmdNewTransactions, FlagResponse, EncodeNewTransactions(resp))
}

func (c *Context) dispatchNewTransactions(p *Peer, payload []byte) error {
	n, err := DecodeNewTransactions(payload)
	if err != nil {
		return err
	}
	toRelay, err := c.HandleNewTransactions(p, n)
	if err != nil {
		return err
	}
	if len(toRelay) > 0 {
		c.broadcastExcept(p, CmdNewTransactions, FlagNotify, EncodeNewTransactions(&NewTransactions{Transactions: toRelay}))
	}
	return nil
}

func (c *Context) dispatchRequestTxPool(p *Peer, payload []byte) error {
	req, err := DecodeRequestTxPool(payload)
	if err != nil {
		return err
	}
	resp, err := c.HandleRequestTxPool(req)
	if err != nil {
		return err
	}
	return p.Conn.Send(CmdNewTransactions, FlagResponse, EncodeNewTransactions(resp))
}

// advanceSync drives p through the Synchronizing/Idle/PoolSyncRequired
// sequence until either more I/O is needed (a request has been sent and
// we are waiting on a reply) or the peer has reached Normal.
func (c *Context) advanceSync(p *Peer) error {
	switch p.State {
	case Synchronizing:
		if batch := c.NextObjectRequest(p); batch != nil {
			p.State = Idle
			return p.Conn.Send(CmdRequestGetObjects, FlagRequest, EncodeRequestGetObjects(batch))
		}
		req, err := c.StartSync(p)
		if err != nil {
			return err
		}
		return p.Conn.Send(CmdRequestChain, FlagRequest, EncodeRequestChain(req))
	case SyncRequired:
		req, err := c.StartSync(p)
		if err != nil {
			return err
		}
		return p.Conn.Send(CmdRequestChain, FlagRequest, EncodeRequestChain(req))
	case PoolSyncRequired:
		p.State = Normal
		known, _ := c.pool.GetDifference(nil)
		return p.Conn.Send(CmdRequestTxPool, FlagRequest, EncodeRequestTxPool(&RequestTxPool{TxIDs: known}))
	case Idle:
		if batch := c.NextObjectRequest(p); batch != nil {
			return p.Conn.Send(CmdRequestGetObjects, FlagRequest, EncodeRequestGetObjects(batch))
		}
		p.State = PoolSyncRequired
		return c.advanceSync(p)
	default:
		return nil
	}
}

// answerGetObjects loads the requested blocks and transactions,
// collecting any ids neither the chain nor the pool recognizes into
// MissedIDs rather than failing the whole request.
func (c *Context) answerGetObjects(req *RequestGetObjects) (*ResponseGetObjects, error) {
	resp := &ResponseGetObjects{CurrentBlockchainHeight: c.chain.TopHeight()}

	for _, id := range req.Blocks {
		raw, ok, err := c.chain.RawBlock(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			resp.MissedIDs = append(resp.MissedIDs, id)
			continue
		}
		resp.Blocks = append(resp.Blocks, RawBlockEntry{Block: raw})
	}

	for _, id := range req.Txs {
		raw, ok := c.pool.RawTx(id)
		if !ok {
			resp.MissedIDs = append(resp.MissedIDs, id)
			continue
		}
		resp.Txs = append(resp.Txs, raw)
	}

	return resp, nil
}

// broadcastExcept sends cmd/flags/payload to every Normal peer other
// than origin; send failures are logged and otherwise ignored, since a
// single unreachable peer must never block relay to the rest.
func (c *Context) broadcastExcept(origin *Peer, cmd CommandID, flags MessageFlags, payload []byte) {
	c.peersMu.RLock()
	targets := make([]*Peer, 0, len(c.peers))
	for _, peer := range c.peers {
		if peer == origin || peer.State != Normal {
			continue
		}
		targets = append(targets, peer)
	}
	c.peersMu.RUnlock()

	for _, peer := range targets {
		if err := peer.Conn.Send(cmd, flags, payload); err != nil {
			log.Debugf("relay to peer %s failed: %v", peer.Conn.RemoteAddr(), err)
		}
	}
}
