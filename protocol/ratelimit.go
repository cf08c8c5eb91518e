package protocol

import "time"

// allowTx applies the fixed-window transaction relay rate limit: at most
// TxRelayThreshold NEW_TRANSACTIONS entries from a single peer within
// TxRelayThresholdInterval. Exceeding it does not shut the peer down; the
// whole batch that would exceed it is dropped and logged, since an aggressive but
// otherwise well-behaved peer is not ban-worthy on its own.
func (c *Context) allowTx(p *Peer, n int) bool {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	now := time.Now()
	if now.Sub(p.txWindowStart) > c.cfg.TxRelayThresholdInterval {
		p.txWindowStart = now
		p.txWindowCount = 0
	}
	if p.txWindowCount+n > c.cfg.TxRelayThreshold {
		return false
	}
	p.txWindowCount += n
	return true
}
