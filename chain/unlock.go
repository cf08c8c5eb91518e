package chain

import "github.com/go-cnote/cnoted/util"

// lockedTxAllowedDeltaSeconds mirrors the small grace window the
// timestamp branch of IsTransactionSpendTimeUnlocked allows, matching
// lockedTxAllowedDeltaBlocks' role for the height branch.
const lockedTxAllowedDeltaSeconds = 1

// IsTransactionSpendTimeUnlocked reports whether an output with the given
// unlockTime is spendable. A value below util.MaxBlockHeightMarker is a
// block height: the output unlocks once height+lockedTxAllowedDeltaBlocks
// reaches it. Otherwise unlockTime is a UNIX timestamp, checked against
// the last on-chain block's timestamp rather than wall-clock time (the
// "input blocktime validation" fork is treated as always active here;
// see DESIGN.md).
//
// atHeight, when non-nil, is the height to evaluate against instead of
// the current chain tip -- used when validating a block still being
// assembled.
func (bc *Blockchain) IsTransactionSpendTimeUnlocked(unlockTime uint64, atHeight *util.Height) bool {
	if unlockTime < util.MaxBlockHeightMarker {
		height := bc.TopHeight()
		if atHeight != nil {
			height = *atHeight
		}
		return uint64(height)+lockedTxAllowedDeltaBlocks >= unlockTime
	}

	lastTimestamp := bc.lastBlockTimestamp()
	return lastTimestamp+lockedTxAllowedDeltaSeconds >= unlockTime
}

func (bc *Blockchain) lastBlockTimestamp() uint64 {
	bc.mu.Lock()
	top := bc.topHash
	has := bc.hasBlocks
	bc.mu.Unlock()
	if !has {
		return 0
	}
	info, err := bc.BlockInfo(top)
	if err != nil {
		return 0
	}
	return info.Timestamp
}
