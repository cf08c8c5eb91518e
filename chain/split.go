package chain

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/storage"
	"github.com/go-cnote/cnoted/util"
)

// ErrSplitHeightOutOfRange is returned by Split when splitHeight does not
// lie within the current chain.
var ErrSplitHeightOutOfRange = errors.New("chain: split height out of range")

// Split detaches the suffix [splitHeight, topHeight] from the chain,
// popping blocks in descending order and undoing every index
// contribution PushBlock made for each. It is
// the caller's responsibility to replay an alternative suffix via
// PushBlock afterward.
func (bc *Blockchain) Split(splitHeight util.Height) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if !bc.hasBlocks || splitHeight > bc.topHeight {
		return ErrSplitHeightOutOfRange
	}

	height := bc.topHeight
	for {
		if err := bc.popBlockLocked(height); err != nil {
			return errors.Wrapf(err, "chain: popping block at height %d", height)
		}
		if height == splitHeight || height == 0 {
			break
		}
		height--
	}

	if splitHeight == 0 {
		bc.hasBlocks = false
		bc.topHeight = 0
		bc.topHash = util.Hash{}
	} else {
		newTop := splitHeight - 1
		hash, err := bc.store.Get(heightKey(prefixHeightToHash, newTop))
		if err != nil {
			return errors.Wrap(err, "chain: resolving new top after split")
		}
		var h util.Hash
		copy(h[:], hash)
		bc.topHeight = newTop
		bc.topHash = h
	}

	bc.upgrade.cancelPoppedVotes(bc.topHeight)
	return nil
}

// popBlockLocked undoes a single block's contribution to every index.
// Callers must hold bc.mu.
func (bc *Blockchain) popBlockLocked(height util.Height) error {
	blockHashBytes, err := bc.store.Get(heightKey(prefixHeightToHash, height))
	if err != nil {
		return err
	}
	var blockHash util.Hash
	copy(blockHash[:], blockHashBytes)

	pushedBytes, err := bc.store.Get(heightKey(prefixPushedBlock, height))
	if err != nil {
		return err
	}
	pushed, err := decodePushedBlockInfo(pushedBytes)
	if err != nil {
		return err
	}

	info, err := bc.blockInfoLocked(blockHash)
	if err != nil {
		return err
	}

	batch := storage.NewWriteBatch()

	for _, ki := range pushed.SpentKeyImages {
		batch.Delete(spentKeyImageKey(ki))
	}

	// Walk transactions newest first so, within the batch, the last count
	// written for each amount is the lowest global index the block allocated.
	for t := len(pushed.TransactionHashes) - 1; t >= 0; t-- {
		txHash := pushed.TransactionHashes[t]
		ctBytes, err := bc.store.Get(hashKey(prefixCachedTx, txHash))
		if err == nil {
			ct, decErr := decodeCachedTransaction(ctBytes)
			if decErr == nil {
				bc.truncateOutputsLocked(batch, ct)
				if ct.PaymentID != nil {
					batch.Delete(paymentIDKey(ct.PaymentID, txHash))
				}
			}
		}
		batch.Delete(hashKey(prefixCachedTx, txHash))
		batch.Delete(timestampTxKey(info.Timestamp, txHash))
	}

	batch.Delete(hashKey(prefixRawBlock, blockHash))
	batch.Delete(hashKey(prefixBlockInfo, blockHash))
	batch.Delete(hashKey(prefixHashToHeight, blockHash))
	batch.Delete(heightKey(prefixHeightToHash, height))
	batch.Delete(heightKey(prefixPushedBlock, height))
	batch.Delete(heightKey(prefixGeneratedCount, height))
	batch.Delete(timestampBlockKey(info.Timestamp, blockHash))

	if err := bc.store.Write(batch); err != nil {
		return errors.Wrap(err, "chain: committing pop block batch")
	}

	bc.popUnitsCache()
	bc.sendNotification(NTBlockPopped, &BlockPoppedNotificationData{Hash: blockHash, Height: height})
	log.Debugf("popped block %s at height %d", blockHash, height)
	return nil
}

// truncateOutputsLocked removes every Key output ct contributed to the
// per-amount UTXO indexes and rewinds that amount's output count back to
// the lowest global index ct allocated, per Split's "truncating each
// amount's global-index tail" contract. It assumes blocks are always
// popped in strict descending height order, so an amount's outputs are
// always rewound from the tail inward.
func (bc *Blockchain) truncateOutputsLocked(batch *storage.WriteBatch, ct *core.CachedTransaction) {
	for i := len(ct.GlobalIndexes) - 1; i >= 0; i-- {
		gi := ct.GlobalIndexes[i]
		if i >= len(ct.OutputTargets) {
			continue
		}
		if _, ok := ct.OutputTargets[i].(core.OutputKey); !ok {
			continue
		}
		amount := ct.OutputAmounts[i]
		batch.Delete(amountIndexKey(prefixPackedOutIndex, amount, gi))
		batch.Delete(amountIndexKey(prefixKeyOutputInfo, amount, gi))
		batch.Put(amountCountKey(amount), be64(uint64(gi)))
	}
}
