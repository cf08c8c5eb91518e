package chain

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/storage"
	"github.com/go-cnote/cnoted/util"
)

// allocateOutputs assigns a contiguous global output index to every Key
// output of tx, staging the PackedOutIndex/KeyOutputInfo records and the
// updated per-amount count into batch. counts overlays in-flight
// allocations made earlier in the same PushBlock call so two outputs of
// the same amount within one block (or across two transactions of the
// same block) never collide: new global output
// indexes are allocated contiguously per amount.
func (bc *Blockchain) allocateOutputs(batch *storage.WriteBatch, counts map[util.Amount]uint64,
	tx *core.Transaction, txHash util.Hash, blockIndex util.Height, txIndex uint32) ([]util.GlobalOutputIndex, error) {

	indexes := make([]util.GlobalOutputIndex, len(tx.Prefix.Outputs))
	for i, out := range tx.Prefix.Outputs {
		keyOut, ok := out.Target.(core.OutputKey)
		if !ok {
			continue
		}

		next, known := counts[out.Amount]
		if !known {
			b, err := bc.store.Get(amountCountKey(out.Amount))
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					return nil, errors.Wrap(err, "chain: reading output count")
				}
				next = 0
			} else {
				next = binary.BigEndian.Uint64(b)
			}
		}

		gi := util.GlobalOutputIndex(next)
		indexes[i] = gi

		packed := &core.PackedOutIndex{BlockIndex: blockIndex, TransactionIndex: txIndex, OutputIndex: uint32(i)}
		batch.Put(amountIndexKey(prefixPackedOutIndex, out.Amount, gi), encodePackedOutIndex(packed))

		info := &core.KeyOutputInfo{
			PublicKey:       keyOut.OneTimePublicKey,
			TransactionHash: txHash,
			UnlockTime:      tx.Prefix.UnlockTime,
			OutputIndex:     uint32(i),
		}
		batch.Put(amountIndexKey(prefixKeyOutputInfo, out.Amount, gi), encodeKeyOutputInfo(info))

		next++
		counts[out.Amount] = next
		batch.Put(amountCountKey(out.Amount), be64(next))
	}
	return indexes, nil
}

// ExtractVisitResult is returned by an OutputVisitor to tell
// ExtractKeyOutputs whether to keep walking the requested indexes.
type ExtractVisitResult int

const (
	ExtractContinue ExtractVisitResult = iota
	ExtractStop
)

// OutputVisitor inspects one resolved KeyOutputInfo during
// ExtractKeyOutputs, e.g. to check its unlock time or collect its public
// key into a ring signature's verification key set.
type OutputVisitor func(info *core.KeyOutputInfo, globalIndex util.GlobalOutputIndex) (ExtractVisitResult, error)

// ExtractKeyOutputs loads the KeyOutputInfo for each (amount, globalIndex)
// pair in globalIndexes and invokes visit on it in order, stopping at the
// first ExtractStop or error.
func (bc *Blockchain) ExtractKeyOutputs(amount util.Amount, globalIndexes []util.GlobalOutputIndex, visit OutputVisitor) error {
	for _, gi := range globalIndexes {
		b, err := bc.store.Get(amountIndexKey(prefixKeyOutputInfo, amount, gi))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errors.Wrapf(ErrNotFound, "amount %d global index %d", amount, gi)
			}
			return err
		}
		info, err := decodeKeyOutputInfo(b)
		if err != nil {
			return errors.Wrap(err, "chain: decoding key output info")
		}
		res, err := visit(info, gi)
		if err != nil {
			return err
		}
		if res == ExtractStop {
			return nil
		}
	}
	return nil
}

// RandomOutput is one candidate ring member returned by GetRandomOutsByAmount.
type RandomOutput struct {
	GlobalIndex util.GlobalOutputIndex
	PublicKey   util.PublicKey
}

// maxRandomOutAttemptsPerOutput scales how many rejection-sampling draws
// GetRandomOutsByAmount makes (this many per requested output, plus 50)
// before giving up on a thin amount pool.
const maxRandomOutAttemptsPerOutput = 20

// GetRandomOutsByAmount samples up to count distinct, currently-spendable
// (per IsTransactionSpendTimeUnlocked at currentHeight) outputs of amount
// for use as ring-signature decoys, skipping outputs mined fewer than
// minedMoneyUnlockWindow blocks before currentHeight. It may return
// fewer than count if the amount's output pool is too thin.
func (bc *Blockchain) GetRandomOutsByAmount(amount util.Amount, count int, currentHeight util.Height) ([]RandomOutput, error) {
	b, err := bc.store.Get(amountCountKey(amount))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "chain: reading output count")
	}
	total := binary.BigEndian.Uint64(b)
	if total == 0 {
		return nil, nil
	}

	seen := make(map[uint64]bool, count)
	outs := make([]RandomOutput, 0, count)
	maxAttempts := count*maxRandomOutAttemptsPerOutput + 50

	for attempts := 0; len(outs) < count && uint64(len(seen)) < total && attempts < maxAttempts; attempts++ {
		idx, err := randomUint64(total)
		if err != nil {
			return nil, err
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true

		gi := util.GlobalOutputIndex(idx)
		infoBytes, err := bc.store.Get(amountIndexKey(prefixKeyOutputInfo, amount, gi))
		if err != nil {
			continue
		}
		info, err := decodeKeyOutputInfo(infoBytes)
		if err != nil {
			continue
		}
		if !bc.IsTransactionSpendTimeUnlocked(info.UnlockTime, &currentHeight) {
			continue
		}
		packedBytes, err := bc.store.Get(amountIndexKey(prefixPackedOutIndex, amount, gi))
		if err != nil {
			continue
		}
		packed, err := decodePackedOutIndex(packedBytes)
		if err != nil || uint64(packed.BlockIndex)+minedMoneyUnlockWindow > uint64(currentHeight) {
			continue
		}
		outs = append(outs, RandomOutput{GlobalIndex: gi, PublicKey: info.PublicKey})
	}
	return outs, nil
}

// randomUint64 returns a uniformly distributed value in [0, n) using a
// cryptographic source, since the sampled index feeds directly into a
// ring signature's anonymity set.
func randomUint64(n uint64) (uint64, error) {
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, errors.Wrap(err, "chain: generating random output index")
	}
	return v.Uint64(), nil
}

// GetBlockHeightForTimestamp returns the height of the earliest block
// whose midnight-truncated timestamp bucket is the first non-empty
// bucket at or before timestamp's own bucket, via an O(1)-amortized
// walk backward one day at a time.
func (bc *Blockchain) GetBlockHeightForTimestamp(timestamp uint64) (util.Height, error) {
	const secondsPerDay = 86400
	bucket := dayBucket(timestamp)

	for {
		prefix := make([]byte, 1+8)
		prefix[0] = prefixTimestampBlock
		binary.BigEndian.PutUint64(prefix[1:], bucket)

		cur := bc.store.Cursor(prefix)
		found := false
		var earliest util.Height
		for ok := cur.First(); ok; ok = cur.Next() {
			var blockHash util.Hash
			copy(blockHash[:], cur.Key())
			h, err := bc.HeightForHash(blockHash)
			if err != nil {
				cur.Close()
				return 0, err
			}
			if !found || h < earliest {
				earliest, found = h, true
			}
		}
		cur.Close()

		if found {
			return earliest, nil
		}
		if bucket < secondsPerDay {
			return 0, ErrNotFound
		}
		bucket -= secondsPerDay
	}
}
