// Package chain implements the blockchain cache: the persistent
// canonical chain, its UTXO indexes, difficulty and
// emission accounting, and the split/reorg machinery that lets an
// alternative chain with greater cumulative difficulty replace the
// current one. It is grounded on the domain/blockdag package
// for its general shape (a database-backed cache guarded by one mutex,
// notified observers, an upgrade/fork voting window) adapted from a
// GHOSTDAG blue-set model to CryptoNote's single selected chain plus
// alternative-chain reorg.
package chain

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/storage"
	"github.com/go-cnote/cnoted/util"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.BCCH)
}

// Sentinel errors making up the blockchain cache's error taxonomy.
var (
	ErrWrongPreviousHash   = errors.New("chain: block's previous hash does not match the current top")
	ErrKeyImageAlreadySpent = errors.New("chain: key image already spent")
	ErrInputsInsufficient  = errors.New("chain: input amount is less than output amount")
	ErrNotFound            = errors.New("chain: not found")
)

// defaultUnitsCacheSize bounds the in-memory deque of the most recently
// pushed CachedBlockInfo ("unitsCache").
const defaultUnitsCacheSize = 5000

// lockedTxAllowedDeltaBlocks is how many blocks ahead of an unlockTime
// height a transaction may still be spent, per isTransactionSpendTimeUnlocked.
const lockedTxAllowedDeltaBlocks = 1

// minedMoneyUnlockWindow is how many blocks a coinbase output stays
// locked for; getRandomOutsByAmount excludes outputs younger than this.
const minedMoneyUnlockWindow = 60

// ValidatorState accumulates key images seen while validating a batch of
// blocks that have not yet been committed via PushBlock, so a later
// block in the same batch can be rejected for double-spending against
// an earlier one that is still in flight: no input key image may
// appear in the spent-key-image set or elsewhere in validatorState.
type ValidatorState struct {
	SpentKeyImages map[util.KeyImage]util.Height
}

// NewValidatorState returns an empty ValidatorState.
func NewValidatorState() *ValidatorState {
	return &ValidatorState{SpentKeyImages: make(map[util.KeyImage]util.Height)}
}

// Blockchain is the persistent chain-state cache. PushBlock and Split are
// serialized by mu: pushBlock is serialized globally on one mutex over
// the chain.
type Blockchain struct {
	store *storage.Store

	mu        sync.Mutex
	topHeight util.Height
	topHash   util.Hash
	hasBlocks bool

	unitsCacheMu sync.Mutex
	unitsCache   []*core.CachedBlockInfo

	notificationsLock sync.RWMutex
	observers         []Observer

	upgrade *upgradeDetector
}

// Open attaches a Blockchain to an already-opened store and restores the
// top pointer (if any); callers are responsible for pushing a genesis
// block via PushBlock on a fresh store.
func Open(store *storage.Store) (*Blockchain, error) {
	bc := &Blockchain{
		store:   store,
		upgrade: newUpgradeDetector(),
	}

	top, err := store.Get([]byte{prefixTop})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return bc, nil
		}
		return nil, errors.Wrap(err, "chain: reading top pointer")
	}
	r := serialization.NewReader(top)
	heightVal, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	hash, err := r.ReadHash()
	if err != nil {
		return nil, err
	}
	bc.topHeight = util.Height(heightVal)
	bc.topHash = hash
	bc.hasBlocks = true
	return bc, nil
}

// TopHeight returns the current chain tip's height.
func (bc *Blockchain) TopHeight() util.Height {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.topHeight
}

// TopHash returns the current chain tip's hash.
func (bc *Blockchain) TopHash() util.Hash {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.topHash
}

// HasBlocks reports whether any block has ever been pushed, the same
// flag PushBlock and GetDifficultyForNextBlock consult to special-case
// an empty chain. The daemon entrypoint uses it to decide whether the
// genesis block still needs to be pushed.
func (bc *Blockchain) HasBlocks() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.hasBlocks
}

func (bc *Blockchain) writeTopPointer(batch *storage.WriteBatch, height util.Height, hash util.Hash) {
	w := serialization.NewWriter()
	w.WriteUvarint(uint64(height))
	w.WriteHash(hash)
	batch.Put([]byte{prefixTop}, w.Bytes())
}

// PushBlock commits block and its already-validated transactions to the
// top of the chain. Preconditions (checked here; the caller is expected
// to have already run signature/ring validation via the crypto package):
// block.Header.PreviousBlockHash must equal the current top hash, and no
// transaction's key image may already be spent on-chain or within
// validatorState. On any failure the database is left unchanged -- every
// sub-step is staged into one storage.WriteBatch and applied atomically.
func (bc *Blockchain) PushBlock(block *core.Block, transactions []*core.Transaction, validatorState *ValidatorState,
	blockSize uint64, generatedCoins util.Amount, blockDifficulty uint64, rawBlock []byte) error {

	bc.mu.Lock()
	defer bc.mu.Unlock()

	newHeight := util.Height(0)
	if bc.hasBlocks {
		if !block.Header.PreviousBlockHash.IsEqual(&bc.topHash) {
			return errors.Wrapf(ErrWrongPreviousHash, "expected %s got %s", bc.topHash, block.Header.PreviousBlockHash)
		}
		newHeight = bc.topHeight + 1
	}

	blockHash := block.Hash()
	batch := storage.NewWriteBatch()

	spentImages := make([]util.KeyImage, 0)
	generatedTxCount := uint64(0)
	counts := make(map[util.Amount]uint64)

	allTxs := append([]*core.Transaction{&block.BaseTransaction}, transactions...)
	txHashes := make([]util.Hash, 0, len(allTxs))
	for txIdx, tx := range allTxs {
		txHash := core.Hash(tx)
		txHashes = append(txHashes, txHash)
		cached := &core.CachedTransaction{
			BlockIndex:       newHeight,
			TransactionIndex: uint32(txIdx),
			Hash:             txHash,
			UnlockTime:       tx.Prefix.UnlockTime,
		}

		if !tx.IsCoinbase() {
			for _, in := range tx.Prefix.Inputs {
				keyIn, ok := in.(core.InputKey)
				if !ok {
					continue
				}
				if spent, err := bc.isSpentLocked(keyIn.KeyImage); err != nil {
					return err
				} else if spent {
					return errors.Wrapf(ErrKeyImageAlreadySpent, "%x", keyIn.KeyImage)
				}
				if _, inFlight := validatorState.SpentKeyImages[keyIn.KeyImage]; inFlight {
					return errors.Wrapf(ErrKeyImageAlreadySpent, "%x (in-flight)", keyIn.KeyImage)
				}
				validatorState.SpentKeyImages[keyIn.KeyImage] = newHeight
				batch.Put(spentKeyImageKey(keyIn.KeyImage), be32(uint32(newHeight)))
				spentImages = append(spentImages, keyIn.KeyImage)
			}
		}

		globalIndexes, err := bc.allocateOutputs(batch, counts, tx, txHash, newHeight, uint32(txIdx))
		if err != nil {
			return err
		}
		cached.GlobalIndexes = globalIndexes
		for _, out := range tx.Prefix.Outputs {
			cached.OutputTargets = append(cached.OutputTargets, out.Target)
			cached.OutputAmounts = append(cached.OutputAmounts, out.Amount)
		}

		if parsed, err := core.ParseExtra(tx.Prefix.Extra); err == nil && parsed.PaymentID != nil {
			cached.PaymentID = parsed.PaymentID
			batch.Put(paymentIDKey(parsed.PaymentID, txHash), []byte{})
		}
		batch.Put(hashKey(prefixCachedTx, txHash), encodeCachedTransaction(cached))
		batch.Put(timestampTxKey(block.Header.Timestamp, txHash), []byte{})

		generatedTxCount++
	}

	batch.Put(hashKey(prefixRawBlock, blockHash), rawBlock)
	batch.Put(heightKey(prefixHeightToHash, newHeight), blockHash[:])
	batch.Put(hashKey(prefixHashToHeight, blockHash), be32(uint32(newHeight)))
	batch.Put(timestampBlockKey(block.Header.Timestamp, blockHash), []byte{})

	prevGenerated := uint64(0)
	if bc.hasBlocks {
		if b, err := bc.store.Get(heightKey(prefixGeneratedCount, bc.topHeight)); err == nil {
			prevGenerated = binary.BigEndian.Uint64(b)
		}
	}
	batch.Put(heightKey(prefixGeneratedCount, newHeight), be64(prevGenerated+generatedTxCount))

	info := &core.CachedBlockInfo{
		Hash:                  blockHash,
		Timestamp:             block.Header.Timestamp,
		CumulativeDifficulty:  blockDifficulty,
		AlreadyGeneratedCoins: generatedCoins,
		AlreadyGeneratedTransactions: prevGenerated + generatedTxCount,
		BlockSize:             blockSize,
	}
	if bc.hasBlocks {
		prevInfo, err := bc.blockInfoLocked(bc.topHash)
		if err == nil {
			info.CumulativeDifficulty = prevInfo.CumulativeDifficulty + blockDifficulty
		}
	}
	batch.Put(hashKey(prefixBlockInfo, blockHash), encodeBlockInfo(info))

	pushed := &core.PushedBlockInfo{
		RawBlock:          rawBlock,
		BlockSize:         blockSize,
		GeneratedCoins:    generatedCoins,
		BlockDifficulty:   blockDifficulty,
		SpentKeyImages:    spentImages,
		TransactionHashes: txHashes,
	}
	batch.Put(heightKey(prefixPushedBlock, newHeight), encodePushedBlockInfo(pushed))

	bc.writeTopPointer(batch, newHeight, blockHash)

	if err := bc.store.Write(batch); err != nil {
		return errors.Wrap(err, "chain: committing push block batch")
	}

	bc.topHeight = newHeight
	bc.topHash = blockHash
	bc.hasBlocks = true
	bc.pushUnitsCache(info)
	bc.upgrade.observeBlock(newHeight, block.Header.MajorVersion, block.Header.MinorVersion)

	bc.sendNotification(NTBlockAdded, &BlockAddedNotificationData{Block: block, Height: newHeight})

	log.Debugf("pushed block %s at height %d (%d transactions)", blockHash, newHeight, len(allTxs))
	return nil
}

// blockInfoLocked reads a CachedBlockInfo by hash. Callers must hold bc.mu.
func (bc *Blockchain) blockInfoLocked(hash util.Hash) (*core.CachedBlockInfo, error) {
	b, err := bc.store.Get(hashKey(prefixBlockInfo, hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeBlockInfo(b)
}

// BlockInfo returns the cached summary for the block with the given hash.
func (bc *Blockchain) BlockInfo(hash util.Hash) (*core.CachedBlockInfo, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.blockInfoLocked(hash)
}

// HashAtHeight returns the canonical chain's block hash at height.
func (bc *Blockchain) HashAtHeight(height util.Height) (util.Hash, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	b, err := bc.store.Get(heightKey(prefixHeightToHash, height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return util.Hash{}, ErrNotFound
		}
		return util.Hash{}, err
	}
	var h util.Hash
	copy(h[:], b)
	return h, nil
}

// HeightForHash returns the height of the block with the given hash, the
// inverse of HashAtHeight.
func (bc *Blockchain) HeightForHash(hash util.Hash) (util.Height, error) {
	b, err := bc.store.Get(hashKey(prefixHashToHeight, hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return util.Height(binary.BigEndian.Uint32(b)), nil
}

// RawBlock returns the raw stored bytes for the block with the given
// hash. Per the preserved NULL_HASH contract, callers
// passing the zero hash get (nil, false, nil) rather than an error.
func (bc *Blockchain) RawBlock(hash util.Hash) ([]byte, bool, error) {
	if hash.IsEqual(&util.Hash{}) {
		return nil, false, nil
	}
	b, err := bc.store.Get(hashKey(prefixRawBlock, hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// isSpentLocked returns whether keyImage is recorded in the spent-key-image
// set at any height. It is called from PushBlock with bc.mu already held.
func (bc *Blockchain) isSpentLocked(keyImage util.KeyImage) (bool, error) {
	_, err := bc.store.Get(spentKeyImageKey(keyImage))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckIfSpent reports whether keyImage was spent by the block at
// atHeight or earlier. A nil atHeight checks against the current top.
func (bc *Blockchain) CheckIfSpent(keyImage util.KeyImage, atHeight *util.Height) (bool, error) {
	b, err := bc.store.Get(spentKeyImageKey(keyImage))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "chain: reading spent key image")
	}
	spentAt := util.Height(binary.BigEndian.Uint32(b))
	limit := bc.TopHeight()
	if atHeight != nil {
		limit = *atHeight
	}
	return spentAt <= limit, nil
}
