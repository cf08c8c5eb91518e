// Package mempool implements the unconfirmed-transaction pool:
// double-spend guards against both the chain and the pool itself, TTL
// and size rejection, fee-priority ordering, and block-template
// assembly. It replaces the prior DAG-shaped
// domain/mempool/mempool.go body -- a map keyed by transaction id plus
// a handful of secondary maps, one mutex guarding the lot, chain-tip
// notification hooks invalidating a readiness cache -- with linear-chain
// CryptoNote semantics grounded on
// original_source/lib/CryptoNoteCore/Transactions/TransactionPool.{h,cpp}.
package mempool

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.TXPL)
}

// Constants grounded in original_source/src/Global/CryptoNoteConfig.h.
const (
	mempoolTxLiveTime                      = 24 * time.Hour
	mempoolTxFromAltBlockLiveTime           = 7 * 24 * time.Hour
	numberOfPeriodsToForgetTxDeletedFromPool = 7
	blockFutureTimeLimit                   = 7200 * time.Second

	fusionTxMaxSize          = 10000 * 30 / 100 // CRYPTONOTE_BLOCK_GRANTED_FULL_REWARD_ZONE * 30%
	fusionTxMinInputCount    = 12
	fusionTxMinInOutRatio    = 4
	coinbaseReserveSize      = 600 // CRYPTONOTE_COINBASE_BLOB_RESERVED_SIZE

	// maxTransactionBlobSize approximates checkTransactionSize: the
	// reference CRYPTONOTE_MAX_TX_SIZE (1e9) bounds only pathological
	// input, so this pool additionally rejects anything that could not
	// possibly fit a block built at the initial block size ceiling
	// (MAX_BLOCK_SIZE_INITIAL), which is the size any transaction must
	// fit under to ever be minable.
	maxTransactionBlobSize = 100000
)

// Sentinel errors making up this package's error taxonomy.
var (
	ErrTransactionIsCoinbase  = errors.New("mempool: coinbase transaction cannot enter the pool")
	ErrOutputsExceedInputs    = errors.New("mempool: outputs exceed inputs")
	ErrTransactionTooBig      = errors.New("mempool: transaction exceeds the maximum pool blob size")
	ErrTTLExpired             = errors.New("mempool: transaction TTL has already expired")
	ErrTTLOutOfRange          = errors.New("mempool: transaction TTL is too far in the future")
	ErrTTLWithFee             = errors.New("mempool: a transaction with a TTL must have zero fee")
	ErrKeyImageSpent          = errors.New("mempool: key image already spent")
	ErrNotFound               = errors.New("mempool: transaction not found")
)

// Validator is the slice of the blockchain cache's contract (C4) the
// pool needs to judge a pooled transaction's readiness: whether its
// inputs still check out against current UTXO state, and whether the
// chain has already spent one of its key images. The blockchain package
// satisfies this interface; tests supply a fake.
type Validator interface {
	CheckTransactionInputs(tx *core.Transaction, atHeight *util.Height) (util.Amount, error)
	CheckIfSpent(keyImage util.KeyImage, atHeight *util.Height) (bool, error)
	TopHeight() util.Height
}

// BlockInfo identifies a block by height and hash, mirroring the
// reference implementation's maxUsedBlock/lastFailedBlock bookkeeping.
type BlockInfo struct {
	Height util.Height
	Hash   util.Hash
}

type multisigKey struct {
	Amount      util.Amount
	OutputIndex uint32
}

// entry is the pool's per-transaction record: on accept it holds (id,
// tx, blobSize, fee, keptByBlock, receiveTime, maxUsedBlock,
// lastFailedBlock).
type entry struct {
	id              util.Hash
	tx              *core.Transaction
	blobSize        uint64
	fee             util.Amount
	keptByBlock     bool
	receiveTime     time.Time
	maxUsedBlock    BlockInfo
	lastFailedBlock BlockInfo
	paymentID       []byte
	hasTTL          bool
	ttlDeadline     uint64
}

func (e *entry) isFusion() bool {
	return isFusionTransaction(e.tx, e.blobSize)
}

// isFusionTransaction approximates Currency::isFusionTransaction: a
// zero-fee transaction whose inputs heavily outnumber its outputs,
// grounded on CryptoNoteConfig.h's FUSION_TX_MIN_INPUT_COUNT (12) and
// FUSION_TX_MIN_IN_OUT_COUNT_RATIO (4).
func isFusionTransaction(tx *core.Transaction, blobSize uint64) bool {
	if blobSize > fusionTxMaxSize {
		return false
	}
	nIn := len(tx.Prefix.Inputs)
	nOut := len(tx.Prefix.Outputs)
	if nIn < fusionTxMinInputCount {
		return false
	}
	if nOut == 0 || nIn < nOut*fusionTxMinInOutRatio {
		return false
	}
	return true
}

// diffCacheEntry memoizes a readiness verdict for getDifference; it is
// invalidated wholesale on every chain tip change.
type diffCacheEntry struct {
	ready bool
}

// Pool is the unconfirmed-transaction store. All public operations take
// mu for their full duration, the Go equivalent of the reference
// implementation's recursive mutex: since no exported method ever calls
// another exported method while holding the lock (every private helper
// assumes it is already held), nothing in this package ever needs
// reentrant acquisition, so a plain sync.Mutex satisfies the same
// "may be held across database writes, full duration per call" contract
// a recursive lock would.
type Pool struct {
	mu sync.Mutex

	validator Validator

	byID          map[util.Hash]*entry
	fee           *feeIndex
	byPaymentID   map[string]map[util.Hash]bool
	byTTL         map[util.Hash]bool
	recentlyDeleted map[util.Hash]time.Time

	spentKeyImages      map[util.KeyImage]util.Hash
	usedMultisigOutputs map[multisigKey]util.Hash

	diffCache map[util.Hash]diffCacheEntry
	diffValid bool
}

// New returns an empty Pool backed by validator.
func New(validator Validator) *Pool {
	p := &Pool{
		validator:           validator,
		byID:                make(map[util.Hash]*entry),
		byPaymentID:         make(map[string]map[util.Hash]bool),
		byTTL:               make(map[util.Hash]bool),
		recentlyDeleted:     make(map[util.Hash]time.Time),
		spentKeyImages:      make(map[util.KeyImage]util.Hash),
		usedMultisigOutputs: make(map[multisigKey]util.Hash),
		diffCache:           make(map[util.Hash]diffCacheEntry),
	}
	p.fee = newFeeIndex(func(a, b util.Hash) bool {
		ea, eb := p.byID[a], p.byID[b]
		return higherPriority(uint64(ea.fee), ea.blobSize, ea.receiveTime, uint64(eb.fee), eb.blobSize, eb.receiveTime)
	})
	return p
}

// HaveTx reports whether id is currently in the pool.
func (p *Pool) HaveTx(id util.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	return ok
}

// Count returns the number of transactions currently held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// RawTx returns the canonical encoding of the pooled transaction id, for
// answering a peer's MISSING_TXS request (§4.6) without retaining a
// separate copy of each transaction's original wire bytes.
func (p *Pool) RawTx(id util.Hash) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	w := serialization.NewWriter()
	core.EncodeTransaction(w, e.tx)
	return w.Bytes(), true
}

func (p *Pool) haveSpentInputsLocked(tx *core.Transaction) (util.Hash, bool) {
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case core.InputKey:
			if owner, ok := p.spentKeyImages[v.KeyImage]; ok {
				return owner, true
			}
		case core.InputMultisig:
			if owner, ok := p.usedMultisigOutputs[multisigKey{v.Amount, v.OutputIndex}]; ok {
				return owner, true
			}
		}
	}
	return util.Hash{}, false
}

func (p *Pool) registerInputsLocked(id util.Hash, tx *core.Transaction) {
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case core.InputKey:
			p.spentKeyImages[v.KeyImage] = id
		case core.InputMultisig:
			p.usedMultisigOutputs[multisigKey{v.Amount, v.OutputIndex}] = id
		}
	}
}

func (p *Pool) unregisterInputsLocked(tx *core.Transaction) {
	for _, in := range tx.Prefix.Inputs {
		switch v := in.(type) {
		case core.InputKey:
			delete(p.spentKeyImages, v.KeyImage)
		case core.InputMultisig:
			delete(p.usedMultisigOutputs, multisigKey{v.Amount, v.OutputIndex})
		}
	}
}

func transactionBlobSize(tx *core.Transaction) uint64 {
	w := serialization.NewWriter()
	core.EncodeTransaction(w, tx)
	return uint64(len(w.Bytes()))
}

// AddTx validates and, on success, inserts tx into the pool.
// keptByBlock is true when tx is being re-added because the block that
// confirmed it was popped during a reorg, which
// relaxes the double-spend-against-pool check (the chain itself is the
// authority in that case) and extends the expiry TTL in OnIdle.
func (p *Pool) AddTx(tx *core.Transaction, keptByBlock bool) (addedToPool, shouldRelay, verificationFailed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := core.Hash(tx)

	if _, deleted := p.recentlyDeleted[id]; deleted {
		return false, false, false
	}

	if _, exists := p.byID[id]; exists {
		return true, false, false
	}

	if tx.IsCoinbase() {
		log.Debugf("rejecting %s: %s", id, ErrTransactionIsCoinbase)
		return false, false, true
	}

	fee, err := tx.Fee()
	if err != nil {
		log.Debugf("rejecting %s: %s", id, errors.Wrap(ErrOutputsExceedInputs, err.Error()))
		return false, false, true
	}

	blobSize := transactionBlobSize(tx)
	if blobSize > maxTransactionBlobSize {
		log.Debugf("rejecting %s: %s", id, ErrTransactionTooBig)
		return false, false, true
	}

	parsedExtra, _ := core.ParseExtra(tx.Prefix.Extra)
	var hasTTL bool
	var ttlDeadline uint64
	if parsedExtra != nil && parsedExtra.HasTTL && parsedExtra.TTLSeconds != 0 {
		hasTTL = true
		ttlDeadline = parsedExtra.TTLSeconds
		now := uint64(time.Now().Unix())
		if !keptByBlock {
			if ttlDeadline <= now {
				log.Debugf("rejecting %s: %s", id, ErrTTLExpired)
				return false, false, true
			}
			if ttlDeadline-now > uint64((mempoolTxLiveTime + blockFutureTimeLimit).Seconds()) {
				log.Debugf("rejecting %s: %s", id, ErrTTLOutOfRange)
				return false, false, true
			}
			if fee != 0 {
				log.Debugf("rejecting %s: %s", id, ErrTTLWithFee)
				return false, false, true
			}
		}
	}

	if !keptByBlock {
		if owner, spent := p.haveSpentInputsLocked(tx); spent {
			log.Debugf("rejecting %s: %s (conflicts with pooled transaction %s)", id, ErrKeyImageSpent, owner)
			return false, false, true
		}
		for _, in := range tx.Prefix.Inputs {
			keyIn, ok := in.(core.InputKey)
			if !ok {
				continue
			}
			spent, err := p.validator.CheckIfSpent(keyIn.KeyImage, nil)
			if err != nil {
				log.Debugf("rejecting %s: checking chain spent state: %s", id, err)
				return false, false, true
			}
			if spent {
				log.Debugf("rejecting %s: %s (on chain)", id, ErrKeyImageSpent)
				return false, false, true
			}
		}
	}

	e := &entry{
		id:          id,
		tx:          tx,
		blobSize:    blobSize,
		fee:         fee,
		keptByBlock: keptByBlock,
		receiveTime: time.Now(),
		hasTTL:      hasTTL,
		ttlDeadline: ttlDeadline,
	}
	if parsedExtra != nil {
		e.paymentID = parsedExtra.PaymentID
	}

	p.byID[id] = e
	p.fee.insert(id)
	p.registerInputsLocked(id, tx)
	if len(e.paymentID) > 0 {
		key := string(e.paymentID)
		if p.byPaymentID[key] == nil {
			p.byPaymentID[key] = make(map[util.Hash]bool)
		}
		p.byPaymentID[key][id] = true
	}
	if hasTTL {
		p.byTTL[id] = true
	}
	p.invalidateDiffLocked()

	shouldRelay = fee > 0 || e.isFusion() || hasTTL
	return true, shouldRelay, false
}

// TakeTx atomically removes and returns the transaction with the given
// id.
func (p *Pool) TakeTx(id util.Hash) (*core.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	p.removeLocked(e)
	return e.tx, true
}

func (p *Pool) removeLocked(e *entry) {
	delete(p.byID, e.id)
	p.fee.remove(e.id)
	p.unregisterInputsLocked(e.tx)
	if len(e.paymentID) > 0 {
		key := string(e.paymentID)
		delete(p.byPaymentID[key], e.id)
		if len(p.byPaymentID[key]) == 0 {
			delete(p.byPaymentID, key)
		}
	}
	delete(p.byTTL, e.id)
	p.invalidateDiffLocked()
}

func (p *Pool) markDeletedLocked(id util.Hash, now time.Time) {
	p.recentlyDeleted[id] = now.Add(numberOfPeriodsToForgetTxDeletedFromPool * mempoolTxLiveTime)
}

// GetDifference returns the ids the pool holds as ready-to-mine that the
// caller (identified by knownIds) does not have, and the ids the caller
// has that the pool considers deleted. A
// transaction is "ready" iff CheckTransactionInputs currently succeeds
// against the validator and no input is spent on-chain; this verdict is
// memoized per id and invalidated wholesale on every chain tip change.
func (p *Pool) GetDifference(knownIds []util.Hash) (newIds, deletedIds []util.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	known := make(map[util.Hash]bool, len(knownIds))
	for _, id := range knownIds {
		known[id] = true
	}

	for id, e := range p.byID {
		if !p.isReadyLocked(e) {
			continue
		}
		if !known[id] {
			newIds = append(newIds, id)
		}
	}
	for id := range known {
		if _, ok := p.byID[id]; !ok {
			deletedIds = append(deletedIds, id)
		}
	}
	return newIds, deletedIds
}

func (p *Pool) isReadyLocked(e *entry) bool {
	if cached, ok := p.diffCache[e.id]; ok {
		return cached.ready
	}
	ready := p.checkReadyLocked(e)
	p.diffCache[e.id] = diffCacheEntry{ready: ready}
	return ready
}

func (p *Pool) checkReadyLocked(e *entry) bool {
	top := p.validator.TopHeight()
	_, err := p.validator.CheckTransactionInputs(e.tx, &top)
	if err != nil {
		e.lastFailedBlock = BlockInfo{Height: top}
		return false
	}
	e.maxUsedBlock = BlockInfo{Height: top}
	return true
}

func (p *Pool) invalidateDiffLocked() {
	p.diffCache = make(map[util.Hash]diffCacheEntry)
}

// OnBlockchainInc notifies the pool that the chain advanced to
// newHeight/topID, invalidating every cached readiness verdict.
func (p *Pool) OnBlockchainInc(newHeight util.Height, topID util.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateDiffLocked()
}

// OnBlockchainDec notifies the pool that the chain popped back to
// newHeight/topID (a reorg), invalidating every cached readiness
// verdict.
func (p *Pool) OnBlockchainDec(newHeight util.Height, topID util.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateDiffLocked()
}

// OnIdle removes expired transactions (age beyond mempoolTxLiveTime, or
// mempoolTxFromAltBlockLiveTime for keptByBlock entries) and TTL-expired
// entries, moving their ids into the recently-deleted set.
func (p *Pool) OnIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	nowUnix := uint64(now.Unix())

	for id, deadline := range p.recentlyDeleted {
		if now.After(deadline) {
			delete(p.recentlyDeleted, id)
		}
	}

	var toRemove []*entry
	for _, e := range p.byID {
		liveTime := mempoolTxLiveTime
		if e.keptByBlock {
			liveTime = mempoolTxFromAltBlockLiveTime
		}
		expired := now.Sub(e.receiveTime) > liveTime
		ttlExpired := e.hasTTL && e.ttlDeadline <= nowUnix
		if expired || ttlExpired {
			toRemove = append(toRemove, e)
		}
	}

	for _, e := range toRemove {
		log.Debugf("transaction %s evicted from pool (expired)", e.id)
		p.removeLocked(e)
		p.markDeletedLocked(e.id, now)
	}
}
