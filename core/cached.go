package core

import "github.com/go-cnote/cnoted/util"

// CachedBlockInfo is the per-indexed-block summary the blockchain cache
// keeps in its bounded unitsCache and persists alongside the raw block.
type CachedBlockInfo struct {
	Hash                         util.Hash
	Timestamp                    uint64
	CumulativeDifficulty         uint64
	AlreadyGeneratedCoins        util.Amount
	AlreadyGeneratedTransactions uint64
	BlockSize                    uint64
}

// CachedTransaction is the per-transaction summary the blockchain cache
// indexes a committed transaction by. OutputTargets and GlobalIndexes are parallel
// slices: GlobalIndexes[i] is the global output index allocated to
// OutputTargets[i] (meaningful only for Key outputs; multisig outputs
// do not participate in the global-index space).
type CachedTransaction struct {
	BlockIndex       util.Height
	TransactionIndex uint32
	Hash             util.Hash
	UnlockTime       uint64
	OutputTargets    []OutputTarget
	OutputAmounts    []util.Amount
	GlobalIndexes    []util.GlobalOutputIndex
	PaymentID        []byte
}

// PackedOutIndex locates a key output's owning transaction, via the
// "(amount, globalIndex) -> PackedOutIndex" mapping.
type PackedOutIndex struct {
	BlockIndex       util.Height
	TransactionIndex uint32
	OutputIndex      uint32
}

// KeyOutputInfo is the denormalized per-output record the blockchain
// cache stores so random-output sampling and key-image derivation never
// need to re-read the owning transaction, via the
// "(amount, globalIndex) -> KeyOutputInfo" mapping.
type KeyOutputInfo struct {
	PublicKey       util.PublicKey
	TransactionHash util.Hash
	UnlockTime      uint64
	OutputIndex     uint32
}

// PushedBlockInfo bundles everything split needs to restore a popped
// block verbatim: the raw bytes, the validator state it was pushed with,
// and the accounting fields pushBlock recorded alongside it.
type PushedBlockInfo struct {
	RawBlock          []byte
	BlockSize         uint64
	GeneratedCoins    util.Amount
	BlockDifficulty   uint64
	SpentKeyImages    []util.KeyImage
	TransactionHashes []util.Hash
}
