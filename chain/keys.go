package chain

import (
	"encoding/binary"

	"github.com/go-cnote/cnoted/util"
)

// Key prefixes for the goleveldb key space. Each index lives under its
// own single-byte prefix so storage.Store.Cursor can walk exactly one
// index without touching the others: UTXO indexes,
// spent-key-image set, and the secondary paymentId/timestamp indexes.
const (
	prefixRawBlock       = 'b' // hash -> raw block bytes
	prefixHeightToHash   = 'i' // height(4) -> hash
	prefixBlockInfo      = 'h' // hash -> CachedBlockInfo
	prefixOutputCount    = 'c' // amount(8) -> count
	prefixPackedOutIndex = 'o' // amount(8) globalIndex(4) -> PackedOutIndex
	prefixKeyOutputInfo  = 'k' // amount(8) globalIndex(4) -> KeyOutputInfo
	prefixSpentKeyImage  = 's' // keyImage(32) -> height(4)
	prefixPaymentID      = 'p' // paymentID txHash -> nil (set)
	prefixTimestampTx    = 't' // timestamp(8) txHash -> nil (set)
	prefixTimestampBlock = 'd' // dayBucket(8) blockHash -> nil (set)
	prefixGeneratedCount = 'g' // height(4) -> generated tx count(8)
	prefixCachedTx       = 'x' // txHash -> CachedTransaction
	prefixPushedBlock    = 'u' // height(4) -> PushedBlockInfo
	prefixOrphan         = 'r' // height(4) orphanHash -> nil (set)
	prefixTop            = 'T' // singleton -> height(uvarint) hash(32)
	prefixHashToHeight   = 'H' // hash -> height(4), inverse of prefixHeightToHash
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func heightKey(prefix byte, h util.Height) []byte {
	k := make([]byte, 1+4)
	k[0] = prefix
	binary.BigEndian.PutUint32(k[1:], uint32(h))
	return k
}

func hashKey(prefix byte, h util.Hash) []byte {
	k := make([]byte, 1+util.HashSize)
	k[0] = prefix
	copy(k[1:], h[:])
	return k
}

func amountIndexKey(prefix byte, amount util.Amount, globalIndex util.GlobalOutputIndex) []byte {
	k := make([]byte, 1+8+4)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:9], uint64(amount))
	binary.BigEndian.PutUint32(k[9:], uint32(globalIndex))
	return k
}

func amountCountKey(amount util.Amount) []byte {
	k := make([]byte, 1+8)
	k[0] = prefixOutputCount
	binary.BigEndian.PutUint64(k[1:], uint64(amount))
	return k
}

func spentKeyImageKey(ki util.KeyImage) []byte {
	return hashKey(prefixSpentKeyImage, util.Hash(ki))
}

func paymentIDKey(paymentID []byte, txHash util.Hash) []byte {
	k := make([]byte, 1+len(paymentID)+util.HashSize)
	k[0] = prefixPaymentID
	n := copy(k[1:], paymentID)
	copy(k[1+n:], txHash[:])
	return k
}

// dayBucket truncates a UNIX timestamp down to a midnight boundary, the
// granularity getBlockHeightForTimestamp walks backward over.
func dayBucket(timestamp uint64) uint64 {
	const secondsPerDay = 86400
	return (timestamp / secondsPerDay) * secondsPerDay
}

func timestampBlockKey(timestamp uint64, blockHash util.Hash) []byte {
	k := make([]byte, 1+8+util.HashSize)
	k[0] = prefixTimestampBlock
	binary.BigEndian.PutUint64(k[1:9], dayBucket(timestamp))
	copy(k[9:], blockHash[:])
	return k
}

func timestampTxKey(timestamp uint64, txHash util.Hash) []byte {
	k := make([]byte, 1+8+util.HashSize)
	k[0] = prefixTimestampTx
	binary.BigEndian.PutUint64(k[1:9], timestamp)
	copy(k[9:], txHash[:])
	return k
}
