package mempool

import (
	"math/bits"
	"time"

	"github.com/go-cnote/cnoted/util"
)

// higherPriority implements the transaction pool's strict weak order on
// (fee, blobSize, receiveTime): prefer the higher fee/blobSize ratio,
// compared by cross-multiplying fee_i*blobSize_j
// against fee_j*blobSize_i in 128 bits (mirroring the reference
// implementation's mul128) so neither side can overflow a 64-bit
// product; on a tie prefer the smaller blob, then the older receive
// time.
func higherPriority(aFee, aSize uint64, aReceive time.Time, bFee, bSize uint64, bReceive time.Time) bool {
	aHi, aLo := bits.Mul64(aFee, bSize)
	bHi, bLo := bits.Mul64(bFee, aSize)
	if aHi != bHi {
		return aHi > bHi
	}
	if aLo != bLo {
		return aLo > bLo
	}
	if aSize != bSize {
		return aSize < bSize
	}
	return aReceive.Before(bReceive)
}

// feeIndex keeps a slice of transaction ids sorted most-profitable
// first, the pool's "byFee" priority-ordered index. Insertion and
// removal are O(n); the pool's expected size keeps
// this well within budget and avoids pulling in an ordered-container
// dependency none of the example pack offers for this exact shape.
type feeIndex struct {
	ids     []util.Hash
	greater func(a, b util.Hash) bool
}

func newFeeIndex(greater func(a, b util.Hash) bool) *feeIndex {
	return &feeIndex{greater: greater}
}

func (f *feeIndex) insert(id util.Hash) {
	i := 0
	for ; i < len(f.ids); i++ {
		if f.greater(id, f.ids[i]) {
			break
		}
	}
	f.ids = append(f.ids, util.Hash{})
	copy(f.ids[i+1:], f.ids[i:])
	f.ids[i] = id
}

func (f *feeIndex) remove(id util.Hash) {
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			return
		}
	}
}

func (f *feeIndex) len() int { return len(f.ids) }
