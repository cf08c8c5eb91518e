package serialization

import "github.com/go-cnote/cnoted/util"

// TreeHash computes the transaction-tree root over hashes, pairing adjacent
// hashes up the tree. When the count is not a power of two, the trailing
// hashes are paired first so that cnt hashes remain, cnt being the largest
// power of two not exceeding the count (the leading 2*cnt-count hashes
// carry over unchanged), mirroring Bytecoin's tree_hash definition (as
// opposed to Bitcoin's convention of duplicating the final odd hash).
//
// TreeHash panics on an empty slice; callers always have at least the
// coinbase transaction's hash to seed the list.
func TreeHash(hashes []util.Hash) util.Hash {
	switch len(hashes) {
	case 0:
		panic("serialization: TreeHash called with no hashes")
	case 1:
		return hashes[0]
	case 2:
		return hashPair(hashes[0], hashes[1])
	}

	cnt := largestPowerOfTwoNotExceeding(len(hashes))
	prefixLen := 2*cnt - len(hashes)

	working := make([]util.Hash, cnt)
	copy(working[:prefixLen], hashes[:prefixLen])
	for i, j := prefixLen, prefixLen; j < cnt; i, j = i+2, j+1 {
		working[j] = hashPair(hashes[i], hashes[i+1])
	}

	for len(working) > 1 {
		next := make([]util.Hash, len(working)/2)
		for i := range next {
			next[i] = hashPair(working[2*i], working[2*i+1])
		}
		working = next
	}
	return working[0]
}

func hashPair(a, b util.Hash) util.Hash {
	buf := make([]byte, 0, 2*util.HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return Keccak256(buf)
}

func largestPowerOfTwoNotExceeding(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
