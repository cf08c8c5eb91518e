package chain

import (
	"math/big"
	"sort"

	"github.com/go-cnote/cnoted/util"
)

// maxHashTarget is 2^256, the bound CheckProofOfWork compares against:
// a hash passes at difficulty d iff hash * d <= maxHashTarget. This is
// the multiplication form of the reference implementation's check_hash,
// so no target is rounded down by dividing 2^256 by the difficulty.
var maxHashTarget = new(big.Int).Lsh(big.NewInt(1), 256)

// CheckProofOfWork reports whether hash, interpreted as a little-endian
// 256-bit integer (the CryptoNote convention: the hash's low-order bytes
// come first in memory), satisfies difficulty: hash * difficulty <= 2^256.
func CheckProofOfWork(hash util.Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return false
	}
	reversed := make([]byte, util.HashSize)
	for i, b := range hash {
		reversed[util.HashSize-1-i] = b
	}
	h := new(big.Int).SetBytes(reversed)
	h.Mul(h, new(big.Int).SetUint64(difficulty))
	return h.Cmp(maxHashTarget) <= 0
}

// Difficulty window constants, grounded on CryptoNoteConfig.h's
// DIFFICULTY_WINDOW/DIFFICULTY_CUT/DIFFICULTY_LAG/DIFFICULTY_TARGET. Only
// the pre-fork (non "_V1") window is implemented; a later hard fork that
// widens the window to DIFFICULTY_WINDOW_V1 would need its own upgrade
// detector check here, which this cache does not yet have a trigger
// height for (see DESIGN.md).
const (
	difficultyTarget      = 120
	difficultyWindow      = 60
	difficultyCut         = 5
	difficultyLag         = 5
	difficultyBlocksCount = difficultyWindow + difficultyLag
)

// GetDifficultyForNextBlock returns the proof-of-work difficulty a block
// built on top of atHeight must satisfy (nil meaning the current chain
// tip), derived from the timestamps and cumulative difficulties of the
// difficultyBlocksCount blocks preceding it, excluding the genesis
// block.
func (bc *Blockchain) GetDifficultyForNextBlock(atHeight *util.Height) (uint64, error) {
	top := bc.TopHeight()
	if atHeight != nil {
		top = *atHeight
	}

	bc.mu.Lock()
	hasBlocks := bc.hasBlocks
	bc.mu.Unlock()
	if !hasBlocks {
		return 1, nil
	}

	// Walk from height 1 (skip genesis) up to and including top, taking
	// at most the last difficultyBlocksCount entries.
	start := util.Height(1)
	count := uint64(top) // heights 1..top inclusive
	if count > difficultyBlocksCount {
		start = top - difficultyBlocksCount + 1
	}

	var timestamps, cumulative []uint64
	for h := start; h <= top; h++ {
		hash, err := bc.HashAtHeight(h)
		if err != nil {
			return 0, err
		}
		info, err := bc.BlockInfo(hash)
		if err != nil {
			return 0, err
		}
		timestamps = append(timestamps, info.Timestamp)
		cumulative = append(cumulative, info.CumulativeDifficulty)
	}

	return nextDifficulty(timestamps, cumulative), nil
}

// nextDifficulty implements the classic CryptoNote "cut the extremes,
// average the rest" difficulty retarget: sort the window's timestamps,
// drop difficultyCut entries from each end, and divide the surviving
// window's total work by its time span.
func nextDifficulty(timestamps, cumulativeDifficulties []uint64) uint64 {
	if len(timestamps) > difficultyWindow {
		timestamps = timestamps[len(timestamps)-difficultyWindow:]
		cumulativeDifficulties = cumulativeDifficulties[len(cumulativeDifficulties)-difficultyWindow:]
	}

	length := len(timestamps)
	if length <= 1 {
		return 1
	}

	sorted := make([]uint64, length)
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var cutBegin, cutEnd int
	if length <= difficultyWindow-2*difficultyCut {
		cutBegin, cutEnd = 0, length
	} else {
		cutBegin = (length - (difficultyWindow - 2*difficultyCut) + 1) / 2
		cutEnd = cutBegin + (difficultyWindow - 2*difficultyCut)
	}

	timeSpan := sorted[cutEnd-1] - sorted[cutBegin]
	if timeSpan == 0 {
		timeSpan = 1
	}

	totalWork := cumulativeDifficulties[cutEnd-1] - cumulativeDifficulties[cutBegin]

	// totalWork*target can overflow a uint64 at high cumulative
	// difficulty, so the multiply/divide happens in big.Int.
	work := new(big.Int).SetUint64(totalWork)
	target := big.NewInt(difficultyTarget)
	span := new(big.Int).SetUint64(timeSpan)

	numerator := new(big.Int).Mul(work, target)
	numerator.Add(numerator, new(big.Int).Sub(span, big.NewInt(1)))
	result := new(big.Int).Div(numerator, span)

	if !result.IsUint64() {
		return ^uint64(0)
	}
	d := result.Uint64()
	if d == 0 {
		return 1
	}
	return d
}
