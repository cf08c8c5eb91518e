package chain

import (
	"sync"

	"github.com/go-cnote/cnoted/util"
)

// upgradeVotingWindow/upgradeVotingThresholdPercent/upgradeWindow mirror
// CryptoNoteConfig.h's UPGRADE_VOTING_WINDOW (one day of blocks at the
// configured difficulty target), UPGRADE_VOTING_THRESHOLD (90%), and
// UPGRADE_WINDOW (also one day), grounded on UpgradeDetector.h.
const (
	upgradeVotingWindow           = 720
	upgradeVotingThresholdPercent = 90
	upgradeWindow                 = 720
)

type blockVersionVote struct {
	height util.Height
	major  byte
	minor  byte
}

// upgradeDetector tracks, for every prospective target major version,
// whether a sliding window of the most recent blocks has voted in favor
// of upgrading to it. The vote-counting rule -- majorVersion ==
// targetVersion-1 AND minorVersion == 1 -- is preserved verbatim from
// the reference implementation; see DESIGN.md for why this stays
// unchanged even though it reads oddly in isolation.
type upgradeDetector struct {
	mu             sync.Mutex
	window         []blockVersionVote
	votingComplete map[byte]util.Height
}

func newUpgradeDetector() *upgradeDetector {
	return &upgradeDetector{votingComplete: make(map[byte]util.Height)}
}

// observeBlock records a newly pushed block's version into the voting
// window and, once the window is full, checks whether the next major
// version's vote threshold has just been reached.
func (d *upgradeDetector) observeBlock(height util.Height, major, minor byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = append(d.window, blockVersionVote{height: height, major: major, minor: minor})
	if len(d.window) > upgradeVotingWindow {
		d.window = d.window[len(d.window)-upgradeVotingWindow:]
	}
	if len(d.window) < upgradeVotingWindow {
		return
	}

	targetVersion := major + 1
	if _, already := d.votingComplete[targetVersion]; already {
		return
	}

	votes := 0
	for _, v := range d.window {
		if v.major == targetVersion-1 && v.minor == 1 {
			votes++
		}
	}
	if votes*100 >= upgradeVotingThresholdPercent*len(d.window) {
		d.votingComplete[targetVersion] = height
	}
}

// cancelPoppedVotes drops any recorded voting-complete height that lies
// above newTopHeight after a split/reorg pops blocks off: popping
// blocks before votingCompleteHeight cancels the upgrade.
func (d *upgradeDetector) cancelPoppedVotes(newTopHeight util.Height) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for v, h := range d.votingComplete {
		if newTopHeight < h {
			delete(d.votingComplete, v)
		}
	}
	kept := d.window[:0]
	for _, v := range d.window {
		if v.height <= newTopHeight {
			kept = append(kept, v)
		}
	}
	d.window = kept
}

func (d *upgradeDetector) votingCompleteHeight(targetVersion byte) (util.Height, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.votingComplete[targetVersion]
	return h, ok
}

func (d *upgradeDetector) upgradeHeight(targetVersion byte) (util.Height, bool) {
	h, ok := d.votingCompleteHeight(targetVersion)
	if !ok {
		return 0, false
	}
	return h + upgradeWindow, true
}

// VotingCompleteHeight reports the height at which targetVersion's
// upgrade vote threshold was reached, if it has been.
func (bc *Blockchain) VotingCompleteHeight(targetVersion byte) (util.Height, bool) {
	return bc.upgrade.votingCompleteHeight(targetVersion)
}

// UpgradeHeight reports the height after which blocks must carry
// targetVersion as their major version, if voting for it has completed.
func (bc *Blockchain) UpgradeHeight(targetVersion byte) (util.Height, bool) {
	return bc.upgrade.upgradeHeight(targetVersion)
}
