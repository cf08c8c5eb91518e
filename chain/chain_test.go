package chain

import (
	"path/filepath"
	"testing"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/storage"
	"github.com/go-cnote/cnoted/util"
)

func openTestChain(t *testing.T) *Blockchain {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bc, err := Open(store)
	if err != nil {
		t.Fatalf("opening chain: %v", err)
	}
	return bc
}

func coinbaseBlock(t *testing.T, prev util.Hash, height util.Height, timestamp uint64, reward util.Amount) *core.Block {
	t.Helper()
	var pub util.PublicKey
	pub[0] = byte(height) + 1

	return &core.Block{
		Header: core.BlockHeader{
			MajorVersion:      1,
			MinorVersion:      0,
			Timestamp:         timestamp,
			PreviousBlockHash: prev,
			Nonce:             uint32(height),
		},
		BaseTransaction: core.Transaction{
			Prefix: core.TransactionPrefix{
				Version:    1,
				UnlockTime: 0,
				Inputs:     []core.Input{core.InputCoinbase{Height: height}},
				Outputs: []core.Output{
					{Amount: reward, Target: core.OutputKey{OneTimePublicKey: pub}},
				},
			},
		},
	}
}

func TestPushBlockGenesisAndSuccessor(t *testing.T) {
	bc := openTestChain(t)

	if bc.HasBlocks() {
		t.Fatalf("freshly opened chain should report no blocks")
	}

	genesis := coinbaseBlock(t, util.Hash{}, 0, 1000, 1000000)
	genesisHash := genesis.Hash()
	if err := bc.PushBlock(genesis, nil, NewValidatorState(), 256, 1000000, 1, []byte("genesis-raw")); err != nil {
		t.Fatalf("pushing genesis: %v", err)
	}
	if !bc.HasBlocks() {
		t.Fatalf("chain should report blocks after pushing genesis")
	}
	if bc.TopHeight() != 0 {
		t.Fatalf("expected top height 0, got %d", bc.TopHeight())
	}
	if bc.TopHash() != genesisHash {
		t.Fatalf("top hash mismatch after genesis push")
	}

	second := coinbaseBlock(t, genesisHash, 1, 1120, 999999)
	secondHash := second.Hash()
	if err := bc.PushBlock(second, nil, NewValidatorState(), 256, 999999, 1, []byte("second-raw")); err != nil {
		t.Fatalf("pushing second block: %v", err)
	}
	if bc.TopHeight() != 1 {
		t.Fatalf("expected top height 1, got %d", bc.TopHeight())
	}

	info, err := bc.BlockInfo(secondHash)
	if err != nil {
		t.Fatalf("reading block info: %v", err)
	}
	if info.CumulativeDifficulty != 2 {
		t.Fatalf("expected cumulative difficulty 2, got %d", info.CumulativeDifficulty)
	}

	raw, known, err := bc.RawBlock(secondHash)
	if err != nil || !known {
		t.Fatalf("expected second block to be known, err=%v known=%v", err, known)
	}
	if string(raw) != "second-raw" {
		t.Fatalf("unexpected raw block bytes: %q", raw)
	}

	if _, known, err := bc.RawBlock(util.Hash{}); err != nil || known {
		t.Fatalf("zero hash lookup should report not-known with no error, got known=%v err=%v", known, err)
	}
}

func TestPushBlockWrongPreviousHash(t *testing.T) {
	bc := openTestChain(t)

	genesis := coinbaseBlock(t, util.Hash{}, 0, 1000, 1000000)
	if err := bc.PushBlock(genesis, nil, NewValidatorState(), 256, 1000000, 1, []byte("genesis-raw")); err != nil {
		t.Fatalf("pushing genesis: %v", err)
	}

	var wrongPrev util.Hash
	wrongPrev[0] = 0xff
	bad := coinbaseBlock(t, wrongPrev, 1, 1100, 1)
	if err := bc.PushBlock(bad, nil, NewValidatorState(), 64, 1, 1, []byte("bad-raw")); err == nil {
		t.Fatalf("expected ErrWrongPreviousHash, got nil")
	}
}

func TestGetDifficultyForNextBlockEmptyChain(t *testing.T) {
	bc := openTestChain(t)
	d, err := bc.GetDifficultyForNextBlock(nil)
	if err != nil {
		t.Fatalf("computing difficulty on empty chain: %v", err)
	}
	if d != 1 {
		t.Fatalf("expected difficulty 1 for an empty chain, got %d", d)
	}
}

func TestCheckProofOfWork(t *testing.T) {
	var easy util.Hash
	for i := range easy {
		easy[i] = 0xff
	}
	if !CheckProofOfWork(easy, 1) {
		t.Fatalf("an all-0xff hash should satisfy difficulty 1")
	}

	var hard util.Hash
	hard[util.HashSize-1] = 0x80 // little-endian value 2^255, a very large target
	if CheckProofOfWork(hard, ^uint64(0)) {
		t.Fatalf("a near-maximal hash should not satisfy the highest difficulty")
	}

	if CheckProofOfWork(easy, 0) {
		t.Fatalf("difficulty 0 should never be satisfied")
	}
}
