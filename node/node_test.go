package node

import (
	"path/filepath"
	"testing"

	"github.com/go-cnote/cnoted/chain"
	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/mempool"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/storage"
	"github.com/go-cnote/cnoted/util"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bc, err := chain.Open(store)
	if err != nil {
		t.Fatalf("opening chain: %v", err)
	}
	return New(bc, mempool.New(bc))
}

// coinbaseOnlyBlock returns the raw encoding of a block with a single
// coinbase transaction and no other transactions, so SubmitBlock never
// needs to resolve anything out of the pool.
func coinbaseOnlyBlock(prev util.Hash, height util.Height, timestamp uint64, reward util.Amount) []byte {
	var pub util.PublicKey
	pub[0] = byte(height) + 1

	block := &core.Block{
		Header: core.BlockHeader{
			MajorVersion:      1,
			MinorVersion:      0,
			Timestamp:         timestamp,
			PreviousBlockHash: prev,
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
	w := serialization.NewWriter()
	core.EncodeBlock(w, block)
	return w.Bytes()
}

func TestSubmitBlockAcceptsGenesisAndSuccessor(t *testing.T) {
	n := newTestNode(t)

	genesisRaw := coinbaseOnlyBlock(util.Hash{}, 0, 1000, 1000000)
	if err := n.SubmitBlock(genesisRaw); err != nil {
		t.Fatalf("submitting genesis: %v", err)
	}
	if n.Chain.TopHeight() != 0 {
		t.Fatalf("expected top height 0 after genesis, got %d", n.Chain.TopHeight())
	}

	genesisBlock, err := core.DecodeBlock(genesisRaw)
	if err != nil {
		t.Fatalf("decoding genesis: %v", err)
	}

	secondRaw := coinbaseOnlyBlock(genesisBlock.Hash(), 1, 1120, 999999)
	if err := n.SubmitBlock(secondRaw); err != nil {
		t.Fatalf("submitting second block: %v", err)
	}
	if n.Chain.TopHeight() != 1 {
		t.Fatalf("expected top height 1, got %d", n.Chain.TopHeight())
	}
}

func TestSubmitBlockRejectsAlreadyKnown(t *testing.T) {
	n := newTestNode(t)

	genesisRaw := coinbaseOnlyBlock(util.Hash{}, 0, 1000, 1000000)
	if err := n.SubmitBlock(genesisRaw); err != nil {
		t.Fatalf("submitting genesis: %v", err)
	}
	if err := n.SubmitBlock(genesisRaw); err == nil {
		t.Fatalf("expected resubmitting the same block to fail")
	}
}

func TestSubmitBlockNotifiesObservers(t *testing.T) {
	n := newTestNode(t)

	var notified []*core.CachedBlockInfo
	n.Subscribe(observerFunc(func(added []*core.CachedBlockInfo) {
		notified = append(notified, added...)
	}))

	genesisRaw := coinbaseOnlyBlock(util.Hash{}, 0, 1000, 1000000)
	if err := n.SubmitBlock(genesisRaw); err != nil {
		t.Fatalf("submitting genesis: %v", err)
	}
	if len(notified) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(notified))
	}
}

type observerFunc func(added []*core.CachedBlockInfo)

func (f observerFunc) BlockchainUpdated(added []*core.CachedBlockInfo) { f(added) }
