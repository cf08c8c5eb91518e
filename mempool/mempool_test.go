package mempool

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/crypto"
	"github.com/go-cnote/cnoted/util"
)

type fakeValidator struct {
	spent   map[util.KeyImage]bool
	failIDs map[util.Hash]bool
	top     util.Height
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{spent: make(map[util.KeyImage]bool), failIDs: make(map[util.Hash]bool)}
}

func (f *fakeValidator) CheckTransactionInputs(tx *core.Transaction, atHeight *util.Height) (util.Amount, error) {
	id := core.Hash(tx)
	if f.failIDs[id] {
		return 0, errors.New("fake: rejected")
	}
	for _, in := range tx.Prefix.Inputs {
		if keyIn, ok := in.(core.InputKey); ok && f.spent[keyIn.KeyImage] {
			return 0, errors.New("fake: spent")
		}
	}
	fee, _ := tx.Fee()
	return fee, nil
}

func (f *fakeValidator) CheckIfSpent(ki util.KeyImage, atHeight *util.Height) (bool, error) {
	return f.spent[ki], nil
}

func (f *fakeValidator) TopHeight() util.Height { return f.top }

// buildSignedTx constructs a single-input, single-output transaction
// with a real (ring size 1) ring signature, so pool tests exercise the
// same PrefixHash/GenerateRingSignatures/CheckRingSignature path the
// blockchain cache's CheckTransactionInputs uses.
func buildSignedTx(t *testing.T, amountIn, amountOut util.Amount, extra []byte) *core.Transaction {
	t.Helper()

	pub, sec, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("generating keys: %v", err)
	}
	ki, err := crypto.GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("generating key image: %v", err)
	}

	outPub, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("generating output keys: %v", err)
	}

	tx := &core.Transaction{
		Prefix: core.TransactionPrefix{
			Version:    1,
			UnlockTime: 0,
			Inputs: []core.Input{
				core.InputKey{Amount: amountIn, RingOffsets: []uint64{0}, KeyImage: ki},
			},
			Outputs: []core.Output{
				{Amount: amountOut, Target: core.OutputKey{OneTimePublicKey: outPub}},
			},
			Extra: extra,
		},
	}

	prefixHash := core.PrefixHash(&tx.Prefix)
	sigs, err := crypto.GenerateRingSignatures(prefixHash, ki, []util.PublicKey{pub}, sec, 0)
	if err != nil {
		t.Fatalf("generating ring signature: %v", err)
	}
	tx.Signatures = [][]util.Signature{sigs}
	return tx
}

func TestAddTxAndTakeTxRoundTrip(t *testing.T) {
	p := New(newFakeValidator())
	tx := buildSignedTx(t, 100, 90, nil)
	id := core.Hash(tx)

	added, shouldRelay, failed := p.AddTx(tx, false)
	if !added || failed {
		t.Fatalf("AddTx: added=%v failed=%v", added, failed)
	}
	if !shouldRelay {
		t.Fatalf("expected shouldRelay true for a fee-bearing transaction")
	}
	if !p.HaveTx(id) {
		t.Fatalf("expected HaveTx true after AddTx")
	}

	got, ok := p.TakeTx(id)
	if !ok {
		t.Fatalf("TakeTx: not found")
	}
	if core.Hash(got) != id {
		t.Fatalf("TakeTx returned a different transaction")
	}
	if p.HaveTx(id) {
		t.Fatalf("expected HaveTx false after TakeTx")
	}
}

func TestAddTxRejectsDoubleSpendAgainstPool(t *testing.T) {
	p := New(newFakeValidator())
	tx1 := buildSignedTx(t, 100, 90, nil)

	added, _, failed := p.AddTx(tx1, false)
	if !added || failed {
		t.Fatalf("first AddTx failed: added=%v failed=%v", added, failed)
	}

	// tx2 reuses tx1's key image by construction: build it, then swap in
	// tx1's key image to simulate a double-spend attempt.
	tx2 := buildSignedTx(t, 100, 95, nil)
	tx2.Prefix.Inputs[0] = core.InputKey{
		Amount:      100,
		RingOffsets: []uint64{0},
		KeyImage:    tx1.Prefix.Inputs[0].(core.InputKey).KeyImage,
	}

	added2, relay2, failed2 := p.AddTx(tx2, false)
	if added2 || relay2 || !failed2 {
		t.Fatalf("expected double-spend rejection, got added=%v relay=%v failed=%v", added2, relay2, failed2)
	}
	if p.Count() != 1 {
		t.Fatalf("expected pool to still hold exactly 1 transaction, got %d", p.Count())
	}
}

func TestAddTxSilentlySucceedsForRecentlyDeleted(t *testing.T) {
	p := New(newFakeValidator())
	tx := buildSignedTx(t, 100, 90, nil)
	id := core.Hash(tx)

	added, _, failed := p.AddTx(tx, false)
	if !added || failed {
		t.Fatalf("setup AddTx failed")
	}
	p.mu.Lock()
	p.removeLocked(p.byID[id])
	p.markDeletedLocked(id, time.Now())
	p.mu.Unlock()

	added2, relay2, failed2 := p.AddTx(tx, false)
	if added2 || relay2 || failed2 {
		t.Fatalf("expected silent no-op re-add, got added=%v relay=%v failed=%v", added2, relay2, failed2)
	}
	if p.HaveTx(id) {
		t.Fatalf("recently-deleted transaction must not enter the pool")
	}
}

func TestFillBlockTemplateFusionFirstThenPriority(t *testing.T) {
	p := New(newFakeValidator())

	fusionInputs := func() []core.Input {
		ins := make([]core.Input, fusionTxMinInputCount)
		for i := range ins {
			pub, sec, _ := crypto.GenerateKeys()
			ki, _ := crypto.GenerateKeyImage(pub, sec)
			ins[i] = core.InputKey{Amount: 1, RingOffsets: []uint64{0}, KeyImage: ki}
		}
		return ins
	}

	buildFusion := func() *core.Transaction {
		outPub, _, _ := crypto.GenerateKeys()
		tx := &core.Transaction{Prefix: core.TransactionPrefix{
			Version: 1,
			Inputs:  fusionInputs(),
			Outputs: []core.Output{{Amount: fusionTxMinInputCount, Target: core.OutputKey{OneTimePublicKey: outPub}}},
		}}
		tx.Signatures = make([][]util.Signature, len(tx.Prefix.Inputs))
		for i := range tx.Signatures {
			tx.Signatures[i] = []util.Signature{{}}
		}
		return tx
	}

	f1 := buildFusion()
	f2 := buildFusion()
	p1 := buildSignedTx(t, 100, 70, nil) // fee 30
	p2 := buildSignedTx(t, 100, 80, nil) // fee 20
	p3 := buildSignedTx(t, 100, 90, nil) // fee 10

	for _, tx := range []*core.Transaction{f1, f2, p3, p1, p2} {
		added, _, failed := p.AddTx(tx, true)
		if !added || failed {
			t.Fatalf("AddTx failed for setup transaction")
		}
	}

	hashes, _, _ := p.FillBlockTemplate(1000000, 1000000)
	if len(hashes) != 5 {
		t.Fatalf("expected all 5 transactions included, got %d", len(hashes))
	}
	order := map[util.Hash]int{}
	for i, h := range hashes {
		order[h] = i
	}
	idF1, idF2 := core.Hash(f1), core.Hash(f2)
	idP1, idP2, idP3 := core.Hash(p1), core.Hash(p2), core.Hash(p3)
	if order[idF1] > order[idP1] || order[idF2] > order[idP1] {
		t.Fatalf("fusion transactions must be ordered before fee-bearing ones")
	}
	if order[idP1] > order[idP2] || order[idP2] > order[idP3] {
		t.Fatalf("expected fee-bearing transactions in descending fee/size priority, got order %v", order)
	}
}

func TestOnIdleRemovesTTLExpired(t *testing.T) {
	p := New(newFakeValidator())

	extra := encodeTTLExtra(t, 1) // deadline 1 second past epoch: already expired
	tx := buildSignedTx(t, 100, 100, extra)

	added, _, failed := p.AddTx(tx, true)
	if !added || failed {
		t.Fatalf("AddTx with TTL (keptByBlock) failed: added=%v failed=%v", added, failed)
	}

	p.OnIdle()
	if p.HaveTx(core.Hash(tx)) {
		t.Fatalf("expected TTL-expired transaction to be evicted by OnIdle")
	}
}

func encodeTTLExtra(t *testing.T, deadline uint64) []byte {
	t.Helper()
	parsed := &core.ParsedExtra{HasTTL: true, TTLSeconds: deadline}
	return core.BuildExtra(parsed)
}
