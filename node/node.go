// Package node wires the blockchain cache (C4) and transaction pool (C5)
// together into the single BlockSubmitter the protocol handler (C6)
// and the local miner depend on: the orchestration layer cmd/cnoted's
// daemon entrypoint constructs once and hands to both the protocol
// context and the peer manager. It has no teacher analogue of its own
// (app/protocol/protocol.go's Run/component-construction shape covers
// the equivalent wiring for the DAG core) but follows the same
// "construct every component, wire callbacks, expose one Run/Shutdown
// pair" idiom SPEC_FULL.md's cmd/cnoted section calls for.
package node

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/chain"
	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/crypto"
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
	"github.com/go-cnote/cnoted/mempool"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.CNOD)
}

// idlePeriod is how often Run calls the pool's OnIdle (expiry), the
// counterpart of the reference implementation's periodic
// TransactionPool::on_idle timer. No other housekeeping, the upgrade
// detector's included, runs on this timer.
const idlePeriod = 30 * time.Second

// Observer receives the blockchainUpdated notification of spec §6 each
// time SubmitBlock commits a new block. blockchainSynchronized,
// lastKnownBlockHeightUpdated and peerCountUpdated are driven directly by
// the protocol/peer layers (SetOnObservedHeightChanged and the peer
// manager's connection count) and are not this package's concern.
type Observer interface {
	BlockchainUpdated(added []*core.CachedBlockInfo)
}

// Node owns the blockchain cache and transaction pool for the lifetime
// of the daemon process and implements protocol.BlockSubmitter by
// resolving a relayed block's transactions out of the pool before
// calling chain.PushBlock, exactly as the reference implementation's
// Core::addNewBlock pulls referenced transactions from its own mempool.
type Node struct {
	Chain *chain.Blockchain
	Pool  *mempool.Pool

	observersMu sync.Mutex
	observers   []Observer

	stopChan chan struct{}
}

// New returns a Node wrapping an already-open chain and pool.
func New(bc *chain.Blockchain, pool *mempool.Pool) *Node {
	return &Node{
		Chain:    bc,
		Pool:     pool,
		stopChan: make(chan struct{}),
	}
}

// Subscribe registers an observer for blockchain/pool change notifications.
func (n *Node) Subscribe(o Observer) {
	n.observersMu.Lock()
	defer n.observersMu.Unlock()
	n.observers = append(n.observers, o)
}

func (n *Node) notifyBlockchain(added []*core.CachedBlockInfo) {
	n.observersMu.Lock()
	obs := append([]Observer(nil), n.observers...)
	n.observersMu.Unlock()
	for _, o := range obs {
		o.BlockchainUpdated(added)
	}
}

// SubmitBlock decodes rawBlock, resolves every referenced transaction
// out of the pool (removing each from pool bookkeeping as it is claimed,
// mirroring the reference implementation's tx_pool::take_tx), validates
// proof of work and every transaction's inputs, and commits the block
// via chain.PushBlock. It satisfies protocol.BlockSubmitter.
func (n *Node) SubmitBlock(rawBlock []byte) error {
	block, err := core.DecodeBlock(rawBlock)
	if err != nil {
		return errors.Wrap(err, "node: decoding submitted block")
	}

	blockHash := block.Hash()
	if _, known, err := n.Chain.RawBlock(blockHash); err != nil {
		return errors.Wrap(err, "node: checking for already-known block")
	} else if known {
		return errors.Wrap(ErrAlreadyExists, "node: block already known")
	}

	transactions := make([]*core.Transaction, 0, len(block.TransactionHashes))
	for _, id := range block.TransactionHashes {
		tx, ok := n.Pool.TakeTx(id)
		if !ok {
			return errors.Errorf("node: block references transaction %s not present in pool", id)
		}
		transactions = append(transactions, tx)
	}

	difficulty, err := n.Chain.GetDifficultyForNextBlock(nil)
	if err != nil {
		return errors.Wrap(err, "node: computing required difficulty")
	}
	powHash, err := powHashForBlock(block)
	if err != nil {
		return errors.Wrap(err, "node: computing proof-of-work hash")
	}
	if !chain.CheckProofOfWork(powHash, difficulty) {
		return errors.New("node: block does not satisfy required difficulty")
	}

	state := chain.NewValidatorState()
	fees := util.Amount(0)
	for _, tx := range transactions {
		fee, err := n.Chain.CheckTransactionInputs(tx, nil)
		if err != nil {
			return errors.Wrap(err, "node: validating transaction inputs")
		}
		fees += fee
	}

	// alreadyGeneratedCoins tracks money-supply growth, not the coinbase
	// output total: the coinbase pays out both the block reward and the
	// fees it collects from the included transactions, so the reward
	// alone is the coinbase sum less those fees.
	generatedCoins := block.BaseTransaction.OutputSum()
	if generatedCoins >= fees {
		generatedCoins -= fees
	} else {
		generatedCoins = 0
	}

	blockSize := uint64(len(rawBlock))
	if err := n.Chain.PushBlock(block, transactions, state, blockSize, generatedCoins, difficulty, rawBlock); err != nil {
		for _, tx := range transactions {
			n.Pool.AddTx(tx, true)
		}
		return errors.Wrap(err, "node: pushing block")
	}

	n.Pool.OnBlockchainInc(n.Chain.TopHeight(), blockHash)
	log.Debugf("accepted block %s at height %d", blockHash, n.Chain.TopHeight())

	info, err := n.Chain.BlockInfo(blockHash)
	if err == nil {
		n.notifyBlockchain([]*core.CachedBlockInfo{info})
	}
	return nil
}

// ErrAlreadyExists mirrors §7's AlreadyExists error kind: a re-offered
// known block goes idle rather than being treated as a failure.
var ErrAlreadyExists = errors.New("node: block already exists")

// powHashForBlock computes the slow hash over the block's full
// core.EncodeBlock encoding. It does not use the header, Merkle root and
// transaction count that Block.Hash hashes, and for a merge-mined (major
// version >= 2) block it does not select the parent block header, so the
// PoW input and the block's identity hash are computed over different
// bytes.
func powHashForBlock(b *core.Block) (util.Hash, error) {
	w := serialization.NewWriter()
	core.EncodeBlock(w, b)
	return crypto.CnSlowHash(w.Bytes())
}

// Run drives the periodic housekeeping the reference daemon's main loop
// performs: pool expiry (OnIdle). Call in its own goroutine; Shutdown
// stops it.
func (n *Node) Run() {
	ticker := time.NewTicker(idlePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopChan:
			return
		case <-ticker.C:
			n.Pool.OnIdle()
		}
	}
}

// Shutdown stops Run's housekeeping loop.
func (n *Node) Shutdown() {
	close(n.stopChan)
}
