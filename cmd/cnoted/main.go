// Command cnoted is the node daemon: it opens the on-disk block and
// output indexes, brings up the blockchain cache and transaction pool,
// wires them into the protocol state machine and peer manager, and
// serves P2P connections until interrupted. The wiring order here
// follows app/protocol/protocol.go's component-construction shape --
// storage first, then the caches built on top of it, then the network
// layers built on top of those -- generalized from gRPC flow managers
// to this module's frame-dispatch Context.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/chain"
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/mempool"
	"github.com/go-cnote/cnoted/node"
	"github.com/go-cnote/cnoted/peer"
	"github.com/go-cnote/cnoted/protocol"
	"github.com/go-cnote/cnoted/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cnoted: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, _ := logger.Get(logger.SubsystemTags.CNOD)

	store, err := storage.Open(filepath.Join(cfg.DataDir, "index"))
	if err != nil {
		return errors.Wrap(err, "opening storage")
	}
	defer store.Close()

	bc, err := chain.Open(store)
	if err != nil {
		return errors.Wrap(err, "opening blockchain cache")
	}

	if !bc.HasBlocks() {
		if err := pushGenesis(bc); err != nil {
			return errors.Wrap(err, "pushing genesis block")
		}
	}

	pool := mempool.New(bc)
	n := node.New(bc, pool)

	ownPeerID, err := randomPeerID()
	if err != nil {
		return errors.Wrap(err, "generating peer id")
	}

	protoCfg := protocol.DefaultConfig()
	protoCfg.NetworkID = cfg.NetworkID
	ctx := protocol.NewContext(protoCfg, bc, n, pool, ownPeerID)

	priority, err := cfg.priorityAddresses()
	if err != nil {
		return err
	}
	book := peer.NewAddressBook(priority, cfg.ExclusivePeers)

	peerCfg := peer.DefaultConfig()
	peerCfg.ListenAddr = normalizeListenAddr(cfg.ListenAddr)
	peerCfg.TargetConnections = cfg.TargetConnections
	peerCfg.DialInterval = cfg.DialInterval

	mgr := peer.NewManager(peerCfg, ctx, book)

	go n.Run()
	if err := mgr.Start(); err != nil {
		n.Shutdown()
		return errors.Wrap(err, "starting peer manager")
	}

	log.Infof("cnoted started at height %d", bc.TopHeight())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof("shutting down")
	mgr.Shutdown()
	n.Shutdown()
	return nil
}

// pushGenesis commits the fixed genesis block to an empty chain.
func pushGenesis(bc *chain.Blockchain) error {
	block := buildGenesisBlock()
	raw := encodeGenesisBlock()
	state := chain.NewValidatorState()
	reward := block.BaseTransaction.OutputSum()
	return bc.PushBlock(block, nil, state, uint64(len(raw)), reward, genesisDifficulty, raw)
}

// randomPeerID returns a random 64-bit identifier exchanged during
// HANDSHAKE so a node can recognize and drop a connection to itself,
// mirroring the reference implementation's random peer_id_type chosen
// once at startup.
func randomPeerID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
