// Package config collects the consensus-adjacent tunables as fixed
// constants into a struct a CLI can override per run, cobra flags
// feeding an explicit struct instead of mutating globals.
package config

import (
	"github.com/holiman/uint256"

	"github.com/kilimba/ledgerchain/blockchain"
)

// Config holds every value a node or miner needs that is not itself
// part of the consensus state: key size, default fee/reward, mining
// batch size, confirmation depth, and the proof-of-work target.
type Config struct {
	// RSAKeyBits is the modulus size new keypairs are generated with.
	RSAKeyBits int

	// DefaultFee is the fee the demo command passes to
	// PostTransaction.
	DefaultFee int64

	// DefaultCoinbaseReward is the coinbase reward given to the genesis
	// block. Miners' candidate blocks always use
	// blockchain.DefaultCoinbaseReward, whatever this field holds.
	DefaultCoinbaseReward int64

	// MiningRounds is the batch size a miner's proof search burst
	// runs before yielding back to the scheduler.
	MiningRounds int64

	// ConfirmationDepth is how many blocks behind the chain head a
	// node's confirmed-balance pointer trails. Nodes use
	// node.DefaultConfirmationDepth and do not read this field.
	ConfirmationDepth int64

	// Target is the proof-of-work threshold given to the genesis block.
	// Miners' candidate blocks are always built with
	// blockchain.HitPowTarget, whatever this field holds.
	Target *uint256.Int

	// NodeID names this process's on-disk state (wallet file,
	// optional badger directory) so multiple local nodes don't
	// collide.
	NodeID string

	// PersistBlocks enables the optional badger-backed BlockStore.
	PersistBlocks bool

	// ListenAddress names a network address for this participant. No
	// code reads it: participants register on the Network under the
	// address derived from their public key.
	ListenAddress string
}

// Default returns this domain's usual constants, as the starting
// point for any flag overrides a CLI applies.
func Default() Config {
	return Config{
		RSAKeyBits:            1024,
		DefaultFee:            1,
		DefaultCoinbaseReward: blockchain.DefaultCoinbaseReward,
		MiningRounds:          2000,
		ConfirmationDepth:     6,
		Target:                blockchain.HitPowTarget,
		NodeID:                "node1",
		PersistBlocks:         false,
		ListenAddress:         "node1",
	}
}
