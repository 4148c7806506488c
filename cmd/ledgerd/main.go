// Command ledgerd is the runnable harness around the ledger core:
// wallet management, a FakeNet-backed simulation that boots a miner
// and a client in one process, and a chain inspector. None of this is
// part of the consensus core itself — it is the ambient operator-
// facing shell a reader expects around it.
package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vrecan/death/v3"
	"go.uber.org/zap"

	"github.com/kilimba/ledgerchain/blockchain"
	"github.com/kilimba/ledgerchain/config"
	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
	"github.com/kilimba/ledgerchain/miner"
	"github.com/kilimba/ledgerchain/network"
	"github.com/kilimba/ledgerchain/node"
	"github.com/kilimba/ledgerchain/storage"
	"github.com/kilimba/ledgerchain/wallet"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerd",
		Short: "ledgerd runs and inspects a small proof-of-work ledger",
	}
	root.AddCommand(newWalletCmd(), newDemoCmd(), newChainCmd())
	return root
}

func newWalletCmd() *cobra.Command {
	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "manage signing identities",
	}

	var nodeID string
	var bits int

	create := &cobra.Command{
		Use:   "create",
		Short: "mint a new keypair and persist it under --node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := wallet.LoadWallets(nodeID)
			if err != nil {
				return err
			}
			addr, err := ws.AddWallet(nodeID, bits)
			if err != nil {
				return err
			}
			fp, err := wallet.ShortFingerprint(addr)
			if err != nil {
				return err
			}
			fmt.Printf("created wallet for node %q\n  address:     %s\n  fingerprint: %s\n", nodeID, addr, fp)
			return nil
		},
	}
	create.Flags().StringVar(&nodeID, "node", "node1", "node identity owning this wallet file")
	create.Flags().IntVar(&bits, "bits", ledgercrypto.DefaultKeyBits, "RSA modulus size in bits")

	list := &cobra.Command{
		Use:   "list",
		Short: "list every address --node holds a key for",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := wallet.LoadWallets(nodeID)
			if err != nil {
				return err
			}
			for _, addr := range ws.GetAllAddresses() {
				fp, err := wallet.ShortFingerprint(addr)
				if err != nil {
					return err
				}
				fmt.Printf("%s  (%s)\n", addr, fp)
			}
			return nil
		},
	}
	list.Flags().StringVar(&nodeID, "node", "node1", "node identity whose wallet file to read")

	walletCmd.AddCommand(create, list)
	return walletCmd
}

func newDemoCmd() *cobra.Command {
	cfg := config.Default()
	var startingGold int64 = 1000

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "boot a miner and a client on an in-process FakeNet, mine a few blocks, and print the resulting chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cfg, startingGold)
		},
	}
	cmd.Flags().Int64Var(&cfg.MiningRounds, "mining-rounds", cfg.MiningRounds, "proof-search burst size per mining attempt")
	cmd.Flags().IntVar(&cfg.RSAKeyBits, "key-bits", cfg.RSAKeyBits, "RSA modulus size for the demo's generated keypairs")
	cmd.Flags().Int64Var(&cfg.DefaultFee, "fee", cfg.DefaultFee, "default transaction fee")
	cmd.Flags().BoolVar(&cfg.PersistBlocks, "persist", cfg.PersistBlocks, "snapshot sealed blocks to an embedded badger store")
	cmd.Flags().StringVar(&cfg.NodeID, "node", cfg.NodeID, "node identity the optional badger store is keyed by")
	cmd.Flags().Int64Var(&startingGold, "starting-gold", startingGold, "genesis balance credited to the client address")
	return cmd
}

func runDemo(cfg config.Config, startingGold int64) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("ledgerd: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	net := network.NewFakeNet()
	defer net.Shutdown()

	minerKP, err := ledgercrypto.GenerateKeypair(cfg.RSAKeyBits)
	if err != nil {
		return err
	}
	minerAddr, err := ledgercrypto.CalcAddress(minerKP.Public)
	if err != nil {
		return err
	}
	m, err := miner.New(minerAddr, minerKP, net, logger, cfg.MiningRounds)
	if err != nil {
		return err
	}

	clientKP, err := ledgercrypto.GenerateKeypair(cfg.RSAKeyBits)
	if err != nil {
		return err
	}
	clientAddr, err := ledgercrypto.CalcAddress(clientKP.Public)
	if err != nil {
		return err
	}
	client, err := node.New(clientAddr, clientKP, net, logger)
	if err != nil {
		return err
	}

	genesis := blockchain.MakeGenesis(map[string]int64{clientAddr: startingGold}, cfg.Target, cfg.DefaultCoinbaseReward)
	if err := m.SetGenesis(genesis); err != nil {
		return err
	}
	if err := client.SetGenesis(genesis); err != nil {
		return err
	}
	// PrepareCandidate (not Initialize) because this command drives
	// FindProof bursts directly from this goroutine below: Initialize
	// would additionally emit a self-addressed START_MINING message
	// that the miner's own FakeNet dispatch goroutine picks up and
	// runs forever, racing this goroutine's direct calls over the same
	// candidate block.
	if err := m.PrepareCandidate(); err != nil {
		return err
	}

	var store storage.BlockStore
	if cfg.PersistBlocks {
		bs, err := storage.OpenBadgerStore(cfg.NodeID)
		if err != nil {
			return fmt.Errorf("ledgerd: open persistence: %w", err)
		}
		store = bs
	}

	stop := installSignalHandler(logger, store)
	defer stop()

	// Seal two blocks directly, running bounded bursts until each one
	// is found.
	for i := 0; i < 2; i++ {
		want := m.LastBlock().ChainLength + 1
		for m.LastBlock().ChainLength < want {
			m.FindProof(true)
		}
		logger.Info("sealed block", zap.Int64("chainLength", m.LastBlock().ChainLength))
	}

	if _, err := client.PostTransaction([]blockchain.Output{{Amount: 25, Address: minerAddr}}, cfg.DefaultFee); err != nil {
		return fmt.Errorf("ledgerd: post transaction: %w", err)
	}
	// Give FakeNet's delivery goroutines a moment to run before the
	// next mining burst picks the transaction up.
	time.Sleep(50 * time.Millisecond)
	m.FindProof(true)

	if store != nil {
		if err := persistChain(store, m); err != nil {
			return fmt.Errorf("ledgerd: persist chain: %w", err)
		}
		logger.Info("persisted chain", zap.String("nodeID", cfg.NodeID))
	}

	return printChain(m.Address(), m.LastBlock(), func(id string) (*blockchain.Block, bool) {
		return m.Block(id)
	})
}

func persistChain(store storage.BlockStore, m *miner.Miner) error {
	head := m.LastBlock()
	for b := head; b != nil; {
		id, err := b.HashVal()
		if err != nil {
			return err
		}
		serialized, err := b.Serialize()
		if err != nil {
			return err
		}
		if err := store.PutBlock(id, serialized); err != nil {
			return err
		}
		if b.IsGenesis() {
			break
		}
		parent, ok := m.Block(b.PrevBlockHash)
		if !ok {
			break
		}
		b = parent
	}
	headID, err := head.HashVal()
	if err != nil {
		return err
	}
	return store.SetHead(headID)
}

// printChain walks from head back to genesis, printing each block's
// identity and proof, alongside a short base58 fingerprint of the
// owner address and each block hash — the way a block explorer
// shortens a hash for a human to eyeball.
func printChain(ownerLabel string, head *blockchain.Block, lookup func(id string) (*blockchain.Block, bool)) error {
	ownerFP, err := wallet.ShortFingerprint(ownerLabel)
	if err != nil {
		return fmt.Errorf("ledgerd: fingerprint owner: %w", err)
	}
	fmt.Printf("chain as seen by %s (%s):\n", ownerLabel, ownerFP)
	for b := head; b != nil; {
		id, err := b.HashVal()
		if err != nil {
			return fmt.Errorf("ledgerd: hash block: %w", err)
		}
		fp, err := wallet.ShortFingerprint(id)
		if err != nil {
			return fmt.Errorf("ledgerd: fingerprint block: %w", err)
		}
		valid, _ := b.HasValidProof()
		fmt.Printf("  #%d  hash=%s (%s)  proof=%d  validProof=%v  prev=%s\n", b.ChainLength, id, fp, b.Proof, valid, b.PrevBlockHash)
		if b.IsGenesis() {
			return nil
		}
		parent, ok := lookup(b.PrevBlockHash)
		if !ok {
			return nil
		}
		b = parent
	}
	return nil
}

// newChainCmd groups standalone chain-inspection subcommands that
// operate on a node's persisted badger store, independent of any
// live demo run.
func newChainCmd() *cobra.Command {
	chainCmd := &cobra.Command{
		Use:   "chain",
		Short: "inspect a node's persisted chain",
	}

	var nodeID string
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "print --node's persisted chain, from head back to genesis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPersistedChain(nodeID)
		},
	}
	printCmd.Flags().StringVar(&nodeID, "node", "node1", "node identity whose persisted store to read")

	chainCmd.AddCommand(printCmd)
	return chainCmd
}

func printPersistedChain(nodeID string) error {
	store, err := storage.OpenBadgerStore(nodeID)
	if err != nil {
		return fmt.Errorf("ledgerd: open persistence: %w", err)
	}
	defer store.Close() //nolint:errcheck

	lookup := func(id string) (*blockchain.Block, bool) {
		serialized, ok, err := store.GetBlock(id)
		if err != nil || !ok {
			return nil, false
		}
		b, err := blockchain.Deserialize(serialized)
		if err != nil {
			return nil, false
		}
		return b, true
	}

	headID, ok, err := store.Head()
	if err != nil {
		return fmt.Errorf("ledgerd: read head: %w", err)
	}
	if !ok {
		return fmt.Errorf("ledgerd: node %q has no persisted chain (run `demo --persist --node %s` first)", nodeID, nodeID)
	}
	head, ok := lookup(headID)
	if !ok {
		return fmt.Errorf("ledgerd: head block %q not found in node %q's store", headID, nodeID)
	}

	return printChain(nodeID, head, lookup)
}

// installSignalHandler uses vrecan/death to flush an optional
// BlockStore on SIGINT/SIGTERM. The returned stop function is a no-op
// placeholder for callers that outlive the demo command (a
// long-running `node start` would use it to unregister cleanly).
func installSignalHandler(logger *zap.Logger, store storage.BlockStore) func() {
	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go d.WaitForDeathWithFunc(func() {
		logger.Info("shutting down")
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("close failed during shutdown", zap.Error(err))
			}
		}
		os.Exit(0)
	})
	return func() {}
}
