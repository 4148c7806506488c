// Package node implements a blockchain client: a participant that
// holds a keypair, tracks every block it has accepted, resolves forks
// by chain length, and posts signed transactions on its owner's
// behalf.
package node

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kilimba/ledgerchain/blockchain"
	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
	"github.com/kilimba/ledgerchain/network"
)

// DefaultConfirmationDepth is the number of blocks behind lastBlock
// that lastConfirmedBlock trails.
const DefaultConfirmationDepth int64 = 6

// DefaultFee is the standard transaction fee. PostTransaction has no
// implicit fee: callers pass this value (or another fee) explicitly.
const DefaultFee int64 = 1

// missingBlockRequest is the wire payload a MISSING_BLOCK message
// carries.
type missingBlockRequest struct {
	From    string `json:"from"`
	Missing string `json:"missing"`
}

// handlerFunc is the shape every registered message handler has.
type handlerFunc func(from string, payload []byte)

// Node is a blockchain client: it can post transactions on its own
// behalf and validate blocks it receives, but it neither mines nor
// searches for proofs of its own — that is Miner's job.
type Node struct {
	keypair    *ledgercrypto.KeyPair
	address    string
	pubKeyText string
	net        network.Network
	Logger     *zap.Logger

	confirmationDepth int64

	nonce        int64
	pendingSpent int64

	blocks             map[string]*blockchain.Block
	pendingBlocks      map[string][]*blockchain.Block
	requestedMissing   map[string]bool
	lastBlock          *blockchain.Block
	lastConfirmedBlock *blockchain.Block

	handlers map[network.MessageKind]handlerFunc
}

// New constructs a Node bound to net under address, signing with kp.
// logger may be nil (a no-op logger is substituted).
func New(address string, kp *ledgercrypto.KeyPair, net network.Network, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubText, err := ledgercrypto.PublicKeyText(kp.Public)
	if err != nil {
		return nil, fmt.Errorf("node: render public key: %w", err)
	}

	n := &Node{
		keypair:           kp,
		address:           address,
		pubKeyText:        pubText,
		net:               net,
		Logger:            logger,
		confirmationDepth: DefaultConfirmationDepth,
		blocks:            make(map[string]*blockchain.Block),
		pendingBlocks:     make(map[string][]*blockchain.Block),
		requestedMissing:  make(map[string]bool),
		handlers:          make(map[network.MessageKind]handlerFunc),
	}
	n.handlers[network.ProofFound] = n.handleProofFound
	n.handlers[network.MissingBlock] = n.handleMissingBlock

	if net != nil {
		net.Register(n)
	}
	return n, nil
}

// Address implements network.Handler.
func (n *Node) Address() string { return n.address }

// Keypair returns this node's signing identity.
func (n *Node) Keypair() *ledgercrypto.KeyPair { return n.keypair }

// SetHandler overrides or installs a handler for kind. Miner uses
// this to additionally wire POST_TRANSACTION and START_MINING, and to
// layer its own fork-reaction behavior atop PROOF_FOUND.
func (n *Node) SetHandler(kind network.MessageKind, fn func(from string, payload []byte)) {
	n.handlers[kind] = fn
}

// Handle implements network.Handler: it is called at most once at a
// time per participant under the cooperative scheduling model, so
// none of the state Handle touches needs its own locking.
func (n *Node) Handle(from string, kind network.MessageKind, payload []byte) {
	fn, ok := n.handlers[kind]
	if !ok {
		return
	}
	fn(from, payload)
}

func (n *Node) handleProofFound(from string, payload []byte) {
	if _, err := n.ReceiveBlock(string(payload)); err != nil {
		n.Logger.Warn("receiveBlock failed", zap.String("from", from), zap.Error(err))
	}
}

func (n *Node) handleMissingBlock(from string, payload []byte) {
	if err := n.ProvideMissingBlock(string(payload)); err != nil {
		n.Logger.Warn("provideMissingBlock failed", zap.String("from", from), zap.Error(err))
	}
}

// SetGenesis installs genesis as this node's first block. It fails if
// a genesis (or any block) has already been set.
func (n *Node) SetGenesis(genesis *blockchain.Block) error {
	if n.lastBlock != nil {
		return errors.New("node: genesis block already set")
	}
	id, err := genesis.HashVal()
	if err != nil {
		return fmt.Errorf("node: hash genesis block: %w", err)
	}
	n.blocks[id] = genesis
	n.lastBlock = genesis
	n.lastConfirmedBlock = genesis
	return nil
}

// LastBlock is the head of this node's preferred chain.
func (n *Node) LastBlock() *blockchain.Block { return n.lastBlock }

// LastConfirmedBlock is the ancestor of LastBlock, confirmationDepth
// blocks back, that this node considers unlikely to roll back.
func (n *Node) LastConfirmedBlock() *blockchain.Block { return n.lastConfirmedBlock }

// Block looks up a block this node has accepted, by id.
func (n *Node) Block(id string) (*blockchain.Block, bool) {
	b, ok := n.blocks[id]
	return b, ok
}

// AvailableGold is the confirmed balance of this node's address minus
// whatever it has already committed to pending, unconfirmed spends.
func (n *Node) AvailableGold() int64 {
	if n.lastConfirmedBlock == nil {
		return 0
	}
	return n.lastConfirmedBlock.BalanceOf(n.address) - n.pendingSpent
}

// PostTransaction builds, signs, and broadcasts a transaction paying
// outputs from this node's address, failing if the total exceeds
// AvailableGold.
func (n *Node) PostTransaction(outputs []blockchain.Output, fee int64) (blockchain.Transaction, error) {
	total := fee
	for _, out := range outputs {
		total += out.Amount
	}

	available := n.AvailableGold()
	if total > available {
		return blockchain.Transaction{}, fmt.Errorf("node: insufficient funds: want %d, have %d", total, available)
	}

	tx := blockchain.New(blockchain.NewTransactionParams{
		From:    n.address,
		Nonce:   n.nonce,
		PubKey:  n.pubKeyText,
		Outputs: outputs,
		Fee:     fee,
	})
	if err := tx.Sign(n.keypair); err != nil {
		return blockchain.Transaction{}, fmt.Errorf("node: sign transaction: %w", err)
	}
	n.nonce++
	n.pendingSpent += total

	payload, err := json.Marshal(tx)
	if err != nil {
		return tx, fmt.Errorf("node: marshal transaction: %w", err)
	}
	n.net.Broadcast(n.address, network.PostTransaction, payload)
	return tx, nil
}

// ReceiveBlock deserializes raw and attempts to accept it: dedupe,
// proof check, parent lookup (or orphan queueing), rerun, insertion,
// chain-head advance, and recursive orphan resolution. It returns the
// accepted block, or nil with no error if the block was rejected or
// deferred — block-level rejections are recovered locally, not
// surfaced as errors.
func (n *Node) ReceiveBlock(raw string) (*blockchain.Block, error) {
	block, err := blockchain.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("node: deserialize block: %w", err)
	}
	return n.acceptBlock(block)
}

func (n *Node) acceptBlock(block *blockchain.Block) (*blockchain.Block, error) {
	id, err := block.HashVal()
	if err != nil {
		return nil, fmt.Errorf("node: hash block: %w", err)
	}

	if _, exists := n.blocks[id]; exists {
		n.Logger.Debug("acceptBlock: duplicate", zap.String("block", id))
		return nil, nil
	}

	valid, err := block.HasValidProof()
	if err != nil {
		return nil, fmt.Errorf("node: check proof: %w", err)
	}
	if !valid {
		n.Logger.Debug("acceptBlock: invalid proof", zap.String("block", id))
		return nil, nil
	}

	if !block.IsGenesis() {
		prevBlock, ok := n.blocks[block.PrevBlockHash]
		if !ok {
			if !n.requestedMissing[block.PrevBlockHash] {
				n.requestMissingBlock(block.PrevBlockHash)
				n.requestedMissing[block.PrevBlockHash] = true
			}
			n.pendingBlocks[block.PrevBlockHash] = append(n.pendingBlocks[block.PrevBlockHash], block)
			return nil, nil
		}

		ok, err = block.Rerun(prevBlock, n.Logger)
		if err != nil {
			return nil, fmt.Errorf("node: rerun block: %w", err)
		}
		if !ok {
			n.Logger.Debug("acceptBlock: rerun failed", zap.String("block", id))
			return nil, nil
		}
	}

	n.blocks[id] = block
	if n.lastBlock == nil || block.ChainLength > n.lastBlock.ChainLength {
		n.lastBlock = block
		n.recomputeLastConfirmed()
	}

	orphans := n.pendingBlocks[id]
	delete(n.pendingBlocks, id)
	delete(n.requestedMissing, id)
	for _, orphan := range orphans {
		if _, err := n.acceptBlock(orphan); err != nil {
			n.Logger.Warn("acceptBlock: orphan resolution failed", zap.Error(err))
		}
	}

	return block, nil
}

func (n *Node) recomputeLastConfirmed() {
	target := n.lastBlock.ChainLength - n.confirmationDepth
	if target < 0 {
		target = 0
	}
	cur := n.lastBlock
	for cur.ChainLength > target {
		parent, ok := n.blocks[cur.PrevBlockHash]
		if !ok {
			break
		}
		cur = parent
	}
	n.lastConfirmedBlock = cur
}

func (n *Node) requestMissingBlock(missing string) {
	req := missingBlockRequest{From: n.address, Missing: missing}
	payload, err := json.Marshal(req)
	if err != nil {
		n.Logger.Warn("requestMissingBlock: marshal failed", zap.Error(err))
		return
	}
	n.net.Broadcast(n.address, network.MissingBlock, payload)
}

// ProvideMissingBlock answers a MISSING_BLOCK request: if this node
// holds the requested block, it sends it directly back to the
// requester as PROOF_FOUND.
func (n *Node) ProvideMissingBlock(requestJSON string) error {
	var req missingBlockRequest
	if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
		return fmt.Errorf("node: unmarshal missing-block request: %w", err)
	}
	block, ok := n.blocks[req.Missing]
	if !ok {
		return nil
	}
	serialized, err := block.Serialize()
	if err != nil {
		return fmt.Errorf("node: serialize requested block: %w", err)
	}
	return n.net.SendMessage(n.address, req.From, network.ProofFound, []byte(serialized))
}
