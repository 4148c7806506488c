// Package miner implements a Node that additionally assembles a
// candidate block and searches for a valid proof of work in bounded,
// cooperatively-scheduled bursts.
package miner

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kilimba/ledgerchain/blockchain"
	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
	"github.com/kilimba/ledgerchain/network"
	"github.com/kilimba/ledgerchain/node"
)

// DefaultMiningRounds is the batch size a search burst runs before
// yielding back to the scheduler. It also doubles as the knob
// deterministic tests use to simulate relative hash power.
const DefaultMiningRounds int64 = 2000

// Miner embeds Node, inheriting its block store, fork choice, and
// transaction posting, and adds the candidate-block assembly and
// proof search a plain Node does not do.
type Miner struct {
	*node.Node

	net          network.Network
	logger       *zap.Logger
	currentBlock *blockchain.Block
	miningRounds int64
}

// New constructs a Miner. Call Initialize once this miner's node has
// a genesis block (via Node.SetGenesis) to assemble its first
// candidate and begin the cooperative search.
func New(address string, kp *ledgercrypto.KeyPair, net network.Network, logger *zap.Logger, miningRounds int64) (*Miner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if miningRounds <= 0 {
		miningRounds = DefaultMiningRounds
	}

	n, err := node.New(address, kp, net, logger)
	if err != nil {
		return nil, err
	}

	m := &Miner{
		Node:         n,
		net:          net,
		logger:       logger,
		miningRounds: miningRounds,
	}
	n.SetHandler(network.StartMining, m.handleStartMining)
	n.SetHandler(network.PostTransaction, m.handlePostTransaction)
	n.SetHandler(network.ProofFound, m.handleProofFound)

	return m, nil
}

// CurrentBlock is the candidate this miner is currently searching a
// proof for.
func (m *Miner) CurrentBlock() *blockchain.Block { return m.currentBlock }

// PrepareCandidate assembles this miner's first candidate block atop
// its genesis, without emitting a START_MINING self-message. Use this
// (instead of Initialize) when the caller intends to drive FindProof
// bursts directly from its own goroutine rather than through the
// network's per-participant scheduler — calling FindProof from a
// second goroutine after Initialize races the self-sustaining
// START_MINING loop Initialize starts on the participant's own
// handler goroutine.
func (m *Miner) PrepareCandidate() error {
	if m.LastBlock() == nil {
		return errors.New("miner: cannot initialize before a genesis block is set")
	}
	m.StartNewSearch()
	return nil
}

// Initialize assembles the first candidate block atop this miner's
// genesis and emits the first START_MINING self-message, handing
// control of this miner's proof search to the network's cooperative
// scheduler. Nothing else may call FindProof directly on this miner
// afterward without racing that scheduler; see PrepareCandidate for
// callers that want to drive bursts themselves.
func (m *Miner) Initialize() error {
	if err := m.PrepareCandidate(); err != nil {
		return err
	}
	return m.emitStartMining()
}

// StartNewSearch discards the current candidate (if any) and begins a
// fresh one atop this miner's current chain head. In-flight
// transactions on the abandoned candidate are not carried forward —
// a known limitation.
func (m *Miner) StartNewSearch() {
	block, err := blockchain.NewWithDefaults(m.Address(), m.LastBlock())
	if err != nil {
		m.logger.Warn("miner: start new search failed", zap.Error(err))
		return
	}
	block.Proof = 0
	m.currentBlock = block
}

// AddTransaction delegates to the candidate block. There is no
// separate mempool: a transaction that arrives between sealing a
// block and assembling the next candidate may be lost.
func (m *Miner) AddTransaction(tx blockchain.Transaction) bool {
	if m.currentBlock == nil {
		return false
	}
	return m.currentBlock.AddTransaction(tx, m.logger)
}

// FindProof runs one bounded burst of proof search: up to
// miningRounds increments of the candidate's proof, testing validity
// after each. On success it announces the sealed block, starts a new
// candidate, and (unless oneAndDone) schedules another burst via
// START_MINING. On exhausting the burst without success it also
// schedules another burst unless oneAndDone — the cooperative yield
// that lets other participants run between bursts.
func (m *Miner) FindProof(oneAndDone bool) {
	if m.currentBlock == nil {
		m.StartNewSearch()
	}

	pausePoint := m.currentBlock.Proof + m.miningRounds
	for m.currentBlock.Proof < pausePoint {
		m.currentBlock.Proof++
		valid, err := m.currentBlock.HasValidProof()
		if err != nil {
			m.logger.Warn("miner: proof check failed", zap.Error(err))
			return
		}
		if valid {
			m.announceProof()
			m.StartNewSearch()
			if !oneAndDone {
				if err := m.emitStartMining(); err != nil {
					m.logger.Warn("miner: emit start-mining failed", zap.Error(err))
				}
			}
			return
		}
	}

	if !oneAndDone {
		if err := m.emitStartMining(); err != nil {
			m.logger.Warn("miner: emit start-mining failed", zap.Error(err))
		}
	}
}

func (m *Miner) announceProof() {
	serialized, err := m.currentBlock.Serialize()
	if err != nil {
		m.logger.Warn("miner: serialize sealed block failed", zap.Error(err))
		return
	}
	m.net.Broadcast(m.Address(), network.ProofFound, []byte(serialized))
	if _, err := m.ReceiveBlock(serialized); err != nil {
		m.logger.Warn("miner: self-receive sealed block failed", zap.Error(err))
	}
}

func (m *Miner) emitStartMining() error {
	return m.net.SendMessage(m.Address(), m.Address(), network.StartMining, nil)
}

func (m *Miner) handleStartMining(from string, payload []byte) {
	m.FindProof(false)
}

func (m *Miner) handlePostTransaction(from string, payload []byte) {
	var tx blockchain.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		m.logger.Warn("miner: unmarshal posted transaction failed", zap.Error(err))
		return
	}
	m.AddTransaction(tx)
}

// handleProofFound wraps Node's base PROOF_FOUND handling: after the
// block is accepted, if it extends a chain strictly longer than this
// miner's in-progress candidate, the candidate is abandoned in favor
// of a fresh search atop the new head.
func (m *Miner) handleProofFound(from string, payload []byte) {
	accepted, err := m.ReceiveBlock(string(payload))
	if err != nil {
		m.logger.Warn("miner: receiveBlock failed", zap.String("from", from), zap.Error(err))
		return
	}
	if accepted == nil {
		return
	}
	if m.currentBlock == nil || accepted.ChainLength > m.currentBlock.ChainLength {
		m.StartNewSearch()
	}
}

// String is a debugging aid naming this miner and its current search
// state.
func (m *Miner) String() string {
	if m.currentBlock == nil {
		return fmt.Sprintf("miner(%s): uninitialized", m.Address())
	}
	return fmt.Sprintf("miner(%s): chainLength=%d proof=%d", m.Address(), m.currentBlock.ChainLength, m.currentBlock.Proof)
}
