package blockchain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
)

// timeNow is a seam so tests can pin Block timestamps; production
// code always uses the real clock. Timestamps are informational only
// and never enter consensus decisions.
var timeNow = func() int64 { return time.Now().UnixNano() }

// Block is an ordered container of transactions extending a parent
// block. Proof, the transaction set, and the derived
// balances/nextNonce maps mutate while a miner assembles the block;
// once sealed (a valid Proof is found) a Block is treated as
// immutable by every other component.
type Block struct {
	PrevBlockHash  string
	ChainLength    int64
	Timestamp      int64
	Target         *uint256.Int
	Proof          int64
	RewardAddr     string
	CoinbaseReward int64

	txOrder []string
	txByID  map[string]Transaction

	// Balances and NextNonce are this block's derived state: a
	// snapshot owned exclusively by this block, never shared by
	// reference with its parent or children.
	Balances  map[string]int64
	NextNonce map[string]int64
}

// New constructs a block extending prevBlock (nil for genesis).
// Balances and NextNonce are copied from prevBlock, and if prevBlock
// had a non-empty reward address, its total rewards are credited to
// it here — the winner of block N is paid when block N+1 is built,
// never on block N itself.
func New(rewardAddr string, prevBlock *Block, target *uint256.Int, coinbaseReward int64) (*Block, error) {
	b := &Block{
		RewardAddr:     rewardAddr,
		Target:         target,
		CoinbaseReward: coinbaseReward,
		txOrder:        nil,
		txByID:         make(map[string]Transaction),
		Balances:       make(map[string]int64),
		NextNonce:      make(map[string]int64),
		Timestamp:      timeNow(),
	}

	if prevBlock == nil {
		return b, nil
	}

	prevHash, err := prevBlock.HashVal()
	if err != nil {
		return nil, fmt.Errorf("blockchain: hash parent block: %w", err)
	}
	b.PrevBlockHash = prevHash
	b.ChainLength = prevBlock.ChainLength + 1

	for addr, bal := range prevBlock.Balances {
		b.Balances[addr] = bal
	}
	for addr, n := range prevBlock.NextNonce {
		b.NextNonce[addr] = n
	}
	if prevBlock.RewardAddr != "" {
		b.Balances[prevBlock.RewardAddr] += prevBlock.TotalRewards()
	}

	return b, nil
}

// NewWithDefaults is New using the package's default target and
// coinbase reward — the common case for a miner starting a fresh
// candidate.
func NewWithDefaults(rewardAddr string, prevBlock *Block) (*Block, error) {
	return New(rewardAddr, prevBlock, HitPowTarget, DefaultCoinbaseReward)
}

// MakeGenesis builds the unique genesis block: empty reward address,
// chain length 0, empty parent hash, and the given starting balances
// installed directly.
func MakeGenesis(startingBalances map[string]int64, target *uint256.Int, coinbaseReward int64) *Block {
	b := &Block{
		RewardAddr:     "",
		Target:         target,
		CoinbaseReward: coinbaseReward,
		txByID:         make(map[string]Transaction),
		Balances:       make(map[string]int64, len(startingBalances)),
		NextNonce:      make(map[string]int64),
	}
	for addr, bal := range startingBalances {
		b.Balances[addr] = bal
	}
	return b
}

// IsGenesis reports whether this is the chain's genesis block.
func (b *Block) IsGenesis() bool {
	return b.PrevBlockHash == ""
}

// Transactions returns this block's transactions in insertion order.
func (b *Block) Transactions() []Transaction {
	txs := make([]Transaction, 0, len(b.txOrder))
	for _, id := range b.txOrder {
		txs = append(txs, b.txByID[id])
	}
	return txs
}

// HasTransaction reports whether a transaction with the given id is
// already present in this block.
func (b *Block) HasTransaction(id string) bool {
	_, ok := b.txByID[id]
	return ok
}

// TotalRewards is the coinbase reward plus every transaction's fee —
// what gets paid to RewardAddr when the next block is constructed.
func (b *Block) TotalRewards() int64 {
	total := b.CoinbaseReward
	for _, id := range b.txOrder {
		total += b.txByID[id].Fee
	}
	return total
}

// BalanceOf is the gold addr holds in this block's derived state, or
// zero if addr has never been credited.
func (b *Block) BalanceOf(addr string) int64 {
	return b.Balances[addr]
}

// AddTransaction attempts to admit tx into this block, applying each
// admission rule in order and returning false (logged, not escalated
// as an error) on the first failing rule. logger may be nil, in which
// case rejections are simply not logged.
func (b *Block) AddTransaction(tx Transaction, logger *zap.Logger) bool {
	logger = nonNilLogger(logger)

	id, err := tx.ID()
	if err != nil {
		logger.Warn("addTransaction: could not compute id", zap.Error(err))
		return false
	}
	if b.HasTransaction(id) {
		logger.Debug("addTransaction: duplicate", zap.String("tx", id))
		return false
	}
	if tx.Sig == "" {
		logger.Debug("addTransaction: unsigned", zap.String("tx", id))
		return false
	}
	if !tx.ValidSignature() {
		logger.Debug("addTransaction: bad signature", zap.String("tx", id))
		return false
	}
	if !tx.SufficientFunds(b.Balances) {
		logger.Debug("addTransaction: insufficient funds", zap.String("tx", id), zap.String("from", tx.From))
		return false
	}

	expected := b.NextNonce[tx.From]
	switch {
	case tx.Nonce < expected:
		logger.Debug("addTransaction: replayed nonce", zap.String("tx", id), zap.Int64("nonce", tx.Nonce), zap.Int64("expected", expected))
		return false
	case tx.Nonce > expected:
		logger.Debug("addTransaction: out-of-order nonce", zap.String("tx", id), zap.Int64("nonce", tx.Nonce), zap.Int64("expected", expected))
		return false
	}
	b.NextNonce[tx.From] = expected + 1

	b.txOrder = append(b.txOrder, id)
	b.txByID[id] = tx

	b.Balances[tx.From] -= tx.TotalOutput()
	for _, out := range tx.Outputs {
		b.Balances[out.Address] += out.Amount
	}

	return true
}

// Rerun recomputes this block's derived state from scratch: resets
// Balances/NextNonce from prevBlock exactly as New would, then
// re-admits every transaction in its original insertion order via
// AddTransaction. It returns false the moment any transaction fails
// to re-admit — a block whose transactions do not replay cleanly
// against its own stated parent is invalid.
func (b *Block) Rerun(prevBlock *Block, logger *zap.Logger) (bool, error) {
	balances := make(map[string]int64)
	nextNonce := make(map[string]int64)
	if prevBlock != nil {
		for addr, bal := range prevBlock.Balances {
			balances[addr] = bal
		}
		for addr, n := range prevBlock.NextNonce {
			nextNonce[addr] = n
		}
		if prevBlock.RewardAddr != "" {
			balances[prevBlock.RewardAddr] += prevBlock.TotalRewards()
		}
	}

	txs := b.Transactions()
	b.Balances = balances
	b.NextNonce = nextNonce
	b.txOrder = nil
	b.txByID = make(map[string]Transaction)

	for _, tx := range txs {
		if !b.AddTransaction(tx, logger) {
			return false, nil
		}
	}
	return true, nil
}

// HasValidProof reports whether this block's hash, read as an
// unsigned 256-bit integer, is strictly below Target.
func (b *Block) HasValidProof() (bool, error) {
	hash, err := b.HashVal()
	if err != nil {
		return false, err
	}
	n, err := hashToUint256(hash)
	if err != nil {
		return false, fmt.Errorf("blockchain: parse hash as uint256: %w", err)
	}
	target := b.Target
	if target == nil {
		target = HitPowTarget
	}
	return n.Cmp(target) < 0, nil
}

// wireBlock is the exact, ordered field set that goes over the wire.
// Target and CoinbaseReward are derived/local only and never
// serialized — a known limitation: a node receiving a block mined
// against a non-default target cannot verify it correctly unless the
// target is agreed out of band.
type wireBlock struct {
	Transactions  []txPair `json:"transactions"`
	PrevBlockHash string   `json:"prevBlockHash"`
	Timestamp     int64    `json:"timestamp"`
	Proof         int64    `json:"proof"`
	RewardAddr    string   `json:"rewardAddr"`
	ChainLength   int64    `json:"chainLength"`
}

// Serialize renders the canonical wire form of this block.
func (b *Block) Serialize() (string, error) {
	pairs := make([]txPair, 0, len(b.txOrder))
	for _, id := range b.txOrder {
		pairs = append(pairs, txPair{ID: id, Tx: b.txByID[id]})
	}
	wire := wireBlock{
		Transactions:  pairs,
		PrevBlockHash: b.PrevBlockHash,
		Timestamp:     b.Timestamp,
		Proof:         b.Proof,
		RewardAddr:    b.RewardAddr,
		ChainLength:   b.ChainLength,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("blockchain: marshal block: %w", err)
	}
	return string(body), nil
}

// Deserialize reconstructs a Block from its wire form. The returned
// block's derived state is empty; callers must call Rerun against the
// parent block to populate Balances/NextNonce. Target and
// CoinbaseReward fall back to the package defaults, per the known
// wire-format limitation noted on wireBlock.
func Deserialize(data string) (*Block, error) {
	var wire wireBlock
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return nil, fmt.Errorf("blockchain: unmarshal block: %w", err)
	}

	b := &Block{
		PrevBlockHash:  wire.PrevBlockHash,
		ChainLength:    wire.ChainLength,
		Timestamp:      wire.Timestamp,
		Target:         HitPowTarget,
		Proof:          wire.Proof,
		RewardAddr:     wire.RewardAddr,
		CoinbaseReward: DefaultCoinbaseReward,
		txByID:         make(map[string]Transaction, len(wire.Transactions)),
		Balances:       make(map[string]int64),
		NextNonce:      make(map[string]int64),
	}
	for _, pair := range wire.Transactions {
		b.txOrder = append(b.txOrder, pair.ID)
		b.txByID[pair.ID] = pair.Tx
	}
	return b, nil
}

// HashVal is this block's content hash: hash(serialize(block)),
// hex-encoded. It is both the block's identity (used as the key in a
// node's block store) and the PrevBlockHash its children carry.
func (b *Block) HashVal() (string, error) {
	body, err := b.Serialize()
	if err != nil {
		return "", err
	}
	return ledgercrypto.Hash([]byte(body), "hex")
}

func nonNilLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
