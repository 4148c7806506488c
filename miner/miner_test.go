package miner

import (
	"testing"

	"github.com/kilimba/ledgerchain/blockchain"
	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
	"github.com/kilimba/ledgerchain/network"
)

func mustKeypair(t *testing.T) *ledgercrypto.KeyPair {
	t.Helper()
	kp, err := ledgercrypto.GenerateKeypair(ledgercrypto.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func mustAddr(t *testing.T, kp *ledgercrypto.KeyPair) string {
	t.Helper()
	addr, err := ledgercrypto.CalcAddress(kp.Public)
	if err != nil {
		t.Fatalf("CalcAddress: %v", err)
	}
	return addr
}

func newTestMiner(t *testing.T, net network.Network, startBalances map[string]int64) *Miner {
	t.Helper()
	kp := mustKeypair(t)
	addr := mustAddr(t, kp)
	m, err := New(addr, kp, net, nil, 200000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	genesis := blockchain.MakeGenesis(startBalances, blockchain.HitPowTarget, blockchain.DefaultCoinbaseReward)
	if err := m.SetGenesis(genesis); err != nil {
		t.Fatalf("SetGenesis: %v", err)
	}
	// PrepareCandidate, not Initialize: these tests drive FindProof
	// and Handle directly from the test goroutine, so Initialize's
	// self-addressed START_MINING message (picked up by this miner's
	// own FakeNet dispatch goroutine) must not also be running.
	if err := m.PrepareCandidate(); err != nil {
		t.Fatalf("PrepareCandidate: %v", err)
	}
	return m
}

func TestMinerFindProofSealsAndAdvancesChain(t *testing.T) {
	net := network.NewFakeNet()
	m := newTestMiner(t, net, map[string]int64{})

	startLen := m.CurrentBlock().ChainLength
	m.FindProof(true)

	if m.LastBlock().ChainLength != startLen {
		t.Fatalf("lastBlock.ChainLength = %d, want %d (the sealed candidate)", m.LastBlock().ChainLength, startLen)
	}
	if m.CurrentBlock().ChainLength != startLen+1 {
		t.Fatalf("new candidate chainLength = %d, want %d", m.CurrentBlock().ChainLength, startLen+1)
	}
}

func TestMinerAddTransactionDelegatesToCandidate(t *testing.T) {
	net := network.NewFakeNet()

	senderKp := mustKeypair(t)
	senderAddr := mustAddr(t, senderKp)
	senderPubText, err := ledgercrypto.PublicKeyText(senderKp.Public)
	if err != nil {
		t.Fatalf("PublicKeyText: %v", err)
	}

	m := newTestMiner(t, net, map[string]int64{senderAddr: 100})

	tx := blockchain.New(blockchain.NewTransactionParams{
		From:    senderAddr,
		PubKey:  senderPubText,
		Outputs: []blockchain.Output{{Amount: 10, Address: "bob"}},
		Fee:     1,
	})
	if err := tx.Sign(senderKp); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if !m.AddTransaction(tx) {
		t.Fatal("expected valid transaction to be admitted to the candidate block")
	}
	if got := m.CurrentBlock().BalanceOf("bob"); got != 10 {
		t.Fatalf("candidate BalanceOf(bob) = %d, want 10", got)
	}
}

func TestMinerAbandonsCandidateOnLongerChain(t *testing.T) {
	net := network.NewFakeNet()
	miner := newTestMiner(t, net, map[string]int64{})

	// Build a two-block extension of genesis independently, seal both,
	// then deliver the second (longer than the miner's one-block
	// candidate) to simulate another participant winning first.
	other, err := blockchain.NewWithDefaults("other-reward-addr", miner.LastBlock())
	if err != nil {
		t.Fatalf("NewWithDefaults: %v", err)
	}
	for {
		valid, err := other.HasValidProof()
		if err != nil {
			t.Fatalf("HasValidProof: %v", err)
		}
		if valid {
			break
		}
		other.Proof++
	}
	other2, err := blockchain.NewWithDefaults("other-reward-addr", other)
	if err != nil {
		t.Fatalf("NewWithDefaults: %v", err)
	}
	for {
		valid, err := other2.HasValidProof()
		if err != nil {
			t.Fatalf("HasValidProof: %v", err)
		}
		if valid {
			break
		}
		other2.Proof++
	}

	serializedOther, err := other.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	serializedOther2, err := other2.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	miner.Handle("other-node", network.ProofFound, []byte(serializedOther))
	miner.Handle("other-node", network.ProofFound, []byte(serializedOther2))

	if miner.CurrentBlock().ChainLength != 3 {
		t.Fatalf("expected candidate to restart atop the longer chain (length 3), got %d", miner.CurrentBlock().ChainLength)
	}
	if miner.CurrentBlock().Proof != 0 {
		t.Fatal("expected a freshly restarted candidate to have proof reset to 0")
	}
}
