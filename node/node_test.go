package node

import (
	"testing"
	"time"

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

// mineBlock brute-forces a valid proof for b against its own target.
func mineBlock(t *testing.T, b *blockchain.Block) {
	t.Helper()
	for {
		valid, err := b.HasValidProof()
		if err != nil {
			t.Fatalf("HasValidProof: %v", err)
		}
		if valid {
			return
		}
		b.Proof++
	}
}

func mineChild(t *testing.T, rewardAddr string, parent *blockchain.Block) *blockchain.Block {
	t.Helper()
	child, err := blockchain.NewWithDefaults(rewardAddr, parent)
	if err != nil {
		t.Fatalf("NewWithDefaults: %v", err)
	}
	mineBlock(t, child)
	return child
}

func serialized(t *testing.T, b *blockchain.Block) string {
	t.Helper()
	s, err := b.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return s
}

func TestForkChoicePrefersLongerChain(t *testing.T) {
	kp := mustKeypair(t)
	addr := mustAddr(t, kp)
	net := network.NewFakeNet()

	n, err := New(addr, kp, net, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	genesis := blockchain.MakeGenesis(map[string]int64{addr: 1000}, blockchain.HitPowTarget, blockchain.DefaultCoinbaseReward)
	if err := n.SetGenesis(genesis); err != nil {
		t.Fatalf("SetGenesis: %v", err)
	}

	a1 := mineChild(t, addr, genesis)
	a2 := mineChild(t, addr, a1)
	b1 := mineChild(t, addr, genesis)
	b2 := mineChild(t, addr, b1)
	b3 := mineChild(t, addr, b2)

	for _, blk := range []*blockchain.Block{a1, a2, b1, b2, b3} {
		if _, err := n.ReceiveBlock(serialized(t, blk)); err != nil {
			t.Fatalf("ReceiveBlock: %v", err)
		}
	}

	gotHash, err := n.LastBlock().HashVal()
	if err != nil {
		t.Fatalf("HashVal: %v", err)
	}
	wantHash, err := b3.HashVal()
	if err != nil {
		t.Fatalf("HashVal: %v", err)
	}
	if gotHash != wantHash {
		t.Fatalf("lastBlock hash = %s, want b3's hash %s", gotHash, wantHash)
	}
	if n.LastBlock().ChainLength != 3 {
		t.Fatalf("lastBlock chainLength = %d, want 3", n.LastBlock().ChainLength)
	}
}

func TestReceiveBlockQueuesOrphansAndResolvesOnParentArrival(t *testing.T) {
	kp := mustKeypair(t)
	addr := mustAddr(t, kp)
	net := network.NewFakeNet()
	n, err := New(addr, kp, net, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	genesis := blockchain.MakeGenesis(map[string]int64{addr: 1000}, blockchain.HitPowTarget, blockchain.DefaultCoinbaseReward)
	if err := n.SetGenesis(genesis); err != nil {
		t.Fatalf("SetGenesis: %v", err)
	}

	b1 := mineChild(t, addr, genesis)
	b2 := mineChild(t, addr, b1)

	// Deliver b2 before its parent b1: it should be queued as an orphan,
	// not rejected outright.
	accepted, err := n.ReceiveBlock(serialized(t, b2))
	if err != nil {
		t.Fatalf("ReceiveBlock(b2): %v", err)
	}
	if accepted != nil {
		t.Fatal("expected b2 to be deferred as an orphan before its parent arrives")
	}
	if n.LastBlock().ChainLength != 0 {
		t.Fatal("expected lastBlock to remain genesis while b2 is orphaned")
	}

	if _, err := n.ReceiveBlock(serialized(t, b1)); err != nil {
		t.Fatalf("ReceiveBlock(b1): %v", err)
	}

	wantHash, err := b2.HashVal()
	if err != nil {
		t.Fatalf("HashVal: %v", err)
	}
	gotHash, err := n.LastBlock().HashVal()
	if err != nil {
		t.Fatalf("HashVal: %v", err)
	}
	if gotHash != wantHash {
		t.Fatal("expected orphaned b2 to be resolved once b1 arrived")
	}
}

func TestPostTransactionRejectsOverspend(t *testing.T) {
	kp := mustKeypair(t)
	addr := mustAddr(t, kp)
	net := network.NewFakeNet()
	n, err := New(addr, kp, net, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	genesis := blockchain.MakeGenesis(map[string]int64{addr: 10}, blockchain.HitPowTarget, blockchain.DefaultCoinbaseReward)
	if err := n.SetGenesis(genesis); err != nil {
		t.Fatalf("SetGenesis: %v", err)
	}

	_, err = n.PostTransaction([]blockchain.Output{{Amount: 1000, Address: "bob"}}, DefaultFee)
	if err == nil {
		t.Fatal("expected overspend to be rejected")
	}
}

func TestPostTransactionBroadcastsSignedTransaction(t *testing.T) {
	kp := mustKeypair(t)
	addr := mustAddr(t, kp)
	net := network.NewFakeNet()
	n, err := New(addr, kp, net, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	genesis := blockchain.MakeGenesis(map[string]int64{addr: 100}, blockchain.HitPowTarget, blockchain.DefaultCoinbaseReward)
	if err := n.SetGenesis(genesis); err != nil {
		t.Fatalf("SetGenesis: %v", err)
	}

	recipient := newRecordingHandlerForTest("bob")
	net.Register(recipient)

	tx, err := n.PostTransaction([]blockchain.Output{{Amount: 10, Address: "bob"}}, DefaultFee)
	if err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}
	if !tx.ValidSignature() {
		t.Fatal("expected posted transaction to carry a valid signature")
	}
	recipient.wait(t)
}

// recordingHandlerForTest is a minimal network.Handler used to assert
// broadcast delivery without depending on node/miner internals.
type recordingHandlerForTest struct {
	addr string
	ch   chan struct{}
}

func newRecordingHandlerForTest(addr string) *recordingHandlerForTest {
	return &recordingHandlerForTest{addr: addr, ch: make(chan struct{}, 4)}
}

func (h *recordingHandlerForTest) Address() string { return h.addr }

func (h *recordingHandlerForTest) Handle(from string, kind network.MessageKind, payload []byte) {
	h.ch <- struct{}{}
}

func (h *recordingHandlerForTest) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a message to have been broadcast")
	}
}
