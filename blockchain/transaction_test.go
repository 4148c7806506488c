package blockchain

import (
	"testing"

	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
)

func mustWalletAddr(t *testing.T, kp *ledgercrypto.KeyPair) string {
	t.Helper()
	addr, err := ledgercrypto.CalcAddress(kp.Public)
	if err != nil {
		t.Fatalf("CalcAddress: %v", err)
	}
	return addr
}

func mustKeypair(t *testing.T) *ledgercrypto.KeyPair {
	t.Helper()
	kp, err := ledgercrypto.GenerateKeypair(ledgercrypto.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func mustPubKeyText(t *testing.T, kp *ledgercrypto.KeyPair) string {
	t.Helper()
	text, err := ledgercrypto.PublicKeyText(kp.Public)
	if err != nil {
		t.Fatalf("PublicKeyText: %v", err)
	}
	return text
}

func TestTransactionTotalOutput(t *testing.T) {
	tx := New(NewTransactionParams{
		Outputs: []Output{{Amount: 10, Address: "a"}, {Amount: 5, Address: "b"}},
		Fee:     1,
	})
	if got, want := tx.TotalOutput(), int64(16); got != want {
		t.Fatalf("TotalOutput() = %d, want %d", got, want)
	}
}

func TestTransactionSignAndVerify(t *testing.T) {
	kp := mustKeypair(t)
	from := mustWalletAddr(t, kp)
	pubText := mustPubKeyText(t, kp)

	tx := New(NewTransactionParams{
		From:    from,
		Nonce:   0,
		PubKey:  pubText,
		Outputs: []Output{{Amount: 10, Address: "bob"}},
		Fee:     1,
	})
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !tx.ValidSignature() {
		t.Fatal("expected freshly signed transaction to have a valid signature")
	}

	tampered := tx
	tampered.Outputs = []Output{{Amount: 1000, Address: "bob"}}
	if tampered.ValidSignature() {
		t.Fatal("expected tampering with outputs to invalidate the signature")
	}
}

func TestTransactionValidSignatureRejectsMismatchedFrom(t *testing.T) {
	kp := mustKeypair(t)
	pubText := mustPubKeyText(t, kp)

	tx := New(NewTransactionParams{
		From:    "not-the-real-address",
		Nonce:   0,
		PubKey:  pubText,
		Outputs: []Output{{Amount: 1, Address: "bob"}},
	})
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if tx.ValidSignature() {
		t.Fatal("expected signature check to fail when From does not match PubKey's derived address")
	}
}

func TestTransactionSufficientFunds(t *testing.T) {
	tx := New(NewTransactionParams{
		From:    "alice",
		Outputs: []Output{{Amount: 10, Address: "bob"}},
		Fee:     2,
	})
	if tx.SufficientFunds(map[string]int64{"alice": 11}) {
		t.Fatal("expected 11 to be insufficient for output 10 + fee 2")
	}
	if !tx.SufficientFunds(map[string]int64{"alice": 12}) {
		t.Fatal("expected 12 to be sufficient for output 10 + fee 2")
	}
	if tx.SufficientFunds(map[string]int64{}) {
		t.Fatal("expected a sender with no recorded balance to have zero funds")
	}
}

func TestTransactionIDStableAcrossSigning(t *testing.T) {
	kp := mustKeypair(t)
	from := mustWalletAddr(t, kp)
	pubText := mustPubKeyText(t, kp)

	tx := New(NewTransactionParams{
		From:    from,
		PubKey:  pubText,
		Outputs: []Output{{Amount: 1, Address: "bob"}},
	})
	idBefore, err := tx.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	idAfter, err := tx.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if idBefore != idAfter {
		t.Fatal("expected transaction id to be stable across signing since Sig is excluded from the id payload")
	}
}
