package wallet

import (
	"os"
	"testing"

	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
)

func TestWalletAddressAndSign(t *testing.T) {
	w, err := MakeWallet(ledgercrypto.DefaultKeyBits)
	if err != nil {
		t.Fatalf("MakeWallet: %v", err)
	}
	addr, err := w.Address()
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if addr == "" {
		t.Fatal("expected a non-empty address")
	}

	sig, err := ledgercrypto.Sign(w.PrivateKey, "payload")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !ledgercrypto.VerifySignature(w.PublicKey, "payload", sig) {
		t.Fatal("expected signature made with wallet key to verify")
	}
}

func TestWalletsAddAndReload(t *testing.T) {
	dir := t.TempDir()
	prevWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(prevWD)

	nodeID := "test"
	ws, err := LoadWallets(nodeID)
	if err != nil {
		t.Fatalf("LoadWallets: %v", err)
	}

	addr, err := ws.AddWallet(nodeID, ledgercrypto.DefaultKeyBits)
	if err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	reloaded, err := LoadWallets(nodeID)
	if err != nil {
		t.Fatalf("LoadWallets (reload): %v", err)
	}
	w, ok := reloaded.GetWallet(addr)
	if !ok {
		t.Fatalf("expected reloaded wallets to contain %s", addr)
	}
	gotAddr, err := w.Address()
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if gotAddr != addr {
		t.Fatalf("reloaded wallet address = %s, want %s", gotAddr, addr)
	}
}

func TestShortFingerprintStableAndShort(t *testing.T) {
	fp1, err := ShortFingerprint("address-a")
	if err != nil {
		t.Fatalf("ShortFingerprint: %v", err)
	}
	fp2, err := ShortFingerprint("address-a")
	if err != nil {
		t.Fatalf("ShortFingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Fatal("expected fingerprint to be deterministic")
	}
	fp3, err := ShortFingerprint("address-b")
	if err != nil {
		t.Fatalf("ShortFingerprint: %v", err)
	}
	if fp1 == fp3 {
		t.Fatal("expected different addresses to (almost certainly) fingerprint differently")
	}
}
