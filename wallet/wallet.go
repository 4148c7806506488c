package wallet

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/gob"
	"fmt"

	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
)

// Wallet owns one signing identity: an RSA keypair and the address
// derived from it. Unlike a traditional bank account, a wallet does
// not hold a balance directly — balances live in a Block's derived
// state and are only ever looked up by address.
type Wallet struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// MakeWallet mints a fresh keypair and wraps it in a Wallet.
func MakeWallet(bits int) (*Wallet, error) {
	kp, err := ledgercrypto.GenerateKeypair(bits)
	if err != nil {
		return nil, fmt.Errorf("wallet: make wallet: %w", err)
	}
	return &Wallet{PrivateKey: kp.Private, PublicKey: kp.Public}, nil
}

// Address derives this wallet's address from its public key.
func (w *Wallet) Address() (string, error) {
	return ledgercrypto.CalcAddress(w.PublicKey)
}

// KeyPair adapts this wallet to the crypto.KeyPair shape Sign/Verify
// callers expect.
func (w *Wallet) KeyPair() *ledgercrypto.KeyPair {
	return &ledgercrypto.KeyPair{Private: w.PrivateKey, Public: w.PublicKey}
}

// ShortFingerprint renders an 8-character base58 fingerprint of the
// wallet's address, the way a block explorer shortens a hash for
// display. It is never used as the canonical address — only as a
// human-friendly label in CLI output.
func (w *Wallet) ShortFingerprint() (string, error) {
	addr, err := w.Address()
	if err != nil {
		return "", err
	}
	return ShortFingerprint(addr)
}

// gobWallet is the on-disk shape of a Wallet: the DER encoding of the
// private key (which embeds the public key), so GobDecode can
// reconstruct both halves without a separate round-trip through PEM.
type gobWallet struct {
	PrivateKeyDER []byte
}

// GobEncode implements gob.GobEncoder so Wallets.SaveFile can persist
// a map of these without hand-rolling a marshaler for rsa.PrivateKey.
func (w *Wallet) GobEncode() ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(w.PrivateKey)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&gobWallet{PrivateKeyDER: der}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (w *Wallet) GobDecode(b []byte) error {
	var data gobWallet
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&data); err != nil {
		return err
	}
	priv, err := x509.ParsePKCS1PrivateKey(data.PrivateKeyDER)
	if err != nil {
		return fmt.Errorf("wallet: decode private key: %w", err)
	}
	w.PrivateKey = priv
	w.PublicKey = &priv.PublicKey
	return nil
}
