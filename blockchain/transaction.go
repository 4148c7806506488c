package blockchain

import (
	"encoding/json"
	"fmt"

	ledgercrypto "github.com/kilimba/ledgerchain/crypto"
)

// Output is one recipient/amount pair a Transaction pays out to.
type Output struct {
	Amount  int64  `json:"amount"`
	Address string `json:"address"`
}

// Transaction is an immutable, signed value transfer from one address
// to one or more outputs, guarded by a monotone per-sender nonce. The
// zero value is not meaningful; build one with New.
type Transaction struct {
	From    string   `json:"from"`
	Nonce   int64    `json:"nonce"`
	PubKey  string   `json:"pubKey"`
	Sig     string   `json:"sig,omitempty"`
	Fee     int64    `json:"fee"`
	Outputs []Output `json:"outputs"`
}

// NewTransactionParams bundles Transaction's constructor arguments.
type NewTransactionParams struct {
	From    string
	Nonce   int64
	PubKey  string
	Sig     string // optional; usually set later via Sign
	Fee     int64
	Outputs []Output
}

// New is Transaction's pure constructor.
func New(p NewTransactionParams) Transaction {
	return Transaction{
		From:    p.From,
		Nonce:   p.Nonce,
		PubKey:  p.PubKey,
		Sig:     p.Sig,
		Fee:     p.Fee,
		Outputs: append([]Output(nil), p.Outputs...),
	}
}

// idPayload is the exact field set and order the transaction id's
// hash preimage is computed over — the signature is deliberately
// excluded so that ids are stable pre-signing and a re-signed
// transaction keeps the same id.
type idPayload struct {
	From    string   `json:"from"`
	Nonce   int64    `json:"nonce"`
	PubKey  string   `json:"pubKey"`
	Outputs []Output `json:"outputs"`
	Fee     int64    `json:"fee"`
}

// ID computes this transaction's content hash:
// hash("TX" ++ canonical_json({from, nonce, pubKey, outputs, fee})).
// The literal "TX" prefix is part of the preimage and must be
// preserved for cross-implementation compatibility.
func (tx Transaction) ID() (string, error) {
	payload := idPayload{
		From:    tx.From,
		Nonce:   tx.Nonce,
		PubKey:  tx.PubKey,
		Outputs: tx.Outputs,
		Fee:     tx.Fee,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("blockchain: marshal transaction id payload: %w", err)
	}
	return ledgercrypto.Hash(append([]byte("TX"), body...), "hex")
}

// Sign sets tx.Sig to the RSA-SHA256 signature over tx's id, hex
// encoded.
func (tx *Transaction) Sign(priv *ledgercrypto.KeyPair) error {
	id, err := tx.ID()
	if err != nil {
		return err
	}
	sig, err := ledgercrypto.Sign(priv.Private, id)
	if err != nil {
		return err
	}
	tx.Sig = sig
	return nil
}

// ValidSignature reports whether tx carries a signature, that
// signature's key derives tx.From, and the signature verifies over
// tx's id.
func (tx Transaction) ValidSignature() bool {
	if tx.Sig == "" {
		return false
	}
	pub, err := ledgercrypto.ParsePublicKeyText(tx.PubKey)
	if err != nil {
		return false
	}
	if !ledgercrypto.AddressMatchesKey(tx.From, pub) {
		return false
	}
	id, err := tx.ID()
	if err != nil {
		return false
	}
	return ledgercrypto.VerifySignature(pub, id, tx.Sig)
}

// TotalOutput is fee + the sum of every output's amount.
func (tx Transaction) TotalOutput() int64 {
	total := tx.Fee
	for _, out := range tx.Outputs {
		total += out.Amount
	}
	return total
}

// SufficientFunds reports whether balances holds enough gold for
// tx.From to cover TotalOutput. A sender with no recorded balance has
// zero gold.
func (tx Transaction) SufficientFunds(balances map[string]int64) bool {
	return balances[tx.From] >= tx.TotalOutput()
}
