package wallet

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// walletFile is the on-disk location a Wallets collection persists
// to, one file per node identity.
const walletFile = "./tmp/wallets_%s.data"

// Wallets is a node-local collection of signing identities, keyed by
// address. It exists purely as an operator convenience around key
// management — a Node or Miner only ever needs the one keypair it
// was constructed with.
type Wallets struct {
	Wallets map[string]*Wallet
}

// LoadWallets loads a node's persisted wallet collection, returning an
// empty collection (not an error) if no file exists yet.
func LoadWallets(nodeID string) (*Wallets, error) {
	ws := &Wallets{Wallets: make(map[string]*Wallet)}
	if err := ws.loadFile(nodeID); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return ws, nil
}

// AddWallet mints a new keypair, stores it under its derived address,
// persists the collection, and returns the new address.
func (ws *Wallets) AddWallet(nodeID string, bits int) (string, error) {
	w, err := MakeWallet(bits)
	if err != nil {
		return "", err
	}
	addr, err := w.Address()
	if err != nil {
		return "", err
	}
	ws.Wallets[addr] = w
	if err := ws.SaveFile(nodeID); err != nil {
		return "", err
	}
	return addr, nil
}

// GetAllAddresses lists every address this collection holds a key
// for.
func (ws *Wallets) GetAllAddresses() []string {
	addresses := make([]string, 0, len(ws.Wallets))
	for address := range ws.Wallets {
		addresses = append(addresses, address)
	}
	return addresses
}

// GetWallet looks up a wallet by address, returning false if this
// collection holds no key for it.
func (ws *Wallets) GetWallet(address string) (*Wallet, bool) {
	w, ok := ws.Wallets[address]
	return w, ok
}

func (ws *Wallets) loadFile(nodeID string) error {
	filePath := fmt.Sprintf(walletFile, nodeID)
	if _, err := os.Stat(filePath); err != nil {
		return err
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("wallet: read wallet file: %w", err)
	}

	var loaded Wallets
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&loaded); err != nil {
		return fmt.Errorf("wallet: decode wallet file: %w", err)
	}
	ws.Wallets = loaded.Wallets
	return nil
}

// SaveFile persists the collection to disk.
func (ws *Wallets) SaveFile(nodeID string) error {
	var content bytes.Buffer
	if err := gob.NewEncoder(&content).Encode(ws); err != nil {
		return fmt.Errorf("wallet: encode wallet file: %w", err)
	}

	filePath := fmt.Sprintf(walletFile, nodeID)
	if err := os.MkdirAll("./tmp", 0o755); err != nil {
		return fmt.Errorf("wallet: create wallet dir: %w", err)
	}
	if err := os.WriteFile(filePath, content.Bytes(), 0o644); err != nil {
		return fmt.Errorf("wallet: write wallet file: %w", err)
	}
	return nil
}
