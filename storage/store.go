// Package storage provides optional, non-consensus persistence for a
// node's accepted blocks. Nothing in blockchain, node, or miner
// imports this package: it exists purely so a restarted process can
// rehydrate its block store before rejoining the network, the way an
// operator would restore a cache, not a consensus mechanism.
package storage

import "github.com/kilimba/ledgerchain/blockchain"

// BlockStore persists accepted blocks by their content hash and
// remembers the chain head so a node can resume without replaying
// every block it has ever received from the network.
type BlockStore interface {
	// PutBlock persists block under id, the block's HashVal.
	PutBlock(id string, serialized string) error
	// GetBlock retrieves a previously stored block's serialized form.
	GetBlock(id string) (string, bool, error)
	// AllBlocks returns every stored (id, serialized) pair. Order is
	// unspecified; callers reconstruct chain order via prevBlockHash.
	AllBlocks() (map[string]string, error)
	// SetHead records the current chain head's id.
	SetHead(id string) error
	// Head returns the last recorded chain head id, or false if none
	// has ever been set.
	Head() (string, bool, error)
	// Close releases any resources the store holds.
	Close() error
}

// MemStore is an in-memory BlockStore, useful for tests and for
// FakeNet-only runs that never need to survive a restart.
type MemStore struct {
	blocks map[string]string
	head   string
	hasHead bool
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[string]string)}
}

func (m *MemStore) PutBlock(id string, serialized string) error {
	m.blocks[id] = serialized
	return nil
}

func (m *MemStore) GetBlock(id string) (string, bool, error) {
	s, ok := m.blocks[id]
	return s, ok, nil
}

func (m *MemStore) AllBlocks() (map[string]string, error) {
	out := make(map[string]string, len(m.blocks))
	for k, v := range m.blocks {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) SetHead(id string) error {
	m.head = id
	m.hasHead = true
	return nil
}

func (m *MemStore) Head() (string, bool, error) {
	return m.head, m.hasHead, nil
}

func (m *MemStore) Close() error { return nil }

// ensure MemStore satisfies BlockStore.
var _ BlockStore = (*MemStore)(nil)

// RehydrateBlocks returns the ids of the stored blocks, ordered so that
// every parent comes before its children, starting from the genesis
// block. It deserializes blocks only to read their parent links: it
// does not compute balances, return the recorded head, or touch fork
// choice or confirmation depth. A stored block whose parent is not in
// the store is left out of the order.
func RehydrateBlocks(store BlockStore) ([]string, error) {
	all, err := store.AllBlocks()
	if err != nil {
		return nil, err
	}

	byParent := make(map[string][]string)
	for id, serialized := range all {
		b, err := blockchain.Deserialize(serialized)
		if err != nil {
			return nil, err
		}
		byParent[b.PrevBlockHash] = append(byParent[b.PrevBlockHash], id)
	}

	var order []string
	var walk func(parent string)
	walk = func(parent string) {
		for _, id := range byParent[parent] {
			order = append(order, id)
			walk(id)
		}
	}
	walk("")

	return order, nil
}
