// Package network defines the transport-agnostic messaging surface
// a Node or Miner is built against, plus FakeNet, an in-process
// simulator that exercises the same cooperative, single-threaded
// scheduling model a real deployment would use without requiring an
// actual socket.
package network

import "fmt"

// MessageKind enumerates the wire messages this protocol exchanges.
// Every message is addressed to exactly one participant; Broadcast is
// implemented as repeated unicast, never a special wire form.
type MessageKind int

const (
	// PostTransaction carries a signed Transaction a client wants
	// considered for inclusion in a future block.
	PostTransaction MessageKind = iota
	// ProofFound carries a serialized Block a miner believes extends
	// the chain with a valid proof of work.
	ProofFound
	// MissingBlock requests a specific block by hash from every other
	// participant, to resolve an orphan.
	MissingBlock
	// StartMining is a self-addressed message a Miner posts to itself
	// to yield the cooperative scheduler between bounded rounds of
	// proof search.
	StartMining
)

// String renders a MessageKind for logging.
func (k MessageKind) String() string {
	switch k {
	case PostTransaction:
		return "PostTransaction"
	case ProofFound:
		return "ProofFound"
	case MissingBlock:
		return "MissingBlock"
	case StartMining:
		return "StartMining"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Handler is implemented by anything that can receive messages over a
// Network: node.Node and miner.Miner both satisfy it. Handle is
// called at most once at a time per participant under the
// cooperative scheduling model, so implementations never need their
// own locking around state Handle touches.
type Handler interface {
	Address() string
	Handle(from string, kind MessageKind, payload []byte)
}

// Network is the abstraction a Node or Miner is built against. It
// deliberately says nothing about sockets, retries, or peer
// discovery: those are FakeNet's (or a future real transport's)
// concern, not the consensus core's.
type Network interface {
	// Register makes h reachable at h.Address(). Registering the
	// same address twice replaces the previous handler.
	Register(h Handler)

	// SendMessage delivers payload from "from" to "to", addressed to
	// a single participant. Delivery is asynchronous: SendMessage
	// returns before the recipient's Handle runs.
	SendMessage(from, to string, kind MessageKind, payload []byte) error

	// Broadcast delivers payload from "from" to every other
	// registered participant.
	Broadcast(from string, kind MessageKind, payload []byte)
}
