package network

import (
	"fmt"
	"sync"
)

// envelope is one in-flight message waiting for its recipient's event
// loop to pick it up.
type envelope struct {
	from    string
	kind    MessageKind
	payload []byte
}

// participant owns one recipient's mailbox and the single goroutine
// that drains it. Every message addressed to this participant is
// handled one at a time, in the order FakeNet accepted it — the
// cooperative single-threaded scheduling each Node/Miner expects,
// modeled here as "one handler, one worker goroutine, one buffered
// channel."
type participant struct {
	handler Handler
	inbox   chan envelope
	done    chan struct{}
}

// FakeNet is an in-process Network simulator: no bytes cross a real
// socket, but delivery is still asynchronous and still serialized per
// recipient, so code written against it behaves the same way it would
// against a real transport.
type FakeNet struct {
	mu           sync.Mutex
	participants map[string]*participant
}

// NewFakeNet constructs an empty simulator.
func NewFakeNet() *FakeNet {
	return &FakeNet{participants: make(map[string]*participant)}
}

// Register starts a dedicated delivery goroutine for h. If h.Address()
// was previously registered, the old participant's goroutine is
// stopped first.
func (n *FakeNet) Register(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := h.Address()
	if existing, ok := n.participants[addr]; ok {
		close(existing.done)
	}

	p := &participant{
		handler: h,
		inbox:   make(chan envelope, 256),
		done:    make(chan struct{}),
	}
	n.participants[addr] = p
	go p.run()
}

func (p *participant) run() {
	for {
		select {
		case msg := <-p.inbox:
			p.handler.Handle(msg.from, msg.kind, msg.payload)
		case <-p.done:
			return
		}
	}
}

// SendMessage enqueues payload for delivery to "to". It returns an
// error if "to" is not a registered address: an unroutable recipient
// is a caller error, not a silent drop.
func (n *FakeNet) SendMessage(from, to string, kind MessageKind, payload []byte) error {
	n.mu.Lock()
	p, ok := n.participants[to]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("network: no participant registered at address %q", to)
	}
	p.inbox <- envelope{from: from, kind: kind, payload: payload}
	return nil
}

// Broadcast delivers payload to every registered participant except
// "from". Unlike SendMessage, an empty recipient set is not an error:
// a lone node broadcasting to no one is a normal, if uninteresting,
// state.
func (n *FakeNet) Broadcast(from string, kind MessageKind, payload []byte) {
	n.mu.Lock()
	targets := make([]*participant, 0, len(n.participants))
	for addr, p := range n.participants {
		if addr == from {
			continue
		}
		targets = append(targets, p)
	}
	n.mu.Unlock()

	for _, p := range targets {
		p.inbox <- envelope{from: from, kind: kind, payload: payload}
	}
}

// Shutdown stops every participant's delivery goroutine. Safe to call
// once at process teardown; FakeNet is not meant to be reused after.
func (n *FakeNet) Shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.participants {
		close(p.done)
	}
	n.participants = make(map[string]*participant)
}
