package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID
// as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport implements the SecureTransport interface, to allow nodes to
// be tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Envelope
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan Envelope, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    50 * time.Millisecond,
	}
	return addr, trans
}

// Send implements the SecureTransport interface.
func (i *InmemTransport) Send(payload []byte, destination string) error {
	i.RLock()
	peer, ok := i.peers[destination]
	i.RUnlock()

	if !ok {
		return fmt.Errorf("failed to connect to peer: %v", destination)
	}

	select {
	case peer.consumerCh <- Envelope{From: i.localAddr, Payload: payload}:
		return nil
	case <-time.After(i.timeout):
		return fmt.Errorf("send to %v timed out", destination)
	}
}

// Receive implements the SecureTransport interface.
func (i *InmemTransport) Receive() <-chan Envelope {
	return i.consumerCh
}

// LocalAddr implements the SecureTransport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// Connect is used to connect this transport to another transport for a given
// peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t SecureTransport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}
