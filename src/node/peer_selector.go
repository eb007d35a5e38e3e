package node

import (
	"math/rand"
	"sync"
)

// PeerSelector picks the next peer to sync with
type PeerSelector interface {
	Peers() []string
	Others() []string
	UpdateLast(peer string)
	Next() string
}

// RandomPeerSelector selects peers at random, avoiding the last-synced peer
// when there is a choice.
type RandomPeerSelector struct {
	sync.Mutex
	peers           []string
	localAddr       string
	selectablePeers []string
	last            string
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector
func NewRandomPeerSelector(peerAddrs []string, localAddr string) *RandomPeerSelector {
	selectable := []string{}
	for _, addr := range peerAddrs {
		if addr != localAddr {
			selectable = append(selectable, addr)
		}
	}
	return &RandomPeerSelector{
		peers:           peerAddrs,
		localAddr:       localAddr,
		selectablePeers: selectable,
	}
}

// Peers returns all known peer addresses, self included
func (ps *RandomPeerSelector) Peers() []string {
	ps.Lock()
	defer ps.Unlock()

	res := make([]string, len(ps.peers))
	copy(res, ps.peers)
	return res
}

// Others returns the selectable peer addresses, self excluded
func (ps *RandomPeerSelector) Others() []string {
	ps.Lock()
	defer ps.Unlock()

	res := make([]string, len(ps.selectablePeers))
	copy(res, ps.selectablePeers)
	return res
}

// UpdateLast sets the last peer
func (ps *RandomPeerSelector) UpdateLast(peer string) {
	ps.Lock()
	defer ps.Unlock()

	ps.last = peer
}

// Next returns the next peer, or the empty string when the node has no peers
func (ps *RandomPeerSelector) Next() string {
	ps.Lock()
	defer ps.Unlock()

	selectablePeers := ps.selectablePeers

	if len(selectablePeers) == 0 {
		return ""
	}

	if len(selectablePeers) > 1 {
		others := []string{}
		for _, addr := range selectablePeers {
			if addr != ps.last {
				others = append(others, addr)
			}
		}
		selectablePeers = others
	}

	return selectablePeers[rand.Intn(len(selectablePeers))]
}
