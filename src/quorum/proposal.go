package quorum

import (
	"sync"

	"github.com/commonsnetwork/commonsync/src/common"
)

// Proposal is one round of voting over an action. It carries a fixed roster
// of voter IDs, an approval threshold, and the votes received so far. Votes
// from IDs outside the roster are ignored. A Proposal is single-use: it is
// discarded once resolved.
type Proposal struct {
	sync.RWMutex
	action    string
	data      []byte
	roster    map[string]bool
	threshold int
	votes     map[string]common.Trilean
}

// NewProposal instantiates a Proposal with no votes cast.
func NewProposal(action string, data []byte, roster []string, threshold int) *Proposal {
	rosterSet := map[string]bool{}
	votes := map[string]common.Trilean{}
	for _, id := range roster {
		rosterSet[id] = true
		votes[id] = common.Undefined
	}
	return &Proposal{
		action:    action,
		data:      data,
		roster:    rosterSet,
		threshold: threshold,
		votes:     votes,
	}
}

// Action returns the action the Proposal gates.
func (p *Proposal) Action() string {
	return p.action
}

// Data returns the opaque payload the vote is about.
func (p *Proposal) Data() []byte {
	return p.data
}

// Threshold returns the approval threshold.
func (p *Proposal) Threshold() int {
	return p.threshold
}

// Vote records a vote. A voter may change their vote until the Proposal is
// resolved; the latest vote counts. Votes from IDs outside the roster are
// silently dropped.
func (p *Proposal) Vote(nodeID string, approve bool) {
	p.Lock()
	defer p.Unlock()

	if !p.roster[nodeID] {
		return
	}

	if approve {
		p.votes[nodeID] = common.True
	} else {
		p.votes[nodeID] = common.False
	}
}

// Approvals returns the number of approve votes.
func (p *Proposal) Approvals() int {
	p.RLock()
	defer p.RUnlock()

	return p.count(common.True)
}

// Rejections returns the number of reject votes.
func (p *Proposal) Rejections() int {
	p.RLock()
	defer p.RUnlock()

	return p.count(common.False)
}

func (p *Proposal) count(v common.Trilean) int {
	res := 0
	for _, vote := range p.votes {
		if vote == v {
			res++
		}
	}
	return res
}

// HasQuorum reports whether approvals have reached the threshold.
func (p *Proposal) HasQuorum() bool {
	p.RLock()
	defer p.RUnlock()

	return p.count(common.True) >= p.threshold
}

// Result reports the Proposal's outcome: the threshold is reached and no
// roster member voted reject. An explicit reject vetoes even when enough
// approvals are in; an undecided member does not.
func (p *Proposal) Result() bool {
	p.RLock()
	defer p.RUnlock()

	return p.count(common.True) >= p.threshold && p.count(common.False) == 0
}

// Votes returns a copy of the vote map.
func (p *Proposal) Votes() map[string]common.Trilean {
	p.RLock()
	defer p.RUnlock()

	res := make(map[string]common.Trilean, len(p.votes))
	for id, vote := range p.votes {
		res[id] = vote
	}
	return res
}
