package quorum

import (
	"sort"
	"sync"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/sirupsen/logrus"
)

// Gate tracks live Proposals by action and answers quorum queries for the
// acceptance policy. The Gate never blocks a caller: voting and tallying are
// plain map operations under the Gate's lock, and anyone who wants to wait
// for a quorum polls or imposes their own deadline.
type Gate struct {
	l         sync.Mutex
	proposals map[string]*Proposal
	logger    *logrus.Entry
}

// NewGate instantiates a Gate with no live proposals.
func NewGate(logger *logrus.Entry) *Gate {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	return &Gate{
		proposals: map[string]*Proposal{},
		logger:    logger,
	}
}

// Propose opens a voting round for an action, replacing any live proposal for
// the same action with a fresh ledger.
func (g *Gate) Propose(action string, data []byte, roster []string, threshold int) *Proposal {
	g.l.Lock()
	defer g.l.Unlock()

	if _, ok := g.proposals[action]; ok {
		g.logger.WithField("action", action).Debug("Replacing live proposal")
	}

	proposal := NewProposal(action, data, roster, threshold)
	g.proposals[action] = proposal

	g.logger.WithFields(logrus.Fields{
		"action":    action,
		"roster":    len(roster),
		"threshold": threshold,
	}).Debug("Proposal open")

	return proposal
}

// Vote records a vote on the live proposal for an action.
func (g *Gate) Vote(action string, nodeID string, approve bool) error {
	proposal, ok := g.get(action)
	if !ok {
		return common.NewStoreErr("proposal", common.KeyNotFound, action)
	}

	proposal.Vote(nodeID, approve)

	return nil
}

// HasQuorum reports whether the live proposal for an action has reached its
// approval threshold. No live proposal means no quorum.
func (g *Gate) HasQuorum(action string) bool {
	proposal, ok := g.get(action)
	if !ok {
		return false
	}
	return proposal.HasQuorum()
}

// Result reports the outcome of the live proposal for an action: threshold
// reached and no explicit reject. No live proposal means false.
func (g *Gate) Result(action string) bool {
	proposal, ok := g.get(action)
	if !ok {
		return false
	}
	return proposal.Result()
}

// Resolve returns the final outcome for an action and discards the proposal;
// each proposal gates at most one acceptance.
func (g *Gate) Resolve(action string) (bool, error) {
	g.l.Lock()
	defer g.l.Unlock()

	proposal, ok := g.proposals[action]
	if !ok {
		return false, common.NewStoreErr("proposal", common.KeyNotFound, action)
	}

	delete(g.proposals, action)

	res := proposal.Result()

	g.logger.WithFields(logrus.Fields{
		"action": action,
		"result": res,
	}).Debug("Proposal resolved")

	return res, nil
}

// Proposal returns the live proposal for an action.
func (g *Gate) Proposal(action string) (*Proposal, bool) {
	return g.get(action)
}

// Actions returns the actions with live proposals, sorted.
func (g *Gate) Actions() []string {
	g.l.Lock()
	defer g.l.Unlock()

	res := make([]string, 0, len(g.proposals))
	for action := range g.proposals {
		res = append(res, action)
	}
	sort.Strings(res)

	return res
}

func (g *Gate) get(action string) (*Proposal, bool) {
	g.l.Lock()
	defer g.l.Unlock()

	proposal, ok := g.proposals[action]
	return proposal, ok
}
