package backend

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/commonsnetwork/commonsync/src/anomaly"
	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/quorum"
	"github.com/commonsnetwork/commonsync/src/trust"
	"github.com/commonsnetwork/commonsync/src/zk"
	"github.com/sirupsen/logrus"
)

// Policy configures the acceptance checks. Thresholds live here, supplied by
// the operator, never inside events: a self-declared threshold would be
// attacker-controlled.
type Policy struct {
	// MinTrust is the number of endorsements a signer's anchor needs to
	// count as trusted.
	MinTrust int

	// MRequired is the number of trusted, verified signatures an event
	// needs, unless overridden for its type.
	MRequired int

	// TypeThresholds overrides MRequired per event type.
	TypeThresholds map[string]int

	// QuorumTypes names the event types that additionally need a passing
	// quorum proposal for the action "accept:<type>".
	QuorumTypes map[string]bool
}

// DefaultPolicy returns a Policy requiring one endorsement and one signature,
// with no quorum-gated types.
func DefaultPolicy() *Policy {
	return &Policy{
		MinTrust:       1,
		MRequired:      1,
		TypeThresholds: map[string]int{},
		QuorumTypes:    map[string]bool{},
	}
}

// RequiredSignatures returns the signature threshold for an event type.
func (p *Policy) RequiredSignatures(eventType string) int {
	if m, ok := p.TypeThresholds[eventType]; ok {
		return m
	}
	return p.MRequired
}

// QuorumAction names the gate action that must pass before an event of the
// given type is accepted.
func QuorumAction(eventType string) string {
	return "accept:" + eventType
}

// Backend is the sync backend: the node-local keeper of accepted events. All
// inbound events, whether locally created or received from a peer, pass
// through the same ordered acceptance policy before they can touch the audit
// log or history. Signature and proof checks run lock-free; only the tail of
// the pipeline, from the dedup check through the audit append and store add,
// runs under the Backend's lock, because those steps read and write the
// shared history.
type Backend struct {
	l sync.Mutex

	policy   *Policy
	registry trust.Registry
	gate     *quorum.Gate
	auditLog *audit.Log
	store    Store
	detector *anomaly.Detector
	verifier zk.Verifier

	outbound chan *event.Event

	logger *logrus.Entry
}

// NewBackend instantiates a Backend over its collaborators. verifier may be
// nil when no proof system is configured; events carrying proofs are then
// rejected.
func NewBackend(
	policy *Policy,
	registry trust.Registry,
	gate *quorum.Gate,
	auditLog *audit.Log,
	store Store,
	detector *anomaly.Detector,
	verifier zk.Verifier,
	logger *logrus.Entry,
) *Backend {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	return &Backend{
		policy:   policy,
		registry: registry,
		gate:     gate,
		auditLog: auditLog,
		store:    store,
		detector: detector,
		verifier: verifier,
		outbound: make(chan *event.Event, 128),
		logger:   logger,
	}
}

// BroadcastEvent submits a locally created event. On acceptance the event is
// also queued for propagation to peers.
func (b *Backend) BroadcastEvent(ev *event.Event) (*Outcome, error) {
	return b.apply(ev, true)
}

// ReceiveEvent submits an event received from a peer.
func (b *Backend) ReceiveEvent(ev *event.Event) (*Outcome, error) {
	return b.apply(ev, false)
}

// apply runs the acceptance policy. The order of checks is part of the
// contract: structural, proof, signatures, trust, threshold, quorum, dedup,
// tamper, then the durable append.
func (b *Backend) apply(ev *event.Event, broadcast bool) (*Outcome, error) {
	// 1. structural
	if ev == nil {
		return rejectedOutcome("", ReasonMalformedEvent, "nil event"), nil
	}
	if err := ev.Validate(); err != nil {
		b.logger.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"detail":   err,
		}).Debug("Rejecting malformed event")
		return rejectedOutcome(ev.ID, ReasonMalformedEvent, err.Error()), nil
	}

	// 2. proof
	if ev.Proof != nil {
		if b.verifier == nil {
			return rejectedOutcome(ev.ID, ReasonInvalidProof, "no proof verifier configured"), nil
		}
		if !b.verifier.Verify(ev.Proof.Statement, ev.Proof.Proof) {
			return rejectedOutcome(ev.ID, ReasonInvalidProof,
				fmt.Sprintf("proof rejected for statement %q", ev.Proof.Statement)), nil
		}
	}

	// 3. signatures: collect the pairs that verify
	signers, err := ev.VerifiedSigners()
	if err != nil {
		return rejectedOutcome(ev.ID, ReasonMalformedEvent, err.Error()), nil
	}
	if len(signers) == 0 {
		return rejectedOutcome(ev.ID, ReasonInvalidSignature, "no signature verifies"), nil
	}

	// 4. trust: count verified signers whose anchors are live and
	// sufficiently endorsed. Rotated-away keys resolve as revoked and do
	// not count.
	trustedDIDs := map[string]bool{}
	for _, pub := range signers {
		anchor, ok := b.registry.AnchorByPublicKey(pub)
		if !ok || anchor.Revoked {
			continue
		}
		if !b.registry.IsTrusted(anchor.DID, b.policy.MinTrust) {
			continue
		}
		trustedDIDs[anchor.DID] = true
	}

	// 5. threshold
	required := b.policy.RequiredSignatures(ev.Type)
	if len(trustedDIDs) < required {
		b.logger.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"trusted":  len(trustedDIDs),
			"required": required,
		}).Debug("Rejecting undersigned event")
		return rejectedOutcome(ev.ID, ReasonInsufficientSignatures,
			fmt.Sprintf("%d of %d required trusted signatures", len(trustedDIDs), required)), nil
	}

	// 6. quorum
	gated := b.policy.QuorumTypes[ev.Type]
	action := QuorumAction(ev.Type)
	if gated && !b.gate.Result(action) {
		return rejectedOutcome(ev.ID, ReasonQuorumNotReached,
			fmt.Sprintf("no passing proposal for %s", action)), nil
	}

	newHash, err := ev.SigningHash()
	if err != nil {
		return rejectedOutcome(ev.ID, ReasonMalformedEvent, err.Error()), nil
	}

	data, err := ev.Marshal()
	if err != nil {
		return rejectedOutcome(ev.ID, ReasonMalformedEvent, err.Error()), nil
	}

	// 7-9. dedup, tamper, durable append. Serialized: two concurrent
	// submissions of the same ID must not both pass the dedup check.
	b.l.Lock()

	if stored, err := b.store.Get(ev.ID); err == nil {
		storedHash, err := stored.SigningHash()
		b.l.Unlock()

		if err == nil && bytes.Equal(storedHash, newHash) {
			return duplicateOutcome(ev.ID), nil
		}

		b.logger.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"origin":   ev.Origin,
		}).Warning("Rejecting duplicate event ID with different content")
		return rejectedOutcome(ev.ID, ReasonTamperedHistory,
			"event ID already in history with different content"), nil
	}

	if _, err := b.auditLog.Append(ev.ID, data); err != nil {
		b.l.Unlock()
		return nil, err
	}

	if err := b.store.Add(ev); err != nil {
		b.l.Unlock()
		b.logger.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"error":    err,
		}).Error("History add failed after audit append")
		return nil, err
	}

	b.l.Unlock()

	// a passing proposal gates exactly one acceptance
	if gated {
		b.gate.Resolve(action)
	}

	// 10. advisory hooks, after durability
	if b.detector != nil {
		b.detector.Dispatch(ev)
	}

	// 11. gossip
	if broadcast {
		b.enqueue(ev)
	}

	b.logger.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"type":     ev.Type,
		"origin":   ev.Origin,
	}).Debug("Accepted event")

	return acceptedOutcome(ev.ID), nil
}

// enqueue queues an accepted event for propagation. The queue is bounded;
// when it is full the event is dropped here and the anti-entropy sync later
// repairs the gap.
func (b *Backend) enqueue(ev *event.Event) {
	select {
	case b.outbound <- ev:
	default:
		b.logger.WithField("event_id", ev.ID).Warning("Outbound queue full, dropping")
	}
}

// Outbound returns the queue of accepted events awaiting propagation.
func (b *Backend) Outbound() <-chan *event.Event {
	return b.outbound
}

// History returns the accepted events in acceptance order.
func (b *Backend) History() []*event.Event {
	return b.store.List()
}

// HistoryIDs returns the accepted event IDs in acceptance order.
func (b *Backend) HistoryIDs() []string {
	return b.store.IDs()
}

// Get returns an accepted event by ID.
func (b *Backend) Get(eventID string) (*event.Event, error) {
	return b.store.Get(eventID)
}

// Has reports whether an event ID is in history.
func (b *Backend) Has(eventID string) bool {
	return b.store.Has(eventID)
}

// VerifyChain replays the audit log from genesis.
func (b *Backend) VerifyChain() bool {
	return b.auditLog.VerifyChain()
}

// AuditEntries returns the audit log's entries in append order.
func (b *Backend) AuditEntries() []*audit.Entry {
	return b.auditLog.Entries()
}

// Registry returns the trust registry the policy consults.
func (b *Backend) Registry() trust.Registry {
	return b.registry
}

// Gate returns the quorum gate the policy consults.
func (b *Backend) Gate() *quorum.Gate {
	return b.gate
}

// Policy returns the acceptance policy parameters.
func (b *Backend) Policy() *Policy {
	return b.policy
}

// Stats returns counters for the stats endpoint.
func (b *Backend) Stats() map[string]string {
	stats := map[string]string{
		"events":        strconv.Itoa(b.store.Len()),
		"audit_entries": strconv.Itoa(b.auditLog.Len()),
		"anchors":       strconv.Itoa(len(b.registry.Anchors())),
		"chain_valid":   strconv.FormatBool(b.auditLog.VerifyChain()),
	}
	if b.detector != nil {
		stats["anomalies_flagged"] = strconv.Itoa(b.detector.Flagged())
	}
	return stats
}
