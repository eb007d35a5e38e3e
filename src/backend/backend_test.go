package backend

import (
	"crypto/ed25519"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/commonsnetwork/commonsync/src/anomaly"
	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/quorum"
	"github.com/commonsnetwork/commonsync/src/trust"
	"github.com/commonsnetwork/commonsync/src/zk"
)

type testFixture struct {
	backend  *Backend
	registry *trust.InmemRegistry
	gate     *quorum.Gate
	auditLog *audit.Log
	detector *anomaly.Detector
	dir      string
}

func newTestFixture(t *testing.T, policy *Policy, verifier zk.Verifier) *testFixture {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "commons")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}

	auditLog, err := audit.Open(path.Join(dir, "audit.log"), common.NewTestEntry(t, "test"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	registry := trust.NewInmemRegistry()
	gate := quorum.NewGate(common.NewTestEntry(t, "test"))
	detector := anomaly.NewDetector(common.NewTestEntry(t, "test"))

	backend := NewBackend(
		policy,
		registry,
		gate,
		auditLog,
		NewInmemStore(),
		detector,
		verifier,
		common.NewTestEntry(t, "test"))

	return &testFixture{
		backend:  backend,
		registry: registry,
		gate:     gate,
		auditLog: auditLog,
		detector: detector,
		dir:      dir,
	}
}

func (f *testFixture) cleanup() {
	f.auditLog.Close()
	os.RemoveAll(f.dir)
}

// registerIdentity generates a keypair and registers its DID with one
// endorser, the minimum to pass the default policy.
func registerIdentity(t *testing.T, registry trust.Registry) (ed25519.PrivateKey, string) {
	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	did := keys.DIDFromPrivateKey(key)

	if err := registry.Register(did, keys.PublicKey(key), []string{"did:commons:endorser1"}); err != nil {
		t.Fatalf("err: %v", err)
	}

	return key, did
}

func signedEvent(t *testing.T, key ed25519.PrivateKey, eventType string, val int) *event.Event {
	ev := event.NewEvent(eventType, event.NewPayload().Set("val", val), "A")
	if err := ev.Sign(key); err != nil {
		t.Fatalf("err: %v", err)
	}
	return ev
}

func TestAcceptAndRevoke(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, did := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)

	outcome, err := f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted || outcome.Duplicate {
		t.Fatalf("event should be accepted: %+v", outcome)
	}

	if len(f.backend.History()) != 1 {
		t.Fatalf("history should hold 1 event")
	}
	if !f.backend.VerifyChain() {
		t.Fatalf("audit chain should verify")
	}

	// after revocation a new event from the same key is undersigned
	if err := f.registry.Revoke(did); err != nil {
		t.Fatalf("err: %v", err)
	}

	ev2 := signedEvent(t, key, "note", 2)

	outcome, err = f.backend.ReceiveEvent(ev2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted {
		t.Fatalf("event signed by a revoked key should be rejected")
	}
	if outcome.Reason != ReasonInsufficientSignatures {
		t.Fatalf("expected %s, got %s", ReasonInsufficientSignatures, outcome.Reason)
	}

	// the earlier acceptance is untouched
	if len(f.backend.History()) != 1 {
		t.Fatalf("history should still hold 1 event")
	}
	if !f.backend.VerifyChain() {
		t.Fatalf("audit chain should still verify")
	}
}

func TestIdempotence(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)

	if _, err := f.backend.BroadcastEvent(ev); err != nil {
		t.Fatalf("err: %v", err)
	}

	// the same event delivered again is a no-op success
	outcome, err := f.backend.ReceiveEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted || !outcome.Duplicate {
		t.Fatalf("redelivery should be a duplicate no-op: %+v", outcome)
	}

	if len(f.backend.History()) != 1 {
		t.Fatalf("history should hold 1 event, got %d", len(f.backend.History()))
	}
	if f.auditLog.Len() != 1 {
		t.Fatalf("audit log should hold 1 entry, got %d", f.auditLog.Len())
	}
}

func TestForgeryRejected(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)

	if _, err := f.backend.BroadcastEvent(ev); err != nil {
		t.Fatalf("err: %v", err)
	}

	// a validly signed event reusing the accepted ID with different content;
	// the ID is not covered by signatures, so the forgery still verifies
	forged := signedEvent(t, key, "note", 99)
	forged.ID = ev.ID

	outcome, err := f.backend.ReceiveEvent(forged)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted {
		t.Fatalf("forged duplicate ID should be rejected")
	}
	if outcome.Reason != ReasonTamperedHistory {
		t.Fatalf("expected %s, got %s", ReasonTamperedHistory, outcome.Reason)
	}

	// history retains the original unchanged
	stored, err := f.backend.Get(ev.ID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	val, _ := stored.Payload.Get("val")
	if val != 1 {
		t.Fatalf("original event should be retained, got val %v", val)
	}
	if f.auditLog.Len() != 1 {
		t.Fatalf("audit log should hold 1 entry")
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	// a structurally complete event whose only signature is garbage
	ev := event.NewEvent("note", event.NewPayload().Set("val", 1), "A")
	ev.Signatures = []event.Signature{{
		PublicKey: keys.PublicKey(key),
		Signature: make([]byte, ed25519.SignatureSize),
	}}

	outcome, err := f.backend.ReceiveEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonInvalidSignature {
		t.Fatalf("expected %s, got %+v", ReasonInvalidSignature, outcome)
	}
}

func TestUnknownSignerRejected(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	// valid signature, but the signer was never registered
	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	ev := signedEvent(t, key, "note", 1)

	outcome, err := f.backend.ReceiveEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonInsufficientSignatures {
		t.Fatalf("expected %s, got %+v", ReasonInsufficientSignatures, outcome)
	}
}

func TestMalformedRejected(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	outcome, err := f.backend.ReceiveEvent(nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonMalformedEvent {
		t.Fatalf("nil event should be malformed, got %+v", outcome)
	}

	ev := event.NewEvent("", event.NewPayload(), "A")

	outcome, err = f.backend.ReceiveEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonMalformedEvent {
		t.Fatalf("typeless event should be malformed, got %+v", outcome)
	}

	// rejections never touch the log
	if f.auditLog.Len() != 0 {
		t.Fatalf("rejected events must not reach the audit log")
	}
}

func TestMultisigThreshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.TypeThresholds = map[string]int{"transfer": 2}

	f := newTestFixture(t, policy, nil)
	defer f.cleanup()

	key1, _ := registerIdentity(t, f.registry)
	key2, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key1, "transfer", 100)

	outcome, err := f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonInsufficientSignatures {
		t.Fatalf("1 of 2 signatures should be rejected, got %+v", outcome)
	}

	// the same event content with a second trusted signature passes
	if err := ev.Sign(key2); err != nil {
		t.Fatalf("err: %v", err)
	}

	outcome, err = f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("2 of 2 signatures should be accepted, got %+v", outcome)
	}
}

func TestTwoSignaturesOneSigner(t *testing.T) {
	policy := DefaultPolicy()
	policy.TypeThresholds = map[string]int{"transfer": 2}

	f := newTestFixture(t, policy, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	// two signature blobs from the same key are one signer, not two
	ev := signedEvent(t, key, "transfer", 100)
	if err := ev.Sign(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	outcome, err := f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonInsufficientSignatures {
		t.Fatalf("repeated signer should not meet the threshold, got %+v", outcome)
	}
}

func TestQuorumGating(t *testing.T) {
	policy := DefaultPolicy()
	policy.QuorumTypes = map[string]bool{"upgrade": true}

	f := newTestFixture(t, policy, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "upgrade", 1)

	// no proposal, no quorum
	outcome, err := f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonQuorumNotReached {
		t.Fatalf("expected %s, got %+v", ReasonQuorumNotReached, outcome)
	}

	// open a proposal and vote it through
	action := QuorumAction("upgrade")
	roster := []string{"did:commons:a", "did:commons:b", "did:commons:c"}

	f.gate.Propose(action, nil, roster, 2)
	f.gate.Vote(action, "did:commons:a", true)
	f.gate.Vote(action, "did:commons:b", true)

	outcome, err = f.backend.BroadcastEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("event should pass with quorum, got %+v", outcome)
	}

	// the proposal gated exactly one acceptance
	ev2 := signedEvent(t, key, "upgrade", 2)

	outcome, err = f.backend.BroadcastEvent(ev2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonQuorumNotReached {
		t.Fatalf("a resolved proposal should not gate a second event, got %+v", outcome)
	}
}

func TestProofGating(t *testing.T) {
	verifier := zk.NewInmemVerifier(false)
	verifier.Allow("age>=18")

	f := newTestFixture(t, nil, verifier)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)
	ev.Proof = &event.Proof{Statement: "forged-statement", Proof: []byte{0x01}}

	outcome, err := f.backend.ReceiveEvent(ev)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if outcome.Accepted || outcome.Reason != ReasonInvalidProof {
		t.Fatalf("expected %s, got %+v", ReasonInvalidProof, outcome)
	}

	ev2 := signedEvent(t, key, "note", 2)
	ev2.Proof = &event.Proof{Statement: "age>=18", Proof: []byte{0x01}}

	outcome, err = f.backend.ReceiveEvent(ev2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("verifiable proof should pass, got %+v", outcome)
	}
}

func TestAuditFailureIsError(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	// break the log's file underneath it
	f.auditLog.Close()

	ev := signedEvent(t, key, "note", 1)

	outcome, err := f.backend.BroadcastEvent(ev)
	if outcome != nil {
		t.Fatalf("an infrastructure failure should not produce an outcome")
	}
	if !audit.IsIO(err) {
		t.Fatalf("expected IOError, got %v", err)
	}

	// nothing entered history
	if len(f.backend.History()) != 0 {
		t.Fatalf("failed append must not store the event")
	}
}

func TestBroadcastEnqueuesOutbound(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)
	if _, err := f.backend.BroadcastEvent(ev); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case queued := <-f.backend.Outbound():
		if queued.ID != ev.ID {
			t.Fatalf("outbound queue holds the wrong event")
		}
	default:
		t.Fatalf("broadcast should enqueue the event for propagation")
	}

	// receive does not gossip
	ev2 := signedEvent(t, key, "note", 2)
	if _, err := f.backend.ReceiveEvent(ev2); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case <-f.backend.Outbound():
		t.Fatalf("received events must not be re-queued")
	default:
	}
}

type countingAnalyzer struct {
	l     sync.Mutex
	calls int
}

func (c *countingAnalyzer) Name() string { return "counter" }

func (c *countingAnalyzer) Analyze(ev *event.Event) error {
	c.l.Lock()
	defer c.l.Unlock()
	c.calls++
	return fmt.Errorf("flagged")
}

func TestHooksRunAfterAcceptance(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	counter := &countingAnalyzer{}
	f.detector.Register(counter)

	key, _ := registerIdentity(t, f.registry)

	// a rejected event never reaches the hooks
	bad := event.NewEvent("", event.NewPayload(), "A")
	f.backend.ReceiveEvent(bad)

	if counter.calls != 0 {
		t.Fatalf("rejected events must not reach analyzers")
	}

	// an accepted event does, and a flagging analyzer does not block it
	ev := signedEvent(t, key, "note", 1)

	outcome, err := f.backend.BroadcastEvent(ev)
	if err != nil || !outcome.Accepted {
		t.Fatalf("event should be accepted despite the flag: %+v %v", outcome, err)
	}
	if counter.calls != 1 {
		t.Fatalf("accepted event should reach analyzers once, got %d", counter.calls)
	}
	if f.detector.Flagged() != 1 {
		t.Fatalf("flag should be counted")
	}
}

func TestConcurrentRedelivery(t *testing.T) {
	f := newTestFixture(t, nil, nil)
	defer f.cleanup()

	key, _ := registerIdentity(t, f.registry)

	ev := signedEvent(t, key, "note", 1)

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.backend.ReceiveEvent(ev)
			if err != nil {
				t.Errorf("err: %v", err)
				return
			}
			outcomes[i] = outcome
		}(i)
	}

	wg.Wait()

	firsts := 0
	for _, outcome := range outcomes {
		if outcome == nil || !outcome.Accepted {
			t.Fatalf("all deliveries should succeed: %+v", outcome)
		}
		if !outcome.Duplicate {
			firsts++
		}
	}

	if firsts != 1 {
		t.Fatalf("exactly one delivery should be first, got %d", firsts)
	}
	if len(f.backend.History()) != 1 || f.auditLog.Len() != 1 {
		t.Fatalf("concurrent redelivery must apply at most once")
	}
}
