package node

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/commonsnetwork/commonsync/src/anomaly"
	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/commonsnetwork/commonsync/src/backend"
	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/net"
	"github.com/commonsnetwork/commonsync/src/quorum"
	"github.com/commonsnetwork/commonsync/src/trust"
)

func initSigners(t *testing.T, n int) []*Signer {
	signers := []*Signer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateKey()
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		signers = append(signers, NewSigner(key, fmt.Sprintf("node%d", i)))
	}
	return signers
}

// newTestBackend builds a backend whose registry trusts all the given signers.
func newTestBackend(t *testing.T, signers []*Signer) *backend.Backend {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "commons")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	registry := trust.NewInmemRegistry()
	for _, s := range signers {
		if err := registry.Register(s.DID(), s.PublicKeyBytes(), []string{"did:commons:steward"}); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	auditLog, err := audit.Open(filepath.Join(dir, "audit.log"), common.NewTestEntry(t, "audit"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return backend.NewBackend(
		nil,
		registry,
		quorum.NewGate(common.NewTestEntry(t, "quorum")),
		auditLog,
		backend.NewInmemStore(),
		anomaly.NewDetector(common.NewTestEntry(t, "anomaly")),
		nil,
		common.NewTestEntry(t, "backend"),
	)
}

// initNodes starts a fully connected network, one node per signer.
func initNodes(t *testing.T, signers []*Signer) []*Node {
	addrs := []string{}
	transports := []*net.InmemTransport{}
	for range signers {
		addr, trans := net.NewInmemTransport("")
		addrs = append(addrs, addr)
		transports = append(transports, trans)
	}
	for i, ti := range transports {
		for j, tj := range transports {
			if i != j {
				ti.Connect(addrs[j], tj)
			}
		}
	}

	nodes := []*Node{}
	for i, s := range signers {
		n := NewNode(TestConfig(t), s, addrs, newTestBackend(t, signers), transports[i])
		if err := n.Init(); err != nil {
			t.Fatalf("err: %v", err)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func shutdownNodes(nodes []*Node) {
	for _, n := range nodes {
		n.Shutdown()
	}
}

func converged(nodes []*Node) bool {
	ref := nodes[0].Backend().HistoryIDs()
	sort.Strings(ref)
	for _, n := range nodes[1:] {
		ids := n.Backend().HistoryIDs()
		sort.Strings(ids)
		if !reflect.DeepEqual(ref, ids) {
			return false
		}
	}
	return true
}

func waitConverged(t *testing.T, timeout time.Duration, expected int, nodes []*Node) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(nodes[0].Backend().HistoryIDs()) == expected && converged(nodes) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("nodes did not converge on %d events within %v", expected, timeout)
}

func TestBroadcastPropagation(t *testing.T) {
	signers := initSigners(t, 3)
	nodes := initNodes(t, signers)
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(false)
	}

	outcome, err := nodes[0].Submit("commons.proposal", event.NewPayload().Set("title", "repair the well"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("local submission should be accepted, reason: %s", outcome.Reason)
	}

	waitConverged(t, 3*time.Second, 1, nodes)
}

func TestProcessSyncRequest(t *testing.T) {
	signers := initSigners(t, 1)

	addr, trans := net.NewInmemTransport("")
	n := NewNode(TestConfig(t), signers[0], []string{addr}, newTestBackend(t, signers), trans)
	if err := n.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	n.RunAsync(false)
	defer n.Shutdown()

	ev, err := signers[0].NewSignedEvent("commons.proposal", event.NewPayload().Set("val", 1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := n.Backend().ReceiveEvent(ev); err != nil {
		t.Fatalf("err: %v", err)
	}

	probeAddr, probeTrans := net.NewInmemTransport("")
	probeTrans.Connect(addr, trans)
	trans.Connect(probeAddr, probeTrans)

	req := &net.Message{
		Kind:  net.MessageSyncRequest,
		From:  probeAddr,
		Known: []string{},
	}
	data, err := req.Marshal()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := probeTrans.Send(data, addr); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case env := <-probeTrans.Receive():
		resp := new(net.Message)
		if err := resp.Unmarshal(env.Payload); err != nil {
			t.Fatalf("err: %v", err)
		}
		if resp.Kind != net.MessageSyncResponse {
			t.Fatalf("expected %s, got %s", net.MessageSyncResponse, resp.Kind)
		}
		if len(resp.Known) != 1 || resp.Known[0] != ev.ID {
			t.Fatalf("response should advertise the known event, got %v", resp.Known)
		}
		if len(resp.Events) != 1 {
			t.Fatalf("response should carry 1 event, got %d", len(resp.Events))
		}
		got := new(event.Event)
		if err := got.Unmarshal(resp.Events[0]); err != nil {
			t.Fatalf("err: %v", err)
		}
		if got.ID != ev.ID {
			t.Fatalf("response should carry %s, got %s", ev.ID, got.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sync response")
	}
}

func TestPartitionConvergence(t *testing.T) {
	signers := initSigners(t, 2)

	addr0, trans0 := net.NewInmemTransport("")
	addr1, trans1 := net.NewInmemTransport("")

	node0 := NewNode(TestConfig(t), signers[0], []string{addr0, addr1}, newTestBackend(t, signers), trans0)
	node1 := NewNode(TestConfig(t), signers[1], []string{addr0, addr1}, newTestBackend(t, signers), trans1)
	nodes := []*Node{node0, node1}

	for _, n := range nodes {
		if err := n.Init(); err != nil {
			t.Fatalf("err: %v", err)
		}
		n.RunAsync(true)
	}
	defer shutdownNodes(nodes)

	// each side accepts an event while the transports are disconnected
	if _, err := node0.Submit("commons.proposal", event.NewPayload().Set("val", 0)); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := node1.Submit("commons.proposal", event.NewPayload().Set("val", 1)); err != nil {
		t.Fatalf("err: %v", err)
	}

	// let the doomed broadcasts drain before healing the partition
	time.Sleep(200 * time.Millisecond)

	if converged(nodes) {
		t.Fatalf("partitioned nodes should have diverged")
	}

	trans0.Connect(addr1, trans1)
	trans1.Connect(addr0, trans0)

	// anti-entropy alone must reconcile both histories
	waitConverged(t, 5*time.Second, 2, nodes)
}

func TestSuspendResume(t *testing.T) {
	signers := initSigners(t, 2)

	addr0, trans0 := net.NewInmemTransport("")
	addr1, trans1 := net.NewInmemTransport("")

	node0 := NewNode(TestConfig(t), signers[0], []string{addr0, addr1}, newTestBackend(t, signers), trans0)
	node1 := NewNode(TestConfig(t), signers[1], []string{addr0, addr1}, newTestBackend(t, signers), trans1)
	nodes := []*Node{node0, node1}

	for _, n := range nodes {
		if err := n.Init(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	node1.Suspend()
	if node1.GetStats()["state"] != "Suspended" {
		t.Fatalf("node1 should be Suspended")
	}

	for _, n := range nodes {
		n.RunAsync(true)
	}
	defer shutdownNodes(nodes)

	// accepted while partitioned, so the push never reaches node1
	if _, err := node0.Submit("commons.proposal", event.NewPayload().Set("val", 0)); err != nil {
		t.Fatalf("err: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	trans0.Connect(addr1, trans1)
	trans1.Connect(addr0, trans0)

	// a suspended node does not pull, so it stays behind
	time.Sleep(300 * time.Millisecond)
	if len(node1.Backend().HistoryIDs()) != 0 {
		t.Fatalf("suspended node should not have synced")
	}

	node1.Resume()

	waitConverged(t, 5*time.Second, 1, nodes)
}

func TestShutdownTwice(t *testing.T) {
	signers := initSigners(t, 1)

	addr, trans := net.NewInmemTransport("")
	n := NewNode(TestConfig(t), signers[0], []string{addr}, newTestBackend(t, signers), trans)
	if err := n.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	n.RunAsync(false)

	n.Shutdown()
	n.Shutdown()

	if n.GetStats()["state"] != "Shutdown" {
		t.Fatalf("node should be Shutdown")
	}
}
