package node

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/commonsnetwork/commonsync/src/backend"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/net"
	"github.com/sirupsen/logrus"
)

//Node defines a commonsync node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	signer *Signer

	backend *backend.Backend

	trans net.SecureTransport
	netCh <-chan net.Envelope

	peerSelector PeerSelector

	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start        time.Time
	syncRequests int64
	syncErrors   int64
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	signer *Signer,
	peerAddrs []string,
	b *backend.Backend,
	trans net.SecureTransport,
) *Node {
	node := Node{
		conf:         conf,
		logger:       conf.Logger.WithField("this_id", signer.DID()),
		signer:       signer,
		backend:      b,
		trans:        trans,
		netCh:        trans.Receive(),
		peerSelector: NewRandomPeerSelector(peerAddrs, trans.LocalAddr()),
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		start:        time.Now(),
	}

	return &node
}

//Init initialises the node
func (n *Node) Init() error {
	n.logger.WithFields(logrus.Fields{
		"moniker": n.signer.Moniker,
		"peers":   len(n.peerSelector.Others()),
	}).Debug("Init")

	n.setState(Running)

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync(sync bool) {
	n.logger.WithField("sync", sync).Debug("runasync")

	go n.Run(sync)
}

//Run invokes the main loop of the node
func (n *Node) Run(sync bool) {
	//The ControlTimer paces the periodic anti-entropy sync.
	go n.controlTimer.Run(n.conf.SyncInterval)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Running:
			n.running(sync)
		case Suspended:
			n.suspended()
		case Shutdown:
			return
		}
	}
}

func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		n.controlTimer.resetCh <- n.conf.SyncInterval
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case env := <-n.netCh:
			n.goFunc(func() {
				n.logger.Debug("Processing Envelope")
				n.processEnvelope(env)
				n.resetTimer()
			})
		case ev := <-n.backend.Outbound():
			n.goFunc(func() {
				n.broadcast(ev)
			})
		case <-n.shutdownCh:
			return
		}
	}
}

// running processes timer ticks and initiates an anti-entropy sync round with
// a random peer on each one.
func (n *Node) running(sync bool) {
	n.logger.Debug("RUNNING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if n.getState() != Running {
				return
			}
			if sync {
				peer := n.peerSelector.Next()
				if peer != "" {
					n.goFunc(func() { n.syncWith(peer) })
				}
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

// suspended consumes timer ticks without initiating sync. Inbound messages
// are still served by the background routine.
func (n *Node) suspended() {
	n.logger.Debug("SUSPENDED")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if n.getState() != Suspended {
				return
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processEnvelope(env net.Envelope) {
	msg := new(net.Message)
	if err := msg.Unmarshal(env.Payload); err != nil {
		n.logger.WithError(err).WithField("from", env.From).Warning("Discarding undecodable message")
		return
	}

	n.logger.WithFields(logrus.Fields{
		"kind":   msg.Kind,
		"from":   env.From,
		"events": len(msg.Events),
		"known":  len(msg.Known),
	}).Debug("Processing message")

	switch msg.Kind {
	case net.MessageSubmit:
		n.ingestEvents(msg.Events)
	case net.MessageSyncRequest:
		n.processSyncRequest(env.From, msg)
	case net.MessageSyncResponse:
		n.ingestEvents(msg.Events)
	default:
		n.logger.WithField("kind", msg.Kind).Warning("Discarding message of unknown kind")
	}
}

// ingestEvents runs inbound events through the acceptance policy. Rejections
// are not errors; the outcome is logged and the loop continues.
func (n *Node) ingestEvents(wireEvents [][]byte) {
	for _, data := range wireEvents {
		ev := new(event.Event)
		if err := ev.Unmarshal(data); err != nil {
			n.logger.WithError(err).Warning("Discarding undecodable event")
			continue
		}

		outcome, err := n.backend.ReceiveEvent(ev)
		if err != nil {
			n.logger.WithError(err).Error("ReceiveEvent")
			continue
		}

		if !outcome.Accepted {
			n.logger.WithFields(logrus.Fields{
				"event_id": outcome.EventID,
				"reason":   outcome.Reason,
			}).Debug("Rejected event")
		}
	}
}

// processSyncRequest answers with the events the requester is missing, up to
// SyncLimit per round. Anything beyond the limit is picked up by the
// requester's next round.
func (n *Node) processSyncRequest(from string, msg *net.Message) {
	known := map[string]bool{}
	for _, id := range msg.Known {
		known[id] = true
	}

	diff := [][]byte{}
	for _, ev := range n.backend.History() {
		if known[ev.ID] {
			continue
		}
		data, err := ev.Marshal()
		if err != nil {
			n.logger.WithError(err).Error("Marshalling event")
			continue
		}
		diff = append(diff, data)
		if len(diff) >= n.conf.SyncLimit {
			n.logger.Debug("SyncLimit")
			break
		}
	}

	resp := &net.Message{
		Kind:   net.MessageSyncResponse,
		From:   n.trans.LocalAddr(),
		Known:  n.backend.HistoryIDs(),
		Events: diff,
	}

	if err := n.send(resp, from); err != nil {
		n.logger.WithError(err).WithField("to", from).Error("Responding to sync request")
	}
}

//syncWith initiates a pull round with the selected peer. The response comes
//back asynchronously through the transport.
func (n *Node) syncWith(peer string) error {
	atomic.AddInt64(&n.syncRequests, 1)

	req := &net.Message{
		Kind:  net.MessageSyncRequest,
		From:  n.trans.LocalAddr(),
		Known: n.backend.HistoryIDs(),
	}

	start := time.Now()
	err := n.send(req, peer)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("syncWith()")

	if err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
		n.logger.WithError(err).WithField("peer", peer).Error("syncWith()")
		return err
	}

	n.peerSelector.UpdateLast(peer)

	n.logStats()

	return nil
}

//broadcast pushes a freshly accepted event to every peer.
func (n *Node) broadcast(ev *event.Event) {
	data, err := ev.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Marshalling event")
		return
	}

	msg := &net.Message{
		Kind:   net.MessageSubmit,
		From:   n.trans.LocalAddr(),
		Events: [][]byte{data},
	}

	for _, peer := range n.peerSelector.Others() {
		if err := n.send(msg, peer); err != nil {
			n.logger.WithError(err).WithField("peer", peer).Error("Broadcasting event")
		}
	}
}

func (n *Node) send(msg *net.Message, destination string) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	return n.trans.Send(data, destination)
}

// Submit creates an event of the given type and payload, signs it with the
// local key, and runs it through the acceptance policy. Accepted events are
// enqueued for broadcast.
func (n *Node) Submit(eventType string, payload *event.Payload) (*backend.Outcome, error) {
	ev, err := n.signer.NewSignedEvent(eventType, payload)
	if err != nil {
		return nil, err
	}
	return n.SubmitEvent(ev)
}

// SubmitEvent runs a pre-built event through the acceptance policy and
// enqueues it for broadcast when accepted.
func (n *Node) SubmitEvent(ev *event.Event) (*backend.Outcome, error) {
	return n.backend.BroadcastEvent(ev)
}

// Suspend stops the node from initiating sync. Inbound messages are still
// processed.
func (n *Node) Suspend() {
	if n.getState() == Running {
		n.logger.Debug("Suspend")
		n.setState(Suspended)
	}
}

// Resume returns a suspended node to the Running state.
func (n *Node) Resume() {
	if n.getState() == Suspended {
		n.logger.Debug("Resume")
		n.setState(Running)
	}
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()

		//transport should only be closed once all concurrent operations are
		//finished otherwise they will panic trying to use closed objects
		n.trans.Close()
	}
}

//Backend exposes the node's acceptance policy
func (n *Node) Backend() *backend.Backend {
	return n.backend
}

//Signer exposes the node's local identity
func (n *Node) Signer() *Signer {
	return n.signer
}

//Addr returns the address peers reach this node at
func (n *Node) Addr() string {
	return n.trans.LocalAddr()
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	acceptedCount := len(n.backend.HistoryIDs())
	eventsPerSecond := float64(acceptedCount) / timeElapsed.Seconds()

	s := n.backend.Stats()

	s["id"] = n.signer.DID()
	s["moniker"] = n.signer.Moniker
	s["num_peers"] = strconv.Itoa(len(n.peerSelector.Others()))
	s["state"] = n.getState().String()
	s["sync_rate"] = strconv.FormatFloat(n.SyncRate(), 'f', 2, 64)
	s["events_per_second"] = strconv.FormatFloat(eventsPerSecond, 'f', 2, 64)

	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"events":    stats["events"],
		"anchors":   stats["anchors"],
		"sync_rate": stats["sync_rate"],
		"state":     stats["state"],
	}).Debug("Stats")
}

//SyncRate returns the fraction of sync rounds that did not error
func (n *Node) SyncRate() float64 {
	var syncErrorRate float64

	requests := atomic.LoadInt64(&n.syncRequests)
	errors := atomic.LoadInt64(&n.syncErrors)

	if requests != 0 {
		syncErrorRate = float64(errors) / float64(requests)
	}

	return 1 - syncErrorRate
}
