package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/node"
	"github.com/commonsnetwork/commonsync/src/trust"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is useful when the sync layer is used
// in-memory and expected to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/history", s.makeHandler(s.GetHistory))
	http.HandleFunc("/event/", s.makeHandler(s.GetEvent))
	http.HandleFunc("/chain", s.makeHandler(s.GetChain))
	http.HandleFunc("/anchors", s.makeHandler(s.GetAnchors))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when the sync layer is used in-memory and another server has
// already been started with the DefaultServerMux and the same address:port
// combination. Indeed, the API handlers have already been registered when the
// service was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetHistory returns the accepted events in append order, in wire form.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := s.node.Backend().History()

	wireEvents := make([]*event.WireEvent, len(history))
	for i, ev := range history {
		wireEvents[i] = ev.ToWire()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(wireEvents)
}

// GetEvent returns one accepted event by ID.
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Path[len("/event/"):]

	ev, err := s.node.Backend().Get(eventID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving event %s", eventID)

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(ev.ToWire())
}

// ChainInfo is the response of the /chain endpoint.
type ChainInfo struct {
	Valid   bool           `json:"valid"`
	Entries []*audit.Entry `json:"entries"`
}

// GetChain returns the audit log entries and the result of verifying the hash
// chain from genesis.
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	b := s.node.Backend()

	res := ChainInfo{
		Valid:   b.VerifyChain(),
		Entries: b.AuditEntries(),
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetAnchors returns the current trust anchors.
func (s *Service) GetAnchors(w http.ResponseWriter, r *http.Request) {
	anchors := s.node.Backend().Registry().Anchors()

	wireAnchors := make([]*trust.WireAnchor, len(anchors))
	for i, anchor := range anchors {
		wireAnchors[i] = anchor.ToWire()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(wireAnchors)
}
