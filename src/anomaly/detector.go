package anomaly

import (
	"sync"

	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/sirupsen/logrus"
)

// Analyzer examines accepted events for suspicious patterns. A non-nil error
// from Analyze marks the event anomalous, or the analyzer broken; in both
// cases the error is logged and swallowed. Analyzers are advisory: they can
// alert and escalate, but they can never block or undo an acceptance.
type Analyzer interface {
	Name() string
	Analyze(ev *event.Event) error
}

// Detector fans accepted events out to the registered Analyzers. Events reach
// the Detector only after they are durable. A panicking or failing analyzer
// is isolated so it cannot take acceptance down with it.
type Detector struct {
	l         sync.Mutex
	analyzers []Analyzer
	flagged   int
	logger    *logrus.Entry
}

// NewDetector instantiates a Detector with no analyzers.
func NewDetector(logger *logrus.Entry) *Detector {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	return &Detector{
		analyzers: []Analyzer{},
		logger:    logger,
	}
}

// Register adds an analyzer to the dispatch list.
func (d *Detector) Register(a Analyzer) {
	d.l.Lock()
	defer d.l.Unlock()

	d.analyzers = append(d.analyzers, a)
}

// Dispatch runs every analyzer over the event. It never returns an error and
// never panics.
func (d *Detector) Dispatch(ev *event.Event) {
	d.l.Lock()
	analyzers := make([]Analyzer, len(d.analyzers))
	copy(analyzers, d.analyzers)
	d.l.Unlock()

	for _, a := range analyzers {
		d.dispatchOne(a, ev)
	}
}

func (d *Detector) dispatchOne(a Analyzer, ev *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"analyzer": a.Name(),
				"panic":    r,
			}).Error("Analyzer panicked")
		}
	}()

	if err := a.Analyze(ev); err != nil {
		d.l.Lock()
		d.flagged++
		d.l.Unlock()

		d.logger.WithFields(logrus.Fields{
			"analyzer": a.Name(),
			"event_id": ev.ID,
			"error":    err,
		}).Warning("Analyzer flagged event")
	}
}

// Flagged returns the number of dispatches an analyzer objected to.
func (d *Detector) Flagged() int {
	d.l.Lock()
	defer d.l.Unlock()

	return d.flagged
}

// Names returns the registered analyzer names.
func (d *Detector) Names() []string {
	d.l.Lock()
	defer d.l.Unlock()

	res := make([]string, len(d.analyzers))
	for i, a := range d.analyzers {
		res[i] = a.Name()
	}
	return res
}
