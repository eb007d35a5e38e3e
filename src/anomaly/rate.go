package anomaly

import (
	"fmt"
	"sync"
	"time"

	"github.com/commonsnetwork/commonsync/src/event"
)

// RateAnalyzer flags a (type, origin) pair that recurs beyond an expected
// rate: more than maxCount events inside a rolling window. Duplicate-ID
// events never reach the Detector, so a flag here means distinct events from
// the same origin arriving unusually fast.
type RateAnalyzer struct {
	l        sync.Mutex
	maxCount int
	window   time.Duration
	seen     map[string][]time.Time
	now      func() time.Time
}

// NewRateAnalyzer instantiates a RateAnalyzer allowing maxCount events per
// (type, origin) pair within the window.
func NewRateAnalyzer(maxCount int, window time.Duration) *RateAnalyzer {
	return &RateAnalyzer{
		maxCount: maxCount,
		window:   window,
		seen:     map[string][]time.Time{},
		now:      time.Now,
	}
}

// Name implements the Analyzer interface.
func (ra *RateAnalyzer) Name() string {
	return "rate"
}

// Analyze implements the Analyzer interface.
func (ra *RateAnalyzer) Analyze(ev *event.Event) error {
	ra.l.Lock()
	defer ra.l.Unlock()

	key := fmt.Sprintf("%s|%s", ev.Type, ev.Origin)

	now := ra.now()
	cutoff := now.Add(-ra.window)

	keep := []time.Time{}
	for _, ts := range ra.seen[key] {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	keep = append(keep, now)

	ra.seen[key] = keep

	if len(keep) > ra.maxCount {
		return fmt.Errorf("%d events of type %s from %s within %s",
			len(keep), ev.Type, ev.Origin, ra.window)
	}

	return nil
}
