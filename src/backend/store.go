package backend

import (
	"github.com/commonsnetwork/commonsync/src/event"
)

// Store is the node-local history of accepted events, keyed by event ID and
// ordered by acceptance. The acceptance policy is the only writer; it
// serializes the dedup check and the add, so Store implementations only need
// to be safe for concurrent readers.
type Store interface {

	// Get returns the stored event, or a KeyNotFound store error.
	Get(eventID string) (*event.Event, error)

	// Add appends an event to history. Adding an ID that is already
	// present is a KeyAlreadyExists store error.
	Add(ev *event.Event) error

	// Has reports whether an event ID is in history.
	Has(eventID string) bool

	// List returns the events in acceptance order.
	List() []*event.Event

	// IDs returns the event IDs in acceptance order.
	IDs() []string

	// Len returns the number of stored events.
	Len() int

	Close() error
}
