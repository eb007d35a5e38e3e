package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/commonsnetwork/commonsync/src/crypto"
	"github.com/sirupsen/logrus"
)

// GenesisPrevHash is the prev_hash of the first entry in every log.
var GenesisPrevHash = strings.Repeat("0", 64)

// IOError is returned when an append cannot be made durable. The in-memory
// chain pointer is not advanced on such a failure, so the caller can retry
// the same append or escalate.
type IOError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e IOError) Error() string {
	return fmt.Sprintf("audit log %s: %v", e.Op, e.Err)
}

// IsIO checks that an error is of type IOError.
func IsIO(err error) bool {
	_, ok := err.(IOError)
	return ok
}

// Log is a hash-chained append-only record of accepted events, one JSON entry
// per line. Every entry's hash covers its data and the previous entry's hash,
// so any in-place edit, deletion, or reordering breaks the chain from that
// point on. Appends are serialized under the Log's lock: the chain pointer is
// a single piece of mutable state, and two concurrent appends reading the
// same prev_hash would fork the chain.
type Log struct {
	l        sync.Mutex
	path     string
	file     *os.File
	size     int64
	prevHash string
	entries  []*Entry
	logger   *logrus.Entry
}

// Open opens or creates the log at path and recovers the chain pointer from
// the last durable entry. A trailing partial line is a torn write from a
// crash mid-append; that entry was never acknowledged, so it is dropped and
// the file truncated back to the last complete line. A malformed complete
// line is corruption and fails the open.
func Open(path string, logger *logrus.Entry) (*Log, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}

	buf, err := ioutil.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	entries := []*Entry{}
	offset := int64(0)
	torn := false

	for len(buf) > 0 {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			// torn write: an append is a single line-plus-newline write,
			// so an unterminated tail never held an acknowledged entry
			torn = true
			break
		}

		line := buf[:nl]

		entry := new(Entry)
		if err := entry.Unmarshal(line); err != nil {
			return nil, fmt.Errorf("audit log corrupt at offset %d: %v", offset, err)
		}

		entries = append(entries, entry)
		offset += int64(nl + 1)
		buf = buf[nl+1:]
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	if torn {
		logger.WithFields(logrus.Fields{
			"path":   path,
			"offset": offset,
		}).Warn("Dropping torn audit log tail")

		if err := file.Truncate(offset); err != nil {
			file.Close()
			return nil, err
		}
	}

	if _, err := file.Seek(offset, 0); err != nil {
		file.Close()
		return nil, err
	}

	prevHash := GenesisPrevHash
	if len(entries) > 0 {
		prevHash = entries[len(entries)-1].EventHash
	}

	return &Log{
		path:     path,
		file:     file,
		size:     offset,
		prevHash: prevHash,
		entries:  entries,
		logger:   logger,
	}, nil
}

// Append adds an entry for an accepted event. data must be the event's
// canonical wire form (valid JSON). The entry's hash chains data with the
// current prev_hash; the chain pointer advances only after the line is
// written and synced, so a failed append leaves the log exactly as it was.
func (l *Log) Append(eventID string, data []byte) (*Entry, error) {
	l.l.Lock()
	defer l.l.Unlock()

	entry := &Entry{
		EventID:   eventID,
		EventHash: crypto.HexDigest(data, []byte(l.prevHash)),
		PrevHash:  l.prevHash,
		Timestamp: time.Now().Unix(),
		Data:      json.RawMessage(data),
	}

	line, err := entry.Marshal()
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		l.rollback()
		return nil, IOError{Op: "write", Err: err}
	}

	if err := l.file.Sync(); err != nil {
		l.rollback()
		return nil, IOError{Op: "sync", Err: err}
	}

	l.size += int64(len(line))
	l.prevHash = entry.EventHash
	l.entries = append(l.entries, entry)

	l.logger.WithFields(logrus.Fields{
		"event_id":   eventID,
		"event_hash": entry.EventHash,
	}).Debug("Audit entry appended")

	return entry, nil
}

// rollback drops whatever a failed append may have left behind the last
// acknowledged entry. Best effort; if it fails too, the torn tail is dropped
// on the next open.
func (l *Log) rollback() {
	if err := l.file.Truncate(l.size); err != nil {
		l.logger.WithError(err).Error("Audit log rollback failed")
		return
	}
	if _, err := l.file.Seek(l.size, 0); err != nil {
		l.logger.WithError(err).Error("Audit log rollback seek failed")
	}
}

// VerifyChain replays the log from genesis, recomputing every entry's hash
// from its data and predecessor. It reads the file, not the in-memory state,
// so on-disk tampering is caught. It returns false on the first mismatch or
// malformed line and never panics.
func (l *Log) VerifyChain() bool {
	l.l.Lock()
	defer l.l.Unlock()

	return verifyChain(l.path)
}

// VerifyFile checks the chain of a log file without opening it for writing,
// for offline inspection of a copied or suspect log.
func VerifyFile(path string) bool {
	return verifyChain(path)
}

func verifyChain(path string) bool {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return os.IsNotExist(err)
	}

	prev := GenesisPrevHash

	for len(buf) > 0 {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			return false
		}

		entry := new(Entry)
		if err := entry.Unmarshal(buf[:nl]); err != nil {
			return false
		}

		if entry.PrevHash != prev {
			return false
		}

		if crypto.HexDigest(entry.Data, []byte(prev)) != entry.EventHash {
			return false
		}

		prev = entry.EventHash
		buf = buf[nl+1:]
	}

	return true
}

// Entries returns a copy of the log's entries in append order.
func (l *Log) Entries() []*Entry {
	l.l.Lock()
	defer l.l.Unlock()

	res := make([]*Entry, len(l.entries))
	copy(res, l.entries)

	return res
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.l.Lock()
	defer l.l.Unlock()

	return len(l.entries)
}

// PrevHash returns the current chain pointer.
func (l *Log) PrevHash() string {
	l.l.Lock()
	defer l.l.Unlock()

	return l.prevHash
}

// Path returns the log's file path.
func (l *Log) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.l.Lock()
	defer l.l.Unlock()

	return l.file.Close()
}
