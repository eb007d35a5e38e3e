package keys

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"sync"
	"time"
)

// MetaRecord describes one key generation in the lifetime of a local
// identity. A rotation appends a record for the new key and stamps the
// previous record's successor.
type MetaRecord struct {
	DID       string `json:"did"`
	PublicKey string `json:"public_key"`
	CreatedAt int64  `json:"created_at"`
	// RevokedAt is zero while the key is current, and set to the rotation
	// time once it has been superseded.
	RevokedAt int64 `json:"revoked_at,omitempty"`
	// SupersededBy is the DID of the key that replaced this one.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// Metafile is an append-only record of key generations. Each line of the
// underlying file is one JSON-encoded MetaRecord. Records are never rewritten
// in place; a rotation appends a revocation marker followed by the new key's
// record.
type Metafile struct {
	l    sync.Mutex
	file string
}

// NewMetafile instantiates a Metafile over the given path.
func NewMetafile(file string) *Metafile {
	return &Metafile{file: file}
}

// Append adds a record to the end of the file.
func (m *Metafile) Append(rec MetaRecord) error {
	m.l.Lock()
	defer m.l.Unlock()

	if err := os.MkdirAll(path.Dir(m.file), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(m.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, err := f.Write(append(buf, '\n')); err != nil {
		return err
	}

	return f.Sync()
}

// Records reads all records in file order. A missing file yields an empty
// slice.
func (m *Metafile) Records() ([]MetaRecord, error) {
	m.l.Lock()
	defer m.l.Unlock()

	f, err := os.Open(m.file)
	if err != nil {
		if os.IsNotExist(err) {
			return []MetaRecord{}, nil
		}
		return nil, err
	}
	defer f.Close()

	res := []MetaRecord{}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec MetaRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}

	return res, scanner.Err()
}

// Current returns the latest record that has not been revoked, or false when
// no live key is on record.
func (m *Metafile) Current() (MetaRecord, bool, error) {
	records, err := m.Records()
	if err != nil {
		return MetaRecord{}, false, err
	}

	// later records supersede earlier ones
	live := map[string]MetaRecord{}
	order := []string{}

	for _, rec := range records {
		if rec.RevokedAt != 0 {
			delete(live, rec.DID)
			continue
		}
		if _, ok := live[rec.DID]; !ok {
			order = append(order, rec.DID)
		}
		live[rec.DID] = rec
	}

	for i := len(order) - 1; i >= 0; i-- {
		if rec, ok := live[order[i]]; ok {
			return rec, true, nil
		}
	}

	return MetaRecord{}, false, nil
}

// Rotate appends a revocation marker for the old key and a fresh record for
// its replacement.
func (m *Metafile) Rotate(old MetaRecord, newDID, newPublicKey string) error {
	now := time.Now().Unix()

	revoked := old
	revoked.RevokedAt = now
	revoked.SupersededBy = newDID

	if err := m.Append(revoked); err != nil {
		return err
	}

	return m.Append(MetaRecord{
		DID:       newDID,
		PublicKey: newPublicKey,
		CreatedAt: now,
	})
}
