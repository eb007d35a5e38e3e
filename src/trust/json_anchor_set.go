package trust

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"
)

const jsonAnchorPath = "trust.json"

// JSONAnchorSet provides anchor persistence on disk in the form of a JSON
// file. This allows human operators to inspect and seed the web of trust.
type JSONAnchorSet struct {
	l    sync.Mutex
	path string
}

// NewJSONAnchorSet creates a new JSONAnchorSet under the base directory.
func NewJSONAnchorSet(base string) *JSONAnchorSet {
	return &JSONAnchorSet{
		path: filepath.Join(base, jsonAnchorPath),
	}
}

// Anchors reads the anchor set from the file.
func (j *JSONAnchorSet) Anchors() ([]*Anchor, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(buf) == 0 {
		return nil, nil
	}

	var wireSet []*WireAnchor
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&wireSet); err != nil {
		return nil, err
	}

	res := make([]*Anchor, len(wireSet))
	for i, w := range wireSet {
		anchor, err := w.ToAnchor()
		if err != nil {
			return nil, err
		}
		res[i] = anchor
	}

	return res, nil
}

// SetAnchors writes the anchor set out as JSON.
func (j *JSONAnchorSet) SetAnchors(anchors []*Anchor) error {
	j.l.Lock()
	defer j.l.Unlock()

	wireSet := make([]*WireAnchor, len(anchors))
	for i, anchor := range anchors {
		wireSet[i] = anchor.ToWire()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(wireSet); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0755)
}
