package trust

import (
	"sort"
	"sync"

	"github.com/commonsnetwork/commonsync/src/common"
)

// InmemRegistry is an in-memory implementation of the Registry interface. A
// single RWMutex guards the anchor map and the archive; endorser additions
// commute and revocation is monotonic, so per-DID operations linearize under
// it.
type InmemRegistry struct {
	sync.RWMutex
	anchors      map[string]*Anchor
	byPubKey     map[string]string
	archive      []*Anchor
	archiveByPub map[string]*Anchor
}

// NewInmemRegistry instantiates an empty InmemRegistry.
func NewInmemRegistry() *InmemRegistry {
	return &InmemRegistry{
		anchors:      map[string]*Anchor{},
		byPubKey:     map[string]string{},
		archive:      []*Anchor{},
		archiveByPub: map[string]*Anchor{},
	}
}

// Register implements the Registry interface.
func (r *InmemRegistry) Register(did string, publicKey []byte, trustedBy []string) error {
	r.Lock()
	defer r.Unlock()

	if old, ok := r.anchors[did]; ok {
		r.archiveAnchor(old)
	}

	anchor := NewAnchor(did, publicKey, trustedBy)

	r.anchors[did] = anchor
	r.byPubKey[common.EncodeToString(publicKey)] = did

	return nil
}

// archiveAnchor moves a superseded anchor to the archive. The archived record
// is marked revoked: a rotated-away key must not keep authenticating its DID.
func (r *InmemRegistry) archiveAnchor(old *Anchor) {
	old.Revoked = true

	r.archive = append(r.archive, old)
	r.archiveByPub[common.EncodeToString(old.PublicKey)] = old

	delete(r.byPubKey, common.EncodeToString(old.PublicKey))
}

// Revoke implements the Registry interface.
func (r *InmemRegistry) Revoke(did string) error {
	r.Lock()
	defer r.Unlock()

	anchor, ok := r.anchors[did]
	if !ok {
		return common.NewStoreErr("anchor", common.UnknownDID, did)
	}

	anchor.Revoked = true

	return nil
}

// Trust implements the Registry interface.
func (r *InmemRegistry) Trust(did string, byDID string) error {
	r.Lock()
	defer r.Unlock()

	anchor, ok := r.anchors[did]
	if !ok {
		return nil
	}

	anchor.TrustedBy[byDID] = true

	return nil
}

// IsTrusted implements the Registry interface.
func (r *InmemRegistry) IsTrusted(did string, minTrust int) bool {
	r.RLock()
	defer r.RUnlock()

	anchor, ok := r.anchors[did]
	if !ok {
		return false
	}

	return !anchor.Revoked && anchor.TrustCount() >= minTrust
}

// Anchor implements the Registry interface.
func (r *InmemRegistry) Anchor(did string) (*Anchor, bool) {
	r.RLock()
	defer r.RUnlock()

	anchor, ok := r.anchors[did]
	if !ok {
		return nil, false
	}

	return anchor.Copy(), true
}

// AnchorByPublicKey implements the Registry interface.
func (r *InmemRegistry) AnchorByPublicKey(publicKey []byte) (*Anchor, bool) {
	r.RLock()
	defer r.RUnlock()

	hexKey := common.EncodeToString(publicKey)

	if did, ok := r.byPubKey[hexKey]; ok {
		return r.anchors[did].Copy(), true
	}

	if old, ok := r.archiveByPub[hexKey]; ok {
		return old.Copy(), true
	}

	return nil, false
}

// Anchors implements the Registry interface.
func (r *InmemRegistry) Anchors() []*Anchor {
	r.RLock()
	defer r.RUnlock()

	res := make([]*Anchor, 0, len(r.anchors))
	for _, anchor := range r.anchors {
		res = append(res, anchor.Copy())
	}

	sort.Slice(res, func(i, j int) bool { return res[i].DID < res[j].DID })

	return res
}

// Archived returns a copy of the archived records in supersession order.
func (r *InmemRegistry) Archived() []*Anchor {
	r.RLock()
	defer r.RUnlock()

	res := make([]*Anchor, len(r.archive))
	for i, anchor := range r.archive {
		res[i] = anchor.Copy()
	}

	return res
}

// Close implements the Registry interface.
func (r *InmemRegistry) Close() error {
	return nil
}
