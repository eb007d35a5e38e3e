package trust

import (
	"encoding/json"
	"sort"

	"github.com/commonsnetwork/commonsync/src/common"
)

// Anchor binds a DID to a public key, together with the set of DIDs that
// endorse it and a monotonic revocation flag. An Anchor with enough endorsers
// and no revocation is a trusted identity; once Revoked is set it never goes
// back.
type Anchor struct {
	DID       string
	PublicKey []byte
	TrustedBy map[string]bool
	Revoked   bool
}

// NewAnchor instantiates an Anchor with the given endorsers.
func NewAnchor(did string, publicKey []byte, trustedBy []string) *Anchor {
	endorsers := map[string]bool{}
	for _, e := range trustedBy {
		endorsers[e] = true
	}
	return &Anchor{
		DID:       did,
		PublicKey: publicKey,
		TrustedBy: endorsers,
	}
}

// TrustCount returns the number of distinct endorsers.
func (a *Anchor) TrustCount() int {
	return len(a.TrustedBy)
}

// Endorsers returns the endorser DIDs in sorted order.
func (a *Anchor) Endorsers() []string {
	res := make([]string, 0, len(a.TrustedBy))
	for e := range a.TrustedBy {
		res = append(res, e)
	}
	sort.Strings(res)
	return res
}

// Copy returns a deep copy of the Anchor.
func (a *Anchor) Copy() *Anchor {
	endorsers := make(map[string]bool, len(a.TrustedBy))
	for e := range a.TrustedBy {
		endorsers[e] = true
	}
	pub := make([]byte, len(a.PublicKey))
	copy(pub, a.PublicKey)
	return &Anchor{
		DID:       a.DID,
		PublicKey: pub,
		TrustedBy: endorsers,
		Revoked:   a.Revoked,
	}
}

// WireAnchor is the file and database form of an Anchor.
type WireAnchor struct {
	DID       string   `json:"did"`
	PublicKey string   `json:"public_key"`
	TrustedBy []string `json:"trusted_by"`
	Revoked   bool     `json:"revoked"`
}

// ToWire converts the Anchor to its wire form.
func (a *Anchor) ToWire() *WireAnchor {
	return &WireAnchor{
		DID:       a.DID,
		PublicKey: common.EncodeToString(a.PublicKey),
		TrustedBy: a.Endorsers(),
		Revoked:   a.Revoked,
	}
}

// ToAnchor converts the wire form back to an Anchor.
func (w *WireAnchor) ToAnchor() (*Anchor, error) {
	pub, err := common.DecodeFromString(w.PublicKey)
	if err != nil {
		return nil, err
	}
	a := NewAnchor(w.DID, pub, w.TrustedBy)
	a.Revoked = w.Revoked
	return a, nil
}

// Marshal returns the JSON encoding of the Anchor's wire form.
func (a *Anchor) Marshal() ([]byte, error) {
	return json.Marshal(a.ToWire())
}

// Unmarshal decodes a JSON wire form into the Anchor.
func (a *Anchor) Unmarshal(data []byte) error {
	var w WireAnchor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	anchor, err := w.ToAnchor()
	if err != nil {
		return err
	}

	*a = *anchor

	return nil
}
