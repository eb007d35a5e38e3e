package trust

// Registry is the web-of-trust store consulted by the acceptance policy. A
// DID is trusted when its anchor exists, is not revoked, and carries at least
// the required number of endorsements. Revocation is immediate for all
// subsequent checks and never retroactive: entries already accepted under a
// key remain valid.
type Registry interface {
	// Register creates the anchor for a DID, or replaces it on key
	// rotation. A replaced record is archived, not deleted, so signatures
	// made with the superseded key still resolve. Archiving marks the old
	// record revoked.
	Register(did string, publicKey []byte, trustedBy []string) error

	// Revoke marks the DID's anchor revoked. Revoking an already-revoked
	// anchor is a no-op.
	Revoke(did string) error

	// Trust adds an endorser to an existing anchor. Unknown DIDs are
	// ignored; endorsement never creates an identity.
	Trust(did string, byDID string) error

	// IsTrusted reports whether the DID's anchor exists, is not revoked,
	// and has at least minTrust endorsers.
	IsTrusted(did string, minTrust int) bool

	// Anchor returns a copy of the DID's current anchor.
	Anchor(did string) (*Anchor, bool)

	// AnchorByPublicKey resolves a public key to its anchor, covering
	// archived records so a rotated-away key resolves as revoked rather
	// than unknown.
	AnchorByPublicKey(publicKey []byte) (*Anchor, bool)

	// Anchors returns a copy of all current anchors.
	Anchors() []*Anchor

	Close() error
}
