package node

import (
	"crypto/ed25519"

	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/event"
)

// Signer holds the local identity of a node: its private key, DID, and the
// moniker stamped into the Origin of every event it creates.
type Signer struct {
	Key     ed25519.PrivateKey
	Moniker string

	did      string
	pubBytes []byte
	pubHex   string
}

// NewSigner is a factory method for a Signer
func NewSigner(key ed25519.PrivateKey, moniker string) *Signer {
	return &Signer{
		Key:     key,
		Moniker: moniker,
	}
}

// DID returns the signer's DID
func (s *Signer) DID() string {
	if len(s.did) == 0 {
		s.did = keys.DIDFromPublicKey(s.PublicKeyBytes())
	}
	return s.did
}

// PublicKeyBytes returns the signer's public key as a byte array
func (s *Signer) PublicKeyBytes() []byte {
	if len(s.pubBytes) == 0 {
		s.pubBytes = keys.PublicKey(s.Key)
	}
	return s.pubBytes
}

// PublicKeyHex returns the signer's public key as a hex string
func (s *Signer) PublicKeyHex() string {
	if len(s.pubHex) == 0 {
		s.pubHex = keys.PublicKeyHex(s.PublicKeyBytes())
	}
	return s.pubHex
}

// NewSignedEvent creates an event of the given type and payload, stamped with
// the signer's moniker and signed with its key.
func (s *Signer) NewSignedEvent(eventType string, payload *event.Payload) (*event.Event, error) {
	ev := event.NewEvent(eventType, payload, s.Moniker)
	if err := ev.Sign(s.Key); err != nil {
		return nil, err
	}
	return ev, nil
}
