package event

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/crypto"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

// Signature is one (public key, signature) pair attached to an Event. An
// event carries one or more pairs; multisignature policies count the pairs
// that verify and belong to trusted signers.
type Signature struct {
	PublicKey []byte
	Signature []byte
}

// Confidential is an optional encrypted payload attachment. The sync layer
// treats the ciphertext as opaque and only carries the declared scheme name
// along with it.
type Confidential struct {
	Scheme     string
	Ciphertext []byte
}

// Proof is an optional zero-knowledge attachment: a statement and an opaque
// proof blob, checked by an injected verifier.
type Proof struct {
	Statement string
	Proof     []byte
}

// Event is the unit of propagation: a typed payload plus provenance and one
// or more signatures. An Event is immutable once signed; the signature covers
// the canonical serialization of the type, payload, origin, and timestamp, so
// any mutation of those fields invalidates every attached signature. The ID
// is content-independent and exists for idempotence, not authenticity.
type Event struct {
	ID           string
	Type         string
	Payload      *Payload
	Origin       string
	Timestamp    int64
	Signatures   []Signature
	Confidential *Confidential
	Proof        *Proof
}

// NewEvent instantiates an unsigned Event with a fresh random ID and the
// current wall-clock time.
func NewEvent(eventType string, payload *Payload, origin string) *Event {
	if payload == nil {
		payload = NewPayload()
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Origin:    origin,
		Timestamp: time.Now().Unix(),
	}
}

// signedBody is the canonical form covered by signatures. The payload is
// embedded as its serialized text so the canonical bytes do not depend on how
// the host language represents numbers in a decoded map.
type signedBody struct {
	EventType string `json:"event_type"`
	Origin    string `json:"origin"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// SigningHash returns the SHA256 hash of the Event's canonical form. This is
// the message that signatures cover, and the content identity used by the
// dedup and tamper checks. It is recomputed on every call so a mutation after
// signing is always visible to Verify.
func (e *Event) SigningHash() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = NewPayload()
	}

	payloadJSON, err := payload.MarshalJSON()
	if err != nil {
		return nil, err
	}

	body := signedBody{
		EventType: e.Type,
		Origin:    e.Origin,
		Payload:   string(payloadJSON),
		Timestamp: e.Timestamp,
	}

	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(body); err != nil {
		return nil, err
	}

	return crypto.SHA256(b.Bytes()), nil
}

// SigningHashHex returns the hex string form of SigningHash.
func (e *Event) SigningHashHex() (string, error) {
	hash, err := e.SigningHash()
	if err != nil {
		return "", err
	}
	return common.EncodeToString(hash), nil
}

// Sign appends a signature pair over the Event's canonical form.
func (e *Event) Sign(privKey ed25519.PrivateKey) error {
	signBytes, err := e.SigningHash()
	if err != nil {
		return err
	}

	e.Signatures = append(e.Signatures, Signature{
		PublicKey: keys.PublicKey(privKey),
		Signature: keys.Sign(privKey, signBytes),
	})

	return nil
}

// Verify reports whether the Event carries at least one signature pair and
// every attached pair verifies against the canonical form.
func (e *Event) Verify() (bool, error) {
	if len(e.Signatures) == 0 {
		return false, nil
	}

	signBytes, err := e.SigningHash()
	if err != nil {
		return false, err
	}

	for _, sig := range e.Signatures {
		if !keys.Verify(sig.PublicKey, signBytes, sig.Signature) {
			return false, nil
		}
	}

	return true, nil
}

// VerifiedSigners returns the public keys of the attached signature pairs
// that verify against the canonical form. Pairs that fail verification are
// skipped; repeated pairs from the same public key count once.
func (e *Event) VerifiedSigners() ([][]byte, error) {
	signBytes, err := e.SigningHash()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	res := [][]byte{}

	for _, sig := range e.Signatures {
		if !keys.Verify(sig.PublicKey, signBytes, sig.Signature) {
			continue
		}

		hexKey := common.EncodeToString(sig.PublicKey)
		if seen[hexKey] {
			continue
		}
		seen[hexKey] = true

		res = append(res, sig.PublicKey)
	}

	return res, nil
}

// Validate performs the structural check: required fields present and the
// attached signature pairs well-formed. It says nothing about whether the
// signatures verify.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("missing event_id")
	}
	if e.Type == "" {
		return fmt.Errorf("missing event_type")
	}
	if e.Origin == "" {
		return fmt.Errorf("missing origin")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("missing timestamp")
	}
	if e.Payload == nil {
		return fmt.Errorf("missing payload")
	}
	if len(e.Signatures) == 0 {
		return fmt.Errorf("no signatures")
	}
	for i, sig := range e.Signatures {
		if len(sig.PublicKey) == 0 || len(sig.Signature) == 0 {
			return fmt.Errorf("empty signature pair at index %d", i)
		}
	}
	return nil
}
