package event

import (
	"encoding/json"
	"fmt"

	"github.com/commonsnetwork/commonsync/src/common"
)

// WireSignature is the wire form of a signature pair, with both members hex
// encoded.
type WireSignature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// WireConfidential is the wire form of an encrypted payload attachment.
type WireConfidential struct {
	Scheme     string `json:"scheme"`
	Ciphertext string `json:"ciphertext"`
}

// WireProof is the wire form of a zero-knowledge attachment.
type WireProof struct {
	Statement string `json:"statement"`
	Proof     string `json:"proof"`
}

// WireEvent is the serialized form of an Event exchanged between nodes and
// stored in the audit log's data field.
type WireEvent struct {
	ID           string            `json:"event_id"`
	Type         string            `json:"event_type"`
	Payload      *Payload          `json:"payload"`
	Origin       string            `json:"origin"`
	Timestamp    int64             `json:"timestamp"`
	Signatures   []WireSignature   `json:"signatures"`
	Confidential *WireConfidential `json:"confidential_payload,omitempty"`
	Proof        *WireProof        `json:"zk_proof,omitempty"`
}

// ToWire converts the Event to its wire form.
func (e *Event) ToWire() *WireEvent {
	sigs := make([]WireSignature, len(e.Signatures))
	for i, sig := range e.Signatures {
		sigs[i] = WireSignature{
			PublicKey: common.EncodeToString(sig.PublicKey),
			Signature: common.EncodeToString(sig.Signature),
		}
	}

	w := &WireEvent{
		ID:         e.ID,
		Type:       e.Type,
		Payload:    e.Payload,
		Origin:     e.Origin,
		Timestamp:  e.Timestamp,
		Signatures: sigs,
	}

	if e.Confidential != nil {
		w.Confidential = &WireConfidential{
			Scheme:     e.Confidential.Scheme,
			Ciphertext: common.EncodeToString(e.Confidential.Ciphertext),
		}
	}

	if e.Proof != nil {
		w.Proof = &WireProof{
			Statement: e.Proof.Statement,
			Proof:     common.EncodeToString(e.Proof.Proof),
		}
	}

	return w
}

// ToEvent converts the wire form back to an Event. Hex decode failures are
// reported as errors for the structural check to catch.
func (w *WireEvent) ToEvent() (*Event, error) {
	sigs := make([]Signature, len(w.Signatures))
	for i, sig := range w.Signatures {
		pub, err := common.DecodeFromString(sig.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("malformed public key in signature %d: %v", i, err)
		}
		raw, err := common.DecodeFromString(sig.Signature)
		if err != nil {
			return nil, fmt.Errorf("malformed signature %d: %v", i, err)
		}
		sigs[i] = Signature{PublicKey: pub, Signature: raw}
	}

	e := &Event{
		ID:         w.ID,
		Type:       w.Type,
		Payload:    w.Payload,
		Origin:     w.Origin,
		Timestamp:  w.Timestamp,
		Signatures: sigs,
	}

	if w.Confidential != nil {
		ciphertext, err := common.DecodeFromString(w.Confidential.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("malformed confidential payload: %v", err)
		}
		e.Confidential = &Confidential{
			Scheme:     w.Confidential.Scheme,
			Ciphertext: ciphertext,
		}
	}

	if w.Proof != nil {
		proof, err := common.DecodeFromString(w.Proof.Proof)
		if err != nil {
			return nil, fmt.Errorf("malformed proof: %v", err)
		}
		e.Proof = &Proof{
			Statement: w.Proof.Statement,
			Proof:     proof,
		}
	}

	return e, nil
}

// Marshal returns the JSON encoding of the Event's wire form.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e.ToWire())
}

// Unmarshal decodes a JSON wire form into the Event.
func (e *Event) Unmarshal(data []byte) error {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ev, err := w.ToEvent()
	if err != nil {
		return err
	}

	*e = *ev

	return nil
}
