package recovery

import (
	"bytes"
	"crypto/ed25519"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/trust"
	"github.com/sirupsen/logrus"
)

// History answers whether an event has already been accepted. Accepted events
// are in the audit log and therefore immutable; recovery only protects events
// that have not been appended yet.
type History interface {
	Has(eventID string) bool
}

// Recovery orchestrates the response to a known-compromised key: rotate to a
// fresh keypair, revoke the old trust record, re-register the DID under the
// new public key, and re-sign the affected events that are still mutable.
// The old record is revoked, not deleted, so everything it signed remains
// auditable.
type Recovery struct {
	registry trust.Registry
	history  History
	keyfile  *keys.EncryptedKeyfile
	metafile *keys.Metafile
	logger   *logrus.Entry
}

// New instantiates a Recovery over its collaborators. keyfile and metafile
// may be nil when the compromised identity has no local key material, such
// as when revoking on behalf of a peer.
func New(
	registry trust.Registry,
	history History,
	keyfile *keys.EncryptedKeyfile,
	metafile *keys.Metafile,
	logger *logrus.Entry,
) *Recovery {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	return &Recovery{
		registry: registry,
		history:  history,
		keyfile:  keyfile,
		metafile: metafile,
		logger:   logger,
	}
}

// Recover rotates the compromised DID to a fresh keypair and returns the new
// private key. The DID keeps its endorsers: the web of trust vouched for the
// identity, not the key bytes. Affected events that are already in history
// are left alone; the others lose the compromised key's signatures and gain
// one from the new key.
func (r *Recovery) Recover(compromisedDID string, affected []*event.Event) (ed25519.PrivateKey, error) {
	anchor, ok := r.registry.Anchor(compromisedDID)
	if !ok {
		return nil, common.NewStoreErr("anchor", common.UnknownDID, compromisedDID)
	}

	newKey, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}
	newPub := keys.PublicKey(newKey)

	// persist the new key before touching the registry, so a failure here
	// cannot leave the identity with no usable key at all
	if r.keyfile != nil {
		if err := r.keyfile.WriteKey(newKey); err != nil {
			return nil, err
		}
	}

	if err := r.registry.Revoke(compromisedDID); err != nil {
		return nil, err
	}

	if err := r.registry.Register(compromisedDID, newPub, anchor.Endorsers()); err != nil {
		return nil, err
	}

	if r.metafile != nil {
		old := keys.MetaRecord{
			DID:       compromisedDID,
			PublicKey: keys.PublicKeyHex(anchor.PublicKey),
		}
		if cur, ok, err := r.metafile.Current(); err == nil && ok && cur.DID == compromisedDID {
			old = cur
		}

		if err := r.metafile.Rotate(old, compromisedDID, keys.PublicKeyHex(newPub)); err != nil {
			return nil, err
		}
	}

	resigned := 0
	for _, ev := range affected {
		if r.history.Has(ev.ID) {
			// already appended, the log is immutable
			continue
		}

		kept := []event.Signature{}
		for _, sig := range ev.Signatures {
			if bytes.Equal(sig.PublicKey, anchor.PublicKey) {
				continue
			}
			kept = append(kept, sig)
		}
		ev.Signatures = kept

		if err := ev.Sign(newKey); err != nil {
			return nil, err
		}
		resigned++
	}

	r.logger.WithFields(logrus.Fields{
		"did":      compromisedDID,
		"affected": len(affected),
		"resigned": resigned,
	}).Info("Recovered compromised identity")

	return newKey, nil
}
