package recovery

import (
	"bytes"
	"crypto/ed25519"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/commonsnetwork/commonsync/src/trust"
)

type fakeHistory map[string]bool

func (f fakeHistory) Has(eventID string) bool { return f[eventID] }

func newTestRecovery(t *testing.T, history fakeHistory) (*Recovery, *trust.InmemRegistry, ed25519.PrivateKey, string) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "commons")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	pub := keys.PublicKey(key)
	did := keys.DIDFromPublicKey(pub)

	registry := trust.NewInmemRegistry()
	if err := registry.Register(did, pub, []string{"did:commons:endorser1", "did:commons:endorser2"}); err != nil {
		t.Fatalf("err: %v", err)
	}

	keyfile := keys.NewEncryptedKeyfile(
		filepath.Join(dir, "priv_key.enc"),
		filepath.Join(dir, "secret.key"),
	)
	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	metafile := keys.NewMetafile(filepath.Join(dir, "key_meta.json"))
	if err := metafile.Append(keys.MetaRecord{
		DID:       did,
		PublicKey: keys.PublicKeyHex(pub),
		CreatedAt: 1,
	}); err != nil {
		t.Fatalf("err: %v", err)
	}

	rec := New(registry, history, keyfile, metafile, common.NewTestEntry(t, "recovery"))

	return rec, registry, key, did
}

func TestRecoverRotatesIdentity(t *testing.T) {
	history := fakeHistory{}
	rec, registry, oldKey, did := newTestRecovery(t, history)
	oldPub := keys.PublicKey(oldKey)

	mutable := event.NewEvent("commons.proposal", event.NewPayload().Set("val", 1), did)
	if err := mutable.Sign(oldKey); err != nil {
		t.Fatalf("err: %v", err)
	}

	appended := event.NewEvent("commons.proposal", event.NewPayload().Set("val", 2), did)
	if err := appended.Sign(oldKey); err != nil {
		t.Fatalf("err: %v", err)
	}
	history[appended.ID] = true
	appendedSig := append([]byte{}, appended.Signatures[0].Signature...)

	newKey, err := rec.Recover(did, []*event.Event{mutable, appended})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	newPub := keys.PublicKey(newKey)

	if bytes.Equal(newPub, oldPub) {
		t.Fatalf("recovery should mint a fresh keypair")
	}

	// same DID, new key, endorsers carried over
	anchor, ok := registry.Anchor(did)
	if !ok {
		t.Fatalf("anchor should exist after recovery")
	}
	if !bytes.Equal(anchor.PublicKey, newPub) {
		t.Fatalf("anchor should hold the new public key")
	}
	if anchor.Revoked {
		t.Fatalf("recovered anchor should not be revoked")
	}
	if !registry.IsTrusted(did, 2) {
		t.Fatalf("recovered anchor should keep its endorsers")
	}

	// the compromised key resolves as revoked, not unknown
	archived, ok := registry.AnchorByPublicKey(oldPub)
	if !ok {
		t.Fatalf("old key should still resolve")
	}
	if !archived.Revoked {
		t.Fatalf("old key should resolve as revoked")
	}

	// the mutable event was re-signed under the new key only
	if len(mutable.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(mutable.Signatures))
	}
	if !bytes.Equal(mutable.Signatures[0].PublicKey, newPub) {
		t.Fatalf("mutable event should be signed by the new key")
	}
	if ok, err := mutable.Verify(); err != nil || !ok {
		t.Fatalf("re-signed event should verify, ok=%v err=%v", ok, err)
	}

	// the appended event was left alone
	if len(appended.Signatures) != 1 ||
		!bytes.Equal(appended.Signatures[0].PublicKey, oldPub) ||
		!bytes.Equal(appended.Signatures[0].Signature, appendedSig) {
		t.Fatalf("appended event must not be re-signed")
	}
}

func TestRecoverPersistsKeyMaterial(t *testing.T) {
	rec, _, _, did := newTestRecovery(t, fakeHistory{})

	newKey, err := rec.Recover(did, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	stored, err := rec.keyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !bytes.Equal(stored, newKey) {
		t.Fatalf("keyfile should hold the new private key")
	}

	cur, ok, err := rec.metafile.Current()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !ok {
		t.Fatalf("metafile should have a current record")
	}
	if cur.DID != did {
		t.Fatalf("rotation keeps the DID, got %s", cur.DID)
	}
	if cur.PublicKey != keys.PublicKeyHex(keys.PublicKey(newKey)) {
		t.Fatalf("metafile should record the new public key")
	}

	records, err := rec.metafile.Records()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// initial record, revocation marker, new record
	if len(records) != 3 {
		t.Fatalf("expected 3 meta records, got %d", len(records))
	}
	if records[1].RevokedAt == 0 {
		t.Fatalf("rotation should append a revocation marker")
	}
}

func TestRecoverKeepsCoSigners(t *testing.T) {
	rec, _, oldKey, did := newTestRecovery(t, fakeHistory{})
	oldPub := keys.PublicKey(oldKey)

	coKey, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	coPub := keys.PublicKey(coKey)

	ev := event.NewEvent("commons.grant", event.NewPayload().Set("amount", 10), did)
	if err := ev.Sign(oldKey); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := ev.Sign(coKey); err != nil {
		t.Fatalf("err: %v", err)
	}

	newKey, err := rec.Recover(did, []*event.Event{ev})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	newPub := keys.PublicKey(newKey)

	if len(ev.Signatures) != 2 {
		t.Fatalf("expected co-signature plus new signature, got %d", len(ev.Signatures))
	}

	signers, err := ev.VerifiedSigners()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var sawCo, sawNew, sawOld bool
	for _, pub := range signers {
		if bytes.Equal(pub, coPub) {
			sawCo = true
		}
		if bytes.Equal(pub, newPub) {
			sawNew = true
		}
		if bytes.Equal(pub, oldPub) {
			sawOld = true
		}
	}
	if !sawCo || !sawNew {
		t.Fatalf("co-signer and new key should both verify, co=%v new=%v", sawCo, sawNew)
	}
	if sawOld {
		t.Fatalf("compromised key should be stripped")
	}
}

func TestRecoverUnknownDID(t *testing.T) {
	rec := New(trust.NewInmemRegistry(), fakeHistory{}, nil, nil, nil)

	_, err := rec.Recover("did:commons:nobody", nil)
	if err == nil {
		t.Fatalf("recovering an unknown DID should fail")
	}
	if !common.IsStore(err, common.UnknownDID) {
		t.Fatalf("expected UnknownDID store error, got %v", err)
	}
}
