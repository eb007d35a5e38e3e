package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/commonsnetwork/commonsync/src/crypto"
)

// DIDPrefix is the method prefix of Commons Sync decentralized identifiers.
const DIDPrefix = "did:commons:"

// DIDFromPublicKey derives the decentralized identifier bound to a raw public
// key: the did:commons method followed by the first 20 bytes of the key's
// SHA256 hash, in lowercase hex.
func DIDFromPublicKey(pub []byte) string {
	hash := crypto.SHA256(pub)
	return DIDPrefix + hex.EncodeToString(hash[:20])
}

// DIDFromPrivateKey derives the decentralized identifier bound to the public
// part of a private key.
func DIDFromPrivateKey(priv ed25519.PrivateKey) string {
	return DIDFromPublicKey(PublicKey(priv))
}

// IsDID reports whether s has the shape of a did:commons identifier.
func IsDID(s string) bool {
	if !strings.HasPrefix(s, DIDPrefix) {
		return false
	}
	suffix := strings.TrimPrefix(s, DIDPrefix)
	if len(suffix) != 40 {
		return false
	}
	_, err := hex.DecodeString(suffix)
	return err == nil
}
