package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/commonsnetwork/commonsync/src/common"
)

/*
Commons Sync keys and signing are based on Ed25519: 32-byte public keys and
64-byte deterministic signatures, with fast verification. All the functions
here are wrappers around the ed25519 package of the standard library.
*/

// GenerateKey creates a new ed25519 private key from crypto/rand.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// ParsePrivateKey rebuilds a private key from its 32-byte seed, as produced by
// DumpPrivateKey.
func ParsePrivateKey(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: got %d, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DumpPrivateKey exports a private key's seed. The seed is all that is needed
// to reconstruct the full key.
func DumpPrivateKey(priv ed25519.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Seed()
}

// PublicKey returns the public part of a private key as raw bytes.
func PublicKey(priv ed25519.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return []byte(priv.Public().(ed25519.PublicKey))
}

// PublicKeyHex returns the hexadecimal representation of a raw public key.
func PublicKeyHex(pub []byte) string {
	return common.EncodeToString(pub)
}

// Sign signs the data with the private key. Ed25519 signatures are
// deterministic, so no randomness is consumed here.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid signature of data under the raw
// public key pub. It is side-effect free and treats malformed key or
// signature bytes as a verification failure rather than an error.
func Verify(pub []byte, data []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
