package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"sync"
)

// EnvelopeScheme names the authenticated encryption scheme used to wrap
// private keys at rest.
const EnvelopeScheme = "aes-256-gcm"

const secretSize = 32

// DecryptionError is returned when a private key envelope cannot be opened,
// either because the secondary key is wrong or missing, or because the
// envelope was tampered with.
type DecryptionError struct {
	msg string
}

// Error implements the error interface
func (e DecryptionError) Error() string {
	return fmt.Sprintf("key decryption: %s", e.msg)
}

// IsDecryption checks that an error is of type DecryptionError.
func IsDecryption(err error) bool {
	_, ok := err.(DecryptionError)
	return ok
}

// envelope is the on-disk form of an encrypted private key.
type envelope struct {
	Scheme     string `json:"scheme"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptedKeyfile reads and writes ed25519 private keys wrapped in an
// authenticated encryption envelope. The envelope is keyed by a 32-byte
// secondary key held in a separate local file, so the private key is never in
// the clear at rest. Loading requires successful decryption before the key
// can be used.
type EncryptedKeyfile struct {
	l          sync.Mutex
	keyfile    string
	secretfile string
}

// NewEncryptedKeyfile instantiates a new EncryptedKeyfile with an underlying
// envelope file and secondary-key file.
func NewEncryptedKeyfile(keyfile, secretfile string) *EncryptedKeyfile {
	return &EncryptedKeyfile{
		keyfile:    keyfile,
		secretfile: secretfile,
	}
}

// CheckFileInfo verifies that the envelope file exists and has user
// permissions only.
func (k *EncryptedKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	// get file permissions
	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("key file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadKey reads and decrypts the private key from the underlying envelope
// file. It returns a DecryptionError if the secondary key is wrong or missing,
// or if the envelope fails authentication.
func (k *EncryptedKeyfile) ReadKey() (ed25519.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, DecryptionError{msg: fmt.Sprintf("malformed envelope: %v", err)}
	}

	if env.Scheme != EnvelopeScheme {
		return nil, DecryptionError{msg: fmt.Sprintf("unsupported scheme %q", env.Scheme)}
	}

	secret, err := k.readSecret()
	if err != nil {
		return nil, DecryptionError{msg: fmt.Sprintf("secondary key: %v", err)}
	}

	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, DecryptionError{msg: "malformed nonce"}
	}

	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, DecryptionError{msg: "malformed ciphertext"}
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return nil, DecryptionError{msg: err.Error()}
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, DecryptionError{msg: "wrong nonce size"}
	}

	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, DecryptionError{msg: "authentication failed"}
	}

	return ParsePrivateKey(seed)
}

// WriteKey encrypts the private key's seed and writes the envelope to the
// underlying file. The secondary key is created on first use.
func (k *EncryptedKeyfile) WriteKey(key ed25519.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	secret, err := k.ensureSecret()
	if err != nil {
		return err
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	ciphertext := gcm.Seal(nil, nonce, DumpPrivateKey(key), nil)

	env := envelope{
		Scheme:     EnvelopeScheme,
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
	}

	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.keyfile, buf, 0600)
}

// readSecret loads the secondary key from its file.
func (k *EncryptedKeyfile) readSecret() ([]byte, error) {
	buf, err := ioutil.ReadFile(k.secretfile)
	if err != nil {
		return nil, err
	}

	secret, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, err
	}

	if len(secret) != secretSize {
		return nil, fmt.Errorf("invalid secondary key length: got %d, want %d", len(secret), secretSize)
	}

	return secret, nil
}

// ensureSecret loads the secondary key, generating and persisting a fresh one
// if the file does not exist yet.
func (k *EncryptedKeyfile) ensureSecret() ([]byte, error) {
	if _, err := os.Stat(k.secretfile); err == nil {
		return k.readSecret()
	}

	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path.Dir(k.secretfile), 0700); err != nil {
		return nil, err
	}

	if err := ioutil.WriteFile(k.secretfile, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, err
	}

	return secret, nil
}

func newGCM(secret []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
