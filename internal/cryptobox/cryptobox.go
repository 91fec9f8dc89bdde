// Package cryptobox derives a per-connection NaCl secretbox key from an
// authkey shared identically by the central service and a relay (see
// internal/authkey), and seals/opens relay packets with it. No separate
// key exchange is needed: both sides already hold the same authkey, so
// HKDF-SHA256 expansion of it stands in for a negotiated shared secret.
package cryptobox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrOpenFailed is returned when a sealed box fails authentication,
// meaning it was tampered with, corrupted, or sealed with a different key.
var ErrOpenFailed = errors.New("cryptobox: failed to authenticate and decrypt box")

const keySize = 32

// NonceSize is the length of the random nonce Seal prepends to every box.
const NonceSize = 24

// hkdfInfo distinguishes this derivation from any other use of the same
// authkey, should one ever exist.
var hkdfInfo = []byte("globed-relay-cryptobox-v1")

// Box wraps a derived secretbox key for one peer connection.
type Box struct {
	key [keySize]byte
}

// Derive expands authkey (C1's per-account derived key) into a secretbox
// key via HKDF-SHA256. salt should be unique per connection (e.g. a
// server-generated nonce exchanged during the handshake) so two sessions
// for the same account don't share ciphertext framing.
func Derive(authkey, salt []byte) (*Box, error) {
	reader := hkdf.New(sha256.New, authkey, salt, hkdfInfo)

	var key [keySize]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return nil, err
	}

	return &Box{key: key}, nil
}

// Seal encrypts and authenticates plaintext, prepending a fresh random
// nonce to the returned ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open verifies and decrypts a box produced by Seal.
func (b *Box) Open(box []byte) ([]byte, error) {
	if len(box) < NonceSize {
		return nil, ErrOpenFailed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], box[:NonceSize])

	plaintext, ok := secretbox.Open(nil, box[NonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
