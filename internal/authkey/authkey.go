// Package authkey derives the per-account authentication key shared between
// the central service and relay nodes, and implements the TOTP-style code
// used to verify possession of it without re-running the comment-API
// challenge.
package authkey

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/globed-relay/core/internal/identity"
)

// Size is the length in bytes of a derived authkey.
const Size = 32

// Key is a derived per-account authentication secret. Never logged, never
// sent except base64-encoded over an already transport-secured response.
type Key [Size]byte

// Secrets bundles the two server-wide secrets that seed key derivation.
// Equal to a config reload's snapshot of secret_key/secret_key2.
type Secrets struct {
	Primary   []byte
	Secondary []byte
}

// Derive computes authkey = keyedHash(secretKey || secretKey2, i32_le(accountID) || lowercase(accountName)).
// The hash is BLAKE2b-256 keyed with the concatenated secrets, giving a
// 256-bit output as required; equal inputs always yield equal output for
// services sharing the same secrets.
func Derive(secrets Secrets, accountID int32, accountName string) (Key, error) {
	name, err := identity.NormalizeName(accountName)
	if err != nil {
		return Key{}, err
	}

	key := append(append([]byte{}, secrets.Primary...), secrets.Secondary...)
	h, err := blake2b.New256(key)
	if err != nil {
		return Key{}, fmt.Errorf("authkey: init hash: %w", err)
	}

	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(accountID))
	h.Write(idBuf[:])
	h.Write([]byte(name))

	var out Key
	copy(out[:], h.Sum(nil))
	return out, nil
}

// stepDuration is the TOTP time step, 30 seconds per RFC 6238.
const stepDuration = 30

// Code computes the six-digit TOTP code for the given HMAC key material at
// unix time t. It is used both for authkey-based TOTP (C1) and for the
// challenge-answer check (C6), which HMACs the challenge value itself
// rather than the authkey — see spec Open Questions.
func Code(hmacKey []byte, t int64) string {
	return truncate6(hmacKey, uint64(t)/stepDuration)
}

// Verify checks code against the current and previous 30s time steps,
// accepting a window of the last 60 seconds as required.
func Verify(hmacKey []byte, code string, now int64) bool {
	current := uint64(now) / stepDuration
	ok1 := constantEq(truncate6(hmacKey, current), code)
	ok2 := constantEq(truncate6(hmacKey, current-1), code)
	return ok1 || ok2
}

func truncate6(hmacKey []byte, step uint64) string {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], step)

	mac := hmac.New(sha1.New, hmacKey)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])
	code %= 1_000_000

	return fmt.Sprintf("%06d", code)
}

// constantEq compares two ASCII digit strings in constant time. Codes are
// fixed-length (six digits) so a length mismatch alone is not a timing
// oracle worth hiding.
func constantEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
