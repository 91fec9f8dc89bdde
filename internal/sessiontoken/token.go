// Package sessiontoken mints and verifies the compact signed session tokens
// that let any relay node which shares game_server_password authenticate a
// client without contacting the central service again.
package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/globed-relay/core/internal/identity"
)

// ErrUnauthorized is the single externally-visible verification failure.
// MalformedToken, BadSignature, and Expired all collapse to this to avoid
// giving an oracle on which check failed.
var ErrUnauthorized = errors.New("sessiontoken: unauthorized")

// clockSkew is the maximum amount an issued_at may be in the future before
// it is rejected as implausible.
const clockSkew = 60 * time.Second

// Claims is the verified identity carried by a session token.
type Claims struct {
	AccountID   int32
	AccountName string
	IssuedAt    time.Time
}

// Issuer mints and verifies tokens keyed with the shared game server
// password. Safe for concurrent use; the key is read-only after
// construction.
type Issuer struct {
	key    []byte
	expiry time.Duration
}

// NewIssuer builds an Issuer keyed with the given shared secret and TTL.
func NewIssuer(gameServerPassword []byte, expiry time.Duration) *Issuer {
	return &Issuer{key: gameServerPassword, expiry: expiry}
}

// Mint produces a compact token "b64url(payload).b64url(mac)" binding
// (accountID, accountName, now).
func (iss *Issuer) Mint(accountID int32, accountName string) (string, error) {
	// Validate shape only; the payload keeps the caller's original casing
	// so relays can display it, while authkey derivation lowercases
	// separately.
	if _, err := identity.NormalizeName(accountName); err != nil {
		return "", err
	}

	payload := encodePayload(accountID, accountName, uint64(time.Now().Unix()))
	mac := iss.sign(payload)

	return b64(payload) + "." + b64(mac), nil
}

// Verify parses and validates a token, returning the bound claims on
// success. now is injected for testability.
func (iss *Issuer) Verify(token string, now time.Time) (Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Claims{}, ErrUnauthorized
	}

	payload, err := b64dec(parts[0])
	if err != nil {
		return Claims{}, ErrUnauthorized
	}
	mac, err := b64dec(parts[1])
	if err != nil {
		return Claims{}, ErrUnauthorized
	}

	expected := iss.sign(payload)
	if !hmac.Equal(mac, expected) {
		return Claims{}, ErrUnauthorized
	}

	accountID, accountName, issuedAt, err := decodePayload(payload)
	if err != nil {
		return Claims{}, ErrUnauthorized
	}

	issuedTime := time.Unix(int64(issuedAt), 0)
	if issuedTime.After(now.Add(clockSkew)) {
		return Claims{}, ErrUnauthorized
	}
	if now.Sub(issuedTime) > iss.expiry {
		return Claims{}, ErrUnauthorized
	}

	return Claims{AccountID: accountID, AccountName: accountName, IssuedAt: issuedTime}, nil
}

func (iss *Issuer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, iss.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// encodePayload lays out i32_le(account_id) || name_bytes || u64_le(issued_at).
// The name is length-prefixed so decodePayload can split it from the
// trailing timestamp unambiguously.
func encodePayload(accountID int32, accountName string, issuedAt uint64) []byte {
	nameBytes := []byte(accountName)
	buf := make([]byte, 4+1+len(nameBytes)+8)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(accountID))
	buf[4] = byte(len(nameBytes))
	copy(buf[5:5+len(nameBytes)], nameBytes)
	binary.LittleEndian.PutUint64(buf[5+len(nameBytes):], issuedAt)

	return buf
}

func decodePayload(buf []byte) (int32, string, uint64, error) {
	if len(buf) < 4+1+8 {
		return 0, "", 0, ErrUnauthorized
	}
	accountID := int32(binary.LittleEndian.Uint32(buf[0:4]))
	nameLen := int(buf[4])
	if len(buf) != 4+1+nameLen+8 {
		return 0, "", 0, ErrUnauthorized
	}
	name := string(buf[5 : 5+nameLen])
	issuedAt := binary.LittleEndian.Uint64(buf[5+nameLen:])
	return accountID, name, issuedAt, nil
}

func b64(b []byte) string    { return base64.RawURLEncoding.EncodeToString(b) }
func b64dec(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
