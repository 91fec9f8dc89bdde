// Package identity normalizes the account identity pair shared by the
// key derivation, token, and auth-endpoint packages.
package identity

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxNameBytes is the maximum length of an account name after normalization,
// in bytes of its lowercase UTF-8 encoding.
const MaxNameBytes = 16

// ErrInvalidName is returned when an account name fails normalization.
var ErrInvalidName = errors.New("identity: invalid account name")

// NormalizeName validates and lowercases an account name for use as a
// derivation input or equality key. The account id remains authoritative;
// the name is only ever compared case-insensitively.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	if !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	lower := strings.ToLower(name)
	if len(lower) > MaxNameBytes {
		return "", ErrInvalidName
	}
	return lower, nil
}

// EqualNames reports whether two account names are equal under the
// case-insensitive rule spec'd for account identity.
func EqualNames(a, b string) bool {
	return strings.EqualFold(a, b)
}
