// Package userlist implements the account allow/deny policy and the
// "special user" decoration map, mirroring original_source/config.rs's
// UserlistMode and SpecialUser types.
package userlist

import (
	"errors"
	"regexp"
)

// Mode selects how List is interpreted.
type Mode string

const (
	// ModeNone disables userlist enforcement entirely; every account id
	// is accepted.
	ModeNone Mode = "none"
	// ModeBlacklist rejects any account id present in List.
	ModeBlacklist Mode = "blacklist"
	// ModeWhitelist accepts only account ids present in List.
	ModeWhitelist Mode = "whitelist"
)

// ErrInvalidMode is returned when a config file names an unrecognized mode.
var ErrInvalidMode = errors.New("userlist: unrecognized mode, must be none, blacklist, or whitelist")

// Valid reports whether m is one of the three recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeBlacklist, ModeWhitelist:
		return true
	default:
		return false
	}
}

// Rejects reports whether accountID should be denied access under mode,
// given the active id set. This is the single decision point C6's auth
// endpoints consult before issuing a challenge or token.
func Rejects(mode Mode, ids map[int32]struct{}, accountID int32) bool {
	switch mode {
	case ModeBlacklist:
		_, blocked := ids[accountID]
		return blocked
	case ModeWhitelist:
		_, allowed := ids[accountID]
		return !allowed
	default:
		return false
	}
}

// ToSet converts a config-file slice of account ids into a lookup set.
func ToSet(ids []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// SpecialUser decorates an account id in relay UIs (name + display color).
type SpecialUser struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}([0-9a-fA-F]{2})?$`)

// ErrInvalidColor is returned when a special user's color is not a valid
// #RRGGBB or #RRGGBBAA hex string.
var ErrInvalidColor = errors.New("userlist: color must be #RRGGBB or #RRGGBBAA")

// ValidateColor checks a special user's color field.
func ValidateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return ErrInvalidColor
	}
	return nil
}

// DefaultSpecialUsers returns the compiled-in default map ({71: RobTop}),
// matching original_source/config.rs's default_special_users.
func DefaultSpecialUsers() map[int32]SpecialUser {
	return map[int32]SpecialUser{
		71: {Name: "RobTop", Color: "#ffaabb"},
	}
}
