// Package config loads, saves, and hot-reloads the central service's JSON
// configuration, mirroring original_source/config.rs's ServerConfig: every
// field carries a serde-style default so an empty or partial file on disk
// still produces a usable configuration. Grounded on the teacher's
// internal/config/config.go (package-level singleton, Load/Get/SetConfig,
// CreateDefaultConfig, flag-based overrides).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/globed-relay/core/internal/userlist"
)

// AdminKeyMaxLength bounds admin_key length on reload. The original's
// ADMIN_KEY_LENGTH constant lives in a shared crate not present in this
// pack; 32 is used here as the default-generated length and the reload
// ceiling, matching the original's default_admin_key generation size.
const AdminKeyMaxLength = 32

// GameServerEntry describes one relay advertised to clients by the central
// service, matching original_source/config.rs's GameServerEntry.
type GameServerEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Region  string `json:"region"`
}

// Config is the full persisted configuration, matching spec.md's option
// table field-for-field and JSON-tagged for original_source/config.rs's
// wire names.
type Config struct {
	WebMountpoint        string                         `json:"web_mountpoint"`
	WebAddress           string                         `json:"web_address"`
	GameServers          []GameServerEntry              `json:"game_servers"`
	Maintenance          bool                           `json:"maintenance"`
	StatusPrintInterval  uint64                         `json:"status_print_interval"`
	SpecialUsers         map[int32]userlist.SpecialUser `json:"special_users"`
	UserlistMode         userlist.Mode                  `json:"userlist_mode"`
	Userlist             []int32                        `json:"userlist"`
	NoChatList           []int32                        `json:"no_chat_list"`
	TPS                  uint32                         `json:"tps"`
	AdminKey             string                         `json:"admin_key"`
	UseGDAPI             bool                           `json:"use_gd_api"`
	GDAPI                string                         `json:"gd_api"`
	GDAPIRatelimit       int                            `json:"gd_api_ratelimit"`
	GDAPIPeriod          uint64                         `json:"gd_api_period"`
	SecretKey            string                         `json:"secret_key"`
	SecretKey2           string                         `json:"secret_key2"`
	GameServerPassword   string                         `json:"game_server_password"`
	CloudflareProtection bool                           `json:"cloudflare_protection"`
	ChallengeExpiry      uint32                         `json:"challenge_expiry"`
	ChallengeLevel       int32                          `json:"challenge_level"`
	ChallengeRatelimit   uint64                         `json:"challenge_ratelimit"`
	TokenExpiry          uint64                         `json:"token_expiry"`

	// TLSDomain is additive: when set, the central service terminates TLS
	// itself via certmagic instead of expecting a reverse proxy in front
	// of web_address. Empty (the default) preserves the original's plain
	// HTTP listener behavior.
	TLSDomain string `json:"tls_domain,omitempty"`
}

var (
	mu        sync.RWMutex
	appConfig *Config
)

// Default builds a Config with every field set to its documented default,
// matching original_source/config.rs's default_* functions.
func Default() *Config {
	return &Config{
		WebMountpoint: "/",
		WebAddress:    "0.0.0.0:41000",
		GameServers: []GameServerEntry{{
			ID:      "example-server-you-can-delete-it",
			Name:    "Server name",
			Address: "127.0.0.0:41001",
			Region:  "the nether",
		}},
		Maintenance:          false,
		StatusPrintInterval:  7200,
		SpecialUsers:         userlist.DefaultSpecialUsers(),
		UserlistMode:         userlist.ModeNone,
		Userlist:             []int32{},
		NoChatList:           []int32{},
		TPS:                  30,
		AdminKey:             mustRandomAlnum(AdminKeyMaxLength),
		UseGDAPI:             false,
		GDAPI:                "http://www.boomlings.com/database/getGJComments21.php",
		GDAPIRatelimit:       5,
		GDAPIPeriod:          5,
		SecretKey:            "Insecure-" + mustRandomAlnum(32),
		SecretKey2:           "Insecure-" + mustRandomAlnum(32),
		GameServerPassword:   "Insecure-" + mustRandomAlnum(32),
		CloudflareProtection: false,
		ChallengeExpiry:      30,
		ChallengeLevel:       1,
		ChallengeRatelimit:   60,
		TokenExpiry:          60 * 60 * 24,
	}
}

// Load reads and parses the config file at path, filling in any field
// absent from the file (or the whole file, if it doesn't exist yet) with
// its default. It does not touch the package-level singleton; callers
// wanting that should use LoadGlobal.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("config: writing default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Save serializes cfg to path as four-space-indented JSON, matching
// original_source/config.rs's PrettyFormatter::with_indent(b"    ").
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// ReloadInPlace re-reads path and, after validating the result, atomically
// replaces cfg's fields in place. Mirrors original_source/config.rs's
// reload_in_place: callers holding a *Config pointer see the update without
// re-fetching it.
func ReloadInPlace(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	next := Default()
	if err := json.Unmarshal(data, next); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(next); err != nil {
		return err
	}

	mu.Lock()
	*cfg = *next
	mu.Unlock()
	return nil
}

// Validate checks invariants that json.Unmarshal can't enforce on its own.
func Validate(cfg *Config) error {
	if len(cfg.AdminKey) > AdminKeyMaxLength {
		return fmt.Errorf("config: admin key must be %d characters or less", AdminKeyMaxLength)
	}
	if !cfg.UserlistMode.Valid() {
		return userlist.ErrInvalidMode
	}
	for id, su := range cfg.SpecialUsers {
		if err := userlist.ValidateColor(su.Color); err != nil {
			return fmt.Errorf("config: special user %d: %w", id, err)
		}
	}
	return nil
}

// Degraded reports which secrets are still at their insecure, randomly
// generated defaults so the caller can log a startup warning. It never
// reveals the secret values themselves.
func Degraded(cfg *Config) []string {
	var warnings []string
	if hasInsecurePrefix(cfg.SecretKey) {
		warnings = append(warnings, "secret_key is using a generated default")
	}
	if hasInsecurePrefix(cfg.SecretKey2) {
		warnings = append(warnings, "secret_key2 is using a generated default")
	}
	if hasInsecurePrefix(cfg.GameServerPassword) {
		warnings = append(warnings, "game_server_password is using a generated default")
	}
	if cfg.SecretKey != "" && cfg.SecretKey == cfg.SecretKey2 {
		warnings = append(warnings, "secret_key and secret_key2 are identical, authkey derivation loses its second factor")
	}
	return warnings
}

func hasInsecurePrefix(s string) bool {
	return len(s) >= len("Insecure-") && s[:len("Insecure-")] == "Insecure-"
}

// LoadGlobal loads path into the package-level singleton, for callers (like
// cmd/central) that want a process-wide Get().
func LoadGlobal(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	appConfig = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the process-wide configuration loaded by LoadGlobal.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if appConfig == nil {
		panic("config: not loaded, call LoadGlobal first")
	}
	return appConfig
}

// SetGlobal installs cfg as the process-wide configuration, primarily for
// tests.
func SetGlobal(cfg *Config) {
	mu.Lock()
	appConfig = cfg
	mu.Unlock()
}
