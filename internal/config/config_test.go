package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/globed-relay/core/internal/userlist"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	if cfg.WebMountpoint != "/" {
		t.Fatalf("web_mountpoint default = %q", cfg.WebMountpoint)
	}
	if cfg.WebAddress != "0.0.0.0:41000" {
		t.Fatalf("web_address default = %q", cfg.WebAddress)
	}
	if cfg.StatusPrintInterval != 7200 {
		t.Fatalf("status_print_interval default = %d", cfg.StatusPrintInterval)
	}
	if cfg.UserlistMode != userlist.ModeNone {
		t.Fatalf("userlist_mode default = %q", cfg.UserlistMode)
	}
	if cfg.TPS != 30 {
		t.Fatalf("tps default = %d", cfg.TPS)
	}
	if cfg.GDAPIRatelimit != 5 || cfg.GDAPIPeriod != 5 {
		t.Fatalf("gd_api rate default = %d/%d", cfg.GDAPIRatelimit, cfg.GDAPIPeriod)
	}
	if cfg.ChallengeExpiry != 30 || cfg.ChallengeLevel != 1 || cfg.ChallengeRatelimit != 60 {
		t.Fatalf("challenge defaults = %+v", cfg)
	}
	if cfg.TokenExpiry != 86400 {
		t.Fatalf("token_expiry default = %d", cfg.TokenExpiry)
	}
	su, ok := cfg.SpecialUsers[71]
	if !ok || su.Name != "RobTop" {
		t.Fatalf("special_users default missing RobTop: %+v", cfg.SpecialUsers)
	}
	if len(cfg.AdminKey) != AdminKeyMaxLength {
		t.Fatalf("admin_key default length = %d", len(cfg.AdminKey))
	}
}

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebAddress != "0.0.0.0:41000" {
		t.Fatalf("unexpected default web_address: %q", cfg.WebAddress)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error reloading written default: %v", err)
	}
	if again.AdminKey != cfg.AdminKey {
		t.Fatalf("expected the written default to round-trip its admin key")
	}
}

func TestLoadFillsMissingFieldsFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := writeFile(path, `{"tps": 60}`); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TPS != 60 {
		t.Fatalf("expected the file's tps to override the default, got %d", cfg.TPS)
	}
	if cfg.WebAddress != "0.0.0.0:41000" {
		t.Fatalf("expected unspecified fields to keep their default, got %q", cfg.WebAddress)
	}
}

func TestReloadInPlaceRejectsOversizeAdminKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	oversized := make([]byte, AdminKeyMaxLength+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	if err := writeFile(path, `{"admin_key": "`+string(oversized)+`"}`); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if err := ReloadInPlace(cfg, path); err == nil {
		t.Fatalf("expected an oversize admin_key to be rejected")
	}
}

func TestReloadInPlaceAppliesValidChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := writeFile(path, `{"maintenance": true}`); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if err := ReloadInPlace(cfg, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Maintenance {
		t.Fatalf("expected maintenance to be reloaded to true")
	}
}

func TestDegradedFlagsInsecureDefaults(t *testing.T) {
	cfg := Default()
	warnings := Degraded(cfg)
	if len(warnings) == 0 {
		t.Fatalf("expected default config to report degraded secrets")
	}
}

func TestDegradedSilentWhenSecretsAreCustom(t *testing.T) {
	cfg := Default()
	cfg.SecretKey = "a-real-production-secret"
	cfg.SecretKey2 = "a-different-real-secret"
	cfg.GameServerPassword = "yet-another-real-secret"

	if warnings := Degraded(cfg); len(warnings) != 0 {
		t.Fatalf("expected no degraded warnings, got %v", warnings)
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}
