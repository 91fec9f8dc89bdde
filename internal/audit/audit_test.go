package audit

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Init(db); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return db
}

func TestLogAndRecent(t *testing.T) {
	openTestDB(t)

	if err := Log(KindChallengeStart, 100, "playerone", "1.2.3.4", ResultSuccess, ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := Log(KindTOTPLogin, 100, "playerone", "1.2.3.4", ResultFailure, "bad code"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	events, err := Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].Kind != KindTOTPLogin || events[0].Result != ResultFailure {
		t.Fatalf("unexpected newest event: %+v", events[0])
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	openTestDB(t)

	for i := 0; i < 5; i++ {
		if err := Log(KindChallengeStart, int32(i), "p", "1.2.3.4", ResultSuccess, ""); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	events, err := Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestLogBeforeInitFails(t *testing.T) {
	db = nil
	if err := Log(KindChallengeStart, 1, "p", "1.2.3.4", ResultSuccess, ""); err == nil {
		t.Fatalf("expected an error when audit is not initialized")
	}
}
