// Package audit logs security-relevant auth events (challenge issuance,
// verification, TOTP logins, relay handshakes) to a local sqlite database,
// grounded on the teacher's internal/audit/audit.go schema/query shape but
// retargeted to this service's event kinds. Authkeys, tokens, and secrets
// are never written — only the outcome and enough context to investigate
// abuse.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Kind enumerates the auth events worth recording.
type Kind string

const (
	KindChallengeStart  Kind = "challenge_start"
	KindChallengeFinish Kind = "challenge_finish"
	KindTOTPLogin       Kind = "totp_login"
	KindRelayHandshake  Kind = "relay_handshake"
)

// Result is the outcome of an audited event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

var db *sql.DB

// Init creates the audit_events table if needed and installs database as
// the logging target.
func Init(database *sql.DB) error {
	db = database

	const createTableSQL = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		account_id INTEGER,
		account_name TEXT,
		ip TEXT,
		result TEXT NOT NULL,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_events_account_id ON audit_events(account_id);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("audit: creating audit_events table: %w", err)
	}
	return nil
}

// Event is one recorded auth event.
type Event struct {
	ID          int64
	Timestamp   time.Time
	Kind        Kind
	AccountID   int32
	AccountName string
	IP          string
	Result      Result
	Detail      string
}

// Log records one event. accountID of 0 means "not yet known" (e.g. a
// challenge_start request with a bad aid never reached identity checks).
func Log(kind Kind, accountID int32, accountName, ip string, result Result, detail string) error {
	if db == nil {
		return fmt.Errorf("audit: not initialized")
	}

	const query = `
		INSERT INTO audit_events (timestamp, kind, account_id, account_name, ip, result, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query, time.Now().UTC(), string(kind), accountID, accountName, ip, string(result), detail)
	if err != nil {
		log.Printf("audit: failed to write event: %v", err)
		return err
	}
	return nil
}

// Recent retrieves the most recent events, newest first.
func Recent(limit int) ([]Event, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: not initialized")
	}

	const query = `
		SELECT id, timestamp, kind, account_id, account_name, ip, result, detail
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var kind, result string
		if err := rows.Scan(&e.ID, &e.Timestamp, &kind, &e.AccountID, &e.AccountName, &e.IP, &result, &e.Detail); err != nil {
			log.Printf("audit: error scanning event: %v", err)
			continue
		}
		e.Kind = Kind(kind)
		e.Result = Result(result)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune removes events older than daysToKeep.
func Prune(daysToKeep int) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("audit: not initialized")
	}

	const query = `DELETE FROM audit_events WHERE timestamp < datetime('now', '-' || ? || ' days')`

	result, err := db.Exec(query, daysToKeep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
