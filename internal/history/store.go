// store.go holds the transcript read/write operations.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/switchboard/internal/protocol"
)

// Invocation statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Invocation is one recorded query.
type Invocation struct {
	ID        string
	Backend   string
	Model     string
	WorkDir   string
	Prompt    string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
	Error     string
}

// Begin records the start of an invocation and returns its ID.
func (d *DB) Begin(backend, model, workDir, prompt string) (string, error) {
	id := uuid.NewString()
	_, err := d.sql.Exec(
		`INSERT INTO invocations (id, backend, model, work_dir, prompt, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, backend, model, workDir, prompt, time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("recording invocation: %w", err)
	}
	return id, nil
}

// Finish records an invocation's terminal state.
func (d *DB) Finish(id, status, errText string) error {
	_, err := d.sql.Exec(
		`UPDATE invocations SET ended_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, nullable(errText), id,
	)
	if err != nil {
		return fmt.Errorf("finishing invocation %s: %w", id, err)
	}
	return nil
}

// Append stores one normalized message under an invocation. seq fixes
// replay order.
func (d *DB) Append(invocationID string, seq int, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	_, err = d.sql.Exec(
		`INSERT INTO messages (invocation_id, seq, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		invocationID, seq, string(msg.Type), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending message %d: %w", seq, err)
	}
	return nil
}

// Recent returns the newest invocations, most recent first.
func (d *DB) Recent(limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.Query(
		`SELECT id, backend, model, work_dir, prompt, started_at, ended_at, status, COALESCE(error, '')
		 FROM invocations ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var ended sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.Backend, &inv.Model, &inv.WorkDir, &inv.Prompt,
			&inv.StartedAt, &ended, &inv.Status, &inv.Error); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			inv.EndedAt = &t
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Messages replays an invocation's transcript in emission order.
func (d *DB) Messages(invocationID string) ([]protocol.Message, error) {
	rows, err := d.sql.Query(
		`SELECT payload FROM messages WHERE invocation_id = ? ORDER BY seq`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
