package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Call states persisted in the calls table.
const (
	CallStateActive    = "active"
	CallStateCompleted = "completed"
	CallStateFailed    = "failed"
)

// CallRecord is one call handled by the assistant.
type CallRecord struct {
	ID           string     `json:"id"`
	ChannelID    string     `json:"channel_id"`
	CallerNumber string     `json:"caller_number"`
	CallerName   string     `json:"caller_name"`
	Language     string     `json:"language"`
	State        string     `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Utterances   int        `json:"utterances"`
	HangupCause  string     `json:"hangup_cause,omitempty"`
}

// Turn is one exchange within a call: what the caller said, what the
// assistant answered, or a tool invocation the answer required.
type Turn struct {
	ID        int64           `json:"id"`
	CallID    string          `json:"call_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Language  string          `json:"language,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stats summarizes the stored call history.
type Stats struct {
	TotalCalls  int64 `json:"total_calls"`
	ActiveCalls int64 `json:"active_calls"`
	TotalTurns  int64 `json:"total_turns"`
}

// Store persists calls and conversation turns in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, runs migrations and returns
// a ready Store.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well. All access goes
	// through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCall inserts a new call record in the active state.
func (s *Store) CreateCall(ctx context.Context, call CallRecord) error {
	state := call.State
	if state == "" {
		state = CallStateActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, channel_id, caller_number, caller_name, language, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.ChannelID, call.CallerNumber, call.CallerName,
		call.Language, state, call.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create call %s: %w", call.ID, err)
	}
	return nil
}

// FinishCall marks a call ended with its final state, utterance count
// and hangup cause.
func (s *Store) FinishCall(ctx context.Context, id, state, hangupCause string, utterances int, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE calls SET state = ?, hangup_cause = ?, utterances = ?, ended_at = ?
		WHERE id = ?`,
		state, hangupCause, utterances, endedAt.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish call %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("call %s not found", id)
	}
	return nil
}

// SetCallLanguage updates the language the call settled on.
func (s *Store) SetCallLanguage(ctx context.Context, id, language string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET language = ? WHERE id = ?`, language, id)
	if err != nil {
		return fmt.Errorf("failed to update language for call %s: %w", id, err)
	}
	return nil
}

// GetCall returns one call by ID.
func (s *Store) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, caller_number, caller_name, language, state,
		       started_at, ended_at, utterances, hangup_cause
		FROM calls WHERE id = ?`, id)

	call, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("call %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call %s: %w", id, err)
	}
	return call, nil
}

// ListRecentCalls returns up to limit calls, newest first.
func (s *Store) ListRecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, caller_number, caller_name, language, state,
		       started_at, ended_at, utterances, hangup_cause
		FROM calls ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []CallRecord
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// AppendTurn records one conversation turn for a call.
func (s *Store) AppendTurn(ctx context.Context, turn Turn) error {
	var toolCalls sql.NullString
	if len(turn.ToolCalls) > 0 {
		toolCalls = sql.NullString{String: string(turn.ToolCalls), Valid: true}
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (call_id, role, content, language, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.CallID, turn.Role, turn.Content, turn.Language, toolCalls, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn for call %s: %w", turn.CallID, err)
	}
	return nil
}

// GetTurns returns all turns of a call in order.
func (s *Store) GetTurns(ctx context.Context, callID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, role, content, language, tool_calls, created_at
		FROM turns WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns for call %s: %w", callID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var toolCalls sql.NullString
		var createdAt int64
		if err := rows.Scan(&turn.ID, &turn.CallID, &turn.Role, &turn.Content,
			&turn.Language, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			turn.ToolCalls = json.RawMessage(toolCalls.String)
		}
		turn.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// GetStats returns aggregate counts over the stored history.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM calls`, CallStateActive,
	).Scan(&stats.TotalCalls, &stats.ActiveCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to count calls: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&stats.TotalTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*CallRecord, error) {
	var call CallRecord
	var startedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&call.ID, &call.ChannelID, &call.CallerNumber, &call.CallerName,
		&call.Language, &call.State, &startedAt, &endedAt, &call.Utterances, &call.HangupCause)
	if err != nil {
		return nil, err
	}

	call.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		call.EndedAt = &t
	}
	return &call, nil
}
