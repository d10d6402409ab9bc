// Package persistence implements the Repository contract (spec §4.7): save
// a session's opaque snapshot blob, upsert the players present in it keyed
// by (session_id, seat) so names survive for history without decoding the
// blob, append completed-round summaries, and load the latest snapshot
// back (by id or by short code). Three backends are selectable by mode,
// mirroring the donor's apps/server/internal/ledger/service.go three-way
// AUTH_MODE/LEDGER_MODE dispatch (memory / sqlite / postgres).
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SnapshotRow is one row of the snapshots table (spec §6.3).
type SnapshotRow struct {
	SessionID string
	ShortCode string
	Phase     string
	Reason    string
	Blob      []byte
	CreatedAt time.Time
}

// RoundHistoryRow is one row of the round_history table (spec §6.3).
type RoundHistoryRow struct {
	SessionID   string
	RoundNumber int
	Payload     []byte
	CreatedAt   time.Time
}

// PlayerRow is one row of the players table (spec §6.3), upserted on every
// save (not only at creation) so names survive for history even though the
// engine's own snapshot blob is opaque to the store.
type PlayerRow struct {
	SessionID string
	PlayerID  string
	Name      string
	Seat      int
	IsBot     bool
	JoinedAt  time.Time
}

// Repository is the Persistence contract every backend implements.
type Repository interface {
	SaveSession(ctx context.Context, row SnapshotRow) error
	UpsertPlayers(ctx context.Context, players []PlayerRow) error
	AppendRound(ctx context.Context, row RoundHistoryRow) error
	LoadLatest(ctx context.Context, sessionID string) (*SnapshotRow, error)
	LoadLatestByShortCode(ctx context.Context, shortCode string) (*SnapshotRow, error)
	ListSnapshots(ctx context.Context, sessionID string) ([]SnapshotRow, error)
	ListRounds(ctx context.Context, sessionID string) ([]RoundHistoryRow, error)
	ListPlayers(ctx context.Context, sessionID string) ([]PlayerRow, error)
	Close() error
}

// Mode selects a Repository backend, mirroring STORE_MODE (SPEC_FULL.md
// §6.4): "memory" (default), "sqlite", or "postgres".
type Mode string

const (
	ModeMemory   Mode = "memory"
	ModeSQLite   Mode = "sqlite"
	ModePostgres Mode = "postgres"
)

// Config parameterizes NewFromMode.
type Config struct {
	Mode        Mode
	SQLitePath  string // used when Mode == ModeSQLite
	DatabaseURL string // used when Mode == ModePostgres
}

// NewFromMode constructs the Repository named by cfg.Mode, mirroring the
// donor's NewServiceFromEnv mode switch.
func NewFromMode(cfg Config) (Repository, error) {
	switch strings.ToLower(string(cfg.Mode)) {
	case "", string(ModeMemory):
		return NewMemory(), nil
	case string(ModeSQLite):
		return NewSQLite(cfg.SQLitePath)
	case string(ModePostgres):
		return NewPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("persistence: unknown store mode %q", cfg.Mode)
	}
}

// --- memory backend -------------------------------------------------------

// Memory is an in-process Repository, useful for tests and single-process
// deployments that accept losing state on restart.
type Memory struct {
	mu        sync.Mutex
	latest    map[string]SnapshotRow
	snapshots map[string][]SnapshotRow
	rounds    map[string][]RoundHistoryRow
	players   map[string]map[int]PlayerRow // sessionID -> seat -> row
}

// NewMemory constructs an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		latest:    make(map[string]SnapshotRow),
		snapshots: make(map[string][]SnapshotRow),
		rounds:    make(map[string][]RoundHistoryRow),
		players:   make(map[string]map[int]PlayerRow),
	}
}

func (m *Memory) SaveSession(_ context.Context, row SnapshotRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[row.SessionID] = row
	m.snapshots[row.SessionID] = append(m.snapshots[row.SessionID], row)
	return nil
}

func (m *Memory) UpsertPlayers(_ context.Context, rows []PlayerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		bySeat, ok := m.players[row.SessionID]
		if !ok {
			bySeat = make(map[int]PlayerRow)
			m.players[row.SessionID] = bySeat
		}
		bySeat[row.Seat] = row
	}
	return nil
}

func (m *Memory) ListPlayers(_ context.Context, sessionID string) ([]PlayerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerRow, 0, len(m.players[sessionID]))
	for _, row := range m.players[sessionID] {
		out = append(out, row)
	}
	return out, nil
}

func (m *Memory) AppendRound(_ context.Context, row RoundHistoryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rounds[row.SessionID] {
		if existing.RoundNumber == row.RoundNumber {
			return nil // append_round is idempotent per round_number
		}
	}
	m.rounds[row.SessionID] = append(m.rounds[row.SessionID], row)
	return nil
}

func (m *Memory) LoadLatest(_ context.Context, sessionID string) (*SnapshotRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.latest[sessionID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *Memory) LoadLatestByShortCode(_ context.Context, shortCode string) (*SnapshotRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.latest {
		if row.ShortCode == shortCode {
			out := row
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListSnapshots(_ context.Context, sessionID string) ([]SnapshotRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SnapshotRow{}, m.snapshots[sessionID]...), nil
}

func (m *Memory) ListRounds(_ context.Context, sessionID string) ([]RoundHistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RoundHistoryRow{}, m.rounds[sessionID]...), nil
}

func (m *Memory) Close() error { return nil }

// --- sqlite backend --------------------------------------------------------

// SQLite persists sessions to a local file via modernc.org/sqlite, grounded
// on the donor's ledger.SQLiteService (single-writer connection pool, WAL,
// create-if-missing schema).
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a sqlite database at path.
func NewSQLite(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("persistence: empty sqlite path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("persistence: mkdir %s: %w", parent, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("persistence: %s: %w", pragma, err)
		}
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	short_code TEXT NOT NULL,
	state_phase TEXT NOT NULL,
	reason TEXT NOT NULL,
	blob BLOB NOT NULL,
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, created_at_ms);

CREATE TABLE IF NOT EXISTS round_history (
	session_id TEXT NOT NULL,
	round_number INTEGER NOT NULL,
	payload BLOB NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (session_id, round_number)
);

CREATE TABLE IF NOT EXISTS players (
	session_id TEXT NOT NULL,
	player_id TEXT NOT NULL,
	name TEXT NOT NULL,
	seat INTEGER NOT NULL,
	is_bot INTEGER NOT NULL,
	joined_at_ms INTEGER NOT NULL,
	PRIMARY KEY (session_id, seat)
);
`)
	if err != nil {
		return fmt.Errorf("persistence: ensure sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSession(ctx context.Context, row SnapshotRow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (session_id, short_code, state_phase, reason, blob, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.ShortCode, row.Phase, row.Reason, row.Blob, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("persistence: save session %s: %w", row.SessionID, err)
	}
	return nil
}

func (s *SQLite) AppendRound(ctx context.Context, row RoundHistoryRow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO round_history (session_id, round_number, payload, created_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (session_id, round_number) DO NOTHING`,
		row.SessionID, row.RoundNumber, row.Payload, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("persistence: append round %s/%d: %w", row.SessionID, row.RoundNumber, err)
	}
	return nil
}

func (s *SQLite) LoadLatest(ctx context.Context, sessionID string) (*SnapshotRow, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at_ms
FROM snapshots WHERE session_id = ?
ORDER BY created_at_ms DESC LIMIT 1`, sessionID)

	var out SnapshotRow
	var createdAtMs int64
	if err := row.Scan(&out.SessionID, &out.ShortCode, &out.Phase, &out.Reason, &out.Blob, &createdAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load latest %s: %w", sessionID, err)
	}
	out.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return &out, nil
}

func (s *SQLite) LoadLatestByShortCode(ctx context.Context, shortCode string) (*SnapshotRow, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at_ms
FROM snapshots WHERE short_code = ?
ORDER BY created_at_ms DESC LIMIT 1`, shortCode)

	var out SnapshotRow
	var createdAtMs int64
	if err := row.Scan(&out.SessionID, &out.ShortCode, &out.Phase, &out.Reason, &out.Blob, &createdAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load latest by short code %s: %w", shortCode, err)
	}
	out.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return &out, nil
}

func (s *SQLite) UpsertPlayers(ctx context.Context, rows []PlayerRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin upsert players: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO players (session_id, player_id, name, seat, is_bot, joined_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, seat) DO UPDATE SET player_id = excluded.player_id, name = excluded.name, is_bot = excluded.is_bot`)
	if err != nil {
		return fmt.Errorf("persistence: prepare upsert players: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		joinedAtMs := row.JoinedAt.UTC().UnixMilli()
		if row.JoinedAt.IsZero() {
			joinedAtMs = time.Now().UTC().UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, row.SessionID, row.PlayerID, row.Name, row.Seat, boolToInt(row.IsBot), joinedAtMs); err != nil {
			return fmt.Errorf("persistence: upsert player %s/%d: %w", row.SessionID, row.Seat, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListPlayers(ctx context.Context, sessionID string) ([]PlayerRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, player_id, name, seat, is_bot, joined_at_ms
FROM players WHERE session_id = ? ORDER BY seat ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list players %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []PlayerRow
	for rows.Next() {
		var row PlayerRow
		var isBot int
		var joinedAtMs int64
		if err := rows.Scan(&row.SessionID, &row.PlayerID, &row.Name, &row.Seat, &isBot, &joinedAtMs); err != nil {
			return nil, fmt.Errorf("persistence: scan player row: %w", err)
		}
		row.IsBot = isBot != 0
		row.JoinedAt = time.UnixMilli(joinedAtMs).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) ListSnapshots(ctx context.Context, sessionID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at_ms
FROM snapshots WHERE session_id = ? ORDER BY created_at_ms ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list snapshots %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var createdAtMs int64
		if err := rows.Scan(&row.SessionID, &row.ShortCode, &row.Phase, &row.Reason, &row.Blob, &createdAtMs); err != nil {
			return nil, fmt.Errorf("persistence: scan snapshot row: %w", err)
		}
		row.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) ListRounds(ctx context.Context, sessionID string) ([]RoundHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, round_number, payload, created_at_ms
FROM round_history WHERE session_id = ? ORDER BY round_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list rounds %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []RoundHistoryRow
	for rows.Next() {
		var row RoundHistoryRow
		var createdAtMs int64
		if err := rows.Scan(&row.SessionID, &row.RoundNumber, &row.Payload, &createdAtMs); err != nil {
			return nil, fmt.Errorf("persistence: scan round row: %w", err)
		}
		row.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- postgres backend --------------------------------------------------------

// Postgres is the multi-instance-safe backend, grounded on the donor's
// ledger.PostgresService (pq driver, pooled connections, fail-fast if the
// schema hasn't been migrated).
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection to databaseURL and verifies the
// snapshots table already exists; it does not check or migrate the other
// tables
// (that is an operator responsibility, per the donor's own postgres path).
func NewPostgres(databaseURL string) (*Postgres, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("persistence: empty postgres database url")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("persistence: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: ping postgres: %w", err)
	}
	var schemaReady bool
	if err := db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = 'snapshots'
)`).Scan(&schemaReady); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: check postgres schema: %w", err)
	}
	if !schemaReady {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: schema not initialized: missing table snapshots")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) SaveSession(ctx context.Context, row SnapshotRow) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO snapshots (session_id, short_code, state_phase, reason, blob, created_at)
VALUES ($1, $2, $3, $4, $5, now())`,
		row.SessionID, row.ShortCode, row.Phase, row.Reason, row.Blob)
	if err != nil {
		return fmt.Errorf("persistence: save session %s: %w", row.SessionID, err)
	}
	return nil
}

func (p *Postgres) AppendRound(ctx context.Context, row RoundHistoryRow) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO round_history (session_id, round_number, payload, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id, round_number) DO NOTHING`,
		row.SessionID, row.RoundNumber, row.Payload)
	if err != nil {
		return fmt.Errorf("persistence: append round %s/%d: %w", row.SessionID, row.RoundNumber, err)
	}
	return nil
}

func (p *Postgres) LoadLatest(ctx context.Context, sessionID string) (*SnapshotRow, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at
FROM snapshots WHERE session_id = $1
ORDER BY created_at DESC LIMIT 1`, sessionID)

	var out SnapshotRow
	if err := row.Scan(&out.SessionID, &out.ShortCode, &out.Phase, &out.Reason, &out.Blob, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load latest %s: %w", sessionID, err)
	}
	return &out, nil
}

func (p *Postgres) LoadLatestByShortCode(ctx context.Context, shortCode string) (*SnapshotRow, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at
FROM snapshots WHERE short_code = $1
ORDER BY created_at DESC LIMIT 1`, shortCode)

	var out SnapshotRow
	if err := row.Scan(&out.SessionID, &out.ShortCode, &out.Phase, &out.Reason, &out.Blob, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: load latest by short code %s: %w", shortCode, err)
	}
	return &out, nil
}

func (p *Postgres) UpsertPlayers(ctx context.Context, rows []PlayerRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin upsert players: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO players (session_id, player_id, name, seat, is_bot, joined_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (session_id, seat) DO UPDATE SET player_id = excluded.player_id, name = excluded.name, is_bot = excluded.is_bot`)
	if err != nil {
		return fmt.Errorf("persistence: prepare upsert players: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.SessionID, row.PlayerID, row.Name, row.Seat, row.IsBot); err != nil {
			return fmt.Errorf("persistence: upsert player %s/%d: %w", row.SessionID, row.Seat, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListPlayers(ctx context.Context, sessionID string) ([]PlayerRow, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT session_id, player_id, name, seat, is_bot, joined_at
FROM players WHERE session_id = $1 ORDER BY seat ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list players %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []PlayerRow
	for rows.Next() {
		var row PlayerRow
		if err := rows.Scan(&row.SessionID, &row.PlayerID, &row.Name, &row.Seat, &row.IsBot, &row.JoinedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan player row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSnapshots(ctx context.Context, sessionID string) ([]SnapshotRow, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT session_id, short_code, state_phase, reason, blob, created_at
FROM snapshots WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list snapshots %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		if err := rows.Scan(&row.SessionID, &row.ShortCode, &row.Phase, &row.Reason, &row.Blob, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan snapshot row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) ListRounds(ctx context.Context, sessionID string) ([]RoundHistoryRow, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT session_id, round_number, payload, created_at
FROM round_history WHERE session_id = $1 ORDER BY round_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list rounds %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []RoundHistoryRow
	for rows.Next() {
		var row RoundHistoryRow
		if err := rows.Scan(&row.SessionID, &row.RoundNumber, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan round row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
