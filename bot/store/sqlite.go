package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO)
)

// SQLiteStore implements Store on a single SQLite file. Writes are
// serialized through a one-connection pool; WAL keeps readers off the
// writer's back.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	action        TEXT    NOT NULL,
	target        INTEGER NOT NULL DEFAULT 0,
	status        TEXT    NOT NULL,
	priority      INTEGER NOT NULL,
	details       TEXT    NOT NULL DEFAULT '{}',
	progress      TEXT    NOT NULL DEFAULT '{}',
	resume_after  INTEGER,
	preempted_by  INTEGER,
	created_by    TEXT    NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	completed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_processes_status_priority ON processes(status, priority);
CREATE INDEX IF NOT EXISTS idx_processes_resume_after    ON processes(resume_after);
CREATE INDEX IF NOT EXISTS idx_processes_preempted_by    ON processes(preempted_by);

CREATE TABLE IF NOT EXISTS alliances (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	priority    INTEGER NOT NULL UNIQUE,
	name        TEXT    NOT NULL,
	channel_id  TEXT    NOT NULL DEFAULT '',
	interval    TEXT    NOT NULL DEFAULT '',
	auto_redeem INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS players (
	fid           INTEGER PRIMARY KEY,
	alliance_id   INTEGER NOT NULL,
	nickname      TEXT    NOT NULL DEFAULT 'Unknown',
	furnace_level INTEGER NOT NULL DEFAULT 0,
	state         INTEGER NOT NULL DEFAULT 0,
	exist         INTEGER NOT NULL DEFAULT 0,
	is_rich       INTEGER NOT NULL DEFAULT 0,
	vip_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_players_alliance ON players(alliance_id);

CREATE TABLE IF NOT EXISTS furnace_changes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fid        INTEGER NOT NULL,
	old        TEXT    NOT NULL,
	new        TEXT    NOT NULL,
	changed_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_furnace_changes_fid ON furnace_changes(fid);

CREATE TABLE IF NOT EXISTS nickname_changes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fid        INTEGER NOT NULL,
	old        TEXT    NOT NULL,
	new        TEXT    NOT NULL,
	changed_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nickname_changes_fid ON nickname_changes(fid);

CREATE TABLE IF NOT EXISTS giftcode_usage (
	fid       INTEGER NOT NULL,
	gift_code TEXT    NOT NULL,
	status    TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (fid, gift_code)
);
CREATE INDEX IF NOT EXISTS idx_giftcode_usage_code ON giftcode_usage(gift_code);

CREATE TABLE IF NOT EXISTS system_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	level      TEXT    NOT NULL,
	source     TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor      TEXT    NOT NULL,
	action     TEXT    NOT NULL,
	detail     TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// OpenSQLite opens (or creates) the database with WAL and a one-connection
// pool so concurrent writers serialize at the pool, not at SQLITE_BUSY.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := path +
		"?_pragma=foreign_keys(ON)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// -------------------- time & json helpers --------------------

func toMs(t time.Time) int64 { return t.UnixMilli() }

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time { return time.UnixMilli(ms) }

func fromMsPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// -------------------- processes --------------------

const processCols = `id, action, target, status, priority, details, progress,
resume_after, preempted_by, created_by, created_at, updated_at, completed_at`

func scanProcess(row interface{ Scan(...any) error }) (*Process, error) {
	var (
		p                     Process
		details, progress     string
		resumeMs, preemptedBy sql.NullInt64
		createdMs, updatedMs  int64
		completedMs           sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Action, &p.Target, &p.Status, &p.Priority,
		&details, &progress, &resumeMs, &preemptedBy, &p.CreatedBy,
		&createdMs, &updatedMs, &completedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(details), &p.Details); err != nil {
		return nil, fmt.Errorf("process %d details: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(progress), &p.Progress); err != nil {
		return nil, fmt.Errorf("process %d progress: %w", p.ID, err)
	}
	p.ResumeAfter = fromMsPtr(resumeMs)
	if preemptedBy.Valid {
		p.PreemptedBy = &preemptedBy.Int64
	}
	p.CreatedAt = fromMs(createdMs)
	p.UpdatedAt = fromMs(updatedMs)
	p.CompletedAt = fromMsPtr(completedMs)
	return &p, nil
}

func (s *SQLiteStore) InsertProcess(ctx context.Context, p *Process) (int64, error) {
	details, err := marshalJSON(p.Details)
	if err != nil {
		return 0, err
	}
	progress, err := marshalJSON(p.Progress)
	if err != nil {
		return 0, err
	}
	const q = `
INSERT INTO processes(action, target, status, priority, details, progress, resume_after, preempted_by, created_by, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	res, err := s.db.ExecContext(ctx, q, p.Action, p.Target, p.Status, p.Priority,
		details, progress, msPtr(p.ResumeAfter), p.PreemptedBy, p.CreatedBy,
		toMs(p.CreatedAt), toMs(p.UpdatedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStore) GetProcess(ctx context.Context, id int64) (*Process, error) {
	q := `SELECT ` + processCols + ` FROM processes WHERE id = ?;`
	return scanProcess(s.db.QueryRowContext(ctx, q, id))
}

func (s *SQLiteStore) queryProcesses(ctx context.Context, q string, args ...any) ([]*Process, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ProcessesByStatus(ctx context.Context, status ProcessStatus) ([]*Process, error) {
	q := `SELECT ` + processCols + ` FROM processes WHERE status = ? ORDER BY priority ASC, created_at ASC, id ASC;`
	return s.queryProcesses(ctx, q, status)
}

func (s *SQLiteStore) NextQueuedProcess(ctx context.Context, now time.Time) (*Process, error) {
	q := `SELECT ` + processCols + ` FROM processes
WHERE status = ? AND (resume_after IS NULL OR resume_after <= ?)
ORDER BY priority ASC, created_at ASC, id ASC
LIMIT 1;`
	return scanProcess(s.db.QueryRowContext(ctx, q, StatusQueued, toMs(now)))
}

func (s *SQLiteStore) HasHigherPriorityQueued(ctx context.Context, priority int, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS(
  SELECT 1 FROM processes
  WHERE status = ? AND priority < ? AND (resume_after IS NULL OR resume_after <= ?)
);`
	var exists int
	if err := s.db.QueryRowContext(ctx, q, StatusQueued, priority, toMs(now)).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (s *SQLiteStore) ActiveProcess(ctx context.Context) (*Process, error) {
	q := `SELECT ` + processCols + ` FROM processes WHERE status = ? LIMIT 1;`
	return scanProcess(s.db.QueryRowContext(ctx, q, StatusActive))
}

func (s *SQLiteStore) MarkActive(ctx context.Context, id int64, now time.Time) error {
	const q = `
UPDATE processes
SET status = ?, preempted_by = NULL, resume_after = NULL, updated_at = ?
WHERE id = ? AND status = ?
  AND NOT EXISTS (SELECT 1 FROM processes WHERE status = ? AND id != ?);`
	res, err := s.db.ExecContext(ctx, q, StatusActive, toMs(now), id, StatusQueued, StatusActive, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if active, err := s.ActiveProcess(ctx); err == nil && active != nil && active.ID != id {
		return ErrActiveExists
	}
	return ErrNotQueued
}

func (s *SQLiteStore) SetProcessStatus(ctx context.Context, id int64, status ProcessStatus, now time.Time) error {
	var q string
	switch status {
	case StatusCompleted, StatusFailed:
		q = `UPDATE processes SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?;`
		res, err := s.db.ExecContext(ctx, q, status, toMs(now), toMs(now), id)
		return oneRow(res, err)
	default:
		q = `UPDATE processes SET status = ?, updated_at = ? WHERE id = ?;`
		res, err := s.db.ExecContext(ctx, q, status, toMs(now), id)
		return oneRow(res, err)
	}
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id int64, progress Progress, now time.Time) error {
	blob, err := marshalJSON(progress)
	if err != nil {
		return err
	}
	const q = `UPDATE processes SET progress = ?, updated_at = ? WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, blob, toMs(now), id)
	return oneRow(res, err)
}

func (s *SQLiteStore) SetResumeAfter(ctx context.Context, id int64, at *time.Time, now time.Time) error {
	const q = `UPDATE processes SET resume_after = ?, updated_at = ? WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, msPtr(at), toMs(now), id)
	return oneRow(res, err)
}

func (s *SQLiteStore) SetPreemption(ctx context.Context, id, preemptedBy int64, now time.Time) error {
	const q = `
UPDATE processes SET status = ?, preempted_by = ?, resume_after = NULL, updated_at = ?
WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, StatusQueued, preemptedBy, toMs(now), id)
	return oneRow(res, err)
}

func (s *SQLiteStore) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE processes SET status = ?, updated_at = ?
WHERE status = ? AND preempted_by IS NULL;`
	res, err := s.db.ExecContext(ctx, q, StatusQueued, toMs(now), StatusActive)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) HasOpenProcess(ctx context.Context, action Action, target int64) (bool, error) {
	const q = `
SELECT EXISTS(
  SELECT 1 FROM processes WHERE action = ? AND target = ? AND status IN (?, ?)
);`
	var exists int
	if err := s.db.QueryRowContext(ctx, q, action, target, StatusQueued, StatusActive).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

func oneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -------------------- alliances --------------------

func (s *SQLiteStore) GetAlliance(ctx context.Context, id int64) (*Alliance, error) {
	const q = `SELECT id, priority, name, channel_id, interval, auto_redeem FROM alliances WHERE id = ?;`
	var a Alliance
	var autoRedeem int
	err := s.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &autoRedeem)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.AutoRedeem = autoRedeem == 1
	return &a, nil
}

func (s *SQLiteStore) ListAlliances(ctx context.Context) ([]*Alliance, error) {
	const q = `SELECT id, priority, name, channel_id, interval, auto_redeem FROM alliances ORDER BY priority ASC;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alliance
	for rows.Next() {
		var a Alliance
		var autoRedeem int
		if err := rows.Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &autoRedeem); err != nil {
			return nil, err
		}
		a.AutoRedeem = autoRedeem == 1
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertAlliance(ctx context.Context, a *Alliance) error {
	if a.ID == 0 {
		const q = `INSERT INTO alliances(priority, name, channel_id, interval, auto_redeem) VALUES(?, ?, ?, ?, ?);`
		res, err := s.db.ExecContext(ctx, q, a.Priority, a.Name, a.ChannelID, a.Interval, boolToInt(a.AutoRedeem))
		if err != nil {
			return err
		}
		a.ID, err = res.LastInsertId()
		return err
	}
	const q = `
INSERT INTO alliances(id, priority, name, channel_id, interval, auto_redeem)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  priority    = excluded.priority,
  name        = excluded.name,
  channel_id  = excluded.channel_id,
  interval    = excluded.interval,
  auto_redeem = excluded.auto_redeem;`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Priority, a.Name, a.ChannelID, a.Interval, boolToInt(a.AutoRedeem))
	return err
}

func (s *SQLiteStore) DeleteAlliance(ctx context.Context, id int64) error {
	const q = `DELETE FROM alliances WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, id)
	return oneRow(res, err)
}

func (s *SQLiteStore) PlayerCountsByAlliances(ctx context.Context, ids []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	q := `SELECT alliance_id, COUNT(*) FROM players WHERE alliance_id IN (` + placeholders(len(ids)) + `) GROUP BY alliance_id;`
	rows, err := s.db.QueryContext(ctx, q, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// -------------------- players --------------------

func (s *SQLiteStore) GetPlayer(ctx context.Context, fid int64) (*Player, error) {
	const q = `SELECT fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count FROM players WHERE fid = ?;`
	var p Player
	var isRich int
	err := s.db.QueryRowContext(ctx, q, fid).Scan(&p.Fid, &p.AllianceID, &p.Nickname, &p.FurnaceLevel, &p.State, &p.Exist, &isRich, &p.VipCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IsRich = isRich == 1
	return &p, nil
}

func (s *SQLiteStore) ListPlayersByAlliance(ctx context.Context, allianceID int64) ([]*Player, error) {
	const q = `SELECT fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count FROM players WHERE alliance_id = ? ORDER BY fid ASC;`
	rows, err := s.db.QueryContext(ctx, q, allianceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		var p Player
		var isRich int
		if err := rows.Scan(&p.Fid, &p.AllianceID, &p.Nickname, &p.FurnaceLevel, &p.State, &p.Exist, &isRich, &p.VipCount); err != nil {
			return nil, err
		}
		p.IsRich = isRich == 1
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertPlayer(ctx context.Context, p *Player) error {
	const q = `
INSERT INTO players(fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fid) DO UPDATE SET
  alliance_id   = excluded.alliance_id,
  nickname      = excluded.nickname,
  furnace_level = excluded.furnace_level,
  state         = excluded.state,
  exist         = excluded.exist,
  is_rich       = excluded.is_rich,
  vip_count     = excluded.vip_count;`
	_, err := s.db.ExecContext(ctx, q, p.Fid, p.AllianceID, p.Nickname, p.FurnaceLevel, p.State, p.Exist, boolToInt(p.IsRich), p.VipCount)
	return err
}

func (s *SQLiteStore) DeletePlayer(ctx context.Context, fid int64) error {
	const q = `DELETE FROM players WHERE fid = ?;`
	res, err := s.db.ExecContext(ctx, q, fid)
	return oneRow(res, err)
}

func (s *SQLiteStore) ApplyPlayerDiff(ctx context.Context, p *Player, changes []Change, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const upd = `
UPDATE players SET nickname = ?, furnace_level = ?, state = ?, exist = ?, is_rich = ?, vip_count = ?
WHERE fid = ?;`
	if _, err := tx.ExecContext(ctx, upd, p.Nickname, p.FurnaceLevel, p.State, p.Exist, boolToInt(p.IsRich), p.VipCount, p.Fid); err != nil {
		_ = tx.Rollback()
		return err
	}
	ts := at.UTC().Format(time.RFC3339)
	for _, c := range changes {
		var table string
		switch c.Field {
		case "furnace_level":
			table = "furnace_changes"
		case "nickname":
			table = "nickname_changes"
		default:
			continue // state changes carry no history table
		}
		q := `INSERT INTO ` + table + `(fid, old, new, changed_at) VALUES(?, ?, ?, ?);`
		if _, err := tx.ExecContext(ctx, q, p.Fid, c.Old, c.New, ts); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) listFieldChanges(ctx context.Context, table string, fid int64, limit int) ([]FieldChange, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT fid, old, new, changed_at FROM ` + table + ` WHERE fid = ? ORDER BY id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, fid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FieldChange
	for rows.Next() {
		var fc FieldChange
		var ts string
		if err := rows.Scan(&fc.Fid, &fc.Old, &fc.New, &ts); err != nil {
			return nil, err
		}
		fc.ChangedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFurnaceChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	return s.listFieldChanges(ctx, "furnace_changes", fid, limit)
}

func (s *SQLiteStore) ListNicknameChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	return s.listFieldChanges(ctx, "nickname_changes", fid, limit)
}

// -------------------- gift codes --------------------

func (s *SQLiteStore) FidsWhoRedeemed(ctx context.Context, code string) ([]int64, error) {
	const q = `SELECT fid FROM giftcode_usage WHERE gift_code = ? ORDER BY fid ASC;`
	rows, err := s.db.QueryContext(ctx, q, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFids(rows)
}

func (s *SQLiteStore) CheckBulkUsage(ctx context.Context, code string, fids []int64) ([]int64, error) {
	if len(fids) == 0 {
		return nil, nil
	}
	q := `SELECT fid FROM giftcode_usage WHERE gift_code = ? AND fid IN (` + placeholders(len(fids)) + `) ORDER BY fid ASC;`
	args := append([]any{code}, int64Args(fids)...)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFids(rows)
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, u Usage) error {
	const q = `
INSERT INTO giftcode_usage(fid, gift_code, status)
VALUES(?, ?, ?)
ON CONFLICT(fid, gift_code) DO UPDATE SET status = excluded.status;`
	_, err := s.db.ExecContext(ctx, q, u.Fid, u.GiftCode, u.Status)
	return err
}

// -------------------- settings --------------------

func (s *SQLiteStore) GetSettings(ctx context.Context) (Settings, error) {
	const q = `SELECT value FROM settings WHERE key = 'auto_delete';`
	var v string
	err := s.db.QueryRowContext(ctx, q).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return Settings{AutoDelete: v == "1"}, nil
}

func (s *SQLiteStore) SetAutoDelete(ctx context.Context, on bool) error {
	const q = `
INSERT INTO settings(key, value) VALUES('auto_delete', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value;`
	v := "0"
	if on {
		v = "1"
	}
	_, err := s.db.ExecContext(ctx, q, v)
	return err
}

// -------------------- logs --------------------

func (s *SQLiteStore) AppendSystemLog(ctx context.Context, level, source, message string) error {
	const q = `INSERT INTO system_logs(level, source, message, created_at) VALUES(?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, q, level, source, message, toMs(time.Now()))
	return err
}

func (s *SQLiteStore) ListSystemLogs(ctx context.Context, limit int) ([]SystemLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, level, source, message, created_at FROM system_logs ORDER BY id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SystemLog
	for rows.Next() {
		var l SystemLog
		var ms int64
		if err := rows.Scan(&l.ID, &l.Level, &l.Source, &l.Message, &ms); err != nil {
			return nil, err
		}
		l.CreatedAt = fromMs(ms)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAdminLog(ctx context.Context, actor, action, detail string) error {
	const q = `INSERT INTO admin_logs(actor, action, detail, created_at) VALUES(?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, q, actor, action, detail, toMs(time.Now()))
	return err
}

func (s *SQLiteStore) ListAdminLogs(ctx context.Context, limit int) ([]AdminLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, actor, action, detail, created_at FROM admin_logs ORDER BY id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdminLog
	for rows.Next() {
		var l AdminLog
		var ms int64
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &l.Detail, &ms); err != nil {
			return nil, err
		}
		l.CreatedAt = fromMs(ms)
		out = append(out, l)
	}
	return out, rows.Err()
}

// -------------------- small helpers --------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func scanFids(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		out = append(out, fid)
	}
	return out, rows.Err()
}
