package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL via pgx. Writes funnel
// through a mutex so the scheduler sees the same single-writer semantics
// as the SQLite backend; reads go straight to the pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	writeMu sync.Mutex
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processes (
	id            BIGSERIAL PRIMARY KEY,
	action        TEXT    NOT NULL,
	target        BIGINT  NOT NULL DEFAULT 0,
	status        TEXT    NOT NULL,
	priority      INT     NOT NULL,
	details       JSONB   NOT NULL DEFAULT '{}',
	progress      JSONB   NOT NULL DEFAULT '{}',
	resume_after  BIGINT,
	preempted_by  BIGINT,
	created_by    TEXT    NOT NULL DEFAULT '',
	created_at    BIGINT  NOT NULL,
	updated_at    BIGINT  NOT NULL,
	completed_at  BIGINT
);
CREATE INDEX IF NOT EXISTS idx_processes_status_priority ON processes(status, priority);
CREATE INDEX IF NOT EXISTS idx_processes_resume_after    ON processes(resume_after);
CREATE INDEX IF NOT EXISTS idx_processes_preempted_by    ON processes(preempted_by);

CREATE TABLE IF NOT EXISTS alliances (
	id          BIGSERIAL PRIMARY KEY,
	priority    INT    NOT NULL UNIQUE,
	name        TEXT   NOT NULL,
	channel_id  TEXT   NOT NULL DEFAULT '',
	interval    TEXT   NOT NULL DEFAULT '',
	auto_redeem BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS players (
	fid           BIGINT PRIMARY KEY,
	alliance_id   BIGINT NOT NULL,
	nickname      TEXT   NOT NULL DEFAULT 'Unknown',
	furnace_level INT    NOT NULL DEFAULT 0,
	state         INT    NOT NULL DEFAULT 0,
	exist         INT    NOT NULL DEFAULT 0,
	is_rich       BOOLEAN NOT NULL DEFAULT FALSE,
	vip_count     INT    NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_players_alliance ON players(alliance_id);

CREATE TABLE IF NOT EXISTS furnace_changes (
	id         BIGSERIAL PRIMARY KEY,
	fid        BIGINT NOT NULL,
	old        TEXT   NOT NULL,
	new        TEXT   NOT NULL,
	changed_at TEXT   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_furnace_changes_fid ON furnace_changes(fid);

CREATE TABLE IF NOT EXISTS nickname_changes (
	id         BIGSERIAL PRIMARY KEY,
	fid        BIGINT NOT NULL,
	old        TEXT   NOT NULL,
	new        TEXT   NOT NULL,
	changed_at TEXT   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nickname_changes_fid ON nickname_changes(fid);

CREATE TABLE IF NOT EXISTS giftcode_usage (
	fid       BIGINT NOT NULL,
	gift_code TEXT   NOT NULL,
	status    TEXT   NOT NULL DEFAULT '',
	PRIMARY KEY (fid, gift_code)
);
CREATE INDEX IF NOT EXISTS idx_giftcode_usage_code ON giftcode_usage(gift_code);

CREATE TABLE IF NOT EXISTS system_logs (
	id         BIGSERIAL PRIMARY KEY,
	level      TEXT   NOT NULL,
	source     TEXT   NOT NULL,
	message    TEXT   NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_logs (
	id         BIGSERIAL PRIMARY KEY,
	actor      TEXT   NOT NULL,
	action     TEXT   NOT NULL,
	detail     TEXT   NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewPostgresStore connects, applies the schema, and returns the store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) write(ctx context.Context, q string, args ...any) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Processes ---

const pgProcessCols = `id, action, target, status, priority, details, progress,
resume_after, preempted_by, created_by, created_at, updated_at, completed_at`

func scanPgProcess(row pgx.Row) (*Process, error) {
	var (
		p                    Process
		details, progress    []byte
		resumeMs, completed  *int64
		createdMs, updatedMs int64
	)
	err := row.Scan(&p.ID, &p.Action, &p.Target, &p.Status, &p.Priority,
		&details, &progress, &resumeMs, &p.PreemptedBy, &p.CreatedBy,
		&createdMs, &updatedMs, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &p.Details); err != nil {
		return nil, fmt.Errorf("process %d details: %w", p.ID, err)
	}
	if err := json.Unmarshal(progress, &p.Progress); err != nil {
		return nil, fmt.Errorf("process %d progress: %w", p.ID, err)
	}
	if resumeMs != nil {
		t := time.UnixMilli(*resumeMs)
		p.ResumeAfter = &t
	}
	p.CreatedAt = time.UnixMilli(createdMs)
	p.UpdatedAt = time.UnixMilli(updatedMs)
	if completed != nil {
		t := time.UnixMilli(*completed)
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) InsertProcess(ctx context.Context, p *Process) (int64, error) {
	details, err := json.Marshal(p.Details)
	if err != nil {
		return 0, err
	}
	progress, err := json.Marshal(p.Progress)
	if err != nil {
		return 0, err
	}
	const q = `
INSERT INTO processes (action, target, status, priority, details, progress, resume_after, preempted_by, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var resume *int64
	if p.ResumeAfter != nil {
		ms := p.ResumeAfter.UnixMilli()
		resume = &ms
	}
	err = s.pool.QueryRow(ctx, q, p.Action, p.Target, p.Status, p.Priority,
		details, progress, resume, p.PreemptedBy, p.CreatedBy,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli()).Scan(&p.ID)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *PostgresStore) GetProcess(ctx context.Context, id int64) (*Process, error) {
	q := `SELECT ` + pgProcessCols + ` FROM processes WHERE id = $1`
	return scanPgProcess(s.pool.QueryRow(ctx, q, id))
}

func (s *PostgresStore) queryProcesses(ctx context.Context, q string, args ...any) ([]*Process, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p, err := scanPgProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ProcessesByStatus(ctx context.Context, status ProcessStatus) ([]*Process, error) {
	q := `SELECT ` + pgProcessCols + ` FROM processes WHERE status = $1 ORDER BY priority ASC, created_at ASC, id ASC`
	return s.queryProcesses(ctx, q, status)
}

func (s *PostgresStore) NextQueuedProcess(ctx context.Context, now time.Time) (*Process, error) {
	q := `SELECT ` + pgProcessCols + ` FROM processes
WHERE status = $1 AND (resume_after IS NULL OR resume_after <= $2)
ORDER BY priority ASC, created_at ASC, id ASC
LIMIT 1`
	return scanPgProcess(s.pool.QueryRow(ctx, q, StatusQueued, now.UnixMilli()))
}

func (s *PostgresStore) HasHigherPriorityQueued(ctx context.Context, priority int, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS(
  SELECT 1 FROM processes
  WHERE status = $1 AND priority < $2 AND (resume_after IS NULL OR resume_after <= $3)
)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, StatusQueued, priority, now.UnixMilli()).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) ActiveProcess(ctx context.Context) (*Process, error) {
	q := `SELECT ` + pgProcessCols + ` FROM processes WHERE status = $1 LIMIT 1`
	return scanPgProcess(s.pool.QueryRow(ctx, q, StatusActive))
}

func (s *PostgresStore) MarkActive(ctx context.Context, id int64, now time.Time) error {
	const q = `
UPDATE processes
SET status = $1, preempted_by = NULL, resume_after = NULL, updated_at = $2
WHERE id = $3 AND status = $4
  AND NOT EXISTS (SELECT 1 FROM processes WHERE status = $1 AND id != $3)`
	n, err := s.write(ctx, q, StatusActive, now.UnixMilli(), id, StatusQueued)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if active, err := s.ActiveProcess(ctx); err == nil && active != nil && active.ID != id {
		return ErrActiveExists
	}
	return ErrNotQueued
}

func (s *PostgresStore) SetProcessStatus(ctx context.Context, id int64, status ProcessStatus, now time.Time) error {
	var (
		n   int64
		err error
	)
	switch status {
	case StatusCompleted, StatusFailed:
		n, err = s.write(ctx, `UPDATE processes SET status = $1, completed_at = $2, updated_at = $2 WHERE id = $3`,
			status, now.UnixMilli(), id)
	default:
		n, err = s.write(ctx, `UPDATE processes SET status = $1, updated_at = $2 WHERE id = $3`,
			status, now.UnixMilli(), id)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id int64, progress Progress, now time.Time) error {
	blob, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	n, err := s.write(ctx, `UPDATE processes SET progress = $1, updated_at = $2 WHERE id = $3`,
		blob, now.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetResumeAfter(ctx context.Context, id int64, at *time.Time, now time.Time) error {
	var ms *int64
	if at != nil {
		v := at.UnixMilli()
		ms = &v
	}
	n, err := s.write(ctx, `UPDATE processes SET resume_after = $1, updated_at = $2 WHERE id = $3`,
		ms, now.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPreemption(ctx context.Context, id, preemptedBy int64, now time.Time) error {
	n, err := s.write(ctx, `UPDATE processes SET status = $1, preempted_by = $2, resume_after = NULL, updated_at = $3 WHERE id = $4`,
		StatusQueued, preemptedBy, now.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	n, err := s.write(ctx, `UPDATE processes SET status = $1, updated_at = $2 WHERE status = $3 AND preempted_by IS NULL`,
		StatusQueued, now.UnixMilli(), StatusActive)
	return int(n), err
}

func (s *PostgresStore) HasOpenProcess(ctx context.Context, action Action, target int64) (bool, error) {
	const q = `
SELECT EXISTS(
  SELECT 1 FROM processes WHERE action = $1 AND target = $2 AND status IN ($3, $4)
)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, action, target, StatusQueued, StatusActive).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// --- Alliances ---

func (s *PostgresStore) GetAlliance(ctx context.Context, id int64) (*Alliance, error) {
	const q = `SELECT id, priority, name, channel_id, interval, auto_redeem FROM alliances WHERE id = $1`
	var a Alliance
	err := s.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &a.AutoRedeem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ListAlliances(ctx context.Context) ([]*Alliance, error) {
	const q = `SELECT id, priority, name, channel_id, interval, auto_redeem FROM alliances ORDER BY priority ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alliance
	for rows.Next() {
		var a Alliance
		if err := rows.Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &a.AutoRedeem); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAlliance(ctx context.Context, a *Alliance) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if a.ID == 0 {
		const q = `INSERT INTO alliances (priority, name, channel_id, interval, auto_redeem) VALUES ($1, $2, $3, $4, $5) RETURNING id`
		return s.pool.QueryRow(ctx, q, a.Priority, a.Name, a.ChannelID, a.Interval, a.AutoRedeem).Scan(&a.ID)
	}
	const q = `
INSERT INTO alliances (id, priority, name, channel_id, interval, auto_redeem)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	priority    = EXCLUDED.priority,
	name        = EXCLUDED.name,
	channel_id  = EXCLUDED.channel_id,
	interval    = EXCLUDED.interval,
	auto_redeem = EXCLUDED.auto_redeem`
	_, err := s.pool.Exec(ctx, q, a.ID, a.Priority, a.Name, a.ChannelID, a.Interval, a.AutoRedeem)
	return err
}

func (s *PostgresStore) DeleteAlliance(ctx context.Context, id int64) error {
	n, err := s.write(ctx, `DELETE FROM alliances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PlayerCountsByAlliances(ctx context.Context, ids []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	const q = `SELECT alliance_id, COUNT(*) FROM players WHERE alliance_id = ANY($1) GROUP BY alliance_id`
	rows, err := s.pool.Query(ctx, q, ids)
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

// --- Players ---

func (s *PostgresStore) GetPlayer(ctx context.Context, fid int64) (*Player, error) {
	const q = `SELECT fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count FROM players WHERE fid = $1`
	var p Player
	err := s.pool.QueryRow(ctx, q, fid).Scan(&p.Fid, &p.AllianceID, &p.Nickname, &p.FurnaceLevel, &p.State, &p.Exist, &p.IsRich, &p.VipCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPlayersByAlliance(ctx context.Context, allianceID int64) ([]*Player, error) {
	const q = `SELECT fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count FROM players WHERE alliance_id = $1 ORDER BY fid ASC`
	rows, err := s.pool.Query(ctx, q, allianceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.Fid, &p.AllianceID, &p.Nickname, &p.FurnaceLevel, &p.State, &p.Exist, &p.IsRich, &p.VipCount); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p *Player) error {
	const q = `
INSERT INTO players (fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (fid) DO UPDATE SET
	alliance_id   = EXCLUDED.alliance_id,
	nickname      = EXCLUDED.nickname,
	furnace_level = EXCLUDED.furnace_level,
	state         = EXCLUDED.state,
	exist         = EXCLUDED.exist,
	is_rich       = EXCLUDED.is_rich,
	vip_count     = EXCLUDED.vip_count`
	_, err := s.write(ctx, q, p.Fid, p.AllianceID, p.Nickname, p.FurnaceLevel, p.State, p.Exist, p.IsRich, p.VipCount)
	return err
}

func (s *PostgresStore) DeletePlayer(ctx context.Context, fid int64) error {
	n, err := s.write(ctx, `DELETE FROM players WHERE fid = $1`, fid)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyPlayerDiff(ctx context.Context, p *Player, changes []Change, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const upd = `
UPDATE players SET nickname = $1, furnace_level = $2, state = $3, exist = $4, is_rich = $5, vip_count = $6
WHERE fid = $7`
	if _, err := tx.Exec(ctx, upd, p.Nickname, p.FurnaceLevel, p.State, p.Exist, p.IsRich, p.VipCount, p.Fid); err != nil {
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
			continue
		}
		q := `INSERT INTO ` + table + ` (fid, old, new, changed_at) VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, q, p.Fid, c.Old, c.New, ts); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) listFieldChanges(ctx context.Context, table string, fid int64, limit int) ([]FieldChange, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT fid, old, new, changed_at FROM ` + table + ` WHERE fid = $1 ORDER BY id DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, fid, limit)
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

func (s *PostgresStore) ListFurnaceChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	return s.listFieldChanges(ctx, "furnace_changes", fid, limit)
}

func (s *PostgresStore) ListNicknameChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	return s.listFieldChanges(ctx, "nickname_changes", fid, limit)
}

// --- Gift codes ---

func (s *PostgresStore) FidsWhoRedeemed(ctx context.Context, code string) ([]int64, error) {
	const q = `SELECT fid FROM giftcode_usage WHERE gift_code = $1 ORDER BY fid ASC`
	rows, err := s.pool.Query(ctx, q, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgFids(rows)
}

func (s *PostgresStore) CheckBulkUsage(ctx context.Context, code string, fids []int64) ([]int64, error) {
	if len(fids) == 0 {
		return nil, nil
	}
	const q = `SELECT fid FROM giftcode_usage WHERE gift_code = $1 AND fid = ANY($2) ORDER BY fid ASC`
	rows, err := s.pool.Query(ctx, q, code, fids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgFids(rows)
}

func (s *PostgresStore) InsertUsage(ctx context.Context, u Usage) error {
	const q = `
INSERT INTO giftcode_usage (fid, gift_code, status)
VALUES ($1, $2, $3)
ON CONFLICT (fid, gift_code) DO UPDATE SET status = EXCLUDED.status`
	_, err := s.write(ctx, q, u.Fid, u.GiftCode, u.Status)
	return err
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (Settings, error) {
	const q = `SELECT value FROM settings WHERE key = 'auto_delete'`
	var v string
	err := s.pool.QueryRow(ctx, q).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return Settings{AutoDelete: v == "1"}, nil
}

func (s *PostgresStore) SetAutoDelete(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	const q = `
INSERT INTO settings (key, value) VALUES ('auto_delete', $1)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := s.write(ctx, q, v)
	return err
}

// --- Logs ---

func (s *PostgresStore) AppendSystemLog(ctx context.Context, level, source, message string) error {
	const q = `INSERT INTO system_logs (level, source, message, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.write(ctx, q, level, source, message, time.Now().UnixMilli())
	return err
}

func (s *PostgresStore) ListSystemLogs(ctx context.Context, limit int) ([]SystemLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, level, source, message, created_at FROM system_logs ORDER BY id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
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
		l.CreatedAt = time.UnixMilli(ms)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAdminLog(ctx context.Context, actor, action, detail string) error {
	const q = `INSERT INTO admin_logs (actor, action, detail, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.write(ctx, q, actor, action, detail, time.Now().UnixMilli())
	return err
}

func (s *PostgresStore) ListAdminLogs(ctx context.Context, limit int) ([]AdminLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, actor, action, detail, created_at FROM admin_logs ORDER BY id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
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
		l.CreatedAt = time.UnixMilli(ms)
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanPgFids(rows pgx.Rows) ([]int64, error) {
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
