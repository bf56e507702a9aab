package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS calls (
	session_id    TEXT PRIMARY KEY,
	direction     TEXT NOT NULL,
	remote        TEXT NOT NULL DEFAULT '',
	channel_id    INTEGER NOT NULL DEFAULT 0,
	has_channel   INTEGER NOT NULL DEFAULT 0,
	audio_started INTEGER NOT NULL DEFAULT 0,
	started_at    INTEGER NOT NULL,
	ended_at      INTEGER NOT NULL,
	end_reason    TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
)`

// CallRepository stores call history in a SQLite file.
type CallRepository struct {
	db *sql.DB
}

func Open(path string) (*CallRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; history saves run from short-lived goroutines
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
		"CREATE INDEX IF NOT EXISTS calls_ended_at ON calls (ended_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init call history %s: %w", path, err)
		}
	}
	return &CallRepository{db: db}, nil
}

func (r *CallRepository) Save(ctx context.Context, rec domain.CallRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO calls
		(session_id, direction, remote, channel_id, has_channel, audio_started, started_at, ended_at, end_reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at=excluded.ended_at,
			end_reason=excluded.end_reason,
			error=excluded.error`,
		rec.SessionID.String(), string(rec.Direction), rec.RemoteDisplay,
		int64(rec.ChannelID), rec.HasChannel, rec.AudioStarted,
		rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
		string(rec.EndReason), rec.Error)
	if err != nil {
		return fmt.Errorf("save call %s: %w", rec.SessionID, err)
	}
	return nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (r *CallRepository) List(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT session_id, direction, remote, channel_id, has_channel,
		audio_started, started_at, ended_at, end_reason, error
		FROM calls ORDER BY ended_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		var (
			rec             domain.CallRecord
			id, dir, reason string
			channel         int64
			started, ended  int64
		)
		if err := rows.Scan(&id, &dir, &rec.RemoteDisplay, &channel, &rec.HasChannel,
			&rec.AudioStarted, &started, &ended, &reason, &rec.Error); err != nil {
			return nil, err
		}
		sid, err := domain.ParseSessionID(id)
		if err != nil {
			return nil, fmt.Errorf("call row %q: %w", id, err)
		}
		rec.SessionID = sid
		rec.Direction = domain.Direction(dir)
		rec.ChannelID = domain.ChannelID(channel)
		rec.StartedAt = time.UnixMilli(started)
		rec.EndedAt = time.UnixMilli(ended)
		rec.EndReason = domain.EndReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *CallRepository) Close() error {
	return r.db.Close()
}
