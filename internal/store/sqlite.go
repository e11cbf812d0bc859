package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/normalize"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyedMutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A single connection is used so read-modify-write transactions never race
// on the write lock.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, locks: newKeyedMutex()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	region      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watch_entries (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	region     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'watch',
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS store_meta (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_region ON records(region);
CREATE INDEX IF NOT EXISTS idx_records_external_id ON records(external_id);
CREATE INDEX IF NOT EXISTS idx_watch_entries_status ON watch_entries(status);
CREATE INDEX IF NOT EXISTS idx_notes_record_id ON notes(record_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Records ---

const sqliteSelectRecord = `SELECT data FROM records`

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*company.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, sqliteSelectRecord+` WHERE id = ?`, id))
	return r, eris.Wrapf(err, "sqlite: get record %s", id)
}

func (s *SQLiteStore) GetRecordByKey(ctx context.Context, key normalize.Key) (*company.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, sqliteSelectRecord+` WHERE key = ?`, key.String()))
	return r, eris.Wrapf(err, "sqlite: get record by key %s", key)
}

func (s *SQLiteStore) GetRecordByExternalID(ctx context.Context, externalID string) (*company.Record, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		sqliteSelectRecord+` WHERE external_id = ? ORDER BY created_at, id LIMIT 1`, externalID))
	return r, eris.Wrapf(err, "sqlite: get record by external id %s", externalID)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*company.Record, error) {
	query := sqliteSelectRecord + ` WHERE 1=1`
	var args []any

	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, normalize.Region(filter.Region))
	}
	if filter.Source != "" {
		query += ` AND json_extract(data, '$.enrichments.' || ?) IS NOT NULL`
		args = append(args, string(filter.Source))
	}
	if filter.Query != "" {
		query += ` AND instr(name, ?) > 0`
		args = append(args, filter.Query)
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []*company.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list records scan")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, key normalize.Key, fn RecordFunc) (*company.Record, error) {
	unlock := s.locks.Lock("record:" + key.String())
	defer unlock()

	return s.updateRecord(ctx, `key = ?`, key.String(), func(cur *company.Record) (*company.Record, error) {
		next, err := fn(cur)
		if next != nil && next.Key.IsZero() {
			next.Key = key
		}
		return next, err
	})
}

func (s *SQLiteStore) UpdateRecordByID(ctx context.Context, id string, fn func(r *company.Record) error) (*company.Record, error) {
	cur, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock("record:" + cur.Key.String())
	defer unlock()

	return s.updateRecord(ctx, `id = ?`, id, func(cur *company.Record) (*company.Record, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		return cur, fn(cur)
	})
}

func (s *SQLiteStore) updateRecord(ctx context.Context, where string, arg any, fn RecordFunc) (*company.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin record tx")
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := scanRecord(tx.QueryRowContext(ctx, sqliteSelectRecord+` WHERE `+where, arg))
	if errors.Is(err, ErrNotFound) {
		cur = nil
	} else if err != nil {
		return nil, eris.Wrap(err, "sqlite: load record")
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal record")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, key, name, region, external_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key = excluded.key, name = excluded.name, region = excluded.region,
			external_id = excluded.external_id, data = excluded.data, updated_at = excluded.updated_at`,
		next.ID, next.Key.String(), next.Name, next.Region, externalID(next), string(data),
		formatTime(next.CreatedAt), formatTime(next.UpdatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save record %s", next.ID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (name, value) VALUES ('records_version', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: bump version")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit record tx")
	}
	return next, nil
}

func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE name = 'records_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, eris.Wrap(err, "sqlite: version")
}

// --- Watch list ---

const sqliteSelectWatch = `SELECT data FROM watch_entries`

func (s *SQLiteStore) InsertWatch(ctx context.Context, entries []*company.WatchEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin watch tx")
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := 0
	for _, w := range entries {
		data, err := json.Marshal(w)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal watch entry")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO watch_entries (id, key, region, status, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(key) DO NOTHING`,
			w.ID, w.Key.String(), w.Key.Region, string(w.Status), string(data),
			formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert watch entry %s", w.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	return inserted, eris.Wrap(tx.Commit(), "sqlite: commit watch tx")
}

func (s *SQLiteStore) GetWatch(ctx context.Context, id string) (*company.WatchEntry, error) {
	w, err := scanWatch(s.db.QueryRowContext(ctx, sqliteSelectWatch+` WHERE id = ?`, id))
	return w, eris.Wrapf(err, "sqlite: get watch entry %s", id)
}

func (s *SQLiteStore) ListWatch(ctx context.Context, filter WatchFilter) ([]*company.WatchEntry, error) {
	query := sqliteSelectWatch + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, normalize.Region(filter.Region))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list watch entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []*company.WatchEntry
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list watch scan")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list watch iterate")
}

func (s *SQLiteStore) UpdateWatch(ctx context.Context, id string, fn func(w *company.WatchEntry) error) (*company.WatchEntry, error) {
	unlock := s.locks.Lock("watch:" + id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin watch tx")
	}
	defer tx.Rollback() //nolint:errcheck

	w, err := scanWatch(tx.QueryRowContext(ctx, sqliteSelectWatch+` WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load watch entry %s", id)
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal watch entry")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE watch_entries SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(w.Status), string(data), formatTime(w.UpdatedAt), id,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: update watch entry %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit watch tx")
	}
	return w, nil
}

// --- Notes ---

const sqliteSelectNote = `SELECT id, record_id, title, content, tags, created_by, created_at, updated_at FROM notes`

func (s *SQLiteStore) CreateNote(ctx context.Context, n *company.Note) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, n.RecordID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: record %s", n.RecordID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check record")
	}

	tags, err := json.Marshal(nonNilTags(n.Tags))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, record_id, title, content, tags, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecordID, n.Title, n.Content, string(tags), n.Author,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert note %s", n.ID)
}

func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*company.Note, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx, sqliteSelectNote+` WHERE id = ?`, id))
	return n, eris.Wrapf(err, "sqlite: get note %s", id)
}

func (s *SQLiteStore) ListNotes(ctx context.Context, recordID string) ([]company.Note, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectNote+` WHERE record_id = ? ORDER BY created_at DESC, id`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list notes")
	}
	defer rows.Close() //nolint:errcheck

	out := []company.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list notes scan")
		}
		out = append(out, *n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list notes iterate")
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, id string, fn func(n *company.Note) error) (*company.Note, error) {
	unlock := s.locks.Lock("note:" + id)
	defer unlock()

	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(n); err != nil {
		return nil, err
	}
	tags, err := json.Marshal(nonNilTags(n.Tags))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal tags")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, tags = ?, updated_at = ? WHERE id = ?`,
		n.Title, n.Content, string(tags), formatTime(n.UpdatedAt), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update note %s", id)
	}
	return n, checkRowsAffected(res, "note", id)
}

func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete note %s", id)
	}
	return checkRowsAffected(res, "note", id)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*company.Record, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord([]byte(data))
}

func scanWatch(row scannable) (*company.WatchEntry, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeWatch([]byte(data))
}

func scanNote(row scannable) (*company.Note, error) {
	var (
		n                    company.Note
		tags                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&n.ID, &n.RecordID, &n.Title, &n.Content, &tags, &n.Author, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, eris.Wrap(err, "decode note tags")
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

func decodeRecord(data []byte) (*company.Record, error) {
	var r company.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "decode record")
	}
	if r.Enrichments == nil {
		r.Enrichments = make(map[company.Source]*company.Attachment)
	}
	return &r, nil
}

func decodeWatch(data []byte) (*company.WatchEntry, error) {
	var w company.WatchEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrap(err, "decode watch entry")
	}
	return &w, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
