package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/db"
	"github.com/sells-group/regwatch/internal/normalize"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	region      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS watch_entries (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	region     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'watch',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	tags       TEXT[] NOT NULL DEFAULT '{}',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS store_meta (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_region ON records(region);
CREATE INDEX IF NOT EXISTS idx_records_external_id ON records(external_id);
CREATE INDEX IF NOT EXISTS idx_records_enrichments ON records USING GIN ((data->'enrichments'));
CREATE INDEX IF NOT EXISTS idx_watch_entries_status ON watch_entries(status);
CREATE INDEX IF NOT EXISTS idx_notes_record_id ON notes(record_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Records ---

const pgSelectRecord = `SELECT data FROM records`

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*company.Record, error) {
	r, err := scanPgRecord(s.pool.QueryRow(ctx, pgSelectRecord+` WHERE id = $1`, id))
	return r, eris.Wrapf(err, "postgres: get record %s", id)
}

func (s *PostgresStore) GetRecordByKey(ctx context.Context, key normalize.Key) (*company.Record, error) {
	r, err := scanPgRecord(s.pool.QueryRow(ctx, pgSelectRecord+` WHERE key = $1`, key.String()))
	return r, eris.Wrapf(err, "postgres: get record by key %s", key)
}

func (s *PostgresStore) GetRecordByExternalID(ctx context.Context, externalID string) (*company.Record, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	r, err := scanPgRecord(s.pool.QueryRow(ctx,
		pgSelectRecord+` WHERE external_id = $1 ORDER BY created_at, id LIMIT 1`, externalID))
	return r, eris.Wrapf(err, "postgres: get record by external id %s", externalID)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*company.Record, error) {
	query := pgSelectRecord + ` WHERE 1=1`
	var args []any
	argN := 1

	if filter.Region != "" {
		query += ` AND region = $` + strconv.Itoa(argN)
		args = append(args, normalize.Region(filter.Region))
		argN++
	}
	if filter.Source != "" {
		query += ` AND data->'enrichments' ? $` + strconv.Itoa(argN)
		args = append(args, string(filter.Source))
		argN++
	}
	if filter.Query != "" {
		query += ` AND strpos(name, $` + strconv.Itoa(argN) + `) > 0`
		args = append(args, filter.Query)
		argN++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argN)
		args = append(args, filter.Limit)
		argN++
		if filter.Offset > 0 {
			query += ` OFFSET $` + strconv.Itoa(argN)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []*company.Record
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list records scan")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// UpdateRecord takes a transaction-scoped advisory lock on the key so two
// writers for a key that does not exist yet cannot both insert it.
func (s *PostgresStore) UpdateRecord(ctx context.Context, key normalize.Key, fn RecordFunc) (*company.Record, error) {
	return s.updateRecord(ctx, key.String(), `key = $1`, key.String(), func(cur *company.Record) (*company.Record, error) {
		next, err := fn(cur)
		if next != nil && next.Key.IsZero() {
			next.Key = key
		}
		return next, err
	})
}

func (s *PostgresStore) UpdateRecordByID(ctx context.Context, id string, fn func(r *company.Record) error) (*company.Record, error) {
	cur, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.updateRecord(ctx, cur.Key.String(), `id = $1`, id, func(cur *company.Record) (*company.Record, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		return cur, fn(cur)
	})
}

func (s *PostgresStore) updateRecord(ctx context.Context, lockKey, where string, arg any, fn RecordFunc) (*company.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin record tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, eris.Wrap(err, "postgres: lock record key")
	}
	cur, err := scanPgRecord(tx.QueryRow(ctx, pgSelectRecord+` WHERE `+where+` FOR UPDATE`, arg))
	if errors.Is(err, ErrNotFound) {
		cur = nil
	} else if err != nil {
		return nil, eris.Wrap(err, "postgres: load record")
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
		return nil, eris.Wrap(err, "postgres: marshal record")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO records (id, key, name, region, external_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key, name = EXCLUDED.name, region = EXCLUDED.region,
			external_id = EXCLUDED.external_id, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		next.ID, next.Key.String(), next.Name, next.Region, externalID(next), data,
		next.CreatedAt, next.UpdatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: save record %s", next.ID)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO store_meta (name, value) VALUES ('records_version', 1)
		ON CONFLICT (name) DO UPDATE SET value = store_meta.value + 1`,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: bump version")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit record tx")
	}
	return next, nil
}

func (s *PostgresStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE name = 'records_version'`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, eris.Wrap(err, "postgres: version")
}

// --- Watch list ---

const pgSelectWatch = `SELECT data FROM watch_entries`

var watchUpsert = db.UpsertConfig{
	Table:        "watch_entries",
	Columns:      []string{"id", "key", "region", "status", "data", "created_at", "updated_at"},
	ConflictKeys: []string{"key"},
	DoNothing:    true,
}

// InsertWatch bulk-loads entries through COPY, keeping existing keys.
func (s *PostgresStore) InsertWatch(ctx context.Context, entries []*company.WatchEntry) (int, error) {
	rows := make([][]any, 0, len(entries))
	for _, w := range entries {
		data, err := json.Marshal(w)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal watch entry")
		}
		rows = append(rows, []any{w.ID, w.Key.String(), w.Key.Region, string(w.Status), data, w.CreatedAt, w.UpdatedAt})
	}
	n, err := db.BulkUpsert(ctx, s.pool, watchUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert watch entries")
	}
	return int(n), nil
}

func (s *PostgresStore) GetWatch(ctx context.Context, id string) (*company.WatchEntry, error) {
	w, err := scanPgWatch(s.pool.QueryRow(ctx, pgSelectWatch+` WHERE id = $1`, id))
	return w, eris.Wrapf(err, "postgres: get watch entry %s", id)
}

func (s *PostgresStore) ListWatch(ctx context.Context, filter WatchFilter) ([]*company.WatchEntry, error) {
	query := pgSelectWatch + ` WHERE 1=1`
	var args []any
	argN := 1
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.Region != "" {
		query += ` AND region = $` + strconv.Itoa(argN)
		args = append(args, normalize.Region(filter.Region))
		argN++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argN)
		args = append(args, filter.Limit)
		argN++
		if filter.Offset > 0 {
			query += ` OFFSET $` + strconv.Itoa(argN)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list watch entries")
	}
	defer rows.Close()

	var out []*company.WatchEntry
	for rows.Next() {
		w, err := scanPgWatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list watch scan")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list watch iterate")
}

func (s *PostgresStore) UpdateWatch(ctx context.Context, id string, fn func(w *company.WatchEntry) error) (*company.WatchEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin watch tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := scanPgWatch(tx.QueryRow(ctx, pgSelectWatch+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load watch entry %s", id)
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal watch entry")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE watch_entries SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		string(w.Status), data, w.UpdatedAt, id,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: update watch entry %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit watch tx")
	}
	return w, nil
}

// --- Notes ---

const pgSelectNote = `SELECT id, record_id, title, content, tags, created_by, created_at, updated_at FROM notes`

func (s *PostgresStore) CreateNote(ctx context.Context, n *company.Note) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO notes (id, record_id, title, content, tags, created_by, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8 WHERE EXISTS (SELECT 1 FROM records WHERE id = $2)`,
		n.ID, n.RecordID, n.Title, n.Content, nonNilTags(n.Tags), n.Author, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert note %s", n.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: record %s", n.RecordID)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, id string) (*company.Note, error) {
	n, err := scanPgNote(s.pool.QueryRow(ctx, pgSelectNote+` WHERE id = $1`, id))
	return n, eris.Wrapf(err, "postgres: get note %s", id)
}

func (s *PostgresStore) ListNotes(ctx context.Context, recordID string) ([]company.Note, error) {
	rows, err := s.pool.Query(ctx, pgSelectNote+` WHERE record_id = $1 ORDER BY created_at DESC, id`, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list notes")
	}
	defer rows.Close()

	out := []company.Note{}
	for rows.Next() {
		n, err := scanPgNote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list notes scan")
		}
		out = append(out, *n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list notes iterate")
}

func (s *PostgresStore) UpdateNote(ctx context.Context, id string, fn func(n *company.Note) error) (*company.Note, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin note tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := scanPgNote(tx.QueryRow(ctx, pgSelectNote+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load note %s", id)
	}
	if err := fn(n); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE notes SET title = $1, content = $2, tags = $3, updated_at = $4 WHERE id = $5`,
		n.Title, n.Content, nonNilTags(n.Tags), n.UpdatedAt, id,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: update note %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit note tx")
	}
	return n, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete note %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "note %s", id)
	}
	return nil
}

// --- helpers ---

func scanPgRecord(row pgx.Row) (*company.Record, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(data)
}

func scanPgWatch(row pgx.Row) (*company.WatchEntry, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeWatch(data)
}

func scanPgNote(row pgx.Row) (*company.Note, error) {
	var n company.Note
	if err := row.Scan(&n.ID, &n.RecordID, &n.Title, &n.Content, &n.Tags, &n.Author, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}
