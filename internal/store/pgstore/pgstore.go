// Package pgstore keeps documents in PostgreSQL.
//
// Writes run in SERIALIZABLE transactions and announce themselves with
// pg_notify on commit; a single LISTEN connection per Store fans the
// notifications out to watchers.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

const (
	notifyChannel = "livelook_documents"
	maxTxAttempts = 16

	sqlStateSerializationFailure = "40001"
	sqlStateUniqueViolation      = "23505"
)

const schema = `
CREATE SEQUENCE IF NOT EXISTS livelook_document_version;

CREATE TABLE IF NOT EXISTS livelook_documents (
	path        TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	fields      JSONB NOT NULL,
	version     BIGINT NOT NULL,
	created_seq BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS livelook_documents_collection_idx
	ON livelook_documents (collection, created_seq);
`

type row struct {
	Path    string `db:"path"`
	Fields  []byte `db:"fields"`
	Version int64  `db:"version"`
}

func (r row) document() (store.Document, error) {
	fields := store.Fields{}
	if err := json.Unmarshal(r.Fields, &fields); err != nil {
		return store.Document{}, fmt.Errorf("decode %s: %w", r.Path, err)
	}
	return store.Document{Path: store.Path(r.Path), Fields: fields, Version: r.Version}, nil
}

type notification struct {
	Type    store.ChangeType `json:"t"`
	Path    store.Path       `json:"p"`
	Version int64            `json:"v"`
}

type Store struct {
	db  *sqlx.DB
	dsn string

	mu       sync.Mutex
	closed   bool
	listener *listener
	watchers map[*watcher]struct{}
}

// Connect opens the database through the pgx driver and creates the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, err
	}

	s := New(db, dsn)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New takes ownership of db. dsn is used for the LISTEN connection that
// watchers need; without it Watch* return an error.
func New(db *sqlx.DB, dsn string) *Store {
	return &Store{
		db:       db,
		dsn:      dsn,
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Get(ctx context.Context, path store.Path) (store.Document, error) {
	if err := path.ValidateDocument(); err != nil {
		return store.Document{}, err
	}
	if err := s.check(); err != nil {
		return store.Document{}, err
	}

	return s.get(ctx, path)
}

func (s *Store) get(ctx context.Context, path store.Path) (store.Document, error) {
	r := row{}
	err := s.db.GetContext(ctx, &r,
		`SELECT path, fields, version FROM livelook_documents WHERE path = $1`,
		string(path),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	return r.document()
}

func (s *Store) List(ctx context.Context, collection store.Path) ([]store.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}

	rows := []row{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT path, fields, version
		FROM livelook_documents
		WHERE collection = $1
		ORDER BY created_seq`,
		string(collection),
	)
	if err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Put(ctx context.Context, path store.Path, fields store.Fields, opts ...store.PutOption) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}
	o := store.NewPutOptions(opts...)

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		if o.Merge {
			m.Merge(fields)
		} else {
			m.Set(fields)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, path store.Path) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		m.Delete()
		return nil
	})
}

func (s *Store) Transact(ctx context.Context, path store.Path, fn func(tx store.Tx) error) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		return fn(m)
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := s.watchers
	s.watchers = make(map[*watcher]struct{})
	l := s.listener
	s.mu.Unlock()

	for w := range watchers {
		w.feed.Stop()
	}
	if l != nil {
		l.close()
	}
	return s.db.Close()
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) mutate(ctx context.Context, path store.Path, fn func(m *store.Mutation) error) error {
	if err := s.check(); err != nil {
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.mutateOnce(ctx, path, fn)
		if isRetryable(err) {
			log.Debug().Str("service", "store").Str("path", string(path)).Int("attempt", attempt).Msg("postgres transaction conflict, retrying")
			continue
		}
		return err
	}

	return fmt.Errorf("%s: %w", path, store.ErrConflict)
}

func (s *Store) mutateOnce(ctx context.Context, path store.Path, fn func(m *store.Mutation) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current := store.Snapshot{Document: store.Document{Path: path}}

	r := row{}
	err = tx.GetContext(ctx, &r,
		`SELECT path, fields, version FROM livelook_documents WHERE path = $1 FOR UPDATE`,
		string(path),
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		doc, err := r.document()
		if err != nil {
			return err
		}
		current = store.Snapshot{Document: doc, Exists: true}
	}

	m := &store.Mutation{Current: current}
	if err := fn(m); err != nil {
		return err
	}

	fields, exists, changed := m.Result()
	if !changed {
		return tx.Commit()
	}

	n := notification{Type: store.Removed, Path: path}
	if exists {
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}

		err = tx.GetContext(ctx, &n.Version,
			`WITH v AS (SELECT nextval('livelook_document_version') AS n)
			INSERT INTO livelook_documents (path, collection, fields, version, created_seq)
				SELECT $1, $2, $3, v.n, v.n FROM v
			ON CONFLICT (path) DO UPDATE
				SET
					fields = EXCLUDED.fields,
					version = EXCLUDED.version
			RETURNING version`,
			string(path),
			string(path.Parent()),
			raw,
		)
		if err != nil {
			return err
		}

		n.Type = store.Modified
		if !current.Exists {
			n.Type = store.Added
		}
	} else {
		err = tx.GetContext(ctx, &n.Version,
			`DELETE FROM livelook_documents WHERE path = $1 RETURNING nextval('livelook_document_version')`,
			string(path),
		)
		if err != nil {
			return err
		}
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return err
	}

	return tx.Commit()
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateUniqueViolation
}
