package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver (pure Go)

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// SQLStore persists snapshots in two tables, environments and fingerprints.
// Save replaces all rows of one environment inside a single transaction.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ core.FingerprintStore = (*SQLStore)(nil)

// OpenSQL opens the database, applies migrations and returns a store.
// For SQLite, dsn is a file path or ":memory:".
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	backend := string(dialect)
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, persistErr("open", "", backend, err)
	}

	if dialect == DialectSQLite {
		// a second connection to ":memory:" would see a different database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, persistErr("open", "", backend, err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, persistErr("open", "", backend, err)
		}
	}

	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, persistErr("open", "", backend, err)
	}

	return NewSQLStore(db, dialect, logger), nil
}

// NewSQLStore wraps an open, migrated database.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying connection pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites "?" placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Load reads the snapshot for env.
func (s *SQLStore) Load(ctx context.Context, env string) (*core.Snapshot, error) {
	backend := string(s.dialect)
	if err := ValidateEnvironment(env); err != nil {
		return nil, persistErr("load", env, backend, err)
	}

	snap := core.NewSnapshot(env)
	var savedAt string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT revision, saved_at FROM environments WHERE name = ?`), env,
	).Scan(&snap.Revision, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, persistErr("load", env, backend, fmt.Errorf("query environment: %w", err))
	}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return nil, persistErr("load", env, backend, fmt.Errorf("parse saved_at: %w", err))
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT model, schema_hash, logic_hash, metadata_hash, layer, kind, dependencies, columns
		FROM fingerprints
		WHERE environment = ?
		ORDER BY model
	`), env)
	if err != nil {
		return nil, persistErr("load", env, backend, fmt.Errorf("query fingerprints: %w", err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name, layer, kind string
			deps, cols        string
			fp                core.Fingerprint
		)
		if err := rows.Scan(&name, &fp.SchemaHash, &fp.LogicHash, &fp.MetadataHash, &layer, &kind, &deps, &cols); err != nil {
			return nil, persistErr("load", env, backend, fmt.Errorf("scan fingerprint: %w", err))
		}
		fp.Layer = core.Layer(layer)
		fp.Kind = core.Kind(kind)
		if err := json.Unmarshal([]byte(deps), &fp.Dependencies); err != nil {
			return nil, persistErr("load", env, backend, fmt.Errorf("decode dependencies of %s: %w", name, err))
		}
		if err := json.Unmarshal([]byte(cols), &fp.Columns); err != nil {
			return nil, persistErr("load", env, backend, fmt.Errorf("decode columns of %s: %w", name, err))
		}
		snap.Models[name] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("load", env, backend, fmt.Errorf("iterate fingerprints: %w", err))
	}

	return snap, nil
}

// Save replaces the stored snapshot for snap.Environment.
func (s *SQLStore) Save(ctx context.Context, snap *core.Snapshot) error {
	env := snap.Environment
	backend := string(s.dialect)
	if err := ValidateEnvironment(env); err != nil {
		return persistErr("save", env, backend, err)
	}

	stamped := stamp(snap)
	if err := s.save(ctx, stamped); err != nil {
		return persistErr("save", env, backend, err)
	}

	snap.Revision, snap.SavedAt = stamped.Revision, stamped.SavedAt
	s.logger.Info("state saved",
		slog.String("environment", env),
		slog.String("backend", backend),
		slog.Int("models", len(snap.Models)),
		slog.String("revision", snap.Revision))
	return nil
}

func (s *SQLStore) save(ctx context.Context, snap *core.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	env := snap.Environment
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM fingerprints WHERE environment = ?`), env); err != nil {
		return fmt.Errorf("delete fingerprints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM environments WHERE name = ?`), env); err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO environments (name, revision, saved_at) VALUES (?, ?, ?)`),
		env, snap.Revision, snap.SavedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert environment: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO fingerprints
		(environment, model, schema_hash, logic_hash, metadata_hash, layer, kind, dependencies, columns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, name := range snap.Names() {
		fp := snap.Models[name]
		deps, err := marshalList(fp.Dependencies)
		if err != nil {
			return err
		}
		cols, err := marshalList(fp.Columns)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, env, name, fp.SchemaHash, fp.LogicHash, fp.MetadataHash,
			string(fp.Layer), string(fp.Kind), deps, cols); err != nil {
			return fmt.Errorf("insert fingerprint for model %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// marshalList encodes a slice as JSON, writing nil as [].
func marshalList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

// Environments lists environments with a stored snapshot.
func (s *SQLStore) Environments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM environments ORDER BY name`)
	if err != nil {
		return nil, persistErr("list", "", string(s.dialect), err)
	}
	defer func() { _ = rows.Close() }()

	envs := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, persistErr("list", "", string(s.dialect), err)
		}
		envs = append(envs, name)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", "", string(s.dialect), err)
	}
	return envs, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
