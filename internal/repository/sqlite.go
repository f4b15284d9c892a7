package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/HerbHall/ztpserver/internal/store"
)

// Compile-time interface guard.
var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend stores blobs as rows in the shared SQLite database. Folders
// are rows with is_dir set so Exists behaves like the filesystem backend.
type SQLiteBackend struct {
	db *sql.DB
}

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create repository blobs table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE repo_blobs (
					path       TEXT PRIMARY KEY,
					is_dir     INTEGER NOT NULL DEFAULT 0,
					content    BLOB NOT NULL DEFAULT x'',
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
				return err
			},
		},
	}
}

// NewSQLiteBackend migrates the repository schema and returns the backend.
func NewSQLiteBackend(ctx context.Context, s *store.SQLiteStore) (*SQLiteBackend, error) {
	if err := s.Migrate(ctx, "repository", migrations()); err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: s.DB()}, nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, p string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM repo_blobs WHERE path = ?", p).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", p, err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) ReadBlob(ctx context.Context, p string) ([]byte, error) {
	var (
		data  []byte
		isDir bool
	)
	err := b.db.QueryRowContext(ctx, "SELECT content, is_dir FROM repo_blobs WHERE path = ?", p).Scan(&data, &isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if isDir {
		return nil, fmt.Errorf("read %s: is a folder", p)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (b *SQLiteBackend) WriteBlob(ctx context.Context, p string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO repo_blobs (path, is_dir, content, updated_at) VALUES (?, 0, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE repo_blobs.is_dir = 0`,
		p, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (b *SQLiteBackend) CreateBlob(ctx context.Context, p string) error {
	res, err := b.db.ExecContext(ctx,
		"INSERT INTO repo_blobs (path, is_dir, content, updated_at) VALUES (?, 0, x'', ?) ON CONFLICT(path) DO NOTHING",
		p, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, p)
	}
	return nil
}

func (b *SQLiteBackend) MkdirAll(ctx context.Context, p string) error {
	now := time.Now().UTC()
	for dir := p; dir != "." && dir != "/"; dir = path.Dir(dir) {
		_, err := b.db.ExecContext(ctx,
			"INSERT INTO repo_blobs (path, is_dir, updated_at) VALUES (?, 1, ?) ON CONFLICT(path) DO NOTHING",
			dir, now,
		)
		if err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}
