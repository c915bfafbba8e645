package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// SQLiteBacking is an optional external backing store for the Data Buffer,
// grounded on estuary-flow's materialize/driver/sqlite (database/sql +
// blank-imported mattn/go-sqlite3 for driver registration). It supports
// per-entry delete, so BufferOnly() is always false.
type SQLiteBacking struct {
	db *sql.DB
}

// OpenSQLiteBacking opens (creating if needed) a sqlite-backed buffer store
// at path.
func OpenSQLiteBacking(path string) (*SQLiteBacking, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("buffer: opening sqlite backing %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buffer_entries (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			role TEXT NOT NULL,
			intended_subject TEXT,
			buffered_at DATETIME NOT NULL,
			record_json TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer: creating sqlite schema: %w", err)
	}
	return &SQLiteBacking{db: db}, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBacking) Close() error { return b.db.Close() }

func (b *SQLiteBacking) Put(ctx context.Context, entry model.BufferedEntry) error {
	data, err := json.Marshal(entry.Record)
	if err != nil {
		return fmt.Errorf("buffer: marshaling record for sqlite backing: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO buffer_entries (id, source_id, role, intended_subject, buffered_at, record_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Record.Metadata.SourceID, string(entry.Role), entry.IntendedSubject, entry.BufferedAt, string(data))
	return err
}

func (b *SQLiteBacking) DeleteByID(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM buffer_entries WHERE id = ?`, id)
	return err
}

func (b *SQLiteBacking) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM buffer_entries WHERE source_id = ?`, sourceID)
	return err
}

func (b *SQLiteBacking) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM buffer_entries`)
	return err
}

// BufferOnly reports false: sqlite supports per-row delete, so recovery
// flush can delete individual entries rather than clearing the whole table.
func (b *SQLiteBacking) BufferOnly() bool { return false }

var _ Backing = (*SQLiteBacking)(nil)
