package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	id           VARCHAR PRIMARY KEY,
	spec_name    VARCHAR NOT NULL,
	spec_version INTEGER,
	block_height INTEGER NOT NULL,
	block_hash   CHAR(66) NOT NULL,
	hex          VARCHAR NOT NULL
);
CREATE TABLE IF NOT EXISTS archive_files (
	key          VARCHAR PRIMARY KEY,
	kind         VARCHAR NOT NULL,
	run_id       VARCHAR NOT NULL,
	row_count    INTEGER NOT NULL,
	row_groups   INTEGER NOT NULL,
	byte_size    INTEGER NOT NULL,
	checksum     VARCHAR NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
`

// SQLiteStore keeps the sidecar in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and its tables.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite metadata: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	logging.Component("metadata").Info("opened sqlite sidecar", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// InsertMetadata implements Store.
func (s *SQLiteStore) InsertMetadata(ctx context.Context, m model.Metadata) error {
	var specVersion any
	if m.SpecVersion != nil {
		specVersion = *m.SpecVersion
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (id, spec_name, spec_version, block_height, block_hash, hex)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.SpecName, specVersion, m.BlockHeight, m.BlockHash, m.Hex,
	)
	if err != nil {
		return fmt.Errorf("insert metadata %s: %w", m.ID, err)
	}
	return nil
}

// RecordFiles implements Store.
func (s *SQLiteStore) RecordFiles(ctx context.Context, runID string, files []columnar.FileInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, f := range files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO archive_files (key, kind, run_id, row_count, row_groups, byte_size, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				run_id = excluded.run_id,
				row_count = excluded.row_count,
				row_groups = excluded.row_groups,
				byte_size = excluded.byte_size,
				checksum = excluded.checksum,
				created_at = excluded.created_at`,
			f.Key, f.Kind, runID, f.Rows, f.RowGroups, f.Bytes, f.Checksum, now,
		)
		if err != nil {
			return fmt.Errorf("record file %s: %w", f.Key, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
