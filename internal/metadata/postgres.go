package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the sidecar tables.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logging.Component("metadata").Info("connected to PostgreSQL sidecar")
	return &PostgresStore{pool: pool}, nil
}

// InsertMetadata implements Store.
func (s *PostgresStore) InsertMetadata(ctx context.Context, m model.Metadata) error {
	query := `
		INSERT INTO metadata (id, spec_name, spec_version, block_height, block_hash, hex)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.SpecName,
		m.SpecVersion,
		m.BlockHeight,
		m.BlockHash,
		m.Hex,
	)
	if err != nil {
		return fmt.Errorf("insert metadata %s: %w", m.ID, err)
	}
	return nil
}

// RecordFiles implements Store. All files of a run are written in one batch.
func (s *PostgresStore) RecordFiles(ctx context.Context, runID string, files []columnar.FileInfo) error {
	query := `
		INSERT INTO archive_files (key, kind, run_id, row_count, row_groups, byte_size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			row_count = EXCLUDED.row_count,
			row_groups = EXCLUDED.row_groups,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			created_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, f := range files {
		batch.Queue(query, f.Key, f.Kind, runID, f.Rows, f.RowGroups, f.Bytes, f.Checksum)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record files: %w", err)
	}
	return nil
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
