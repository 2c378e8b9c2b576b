// Package sqlite implements the MirrorStore port on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// mirrorPragmas apply to every mirror connection. Issuance completions write
// from detached goroutines, so a busy writer is waited on rather than failed.
const mirrorPragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)"

// Connection limits. A single writer serializes concurrent issuance and
// revocation completions; readers serve holder lookups alongside them.
const (
	maxWriterConns = 1
	maxReaderConns = 4
)

// DB is the mirror's connection pair. Writes go through Writer and reads
// through Reader, so holder lookups never queue behind a mirror commit.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// NewDB opens the mirror at dbPath in WAL mode, so readers see committed
// records while a completion is writing.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	return openPair(ctx, fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", dbPath, mirrorPragmas))
}

func openPair(ctx context.Context, dsn string) (*DB, error) {
	writer, err := openConn(ctx, dsn, maxWriterConns)
	if err != nil {
		return nil, fmt.Errorf("open mirror writer: %w", err)
	}

	reader, err := openConn(ctx, dsn, maxReaderConns)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open mirror reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

func openConn(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxConns)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
