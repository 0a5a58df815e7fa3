package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/lib/pq"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS olx_price_history (
    path        TEXT PRIMARY KEY,
    payload     JSONB NOT NULL,
    tag         TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresClient stores the document as one JSONB row per remote path.
// The connection and the snapshot table are prepared lazily on first use so
// constructing a client never touches the network.
type PostgresClient struct {
	dsn     string
	db      *sql.DB
	once    sync.Once
	initErr error
}

func NewPostgresClient(dsn string) (*PostgresClient, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	return &PostgresClient{dsn: dsn}, nil
}

func (c *PostgresClient) ensureReady(ctx context.Context) error {
	c.once.Do(func() {
		db, err := sql.Open("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

func (c *PostgresClient) Download(ctx context.Context, path string) ([]byte, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, pgError(path, err)
	}
	var payload []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT payload FROM olx_price_history WHERE path = $1`, path)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &Error{Kind: KindNotFound, Path: path, Err: ErrNotFound}
		}
		return nil, pgError(path, err)
	}
	return payload, nil
}

func (c *PostgresClient) Upload(ctx context.Context, path string, data []byte, tag string) error {
	if err := c.ensureReady(ctx); err != nil {
		return pgError(path, err)
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO olx_price_history (path, payload, tag, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (path) DO UPDATE
SET payload = EXCLUDED.payload, tag = EXCLUDED.tag, updated_at = now()`,
		path, data, tag)
	if err != nil {
		return pgError(path, err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// pgError classifies driver failures. Credential problems are the only
// non-retryable class; everything else is treated as transient.
func pgError(path string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password authentication failed") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "role") && strings.Contains(msg, "does not exist") {
		return &Error{Kind: KindAuth, Path: path, Err: err}
	}
	return &Error{Kind: KindTransient, Path: path, Err: err}
}
