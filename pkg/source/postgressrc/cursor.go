// Package postgressrc implements a change-data source.Source over Postgres
// logical replication, decoding the wal2json output plugin's payload
// rather than the binary pgoutput protocol.
package postgressrc

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/mapstructure"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/source"
)

func init() {
	source.Register("postgres", func(ctx context.Context, database string, raw map[string]any, progress cdc.Checkpoint) (source.Source, error) {
		var cfg config
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode postgres source config: %w", err)
		}
		cfg.applyDefaults()
		return newCursor(ctx, database, &cfg, progress)
	})
}

// Cursor is the postgres source.Source. It holds a pgxpool for
// full-scan/count queries and GetCurrentProgress, and lazily establishes a
// dedicated replication-mode connection when Stream is called.
type Cursor struct {
	cfg      *config
	database string
	pool     *pgxpool.Pool
	progress cdc.Checkpoint
}

var _ source.Source = (*Cursor)(nil)

func newCursor(ctx context.Context, database string, cfg *config, progress cdc.Checkpoint) (*Cursor, error) {
	pool, err := pgxpool.New(ctx, dsn(cfg, database, false))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Cursor{cfg: cfg, database: database, pool: pool, progress: progress}, nil
}

func dsn(cfg *config, database string, replication bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s dbname=%s", cfg.Host, cfg.Port, cfg.User, database)
	if cfg.Password != "" {
		fmt.Fprintf(&b, " password=%s", cfg.Password)
	}
	if replication {
		b.WriteString(" replication=database")
	}
	return b.String()
}

func (c *Cursor) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Cursor) Close() error {
	c.pool.Close()
	return nil
}

// GetCurrentProgress returns the server's current WAL position. Stream does
// not call it: a stream with no stored progress anchors at the position
// IDENTIFY_SYSTEM reports instead.
func (c *Cursor) GetCurrentProgress(ctx context.Context) (cdc.Checkpoint, error) {
	var lsn string
	if err := c.pool.QueryRow(ctx, "SELECT pg_current_wal_lsn()").Scan(&lsn); err != nil {
		return nil, fmt.Errorf("query current wal lsn: %w", err)
	}
	return cdc.Checkpoint{"start_lsn": lsn}, nil
}

func (c *Cursor) GetCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := c.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// GetFullData returns every row of table, applying fields as a column
// projection/rename directly in the SQL so the result set is already in
// its final shape.
func (c *Cursor) GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error) {
	selectList := "*"
	if len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for src, dst := range fields {
			col := pgx.Identifier{src}.Sanitize()
			if dst != nil && *dst != "" {
				parts = append(parts, fmt.Sprintf("%s AS %s", col, pgx.Identifier{*dst}.Sanitize()))
			} else {
				parts = append(parts, col)
			}
		}
		selectList = strings.Join(parts, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList, pgx.Identifier{table}.Sanitize())
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row from %s: %w", table, err)
		}
		row := make(map[string]any, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, cdc.Project(row, nil))
	}
	return out, rows.Err()
}

// Stream establishes a dedicated replication-mode connection, ensures the
// wal2json replication slot exists, and starts decoding its stream. The
// first value sent on the returned channel is always a cdc.ProgressEvent.
func (c *Cursor) Stream(ctx context.Context, tables []string) (<-chan any, error) {
	replConfig, err := pgconn.ParseConfig(dsn(c.cfg, c.database, true))
	if err != nil {
		return nil, fmt.Errorf("parse replication dsn: %w", err)
	}
	conn, err := pgconn.ConnectConfig(ctx, replConfig)
	if err != nil {
		return nil, fmt.Errorf("connect replication: %w", err)
	}

	startLSN := ""
	if c.progress != nil {
		startLSN = c.progress["start_lsn"]
	}

	out := make(chan any, defaultBufferSize)
	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}

	if err := ensureSlot(ctx, conn, c.cfg.Slot); err != nil {
		conn.Close(ctx)
		close(out)
		return nil, fmt.Errorf("ensure replication slot: %w", err)
	}

	anchor, err := startReplication(ctx, conn, c.cfg.Slot, startLSN)
	if err != nil {
		conn.Close(ctx)
		close(out)
		return nil, fmt.Errorf("start replication: %w", err)
	}

	out <- cdc.ProgressEvent{Progress: cdc.Checkpoint{"start_lsn": anchor}}

	go streamEvents(ctx, conn, tableSet, out)
	return out, nil
}
