// Package mysqlsrc implements a change-data source.Source over MySQL
// binlog replication via the canal client.
package mysqlsrc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mitchellh/mapstructure"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/source"
)

func init() {
	source.Register("mysql", func(ctx context.Context, database string, raw map[string]any, progress cdc.Checkpoint) (source.Source, error) {
		var cfg config
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode mysql source config: %w", err)
		}
		cfg.applyDefaults()
		return newCursor(ctx, database, &cfg, progress)
	})
}

// Cursor is the mysql source.Source. It owns a plain database/sql
// connection used for SHOW STATUS / full-scan / count queries; the binlog
// stream itself is a separate canal instance started by Stream.
type Cursor struct {
	cfg      *config
	database string
	db       *sql.DB
	progress cdc.Checkpoint
}

var _ source.Source = (*Cursor)(nil)

func newCursor(ctx context.Context, database string, cfg *config, progress cdc.Checkpoint) (*Cursor, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", cfg.User, cfg.Password, cfg.addr(), database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &Cursor{cfg: cfg, database: database, db: db, progress: progress}, nil
}

func (c *Cursor) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Cursor) Close() error {
	return c.db.Close()
}

// GetCurrentProgress reads the server's current binlog coordinates via
// SHOW BINARY LOG STATUS on MySQL 8.2.0 and later, or SHOW MASTER STATUS
// otherwise, used to anchor a stream with no prior progress.
func (c *Cursor) GetCurrentProgress(ctx context.Context) (cdc.Checkpoint, error) {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return nil, fmt.Errorf("select version: %w", err)
	}
	query := "SHOW MASTER STATUS"
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err == nil &&
		!strings.Contains(version, "MariaDB") && (major > 8 || (major == 8 && minor >= 2)) {
		query = "SHOW BINARY LOG STATUS"
	}
	row := c.db.QueryRowContext(ctx, query)
	var file string
	var pos uint32
	var binlogDoDB, binlogIgnoreDB, executedGtidSet sql.NullString
	if err := row.Scan(&file, &pos, &binlogDoDB, &binlogIgnoreDB, &executedGtidSet); err != nil {
		return nil, fmt.Errorf("show master status: %w", err)
	}
	return cdc.Checkpoint{
		"master_log_file":     file,
		"master_log_position": fmt.Sprintf("%d", pos),
	}, nil
}

func (c *Cursor) GetCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// GetFullData returns every row of table, applying fields as a column
// projection/rename directly in the SQL.
func (c *Cursor) GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error) {
	selectList := "*"
	if len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for src, dst := range fields {
			if dst != nil && *dst != "" {
				parts = append(parts, fmt.Sprintf("`%s` AS `%s`", src, *dst))
			} else {
				parts = append(parts, fmt.Sprintf("`%s`", src))
			}
		}
		selectList = strings.Join(parts, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM `%s`", selectList, table)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		scanTargets := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeMySQLValue(values[i])
		}
		out = append(out, cdc.Project(row, nil))
	}
	return out, rows.Err()
}

// normalizeMySQLValue converts []byte results (the driver's default
// representation for most non-numeric column types) into strings so
// downstream JSON encoding to the sink doesn't see raw byte slices.
func normalizeMySQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
