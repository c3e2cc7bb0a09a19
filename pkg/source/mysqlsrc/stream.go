package mysqlsrc

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/siddontang/go-log/log"

	"github.com/long2ice/meilisync/pkg/cdc"
)

const processWatchdogInterval = 60 * time.Second

// Stream starts a canal binlog client anchored at the cursor's prior
// progress (or the server's current position if there is none), restricted
// to the declared tables, and streams one cdc.Event per changed row.
func (c *Cursor) Stream(ctx context.Context, tables []string) (<-chan any, error) {
	file := ""
	var pos uint32
	if c.progress != nil {
		file = c.progress["master_log_file"]
		p, err := strconv.ParseUint(c.progress["master_log_position"], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse stored binlog position: %w", err)
		}
		pos = uint32(p)
	} else {
		checkpoint, err := c.GetCurrentProgress(ctx)
		if err != nil {
			return nil, err
		}
		file = checkpoint["master_log_file"]
		p, _ := strconv.ParseUint(checkpoint["master_log_position"], 10, 32)
		pos = uint32(p)
	}

	cfg := canal.NewDefaultConfig()
	cfg.Addr = c.cfg.addr()
	cfg.User = c.cfg.User
	cfg.Password = c.cfg.Password
	cfg.ServerID = c.cfg.ServerID
	cfg.Logger = log.NewDefault(log.NewStreamHandler(os.Stdout))
	cfg.Dump.ExecutionPath = "" // no mysqldump; we bootstrap full data ourselves
	cfg.IncludeTableRegex = make([]string, len(tables))
	for i, t := range tables {
		cfg.IncludeTableRegex[i] = fmt.Sprintf("^%s\\.%s$", c.database, t)
	}

	cn, err := canal.NewCanal(cfg)
	if err != nil {
		return nil, fmt.Errorf("create canal client: %w", err)
	}

	out := make(chan any, 1000)
	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}

	handler := &rowHandler{out: out, tables: tableSet, canal: cn}
	cn.SetEventHandler(handler)

	out <- cdc.ProgressEvent{Progress: cdc.Checkpoint{
		"master_log_file":     file,
		"master_log_position": strconv.FormatUint(uint64(pos), 10),
	}}

	go runCanal(ctx, cn, gomysql.Position{Name: file, Pos: pos}, out, c.database)
	go watchProcess(ctx, c, cn)
	return out, nil
}

func runCanal(ctx context.Context, cn *canal.Canal, pos gomysql.Position, out chan<- any, database string) {
	defer close(out)
	defer cn.Close()

	go func() {
		<-ctx.Done()
		cn.Close()
	}()

	// canal.RunFrom blocks for the life of the stream; reconnects on a
	// transient connection error are handled by retrying RunFrom from the
	// last acknowledged position, matching the reconnect-and-reopen policy
	// of the source this replaces.
	for {
		if ctx.Err() != nil {
			return
		}
		if err := cn.RunFrom(pos); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			pos = cn.SyncedPosition()
			continue
		}
		return
	}
}

// watchProcess polls information_schema.PROCESSLIST for the "Binlog Dump"
// connection canal opened; if it has vanished (e.g. the server killed a
// stale replication connection), it closes canal so runCanal's reconnect
// loop can re-establish the stream.
func watchProcess(ctx context.Context, c *Cursor, cn *canal.Canal) {
	ticker := time.NewTicker(processWatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var found int
			err := c.db.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM information_schema.PROCESSLIST WHERE COMMAND=? AND DB=?",
				"Binlog Dump", c.database,
			).Scan(&found)
			if err != nil {
				continue
			}
			if found == 0 {
				cn.Close()
			}
		}
	}
}

// rowHandler adapts canal's callback-style event handler into cdc.Event
// values pushed onto a channel, one per affected row -- unlike the source
// this replaces, which only looked at the first row of a multi-row
// statement.
type rowHandler struct {
	canal.DummyEventHandler
	out    chan<- any
	tables map[string]bool
	canal  *canal.Canal
}

func (h *rowHandler) OnRow(e *canal.RowsEvent) error {
	if !h.tables[e.Table.Name] {
		return nil
	}

	var op cdc.Operation
	switch e.Action {
	case canal.InsertAction:
		op = cdc.OpCreate
	case canal.UpdateAction:
		op = cdc.OpUpdate
	case canal.DeleteAction:
		op = cdc.OpDelete
	default:
		return nil
	}

	pos := h.canal.SyncedPosition()
	progress := cdc.Checkpoint{
		"master_log_file":     pos.Name,
		"master_log_position": strconv.FormatUint(uint64(pos.Pos), 10),
	}

	columns := e.Table.Columns
	if op == cdc.OpUpdate {
		// UpdateAction rows alternate before/after images; emit one event
		// per after-image using the new values.
		for i := 1; i < len(e.Rows); i += 2 {
			h.out <- cdc.Event{
				Type:     op,
				Table:    e.Table.Name,
				Data:     rowToMap(columns, e.Rows[i]),
				Progress: progress,
			}
		}
		return nil
	}

	for _, row := range e.Rows {
		h.out <- cdc.Event{
			Type:     op,
			Table:    e.Table.Name,
			Data:     rowToMap(columns, row),
			Progress: progress,
		}
	}
	return nil
}

func rowToMap(columns []schema.TableColumn, row []any) map[string]any {
	out := make(map[string]any, len(columns))
	for i, col := range columns {
		if i >= len(row) {
			break
		}
		out[col.Name] = row[i]
	}
	return cdc.Project(out, nil)
}
