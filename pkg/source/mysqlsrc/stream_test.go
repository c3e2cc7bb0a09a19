package mysqlsrc

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/stretchr/testify/assert"
)

func TestRowToMap(t *testing.T) {
	columns := []schema.TableColumn{{Name: "id"}, {Name: "name"}}
	row := []any{int64(1), "alice"}

	got := rowToMap(columns, row)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "alice"}, got)
}

func TestRowToMapIgnoresExtraColumns(t *testing.T) {
	columns := []schema.TableColumn{{Name: "id"}, {Name: "name"}, {Name: "extra"}}
	row := []any{int64(1), "alice"}

	got := rowToMap(columns, row)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "alice"}, got)
}
