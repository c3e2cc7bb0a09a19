package mysqlsrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	c := &config{}
	c.applyDefaults()
	assert.Equal(t, 3306, c.Port)
	assert.Equal(t, "root", c.User)
	assert.Equal(t, uint32(1001), c.ServerID)
}

func TestAddr(t *testing.T) {
	c := &config{Host: "db.internal", Port: 3307}
	assert.Equal(t, "db.internal:3307", c.addr())
}

func TestNormalizeMySQLValue(t *testing.T) {
	assert.Equal(t, "hello", normalizeMySQLValue([]byte("hello")))
	assert.Equal(t, int64(5), normalizeMySQLValue(int64(5)))
}
