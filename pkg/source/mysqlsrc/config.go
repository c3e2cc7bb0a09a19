package mysqlsrc

import (
	"cmp"
	"strconv"
)

// config is the mysql source's decoded raw connection block.
type config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	ServerID uint32 `mapstructure:"server_id"`
}

func (c *config) applyDefaults() {
	c.Port = cmp.Or(c.Port, 3306)
	c.User = cmp.Or(c.User, "root")
	c.ServerID = cmp.Or(c.ServerID, 1001)
}

func (c *config) addr() string {
	host := cmp.Or(c.Host, "127.0.0.1")
	return host + ":" + strconv.Itoa(c.Port)
}
