package postgressrc

import "cmp"

const (
	defaultSlot                  = "meilisync"
	defaultStandbyUpdateInterval = "10s"
	defaultBufferSize            = 1000
)

// config is the postgres source's decoded raw connection block.
type config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Slot     string `mapstructure:"slot"`
}

func (c *config) applyDefaults() {
	c.Slot = cmp.Or(c.Slot, defaultSlot)
	c.Port = cmp.Or(c.Port, 5432)
	c.User = cmp.Or(c.User, "postgres")
}
