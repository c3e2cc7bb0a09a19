package mongosrc

import "cmp"

// config is the mongo source's decoded raw connection block.
type config struct {
	URI string `mapstructure:"uri"`
}

func (c *config) applyDefaults() {
	c.URI = cmp.Or(c.URI, "mongodb://localhost:27017")
}
