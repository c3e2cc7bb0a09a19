// Package builtin provides the static, config-driven plugins registered
// under the "extract" and "replace" names: narrowing an event's Data to a
// declared field set, and renaming tables/columns as they pass through the
// chain.
package builtin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/plugin"
)

func init() {
	plugin.Register("extract", newExtract, false)
}

// extractConfig names the fields an extract plugin instance keeps.
type extractConfig struct {
	Fields []string `mapstructure:"fields"`
}

type extractPlugin struct {
	fields []string
}

func newExtract(args map[string]any) (plugin.Plugin, error) {
	var cfg extractConfig
	if err := mapstructure.Decode(args, &cfg); err != nil {
		return nil, fmt.Errorf("decode extract config: %w", err)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("extract plugin requires at least one field")
	}
	return &extractPlugin{fields: cfg.Fields}, nil
}

func (p *extractPlugin) PreEvent(event cdc.Event) (cdc.Event, error) {
	if event.Data == nil {
		return event, nil
	}
	kept := make(map[string]any, len(p.fields))
	for _, field := range p.fields {
		if value, ok := event.Data[field]; ok {
			kept[field] = value
		}
	}
	event.Data = kept
	return event, nil
}

func (p *extractPlugin) PostEvent(event cdc.Event) (cdc.Event, error) {
	return event, nil
}
