// Package config loads and validates meilisync's YAML configuration file:
// source connection, progress store, MeiliSearch sink, declared syncs, and
// optional plugin/Sentry wiring.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/plugin"
)

// Config is the top-level, fully-decoded configuration file.
type Config struct {
	Debug       bool           `mapstructure:"debug"`
	Plugins     []plugin.Ref   `mapstructure:"plugins"`
	Progress    ProgressConfig `mapstructure:"progress"`
	Source      SourceConfig   `mapstructure:"source"`
	MeiliSearch MeiliConfig    `mapstructure:"meilisearch"`
	Sync        []Sync         `mapstructure:"sync"`
	Sentry      *SentryConfig  `mapstructure:"sentry"`
}

// ProgressConfig selects and configures a progress store by tag. Extra
// driver-specific keys (path, dsn, key, ...) are preserved in Raw.
type ProgressConfig struct {
	Type string         `mapstructure:"type"`
	Raw  map[string]any `mapstructure:",remain"`
}

// SourceConfig selects and configures a source cursor by tag. Extra
// driver-specific connection fields are preserved in Raw.
type SourceConfig struct {
	Type     string         `mapstructure:"type"`
	Database string         `mapstructure:"database"`
	Raw      map[string]any `mapstructure:",remain"`
}

// MeiliConfig configures the MeiliSearch sink.
type MeiliConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	InsertSize     int           `mapstructure:"insert_size"`
	InsertInterval time.Duration `mapstructure:"insert_interval"`
}

// SentryConfig configures the optional error-reporting uplink.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Sync declares a single source table/collection -> MeiliSearch index
// mapping. It is immutable for the lifetime of a run; equality and
// map-keying on a Sync uses Table, which is unique within a run.
type Sync struct {
	Table   string            `mapstructure:"table"`
	PK      string            `mapstructure:"pk"`
	Full    bool              `mapstructure:"full"`
	Index   string            `mapstructure:"index"`
	Fields  map[string]string `mapstructure:"fields"`
	Plugins []plugin.Ref      `mapstructure:"plugins"`
}

// IndexName returns the configured index name, defaulting to the table name.
func (s Sync) IndexName() string {
	if s.Index != "" {
		return s.Index
	}
	return s.Table
}

// PrimaryKey returns the configured primary key column, defaulting to "id".
func (s Sync) PrimaryKey() string {
	if s.PK != "" {
		return s.PK
	}
	return "id"
}

// FieldMapping converts the YAML-friendly src->dst string map into the
// pointer-based map cdc.Project expects, where an empty destination means
// "keep the source column name".
func (s Sync) FieldMapping() cdc.FieldMapping {
	if len(s.Fields) == 0 {
		return nil
	}
	out := make(cdc.FieldMapping, len(s.Fields))
	for src, dst := range s.Fields {
		if dst == "" {
			out[src] = nil
			continue
		}
		d := dst
		out[src] = &d
	}
	return out
}

// Tables returns the declared table set, in declaration order.
func (c *Config) Tables() []string {
	tables := make([]string, len(c.Sync))
	for i, s := range c.Sync {
		tables[i] = s.Table
	}
	return tables
}

// pluginRefHookFunc decodes a config-declared plugin entry into a
// plugin.Ref. A bare string is a plugin name with no args; a map must carry
// a "name" key, with every other key becoming a construction arg.
func pluginRefHookFunc(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(plugin.Ref{}) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return plugin.Ref{Name: data.(string)}, nil
	case reflect.Map:
		m, ok := data.(map[string]any)
		if !ok {
			return data, nil
		}
		name, _ := m["name"].(string)
		args := make(map[string]any, len(m))
		for k, v := range m {
			if k == "name" {
				continue
			}
			args[k] = v
		}
		if len(args) == 0 {
			args = nil
		}
		return plugin.Ref{Name: name, Args: args}, nil
	default:
		return data, nil
	}
}

// Load reads, env-interpolates, and validates the YAML file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	raw = ExpandEnv(raw)

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(newReader(raw)); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := checkUnknownKeys(v.AllSettings()); err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		pluginRefHookFunc,
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var knownTopLevelKeys = map[string]bool{
	"debug": true, "plugins": true, "progress": true, "source": true,
	"meilisearch": true, "sync": true, "sentry": true,
}

func checkUnknownKeys(settings map[string]any) error {
	for k := range settings {
		if !knownTopLevelKeys[k] {
			return fmt.Errorf("unknown top-level config key %q", k)
		}
	}
	return nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Sync))
	for _, s := range c.Sync {
		if s.Table == "" {
			return fmt.Errorf("sync entry missing table")
		}
		if seen[s.Table] {
			return fmt.Errorf("duplicate sync table %q", s.Table)
		}
		seen[s.Table] = true
	}
	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if c.Progress.Type == "" {
		return fmt.Errorf("progress.type is required")
	}
	return nil
}
