package builtin

import (
	"fmt"
	"regexp"

	"github.com/mitchellh/mapstructure"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/plugin"
)

func init() {
	plugin.Register("replace", newReplace, false)
}

// regexReplacement renames a table or a column via a compiled pattern.
type regexReplacement struct {
	Type    string `mapstructure:"type"` // "table" or "column"
	Pattern string `mapstructure:"pattern"`
	Replace string `mapstructure:"replace"`
}

type replaceConfig struct {
	Tables  map[string]string  `mapstructure:"tables"`
	Columns map[string]string  `mapstructure:"columns"`
	Regex   []regexReplacement `mapstructure:"regex"`
}

type replacePlugin struct {
	tables  map[string]string
	columns map[string]string
	regex   []compiledRegex
}

type compiledRegex struct {
	typ     string
	re      *regexp.Regexp
	replace string
}

func newReplace(args map[string]any) (plugin.Plugin, error) {
	var cfg replaceConfig
	if err := mapstructure.Decode(args, &cfg); err != nil {
		return nil, fmt.Errorf("decode replace config: %w", err)
	}
	if len(cfg.Tables) == 0 && len(cfg.Columns) == 0 && len(cfg.Regex) == 0 {
		return nil, fmt.Errorf("replace plugin requires at least one of tables, columns, or regex")
	}

	p := &replacePlugin{tables: cfg.Tables, columns: cfg.Columns}
	for _, r := range cfg.Regex {
		if r.Type != "table" && r.Type != "column" {
			return nil, fmt.Errorf("replace plugin: invalid regex type %q", r.Type)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("replace plugin: invalid regex pattern %q: %w", r.Pattern, err)
		}
		p.regex = append(p.regex, compiledRegex{typ: r.Type, re: re, replace: r.Replace})
	}
	return p, nil
}

func (p *replacePlugin) PreEvent(event cdc.Event) (cdc.Event, error) {
	if newTable, ok := p.tables[event.Table]; ok {
		event.Table = newTable
	}
	for _, r := range p.regex {
		if r.typ == "table" {
			event.Table = r.re.ReplaceAllString(event.Table, r.replace)
		}
	}

	if len(p.columns) == 0 && !p.hasColumnRegex() {
		return event, nil
	}
	event.Data = p.renameColumns(event.Data)
	return event, nil
}

func (p *replacePlugin) PostEvent(event cdc.Event) (cdc.Event, error) {
	return event, nil
}

func (p *replacePlugin) hasColumnRegex() bool {
	for _, r := range p.regex {
		if r.typ == "column" {
			return true
		}
	}
	return false
}

func (p *replacePlugin) renameColumns(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		newKey := k
		if replacement, ok := p.columns[k]; ok {
			newKey = replacement
		}
		for _, r := range p.regex {
			if r.typ == "column" {
				newKey = r.re.ReplaceAllString(newKey, r.replace)
			}
		}
		out[newKey] = v
	}
	return out
}
