// Package plugin implements meilisync's pre/post event hook chain. A
// plugin is either global (one instance shared across every event it sees,
// so it may carry state) or per-event (a fresh instance constructed for
// each invocation). Chains are resolved from dotted config references
// against a static, compile-time registry rather than loaded dynamically,
// per the REDESIGN FLAGS in the specification this implements.
package plugin

import (
	"fmt"
	"sync"

	"github.com/long2ice/meilisync/pkg/cdc"
)

// Plugin hooks run around a sink write. PreEvent runs before the event is
// handed to the sink (and, for batched writes, before it enters the
// coalescing buffer's batch); PostEvent runs after the sink call completes.
type Plugin interface {
	PreEvent(event cdc.Event) (cdc.Event, error)
	PostEvent(event cdc.Event) (cdc.Event, error)
}

// Factory constructs a Plugin instance from its resolved config args (nil
// for a plugin declared with no args). Global plugins are constructed once
// at chain-build time and reused; per-event plugins are constructed fresh
// for every PreEvent/PostEvent call.
type Factory func(args map[string]any) (Plugin, error)

type registration struct {
	factory  Factory
	isGlobal bool
}

var (
	mu       sync.RWMutex
	registry = make(map[string]registration)
)

// Register adds a named plugin to the static registry. isGlobal selects
// whether Chain builds one long-lived instance or constructs fresh ones
// per event.
func Register(name string, factory Factory, isGlobal bool) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = registration{factory: factory, isGlobal: isGlobal}
}

// Ref names one plugin in a config-declared chain, plus its (possibly nil)
// construction args. A Ref is either a bare dotted/plain name or, for a
// built-in that needs configuring, a mapping with a "name" key and
// implementation-specific fields alongside it.
type Ref struct {
	Name string
	Args map[string]any
}

// Chain is an ordered, resolved sequence of plugin hooks.
type Chain struct {
	entries []entry
}

type entry struct {
	global   Plugin // non-nil for global plugins
	factory  Factory
	args     map[string]any
	isGlobal bool
}

// Build resolves an ordered list of plugin refs against the static registry
// into a Chain. Global plugins are instantiated once, here.
func Build(refs []Ref) (*Chain, error) {
	mu.RLock()
	defer mu.RUnlock()

	c := &Chain{entries: make([]entry, 0, len(refs))}
	for _, ref := range refs {
		reg, ok := registry[ref.Name]
		if !ok {
			return nil, fmt.Errorf("plugin %q is not registered", ref.Name)
		}
		e := entry{factory: reg.factory, args: ref.Args, isGlobal: reg.isGlobal}
		if reg.isGlobal {
			global, err := reg.factory(ref.Args)
			if err != nil {
				return nil, fmt.Errorf("construct global plugin %q: %w", ref.Name, err)
			}
			e.global = global
		}
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func (e entry) instance() (Plugin, error) {
	if e.isGlobal {
		return e.global, nil
	}
	return e.factory(e.args)
}

// Pre runs every plugin's PreEvent hook, in chain order, against event.
func (c *Chain) Pre(event cdc.Event) (cdc.Event, error) {
	if c == nil {
		return event, nil
	}
	for _, e := range c.entries {
		inst, err := e.instance()
		if err != nil {
			return event, fmt.Errorf("construct plugin: %w", err)
		}
		event, err = inst.PreEvent(event)
		if err != nil {
			return event, fmt.Errorf("plugin pre_event: %w", err)
		}
	}
	return event, nil
}

// Post runs every plugin's PostEvent hook, in chain order, against event.
func (c *Chain) Post(event cdc.Event) (cdc.Event, error) {
	if c == nil {
		return event, nil
	}
	for _, e := range c.entries {
		inst, err := e.instance()
		if err != nil {
			return event, fmt.Errorf("construct plugin: %w", err)
		}
		event, err = inst.PostEvent(event)
		if err != nil {
			return event, fmt.Errorf("plugin post_event: %w", err)
		}
	}
	return event, nil
}

// Combined returns a new Chain that applies a's plugins before b's, the
// order spec.md mandates: all engine-global plugins, then all per-sync
// plugins.
func Combined(a, b *Chain) *Chain {
	c := &Chain{}
	if a != nil {
		c.entries = append(c.entries, a.entries...)
	}
	if b != nil {
		c.entries = append(c.entries, b.entries...)
	}
	return c
}
