package rules

import (
	"fmt"
	"sync/atomic"
)

// Provider hands out the current compiled rule set as an atomic snapshot.
// A scan takes one snapshot up front and uses it for its whole lifetime;
// Reload swaps the pointer in a single step, so concurrent scans never
// observe a partially compiled set.
type Provider struct {
	current atomic.Pointer[RuleSet]
	load    func() (*RuleSet, error)
}

// NewProvider compiles the initial rule set via load and keeps load
// around for later reloads. A failed initial load is startup-fatal.
func NewProvider(load func() (*RuleSet, error)) (*Provider, error) {
	p := &Provider{load: load}
	rs, err := load()
	if err != nil {
		return nil, err
	}
	p.current.Store(rs)
	return p, nil
}

// NewStaticProvider wraps an already-compiled set; Reload recompiles nothing.
func NewStaticProvider(rs *RuleSet) *Provider {
	p := &Provider{load: func() (*RuleSet, error) { return rs, nil }}
	p.current.Store(rs)
	return p
}

// Current returns the rule set snapshot in effect right now.
func (p *Provider) Current() *RuleSet {
	return p.current.Load()
}

// Reload recompiles the rules and swaps them in. On failure the previous
// set stays in effect untouched.
func (p *Provider) Reload() error {
	rs, err := p.load()
	if err != nil {
		return fmt.Errorf("rule reload failed: %w", err)
	}
	p.current.Store(rs)
	return nil
}
