// Package rules holds the named signal rules and the per-pair trading
// policy, and notifies subscribers when either is replaced.
package rules

import (
	"sync"

	"github.com/gregtusar/positrader/pkg/models"
)

// Wildcard is the pair key whose config applies to pairs without their own.
const Wildcard = "*"

type Action string

const (
	// ActionDefault lets a signal open a plain buy.
	ActionDefault Action = "default"
	// ActionSwap only lets a signal swap a held pair into the signalled one.
	ActionSwap Action = "swap"
	// ActionArbitrage only lets a signal start an arbitrage.
	ActionArbitrage Action = "arbitrage"
)

type Rule struct {
	Name    string `mapstructure:"name"`
	Action  Action `mapstructure:"action"`
	Enabled bool   `mapstructure:"enabled"`
}

type Set struct {
	mu          sync.RWMutex
	rules       map[string]Rule
	pairs       map[string]models.PairConfig
	subscribers map[int]func()
	nextID      int
}

func NewSet(rules []Rule, pairs map[string]models.PairConfig) *Set {
	s := &Set{subscribers: make(map[int]func())}
	s.rules, s.pairs = index(rules), copyPairs(pairs)
	return s
}

func (s *Set) Rule(name string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[name]
	if ok && r.Action == "" {
		r.Action = ActionDefault
	}
	return r, ok
}

func (s *Set) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// PairConfig resolves the policy for pair: its own entry, else the
// wildcard entry, else the zero config (nothing enabled).
func (s *Set) PairConfig(pair string) models.PairConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pc, ok := s.pairs[pair]; ok {
		return pc
	}
	return s.pairs[Wildcard]
}

// Replace swaps in new rules and pair configs and notifies subscribers.
func (s *Set) Replace(rules []Rule, pairs map[string]models.PairConfig) {
	s.mu.Lock()
	s.rules, s.pairs = index(rules), copyPairs(pairs)
	subs := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Subscribe registers fn for change notifications; the returned func
// removes it.
func (s *Set) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func index(rules []Rule) map[string]Rule {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.Name] = r
	}
	return m
}

func copyPairs(pairs map[string]models.PairConfig) map[string]models.PairConfig {
	m := make(map[string]models.PairConfig, len(pairs))
	for k, v := range pairs {
		m[k] = v
	}
	return m
}
