package extension

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/diag"
)

// Cache holds extension results across schedulers so a plugin shared by
// several modules runs once per bootstrap pass.
type Cache struct {
	results map[Extension][]any
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{results: make(map[Extension][]any)}
}

// Len returns how many extensions have run.
func (c *Cache) Len() int { return len(c.results) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithCache shares a result cache with other schedulers.
func WithCache(c *Cache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// WithObserver is called after every real Init call.
func WithObserver(fn func(ext Extension, d time.Duration, err error)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler drains extension groups sequentially and deterministically.
// It is not safe for concurrent use.
type Scheduler struct {
	log     zerolog.Logger
	cache   *Cache
	observe func(Extension, time.Duration, error)

	groups     map[Group][]Extension
	groupOrder []Group
	home       map[Extension][]Group
	pending    map[Extension]int

	drained  map[Group][]any
	stack    []Group
	inFlight map[Group]bool
}

// NewScheduler builds a scheduler for regs. Duplicate (group, extension)
// pairs are registered once.
func NewScheduler(regs []Registration, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:      zerolog.Nop(),
		groups:   make(map[Group][]Extension),
		home:     make(map[Extension][]Group),
		pending:  make(map[Extension]int),
		drained:  make(map[Group][]any),
		inFlight: make(map[Group]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	for _, r := range regs {
		if s.add(r.Group, r.Extension) {
			s.home[r.Extension] = append(s.home[r.Extension], r.Group)
		}
		if r.Before != "" {
			s.add(BeforeGroup(r.Before), r.Extension)
		}
	}
	return s
}

func (s *Scheduler) add(g Group, ext Extension) bool {
	for _, e := range s.groups[g] {
		if e == ext {
			return false
		}
	}
	if _, ok := s.groups[g]; !ok {
		s.groupOrder = append(s.groupOrder, g)
	}
	s.groups[g] = append(s.groups[g], ext)
	s.pending[ext]++
	return true
}

// Groups returns the registered groups (BEFORE pseudo-groups excluded) in
// registration order.
func (s *Scheduler) Groups() []Group {
	out := make([]Group, 0, len(s.groupOrder))
	for _, g := range s.groupOrder {
		if !g.IsBefore() {
			out = append(out, g)
		}
	}
	return out
}

// Pending reports how many group drains still need ext.
func (s *Scheduler) Pending(ext Extension) int { return s.pending[ext] }

// Init drains group g and returns its accumulated results. Draining an
// already drained group returns the cached results.
func (s *Scheduler) Init(ctx context.Context, g Group) ([]any, error) {
	if out, ok := s.drained[g]; ok {
		return out, nil
	}
	if s.inFlight[g] {
		return nil, s.cycleError(g)
	}
	s.inFlight[g] = true
	s.stack = append(s.stack, g)
	defer func() {
		delete(s.inFlight, g)
		s.stack = s.stack[:len(s.stack)-1]
	}()

	if !g.IsBefore() {
		if _, ok := s.groups[BeforeGroup(g)]; ok {
			if _, err := s.Init(ctx, BeforeGroup(g)); err != nil {
				return nil, err
			}
		}
	}

	var out []any
	for _, ext := range s.groups[g] {
		values, err := s.run(ctx, ext)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		out = append(out, values...)
		s.pending[ext]--
	}
	s.drained[g] = out
	s.log.Debug().Str("group", string(g)).Int("extensions", len(s.groups[g])).Int("values", len(out)).Msg("extension group drained")
	return out, nil
}

// InitAll drains every registered group in registration order.
func (s *Scheduler) InitAll(ctx context.Context) (map[Group][]any, error) {
	results := make(map[Group][]any, len(s.groupOrder))
	for _, g := range s.Groups() {
		values, err := s.Init(ctx, g)
		if err != nil {
			return nil, err
		}
		results[g] = values
	}
	return results, nil
}

func (s *Scheduler) run(ctx context.Context, ext Extension) ([]any, error) {
	if values, ok := s.cache.results[ext]; ok {
		return values, nil
	}
	// An extension's own groups may have BEFORE dependents of their own.
	for _, h := range s.home[ext] {
		if _, ok := s.groups[BeforeGroup(h)]; !ok {
			continue
		}
		if _, err := s.Init(ctx, BeforeGroup(h)); err != nil {
			return nil, err
		}
	}
	if values, ok := s.cache.results[ext]; ok {
		return values, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	v, err := ext.Init(ctx)
	if s.observe != nil {
		s.observe(ext, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("init extension %s: %w", Name(ext), err)
	}
	values := flatten(v)
	s.cache.results[ext] = values
	s.log.Debug().Str("extension", Name(ext)).Int("values", len(values)).Msg("extension initialized")
	return values, nil
}

func (s *Scheduler) cycleError(g Group) error {
	start := 0
	for i, name := range s.stack {
		if name == g {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(s.stack)-start+1)
	for _, name := range s.stack[start:] {
		cycle = append(cycle, string(name))
	}
	cycle = append(cycle, string(g))
	prefix := make([]string, 0, start)
	for _, name := range s.stack[:start] {
		prefix = append(prefix, string(name))
	}
	return &diag.CircularDependencyError{Prefix: prefix, Cycle: cycle}
}

func flatten(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}
