// Package objects tracks the names of known destination objects.
package objects

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

// MaxNameLength bounds object names, in runes.
const MaxNameLength = 100

// DefaultRefreshInterval is how long a store listing is reused.
const DefaultRefreshInterval = 5 * time.Minute

// ErrInvalidName is returned for empty or overlong object names.
var ErrInvalidName = errors.New("objects: name must be 1-100 characters")

// Lister lists the objects that already exist in persistence.
type Lister interface {
	ListObjects(ctx context.Context) ([]string, error)
}

// Config tunes a Registry.
type Config struct {
	RefreshInterval time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Registry is the process-wide set of destination names: seeds, names listed by the
// store and names added locally. Local additions are not checked against the store.
type Registry struct {
	lister   Lister
	seeds    []string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group

	mu      sync.RWMutex
	listed  []string
	fetched time.Time
	local   []string
}

// NewRegistry builds a Registry. lister may be nil.
func NewRegistry(lister Lister, seeds []string, cfg Config) *Registry {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		lister:   lister,
		seeds:    append([]string(nil), seeds...),
		interval: cfg.RefreshInterval,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Names returns seeds in their configured order followed by every other known name
// sorted alphabetically. A failing store keeps the previous listing.
func (r *Registry) Names(ctx context.Context) []string {
	r.refresh(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.seeds)+len(r.listed)+len(r.local))
	out := make([]string, 0, len(r.seeds)+len(r.listed)+len(r.local))
	for _, name := range r.seeds {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	var rest []string
	for _, group := range [][]string{r.listed, r.local} {
		for _, name := range group {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Add records a new destination name and returns it trimmed.
func (r *Registry) Add(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.local {
		if existing == name {
			return name, nil
		}
	}
	r.local = append(r.local, name)
	return name, nil
}

// Invalidate forces the next Names call to list the store again.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.fetched = time.Time{}
	r.mu.Unlock()
}

func (r *Registry) refresh(ctx context.Context) {
	if r.lister == nil {
		return
	}
	r.mu.RLock()
	fresh := !r.fetched.IsZero() && r.now().Sub(r.fetched) < r.interval
	r.mu.RUnlock()
	if fresh {
		return
	}
	_, err, _ := r.group.Do("list", func() (any, error) {
		names, err := r.lister.ListObjects(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.listed = names
		r.fetched = r.now()
		r.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		r.logger.Warn("list ledger objects", slog.Any("error", err))
	}
}
