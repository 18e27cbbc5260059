package exemption

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"dresswatch/internal/model"
	"dresswatch/internal/normalize"
)

// Source lists raw schedule documents.
type Source interface {
	ListExemptions(ctx context.Context) ([]model.ExemptionDoc, error)
}

type Options struct {
	Labels   map[string]int
	Location *time.Location
	Interval time.Duration
	Logger   *slog.Logger
	// OnRefresh observes every completed or failed refresh.
	OnRefresh func(active int, err error)
}

type snapshot struct {
	entries   []model.ExemptionEntry
	byClass   map[model.ClassID][]model.ExemptionEntry
	fetchedAt time.Time
}

// Cache holds the latest schedule snapshot. Reads never block on a refresh.
type Cache struct {
	source    Source
	labels    map[string]int
	loc       *time.Location
	interval  time.Duration
	logger    *slog.Logger
	onRefresh func(int, error)

	current    atomic.Pointer[snapshot]
	refreshing atomic.Bool
}

func NewCache(source Source, opts Options) *Cache {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	c := &Cache{
		source:    source,
		labels:    opts.Labels,
		loc:       opts.Location,
		interval:  opts.Interval,
		logger:    opts.Logger,
		onRefresh: opts.OnRefresh,
	}
	c.current.Store(&snapshot{byClass: map[model.ClassID][]model.ExemptionEntry{}})
	return c
}

// Refresh reloads the schedule. Entries whose range does not contain now are dropped.
// A store failure keeps the previous snapshot; a refresh already in flight makes this a no-op.
func (c *Cache) Refresh(ctx context.Context, now time.Time) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	docs, err := c.source.ListExemptions(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("exemption refresh failed", "err", err)
		}
		if c.onRefresh != nil {
			c.onRefresh(len(c.current.Load().entries), err)
		}
		return err
	}

	next := &snapshot{byClass: make(map[model.ClassID][]model.ExemptionEntry), fetchedAt: now}
	for _, doc := range docs {
		entry, err := normalize.Exemption(doc, c.labels, c.loc)
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("skip schedule document", "id", doc.ID, "err", err)
			}
			continue
		}
		if !entry.Active(now) {
			continue
		}
		next.entries = append(next.entries, entry)
		next.byClass[entry.ClassID] = append(next.byClass[entry.ClassID], entry)
	}
	sort.Slice(next.entries, func(i, j int) bool {
		if next.entries[i].ClassID != next.entries[j].ClassID {
			return next.entries[i].ClassID < next.entries[j].ClassID
		}
		return next.entries[i].Start.Before(next.entries[j].Start)
	})
	c.current.Store(next)
	if c.onRefresh != nil {
		c.onRefresh(len(next.entries), nil)
	}
	return nil
}

// IsExempt reports whether class has an entry covering now in the latest snapshot.
func (c *Cache) IsExempt(class model.ClassID, now time.Time) bool {
	for _, e := range c.current.Load().byClass[class] {
		if e.Active(now) {
			return true
		}
	}
	return false
}

// Active returns the entries in the latest snapshot that cover now.
func (c *Cache) Active(now time.Time) []model.ExemptionEntry {
	snap := c.current.Load()
	out := make([]model.ExemptionEntry, 0, len(snap.entries))
	for _, e := range snap.entries {
		if e.Active(now) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) FetchedAt() time.Time {
	return c.current.Load().fetchedAt
}

// Run refreshes immediately and then on every interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	_ = c.Refresh(ctx, time.Now())
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_ = c.Refresh(ctx, now)
		}
	}
}
