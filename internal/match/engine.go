package match

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lostlink/internal/bus"
	"lostlink/internal/notify"
)

// Finder queries the matching service for candidate matches of one item.
// The response shape is not fixed; Normalize handles the known variants.
type Finder interface {
	FindMatches(ctx context.Context, itemID string) (json.RawMessage, error)
}

// Source lists the current user's open items.
type Source interface {
	Items(ctx context.Context) ([]Item, error)
}

// Engine periodically reconciles the user's items against the matching
// service and feeds accepted matches into the notification store with
// newest-wins semantics.
type Engine struct {
	source      Source
	finder      Finder
	store       *notify.Store
	bus         *bus.Bus
	logger      *zap.Logger
	minScore    int
	concurrency int
	interval    time.Duration
	cancel      context.CancelFunc
}

// NewEngine creates a reconciliation engine. minScore is the confidence
// floor in percent; concurrency bounds parallel finder queries.
func NewEngine(source Source, finder Finder, store *notify.Store, b *bus.Bus, logger *zap.Logger, minScore, concurrency int, interval time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		source:      source,
		finder:      finder,
		store:       store,
		bus:         b,
		logger:      logger,
		minScore:    minScore,
		concurrency: concurrency,
		interval:    interval,
	}
}

// Start begins the periodic reconciliation loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(ctx)
}

// Stop stops the loop. In-flight passes run to completion and apply
// their results against whatever state exists then.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runPass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) runPass(ctx context.Context) {
	items, err := e.source.Items(ctx)
	if err != nil {
		e.logger.Error("failed to list items for reconciliation", zap.Error(err))
		return
	}
	e.Reconcile(context.WithoutCancel(ctx), items)
}

// Reconcile queries the matching service for every non-resolved item and
// applies accepted matches to the store. Queries run concurrently but
// results apply in input order, so repeated passes over the same data
// are deterministic. Finder failures are logged and skipped; they never
// abort the pass. Returns the number of matches applied.
func (e *Engine) Reconcile(ctx context.Context, items []Item) int {
	pass := uuid.NewString()
	logger := e.logger.With(zap.String("pass", pass))

	results := make([][]Candidate, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, item := range items {
		if item.Resolved() {
			continue
		}
		i, item := i, item
		g.Go(func() error {
			raw, err := e.finder.FindMatches(gctx, item.ID)
			if err != nil {
				logger.Warn("match query failed",
					zap.String("item_id", item.ID), zap.Error(err))
				return nil
			}
			results[i] = Normalize(raw)
			return nil
		})
	}
	_ = g.Wait()

	applied := 0
	seen := make(map[string]bool)
	for i, item := range items {
		for _, c := range results[i] {
			if c.Score < e.minScore {
				continue
			}
			key := item.ID + "|" + c.Item.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			e.store.Replace(e.notification(item, c))
			applied++
		}
	}

	logger.Info("reconciliation pass complete",
		zap.Int("items", len(items)), zap.Int("applied", applied))
	if e.bus != nil {
		e.bus.Emit("reconcile.completed", map[string]int{
			"items": len(items), "applied": applied,
		})
	}
	return applied
}

func (e *Engine) notification(item Item, c Candidate) notify.Notification {
	return notify.Notification{
		Type:    notify.TypeMatch,
		Title:   "Possible match found",
		Message: fmt.Sprintf("%q may match your item %q (%d%% similar)", c.Item.Name, item.Name, c.Score),
		Data: &notify.MatchData{
			SourceItemID:     item.ID,
			SourceItemName:   item.Name,
			MatchedItemID:    c.Item.ID,
			MatchedItemName:  c.Item.Name,
			MatchedItemImage: c.Item.ImageURL,
			Score:            c.Score,
		},
	}
}
