// Package engagement tallies reactions, zap receipts and replies for a set
// of notes with one batched relay query.
package engagement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"foodstr/classifier"
	"foodstr/models"
)

// Source is a bounded query against one or more relays.
type Source interface {
	Query(ctx context.Context, filter models.Filter) ([]models.Note, error)
}

// Store caches per-note tallies between requests.
type Store interface {
	GetKV(key string, maxAge time.Duration) (string, bool, error)
	PutKV(key string, value string) error
}

// Counter resolves engagement tallies for note ids. Tallies are cached with
// a short TTL; a failed relay query degrades to zero counts rather than an
// error so the feed itself keeps rendering.
type Counter struct {
	source Source
	store  Store
	ttl    time.Duration
	limit  int
}

func New(source Source, store Store, ttl time.Duration) *Counter {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Counter{
		source: source,
		store:  store,
		ttl:    ttl,
		limit:  1000,
	}
}

func cacheKey(id string) string {
	return "engagement:" + id
}

// Counts returns a tally for every requested id. Ids missing from the cache
// are resolved with a single query covering all of them.
func (c *Counter) Counts(ctx context.Context, ids []string) map[string]models.Engagement {
	ids = lo.Uniq(lo.Filter(ids, func(id string, _ int) bool {
		return id != ""
	}))

	counts := make(map[string]models.Engagement, len(ids))
	var missing []string
	for _, id := range ids {
		if cached, ok := c.fromCache(id); ok {
			counts[id] = cached
			continue
		}
		counts[id] = models.Engagement{}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return counts
	}

	notes, err := c.source.Query(ctx, models.Filter{
		Kinds: []int{models.KindNote, models.KindReaction, models.KindZapReceipt},
		Refs:  missing,
		Limit: c.limit,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"ids":   len(missing),
			"error": err,
		}).Warn("Engagement query failed, serving zero counts")
		return counts
	}

	wanted := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		wanted[id] = struct{}{}
	}

	for _, note := range notes {
		target := targetOf(note)
		if _, ok := wanted[target]; !ok {
			continue
		}
		tally := counts[target]
		switch note.Kind {
		case models.KindReaction:
			tally.Likes++
		case models.KindZapReceipt:
			tally.Zaps++
		case models.KindNote:
			tally.Replies++
		}
		counts[target] = tally
	}

	for _, id := range missing {
		c.toCache(id, counts[id])
	}
	return counts
}

// targetOf extracts the note id an event engages with. Reactions and zap
// receipts point at their subject with the last e tag; replies use the
// threading markers.
func targetOf(note models.Note) string {
	if note.Kind == models.KindNote {
		return classifier.ParentRef(note.Tags)
	}
	target := ""
	for _, tag := range note.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			target = tag[1]
		}
	}
	return target
}

func (c *Counter) fromCache(id string) (models.Engagement, bool) {
	if c.store == nil {
		return models.Engagement{}, false
	}
	raw, ok, err := c.store.GetKV(cacheKey(id), c.ttl)
	if err != nil || !ok {
		return models.Engagement{}, false
	}
	var tally models.Engagement
	if err := json.Unmarshal([]byte(raw), &tally); err != nil {
		return models.Engagement{}, false
	}
	return tally, true
}

func (c *Counter) toCache(id string, tally models.Engagement) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(tally)
	if err != nil {
		return
	}
	if err := c.store.PutKV(cacheKey(id), string(raw)); err != nil {
		log.Debug("Engagement cache write failed: ", err)
	}
}
