// Package social resolves the follow graph and mute lists for an identity,
// with a fast aggregator path and an authoritative relay fallback.
package social

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"foodstr/models"
)

// Source is the bounded relay query the resolver falls back to.
type Source interface {
	Query(ctx context.Context, filter models.Filter) ([]models.Note, error)
}

type Graph struct {
	aggregator *Aggregator // optional fast path
	source     Source
	memo       *gocache.Cache
}

func NewGraph(aggregator *Aggregator, source Source) *Graph {
	return &Graph{
		aggregator: aggregator,
		source:     source,
		memo:       gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// Follows returns the followed pubkeys for an identity, memoized for the
// session. Tries the aggregator first, then the relay kind 3 contact list.
func (g *Graph) Follows(ctx context.Context, pubkey string) ([]string, error) {
	key := "follows:" + pubkey
	if cached, ok := g.memo.Get(key); ok {
		return cached.([]string), nil
	}

	if g.aggregator != nil {
		follows, err := g.aggregator.Following(ctx, pubkey)
		if err == nil {
			g.memo.SetDefault(key, follows)
			return follows, nil
		}
		log.WithFields(log.Fields{
			"pubkey": pubkey,
			"error":  err,
		}).Warn("Aggregator follow lookup failed, falling back to relays")
	}

	notes, err := g.source.Query(ctx, models.Filter{
		Kinds:   []int{models.KindContacts},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		g.memo.SetDefault(key, []string{})
		return []string{}, nil
	}

	// Contact lists are replaceable events; the newest one wins.
	latest := lo.MaxBy(notes, func(a models.Note, b models.Note) bool {
		return a.CreatedAt > b.CreatedAt
	})

	follows := []string{}
	for _, tag := range latest.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			follows = append(follows, tag[1])
		}
	}
	follows = lo.Uniq(follows)

	g.memo.SetDefault(key, follows)
	return follows, nil
}

// Mutes returns the mute sets for an identity from its kind 10000 list.
// Failures degrade to empty sets so a missing mute list never blocks a feed.
func (g *Graph) Mutes(ctx context.Context, pubkey string) models.MuteList {
	key := "mutes:" + pubkey
	if cached, ok := g.memo.Get(key); ok {
		return cached.(models.MuteList)
	}

	mutes := models.EmptyMuteList()

	notes, err := g.source.Query(ctx, models.Filter{
		Kinds:   []int{models.KindMuteList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"pubkey": pubkey,
			"error":  err,
		}).Warn("Mute list lookup failed, continuing without mutes")
		return mutes
	}
	if len(notes) == 0 {
		g.memo.SetDefault(key, mutes)
		return mutes
	}

	latest := lo.MaxBy(notes, func(a models.Note, b models.Note) bool {
		return a.CreatedAt > b.CreatedAt
	})

	for _, tag := range latest.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "p":
			mutes.Authors[tag[1]] = struct{}{}
		case "t":
			mutes.Tags[tag[1]] = struct{}{}
		case "e":
			mutes.Threads[tag[1]] = struct{}{}
		case "word":
			mutes.Words = append(mutes.Words, tag[1])
		}
	}

	g.memo.SetDefault(key, mutes)
	return mutes
}
