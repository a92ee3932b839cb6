// Package feed reconciles notes from multiple unreliable sources into one
// deduplicated, time-ordered, paginated feed per mode.
package feed

import (
	"context"
	"errors"
	"time"

	"foodstr/models"
)

// Mode selects which sources feed the view and which filters apply.
type Mode string

const (
	ModeGlobal           Mode = "global"
	ModeFollowing        Mode = "following"
	ModeFollowingReplies Mode = "following-replies"
	ModeCurated          Mode = "curated"
)

// ParseMode maps a route segment to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeGlobal, ModeFollowing, ModeFollowingReplies, ModeCurated:
		return Mode(s), true
	}
	return "", false
}

type foodPolicy int

const (
	foodForced foodPolicy = iota // always on
	foodToggle                   // user toggle decides
	foodOff                      // show everything
)

// rules is the per-mode filter matrix.
type rules struct {
	includeReplies  bool
	food            foodPolicy
	excludeFollowed bool
	targeted        bool // restrict the primary query to followed authors
	discovery       bool // add the secondary broad discovery query
	useCache        bool
}

func (m Mode) rules() rules {
	switch m {
	case ModeFollowing:
		return rules{food: foodToggle, targeted: true, useCache: true}
	case ModeFollowingReplies:
		return rules{includeReplies: true, food: foodToggle, targeted: true, useCache: true}
	case ModeCurated:
		return rules{includeReplies: true, food: foodOff}
	default: // ModeGlobal
		return rules{food: foodForced, excludeFollowed: true, discovery: true, useCache: true}
	}
}

// Config carries the reconciler tuning constants; their values come from the
// feed section of the TOML config.
type Config struct {
	Mode            Mode
	Identity        string
	Topic           string
	PageSize        int
	Debounce        time.Duration
	QueryTimeout    time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	InitialWindow   time.Duration
	MaxWindow       time.Duration
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	FoodFilter      bool // toggle respected by the following modes
}

func (c *Config) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 40
	}
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 8 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = 24 * time.Hour
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 30 * 24 * time.Hour
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// Source is a bounded query against one or more relays.
type Source interface {
	Query(ctx context.Context, filter models.Filter) ([]models.Note, error)
}

// LiveSource yields an unbounded stream of notes until the context ends.
type LiveSource interface {
	Subscribe(ctx context.Context, filter models.Filter) (<-chan models.Note, error)
}

// Graph resolves the follow set and mute lists for an identity.
type Graph interface {
	Follows(ctx context.Context, pubkey string) ([]string, error)
	Mutes(ctx context.Context, pubkey string) models.MuteList
}

// Store is the persisted snapshot cache.
type Store interface {
	GetSnapshot(key string, maxAge time.Duration) ([]models.Note, bool, error)
	PutSnapshot(key string, notes []models.Note) error
}

// Deps are the reconciler's collaborators. Graph and Store may be nil; the
// curated mode has no store and anonymous sessions have no graph.
type Deps struct {
	Source Source
	Live   LiveSource
	Graph  Graph
	Store  Store
}

// ErrAllSourcesFailed reports that the cache, every network source and the
// retry loop all came up empty.
var ErrAllSourcesFailed = errors.New("all feed sources failed")
