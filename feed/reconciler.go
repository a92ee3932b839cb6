package feed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"foodstr/classifier"
	"foodstr/models"
)

// Reconciler owns the feed state for one view. All mutation goes through its
// mutex; callers only ever see copies.
type Reconciler struct {
	cfg   Config
	deps  Deps
	class *classifier.Classifier

	mu          sync.Mutex
	items       []models.Note
	seen        map[string]struct{}
	cursor      int64 // createdAt of the oldest retained note
	lastSeenAt  int64 // createdAt of the newest retained note
	generation  int64
	loading     bool
	loadingMore bool
	refreshing  bool
	exhausted   bool
	failed      bool
	follows     map[string]struct{}
	followList  []string
	mutes       models.MuteList
	pending     []models.Note
	debounce    *time.Timer
	observers   []func(models.MergeEvent)
	liveCancel  context.CancelFunc
}

func New(cfg Config, deps Deps, class *classifier.Classifier) *Reconciler {
	cfg.defaults()
	return &Reconciler{
		cfg:   cfg,
		deps:  deps,
		class: class,
		seen:  make(map[string]struct{}),
		mutes: models.EmptyMuteList(),
	}
}

// OnChange registers an observer invoked with each batch of newly merged
// notes. Observers run outside the state lock.
func (r *Reconciler) OnChange(fn func(models.MergeEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Items returns a copy of the retained notes, newest first.
func (r *Reconciler) Items() []models.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Note, len(r.items))
	copy(out, r.items)
	return out
}

// Failed reports a terminal load error: cache miss plus every source down.
func (r *Reconciler) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Reconciler) snapshotKey() string {
	if r.cfg.Identity == "" {
		return "feed:" + string(r.cfg.Mode)
	}
	return "feed:" + string(r.cfg.Mode) + ":" + r.cfg.Identity
}

// Load populates the feed from scratch: cache first for instant display,
// then all network sources merged after every one has settled. A concurrent
// Load is a no-op. On success the live subscription is started and a
// background refresh scheduled.
func (r *Reconciler) Load(ctx context.Context, useCache bool) error {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return nil
	}
	r.loading = true
	r.failed = false
	gen := r.generation
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
	}()

	mode := r.cfg.Mode.rules()
	allowCache := useCache && mode.useCache && r.deps.Store != nil

	attempt := 0
	operation := func() error {
		// Only the first attempt may serve from cache; retries go to the
		// network directly.
		cacheOK := allowCache && attempt == 0
		attempt++
		return r.loadOnce(ctx, mode, cacheOK, gen)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(r.cfg.RetryDelay),
			uint64(r.cfg.RetryAttempts-1),
		),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		r.mu.Lock()
		r.failed = true
		r.mu.Unlock()
		log.WithFields(log.Fields{
			"mode":  r.cfg.Mode,
			"error": err,
		}).Error("Feed load failed on all sources")
		return err
	}

	r.startLive(ctx)
	r.scheduleRefresh(gen)
	return nil
}

// loadOnce is one attempt at assembling the feed.
func (r *Reconciler) loadOnce(ctx context.Context, mode rules, cacheOK bool, gen int64) error {
	painted := false
	if cacheOK {
		if notes, ok, err := r.deps.Store.GetSnapshot(r.snapshotKey(), r.cfg.CacheTTL); err == nil && ok {
			if _, applied := r.merge(notes, gen, true); applied {
				painted = true
			}
		} else if err != nil {
			log.Warn("Cache read failed: ", err)
		}
	}

	r.resolveSocial(ctx, mode)

	fetches := r.buildFetches(mode, models.Filter{
		Kinds: []int{models.KindNote},
		Limit: r.cfg.PageSize,
	})
	merged, failures := r.runFetches(ctx, fetches)

	if failures == len(fetches) && len(fetches) > 0 && !painted {
		return ErrAllSourcesFailed
	}

	batch := r.qualify(merged, mode)
	if _, applied := r.merge(batch, gen, true); !applied {
		// Stale result: the generation advanced while we were fetching.
		return nil
	}

	r.persist(mode, gen)
	return nil
}

// resolveSocial fills the session follow set and mute lists. Failures leave
// empty sets; they must never block the load.
func (r *Reconciler) resolveSocial(ctx context.Context, mode rules) {
	if r.deps.Graph == nil || r.cfg.Identity == "" {
		return
	}

	if mode.targeted || mode.excludeFollowed {
		follows, err := r.deps.Graph.Follows(ctx, r.cfg.Identity)
		if err != nil {
			log.WithFields(log.Fields{
				"identity": r.cfg.Identity,
				"error":    err,
			}).Warn("Follow set resolution failed")
		}
		set := make(map[string]struct{}, len(follows))
		for _, pk := range follows {
			set[pk] = struct{}{}
		}
		r.mu.Lock()
		r.follows = set
		r.followList = follows
		r.mu.Unlock()
	}

	mutes := r.deps.Graph.Mutes(ctx, r.cfg.Identity)
	r.mu.Lock()
	r.mutes = mutes
	r.mu.Unlock()
}

// buildFetches assembles the source queries for one reconciliation pass:
// the primary targeted query and, for author-unrestricted modes, the broad
// discovery query whose results are classified client-side at fetch time.
func (r *Reconciler) buildFetches(mode rules, base models.Filter) []func(ctx context.Context) ([]models.Note, error) {
	var fetches []func(ctx context.Context) ([]models.Note, error)

	primary := base
	if mode.targeted {
		r.mu.Lock()
		primary.Authors = r.followList
		r.mu.Unlock()
		if len(primary.Authors) == 0 {
			// Nobody followed yet; the targeted query has nothing to ask.
			return fetches
		}
	} else if r.cfg.Topic != "" {
		primary.Topics = []string{r.cfg.Topic}
	}
	fetches = append(fetches, func(ctx context.Context) ([]models.Note, error) {
		return r.deps.Source.Query(ctx, primary)
	})

	if mode.discovery {
		broad := base
		fetches = append(fetches, func(ctx context.Context) ([]models.Note, error) {
			notes, err := r.deps.Source.Query(ctx, broad)
			if err != nil {
				return nil, err
			}
			// The broad query cannot be server-filtered by topic, so the
			// verdict is decided here and the notes marked as verified.
			kept := notes[:0]
			for _, note := range notes {
				if r.class.ClassifyNote(note) {
					note.Discovery = true
					kept = append(kept, note)
				}
			}
			return kept, nil
		})
	}

	return fetches
}

// runFetches executes all source queries concurrently and returns only after
// every one has settled. Failed sources contribute nothing.
func (r *Reconciler) runFetches(ctx context.Context, fetches []func(ctx context.Context) ([]models.Note, error)) ([]models.Note, int) {
	var mu sync.Mutex
	var merged []models.Note
	failures := 0

	var wg sync.WaitGroup
	for _, fetch := range fetches {
		wg.Add(1)
		go func(fetch func(ctx context.Context) ([]models.Note, error)) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
			defer cancel()

			notes, err := fetch(fetchCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithFields(log.Fields{
					"mode":  r.cfg.Mode,
					"error": err,
				}).Warn("Feed source contributed nothing")
				failures++
				return
			}
			merged = append(merged, notes...)
		}(fetch)
	}
	wg.Wait()

	return merged, failures
}

// merge applies a batch to the feed state: dedup against seenIds with the
// first copy winning, re-sort by createdAt descending, recompute the
// pagination cursors. Returns the number of notes added and false when the
// batch was stale (generation mismatch) and discarded.
func (r *Reconciler) merge(batch []models.Note, gen int64, notify bool) (int, bool) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return 0, false
	}

	var added []models.Note
	for _, note := range batch {
		if note.Id == "" {
			continue
		}
		if _, dup := r.seen[note.Id]; dup {
			continue
		}
		r.seen[note.Id] = struct{}{}
		r.items = append(r.items, note)
		added = append(added, note)
	}

	if len(added) > 0 {
		sort.SliceStable(r.items, func(i, j int) bool {
			return r.items[i].CreatedAt > r.items[j].CreatedAt
		})
		r.recomputeCursors()
	}

	var observers []func(models.MergeEvent)
	if notify && len(added) > 0 {
		observers = append(observers, r.observers...)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(models.MergeEvent{Mode: string(r.cfg.Mode), Notes: added})
	}
	return len(added), true
}

// recomputeCursors derives the pagination bounds, skipping notes with a
// missing timestamp rather than letting zeros poison the window math.
// Callers hold the lock.
func (r *Reconciler) recomputeCursors() {
	r.cursor = 0
	r.lastSeenAt = 0
	for _, note := range r.items {
		if note.CreatedAt <= 0 {
			continue
		}
		if r.lastSeenAt == 0 {
			r.lastSeenAt = note.CreatedAt
		}
		r.cursor = note.CreatedAt
	}
}

// persist writes the retained set back to the snapshot cache.
func (r *Reconciler) persist(mode rules, gen int64) {
	if !mode.useCache || r.deps.Store == nil {
		return
	}

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	snapshot := make([]models.Note, len(r.items))
	copy(snapshot, r.items)
	r.mu.Unlock()

	if err := r.deps.Store.PutSnapshot(r.snapshotKey(), snapshot); err != nil {
		log.Warn("Cache write failed: ", err)
	}
}

// LoadMore extends the feed below the cursor with a widening time window so
// a sparse day does not stall pagination. No-op while a previous call is in
// flight or after the window cap came back empty.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	if r.loadingMore || r.exhausted || r.cursor == 0 {
		r.mu.Unlock()
		return nil
	}
	r.loadingMore = true
	gen := r.generation
	until := r.cursor - 1
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.loadingMore = false
		r.mu.Unlock()
	}()

	mode := r.cfg.Mode.rules()
	window := r.cfg.InitialWindow
	totalAdded := 0

	for {
		filter := models.Filter{
			Kinds: []int{models.KindNote},
			Since: until - int64(window/time.Second),
			Until: until,
			Limit: r.cfg.PageSize,
		}

		fetches := r.buildFetches(mode, filter)
		if len(fetches) == 0 {
			return nil
		}
		merged, _ := r.runFetches(ctx, fetches)

		batch := r.qualify(merged, mode)
		added, applied := r.merge(batch, gen, true)
		if !applied {
			return nil
		}
		totalAdded += added

		if totalAdded >= r.cfg.PageSize {
			break
		}
		if window >= r.cfg.MaxWindow {
			if totalAdded == 0 {
				r.mu.Lock()
				r.exhausted = true
				r.mu.Unlock()
			}
			break
		}
		window *= 2
		if window > r.cfg.MaxWindow {
			window = r.cfg.MaxWindow
		}
	}

	r.persist(mode, gen)
	return nil
}

// Subscribe starts the live query for notes newer than the feed head. Load
// calls this on success; calling it again restarts the subscription with the
// current cursor.
func (r *Reconciler) Subscribe(ctx context.Context) {
	r.startLive(ctx)
}

// startLive opens the live subscription for notes newer than the feed head.
// Qualifying notes are enqueued, never applied immediately; the debounced
// flush merges them in one visible update.
func (r *Reconciler) startLive(ctx context.Context) {
	if r.deps.Live == nil {
		return
	}

	r.mu.Lock()
	if r.liveCancel != nil {
		r.liveCancel()
	}
	liveCtx, cancel := context.WithCancel(ctx)
	r.liveCancel = cancel
	since := r.lastSeenAt + 1
	if r.lastSeenAt == 0 {
		since = time.Now().Unix()
	}
	r.mu.Unlock()

	mode := r.cfg.Mode.rules()
	filter := models.Filter{
		Kinds: []int{models.KindNote},
		Since: since,
	}
	if mode.targeted {
		r.mu.Lock()
		filter.Authors = r.followList
		r.mu.Unlock()
		if len(filter.Authors) == 0 {
			cancel()
			return
		}
	} else if r.cfg.Topic != "" {
		filter.Topics = []string{r.cfg.Topic}
	}

	ch, err := r.deps.Live.Subscribe(liveCtx, filter)
	if err != nil {
		log.WithFields(log.Fields{
			"mode":  r.cfg.Mode,
			"error": err,
		}).Warn("Live subscription failed to start")
		cancel()
		return
	}

	go func() {
		for note := range ch {
			if !r.qualifyOne(note, mode) {
				continue
			}
			r.enqueue(note)
		}
		// Teardown: merge whatever is still queued.
		r.FlushBatch()
	}()
}

// enqueue adds a live note to the pending batch and arms the debounce timer.
func (r *Reconciler) enqueue(note models.Note) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, note)
	if r.debounce == nil {
		r.debounce = time.AfterFunc(r.cfg.Debounce, r.FlushBatch)
	} else {
		r.debounce.Reset(r.cfg.Debounce)
	}
}

// FlushBatch merges all enqueued live notes atomically: one re-sort, one
// observer notification, regardless of how many notes the burst carried.
func (r *Reconciler) FlushBatch() {
	r.mu.Lock()
	if r.debounce != nil {
		r.debounce.Stop()
	}
	batch := r.pending
	r.pending = nil
	gen := r.generation
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	r.merge(batch, gen, true)
}

// Refresh discards the feed state and reloads bypassing the cache. Rapid
// repeated calls are ignored while one is in flight. Bumping the generation
// makes any in-flight fetch result stale.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		return nil
	}
	r.refreshing = true
	r.generation++
	r.items = nil
	r.seen = make(map[string]struct{})
	r.cursor = 0
	r.lastSeenAt = 0
	r.exhausted = false
	r.pending = nil
	r.mu.Unlock()

	err := r.Load(ctx, false)

	r.mu.Lock()
	r.refreshing = false
	r.mu.Unlock()
	return err
}

// scheduleRefresh arms a one-shot background refresh that quietly re-fetches
// the network sources unless the generation has moved on.
func (r *Reconciler) scheduleRefresh(gen int64) {
	if r.cfg.RefreshInterval <= 0 {
		return
	}

	time.AfterFunc(r.cfg.RefreshInterval, func() {
		r.mu.Lock()
		stale := gen != r.generation || r.loading
		r.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.QueryTimeout)
		defer cancel()

		mode := r.cfg.Mode.rules()
		if err := r.loadOnce(ctx, mode, false, gen); err != nil {
			log.Debug("Background refresh failed: ", err)
		}
	})
}

// Page serves one page of the retained feed. The cursor names the last note
// of the previous page by timestamp and id, so notes sharing the boundary
// timestamp are not skipped. When the page runs short a backward fetch is
// kicked off in the background for the next request.
func (r *Reconciler) Page(cursor string, limit int) models.FeedPage {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ts, id := parseCursor(cursor)

	r.mu.Lock()
	var page []models.Note
	skipping := ts != 0
	for _, note := range r.items {
		if skipping {
			switch {
			case note.CreatedAt > ts:
				continue
			case note.CreatedAt == ts:
				if note.Id == id {
					skipping = false
				}
				continue
			default:
				// The boundary note is gone; resume below its timestamp.
				skipping = false
			}
		}
		page = append(page, note)
		if len(page) > limit {
			break
		}
	}
	r.mu.Unlock()

	var next *string
	if len(page) > limit {
		page = page[:limit]
		last := page[len(page)-1]
		parsed := fmt.Sprintf("%d:%s", last.CreatedAt, last.Id)
		next = &parsed
	} else {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.QueryTimeout)
			defer cancel()
			if err := r.LoadMore(ctx); err != nil {
				log.Debug("Backward fetch failed: ", err)
			}
		}()
	}

	if page == nil {
		page = []models.Note{}
	}
	return models.FeedPage{Notes: page, Cursor: next}
}

// parseCursor splits the cursor into the boundary note's timestamp and id.
// An invalid cursor means "from the top".
func parseCursor(cursor string) (int64, string) {
	tsPart, id, _ := strings.Cut(cursor, ":")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, ""
	}
	return ts, id
}

// Close tears the reconciler down, flushing any queued live notes first.
func (r *Reconciler) Close() {
	r.FlushBatch()
	r.mu.Lock()
	if r.liveCancel != nil {
		r.liveCancel()
	}
	r.mu.Unlock()
}
