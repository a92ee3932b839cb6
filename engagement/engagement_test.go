package engagement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodstr/engagement"
	"foodstr/models"
)

type stubSource struct {
	mu      sync.Mutex
	notes   []models.Note
	err     error
	filters []models.Filter
}

func (s *stubSource) Query(ctx context.Context, filter models.Filter) ([]models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return s.notes, s.err
}

type memStore struct {
	mu sync.Mutex
	kv map[string]string
}

func newMemStore() *memStore {
	return &memStore{kv: make(map[string]string)}
}

func (m *memStore) GetKV(key string, maxAge time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *memStore) PutKV(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func reaction(target string) models.Note {
	return models.Note{
		Id:   "reaction-on-" + target,
		Kind: models.KindReaction,
		Tags: [][]string{{"e", target}, {"p", "someone"}},
	}
}

func zap(target string) models.Note {
	return models.Note{
		Id:   "zap-on-" + target,
		Kind: models.KindZapReceipt,
		Tags: [][]string{{"p", "someone"}, {"e", target}},
	}
}

func reply(id, target string) models.Note {
	return models.Note{
		Id:   id,
		Kind: models.KindNote,
		Tags: [][]string{{"e", target, "", "reply"}},
	}
}

func TestCountsTalliesByKind(t *testing.T) {
	source := &stubSource{notes: []models.Note{
		reaction("a"),
		reaction("a"),
		zap("a"),
		reply("r1", "a"),
		zap("b"),
		reaction("unrelated"),
	}}
	counter := engagement.New(source, nil, time.Minute)

	counts := counter.Counts(context.Background(), []string{"a", "b", "c"})

	require.Len(t, counts, 3)
	assert.Equal(t, models.Engagement{Likes: 2, Zaps: 1, Replies: 1}, counts["a"])
	assert.Equal(t, models.Engagement{Zaps: 1}, counts["b"])
	assert.Equal(t, models.Engagement{}, counts["c"])

	require.Len(t, source.filters, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, source.filters[0].Refs)
	assert.ElementsMatch(t, []int{models.KindNote, models.KindReaction, models.KindZapReceipt}, source.filters[0].Kinds)
}

func TestCountsDedupesAndSkipsEmptyIds(t *testing.T) {
	source := &stubSource{}
	counter := engagement.New(source, nil, time.Minute)

	counts := counter.Counts(context.Background(), []string{"a", "a", "", "a"})

	require.Len(t, counts, 1)
	require.Len(t, source.filters, 1)
	assert.Equal(t, []string{"a"}, source.filters[0].Refs)
}

func TestCountsServesCachedTallies(t *testing.T) {
	source := &stubSource{notes: []models.Note{reaction("a")}}
	store := newMemStore()
	counter := engagement.New(source, store, time.Minute)

	first := counter.Counts(context.Background(), []string{"a"})
	assert.Equal(t, models.Engagement{Likes: 1}, first["a"])

	// Second call must come entirely from the cache.
	second := counter.Counts(context.Background(), []string{"a"})
	assert.Equal(t, first["a"], second["a"])
	assert.Len(t, source.filters, 1)
}

func TestCountsDegradesToZeroOnQueryFailure(t *testing.T) {
	source := &stubSource{err: errors.New("relay down")}
	counter := engagement.New(source, nil, time.Minute)

	counts := counter.Counts(context.Background(), []string{"a", "b"})

	require.Len(t, counts, 2)
	assert.Equal(t, models.Engagement{}, counts["a"])
	assert.Equal(t, models.Engagement{}, counts["b"])
}

func TestRepliesUseThreadMarkers(t *testing.T) {
	// A quote that merely mentions the note must not count as a reply.
	mention := models.Note{
		Id:   "q",
		Kind: models.KindNote,
		Tags: [][]string{{"e", "a", "", "mention"}},
	}
	source := &stubSource{notes: []models.Note{mention, reply("r", "a")}}
	counter := engagement.New(source, nil, time.Minute)

	counts := counter.Counts(context.Background(), []string{"a"})
	assert.Equal(t, models.Engagement{Replies: 1}, counts["a"])
}
