package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodstr/models"
	"foodstr/server"
)

type stubProvider struct {
	page   models.FeedPage
	failed bool

	cursor string
	limit  int
}

func (s *stubProvider) Page(cursor string, limit int) models.FeedPage {
	s.cursor = cursor
	s.limit = limit
	return s.page
}

func (s *stubProvider) Failed() bool {
	return s.failed
}

type stubCounter struct {
	counts map[string]models.Engagement
	ids    []string
}

func (s *stubCounter) Counts(ctx context.Context, ids []string) map[string]models.Engagement {
	s.ids = ids
	return s.counts
}

func newApp(provider *stubProvider, counter *stubCounter) *server.ServerConfig {
	cfg := &server.ServerConfig{
		Hostname:    "feeds.example.com",
		Feeds:       map[string]server.FeedProvider{"global": provider},
		Broadcaster: server.NewBroadcaster(),
	}
	if counter != nil {
		cfg.Engagement = counter
	}
	return cfg
}

func TestHealthz(t *testing.T) {
	app := server.Server(newApp(&stubProvider{}, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestFeedPage(t *testing.T) {
	cursor := "90"
	provider := &stubProvider{page: models.FeedPage{
		Notes: []models.Note{
			{Id: "a", Kind: models.KindNote, CreatedAt: 100, Text: "dinner"},
		},
		Cursor: &cursor,
	}}
	app := server.Server(newApp(provider, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/feed/global?cursor=150&limit=1", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	assert.Equal(t, "150", provider.cursor)
	assert.Equal(t, 1, provider.limit)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var page models.FeedPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Notes, 1)
	assert.Equal(t, "a", page.Notes[0].Id)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "90", *page.Cursor)
}

func TestFeedPageClampsLimit(t *testing.T) {
	provider := &stubProvider{}
	app := server.Server(newApp(provider, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/feed/global?limit=9000", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 20, provider.limit)
}

func TestFeedUnknownMode(t *testing.T) {
	app := server.Server(newApp(&stubProvider{}, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/feed/trending", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestFeedUnavailableWhenSourcesDown(t *testing.T) {
	app := server.Server(newApp(&stubProvider{failed: true}, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/feed/global", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestEngagement(t *testing.T) {
	counter := &stubCounter{counts: map[string]models.Engagement{
		"a": {Likes: 2, Zaps: 1},
		"b": {},
	}}
	app := server.Server(newApp(&stubProvider{}, counter))

	resp, err := app.Test(httptest.NewRequest("GET", "/engagement?ids=a,b", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"a", "b"}, counter.ids)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var counts map[string]models.Engagement
	require.NoError(t, json.Unmarshal(body, &counts))
	assert.Equal(t, int64(2), counts["a"].Likes)
}

func TestEngagementMissingIds(t *testing.T) {
	app := server.Server(newApp(&stubProvider{}, &stubCounter{}))

	resp, err := app.Test(httptest.NewRequest("GET", "/engagement", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestBroadcasterRoutesByMode(t *testing.T) {
	bc := server.NewBroadcaster()

	global := make(chan models.MergeEvent, 1)
	curated := make(chan models.MergeEvent, 1)
	bc.AddClient("g", "global", global)
	bc.AddClient("c", "curated", curated)

	bc.Broadcast(models.MergeEvent{Mode: "global", Notes: []models.Note{{Id: "a"}}})

	select {
	case ev := <-global:
		require.Len(t, ev.Notes, 1)
		assert.Equal(t, "a", ev.Notes[0].Id)
	default:
		t.Fatal("global client did not receive the event")
	}

	select {
	case <-curated:
		t.Fatal("curated client received a global event")
	default:
	}

	bc.RemoveClient("g")
	_, open := <-global
	assert.False(t, open)
}
