package social_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodstr/models"
	"foodstr/social"
)

type stubSource struct {
	notes   []models.Note
	err     error
	queries []models.Filter
}

func (s *stubSource) Query(ctx context.Context, filter models.Filter) ([]models.Note, error) {
	s.queries = append(s.queries, filter)
	return s.notes, s.err
}

func TestFollowsAggregatorFastPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/following/pk1", r.URL.Path)
		w.Write([]byte(`{"following":["a","b","c"]}`))
	}))
	defer server.Close()

	source := &stubSource{}
	graph := social.NewGraph(social.NewAggregator(server.URL), source)

	follows, err := graph.Follows(context.Background(), "pk1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, follows)
	// The relay fallback must not be touched when the fast path answers.
	assert.Empty(t, source.queries)

	// Second call is memoized.
	server.Close()
	follows, err = graph.Follows(context.Background(), "pk1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, follows)
}

func TestFollowsRelayFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := &stubSource{
		notes: []models.Note{
			{
				Kind:      models.KindContacts,
				CreatedAt: 100,
				Tags: [][]string{
					{"p", "a"}, {"p", "b"}, {"p", "a"}, {"t", "nope"},
				},
			},
		},
	}
	graph := social.NewGraph(social.NewAggregator(server.URL), source)

	follows, err := graph.Follows(context.Background(), "pk1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, follows)

	require.Len(t, source.queries, 1)
	assert.Equal(t, []int{models.KindContacts}, source.queries[0].Kinds)
	assert.Equal(t, []string{"pk1"}, source.queries[0].Authors)
}

func TestFollowsNoContactList(t *testing.T) {
	source := &stubSource{}
	graph := social.NewGraph(nil, source)

	follows, err := graph.Follows(context.Background(), "pk1")
	require.NoError(t, err)
	assert.Empty(t, follows)
}

func TestMutesParsesAllSets(t *testing.T) {
	source := &stubSource{
		notes: []models.Note{
			{
				Kind:      models.KindMuteList,
				CreatedAt: 100,
				Tags: [][]string{
					{"p", "muted-author"},
					{"t", "muted-tag"},
					{"e", "muted-thread"},
					{"word", "casino"},
				},
			},
		},
	}
	graph := social.NewGraph(nil, source)

	mutes := graph.Mutes(context.Background(), "pk1")
	assert.Contains(t, mutes.Authors, "muted-author")
	assert.Contains(t, mutes.Tags, "muted-tag")
	assert.Contains(t, mutes.Threads, "muted-thread")
	assert.Equal(t, []string{"casino"}, mutes.Words)
}

func TestMutesDegradesToEmpty(t *testing.T) {
	source := &stubSource{err: errors.New("all relays down")}
	graph := social.NewGraph(nil, source)

	mutes := graph.Mutes(context.Background(), "pk1")
	assert.Empty(t, mutes.Authors)
	assert.Empty(t, mutes.Words)
	assert.Empty(t, mutes.Tags)
	assert.Empty(t, mutes.Threads)
}
