package trakt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverbot/internal/pipeline"
	logx "serverbot/pkg/logx"
)

const ratingsJSON = `[
  {"rated_at":"2024-03-10T11:30:00.000Z","rating":9,"type":"movie",
   "movie":{"title":"Dune","year":2021,"ids":{"trakt":1,"imdb":"tt1160419"}}},
  {"rated_at":"2024-03-10T11:40:00.000Z","rating":7,"type":"episode",
   "show":{"title":"Severance","year":2022,"ids":{"trakt":2}},
   "episode":{"season":1,"number":3,"title":"In Perpetuity","ids":{"trakt":30}}},
  {"rated_at":"2024-03-10T11:50:00.000Z","rating":8,"type":"season",
   "show":{"title":"Severance","year":2022,"ids":{"trakt":2}},
   "season":{"number":2,"ids":{"trakt":40}}},
  {"rated_at":"2024-03-10T11:55:00.000Z","rating":"ten","type":"movie"},
  {"rated_at":"2024-03-10T11:56:00.000Z","rating":5,"type":"person"},
  {"rating":5,"type":"show","show":{"title":"x","ids":{"trakt":9}}}
]`

const favoritesJSON = `[
  {"listed_at":"2024-03-09T20:00:00.000Z","type":"show","notes":"The [spoiler]ending[/spoiler] rules",
   "show":{"title":"Andor","year":2022,"ids":{"trakt":5,"imdb":"tt9253284"}}},
  {"listed_at":"2024-03-09T21:00:00.000Z","type":"movie","movie":{"title":"Heat","year":1995,"ids":{}}}
]`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{ClientID: "cid", Username: "alice", BaseURL: srv.URL, Timeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestRatingsSkipsMalformedItems(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/ratings", r.URL.Path)
		assert.Equal(t, "2", r.Header.Get("trakt-api-version"))
		assert.Equal(t, "cid", r.Header.Get("trakt-api-key"))
		_, _ = w.Write([]byte(ratingsJSON))
	})

	events, err := c.Ratings().Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "movie:1", events[0].ID)
	assert.Equal(t, "episode:30", events[1].ID)
	assert.Equal(t, "season:40", events[2].ID)
	assert.Equal(t, []string{"1"}, events[0].LegacyIDs)
	assert.Equal(t, []string{"40"}, events[2].LegacyIDs)
	assert.Equal(t, pipeline.SourceTraktRatings, events[0].Source)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 30, 0, 0, time.UTC), events[0].OccurredAt.UTC())
	assert.Empty(t, events[0].GroupKey)
}

func TestFavoritesSkipsItemsWithoutIDs(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/favorites", r.URL.Path)
		_, _ = w.Write([]byte(favoritesJSON))
	})

	events, err := c.Favorites().Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "show:5", events[0].ID)

	rec, err := c.Renderer().Favorite(events[0])
	require.NoError(t, err)
	assert.Equal(t, "Andor", rec.Title)
	assert.Equal(t, "Trakt - Show Favorited", rec.Author)
	assert.Equal(t, "The ||ending|| rules", rec.Body)
}

func TestFetchErrorOnBadStatus(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	_, err := c.Ratings().Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchHonoursTimeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := New(Config{ClientID: "cid", Username: "alice", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)

	begin := time.Now()
	_, err = c.Ratings().Fetch(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestRenderRatingEpisode(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ratingsJSON))
	})
	events, err := c.Ratings().Fetch(context.Background())
	require.NoError(t, err)

	rec, err := c.Renderer().Rating(events[1])
	require.NoError(t, err)
	assert.Equal(t, "Severance - In Perpetuity (S01E03)", rec.Title)
	assert.Equal(t, "Trakt - Episode Rated", rec.Author)
	assert.Equal(t, ratingColor(7), rec.Color)
	assert.Equal(t, "https://trakt.tv/shows/2/seasons/1/episodes/3", rec.URL)
	assert.Equal(t, "7/10", rec.Fields[0].Value)
}

func TestRenderRejectsWrongPayload(t *testing.T) {
	t.Parallel()
	_, err := Renderer{}.Rating(pipeline.Event{ID: "x", Payload: "nope"})
	require.Error(t, err)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Username: "alice"}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{ClientID: "cid"}, logx.Nop())
	require.Error(t, err)
}

func TestConvertSpoilers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a ||b|| c ||d||", convertSpoilers(`a [spoiler]b[/spoiler] c [spoiler]d[\/spoiler]`))
}

const historyPage1 = `[
  {"watched_at":"2024-03-05T20:00:00.000Z","type":"movie","movie":{"title":"Heat","year":1995,"ids":{"trakt":7}}},
  {"watched_at":"2024-03-06T20:00:00.000Z","type":"episode","show":{"title":"Andor","year":2022,"ids":{"trakt":5}},
   "episode":{"season":1,"number":1,"title":"Kassa","ids":{"trakt":51}}}
]`

const historyPage2 = `[
  {"watched_at":"2024-03-07T20:00:00.000Z","type":"episode","show":{"title":"Andor","year":2022,"ids":{"trakt":5}},
   "episode":{"season":1,"number":2,"title":"That Would Be Me","ids":{"trakt":52}}},
  {"watched_at":"2024-03-08T20:00:00.000Z","type":"episode","show":{"title":"Severance","year":2022,"ids":{"trakt":2}},
   "episode":{"season":1,"number":1,"title":"Good News About Hell","ids":{"trakt":21}}},
  {"watched_at":"2024-03-09T20:00:00.000Z","type":"movie","movie":{"title":"Dune","year":2021,"ids":{"trakt":1}}},
  {"watched_at":"broken","type":"movie"}
]`

func TestLastWeekIsPreviousISOWeek(t *testing.T) {
	t.Parallel()
	for _, now := range []time.Time{
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),   // Monday midnight
		time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC),  // Wednesday
		time.Date(2024, 3, 17, 23, 59, 0, 0, time.UTC), // Sunday night
	} {
		start, end := lastWeek(now)
		assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), start, now)
		assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), end, now)
	}
}

func TestWeeklyPagesHistoryAndSummarizes(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		pages []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/history", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-03-04T00:00:00Z", q.Get("start_at"))
		assert.Equal(t, "2024-03-11T00:00:00Z", q.Get("end_at"))
		mu.Lock()
		pages = append(pages, q.Get("page"))
		mu.Unlock()
		w.Header().Set("X-Pagination-Page-Count", "2")
		if q.Get("page") == "1" {
			_, _ = w.Write([]byte(historyPage1))
			return
		}
		_, _ = w.Write([]byte(historyPage2))
	})
	c.now = func() time.Time { return time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC) }

	events, err := c.Weekly().Fetch(context.Background())
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, pages)
	mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "2024-W10:movies", events[0].ID)
	assert.Equal(t, "2024-W10:episodes", events[1].ID)
	assert.True(t, events[0].OccurredAt.Before(events[1].OccurredAt), "movies are posted first")

	w := events[0].Payload.(*Digest).Week
	require.Len(t, w.Movies, 2)
	assert.Equal(t, "Dune", w.Movies[0].Title)
	require.Len(t, w.Shows, 2)
	assert.Equal(t, ShowPlays{Show: Media{Title: "Andor", Year: 2022, IDs: IDs{Trakt: 5}}, Episodes: 2}, w.Shows[0])
	assert.Equal(t, 3, w.EpisodeCount())

	rn := c.Renderer()
	rec, err := rn.Weekly(events[0])
	require.NoError(t, err)
	assert.Equal(t, "2 Movies", rec.Title)
	assert.Equal(t, "Trakt - Movies watched by alice in Week 10", rec.Author)
	assert.Equal(t, "Dune (2021)\nHeat (1995)", rec.Body)
	assert.Equal(t, "Mon Mar 04 2024 to Mon Mar 11 2024", rec.Fields[0].Value)
	assert.Contains(t, rec.URL, "https://trakt.tv/users/alice/history/movies/added?")

	rec, err = rn.Weekly(events[1])
	require.NoError(t, err)
	assert.Equal(t, "3 Episodes", rec.Title)
	assert.Equal(t, "Andor (2022): 2 episodes\nSeverance (2022): 1 episode", rec.Body)
}

func TestWeeklyEmptyHistory(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	events, err := c.Weekly().Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	rec, err := c.Renderer().Weekly(events[1])
	require.NoError(t, err)
	assert.Equal(t, "0 Episodes", rec.Title)
	assert.Equal(t, "No episodes watched this week.", rec.Body)
}
