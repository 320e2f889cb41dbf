package trakt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"serverbot/internal/pipeline"
	logx "serverbot/pkg/logx"
)

const (
	historyPageSize = 100
	historyMaxPages = 50
	historyTimeFmt  = "2006-01-02T15:04:05Z"
)

// Play is one entry of /users/{u}/history.
type Play struct {
	WatchedAt time.Time `json:"watched_at"`
	Type      string    `json:"type"`
	Movie     *Media    `json:"movie,omitempty"`
	Show      *Media    `json:"show,omitempty"`
	Episode   *Episode  `json:"episode,omitempty"`
}

// ShowPlays counts the episodes of one show watched in a week.
type ShowPlays struct {
	Show     Media
	Episodes int
}

// Week summarises the plays of one ISO week, [Start, End) in UTC.
type Week struct {
	Year, Number int
	Start, End   time.Time
	// Movies holds one entry per play, sorted by title.
	Movies []Media
	// Shows is sorted by episode count, most watched first.
	Shows []ShowPlays
}

// Digest is the payload of a weekly event: one of the two halves of a Week.
type Digest struct {
	Kind string // "movies" or "episodes"
	Week *Week
}

// lastWeek returns the bounds of the ISO week before the one holding now.
func lastWeek(now time.Time) (start, end time.Time) {
	now = now.UTC()
	offset := (int(now.Weekday()) + 6) % 7 // days since Monday
	end = time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -7), end
}

// Weekly returns a fetcher that summarises last week's history. It always
// yields the two digests of the previous ISO week, keyed "<year>-W<week>:movies"
// and ":episodes", so a daily schedule posts each week exactly once.
func (c *Client) Weekly() pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context) ([]pipeline.Event, error) {
		start, end := lastWeek(c.now())
		plays, err := c.history(ctx, start, end)
		if err != nil {
			return nil, err
		}
		w := summarize(plays, start, end)
		key := fmt.Sprintf("%d-W%02d", w.Year, w.Number)
		return []pipeline.Event{
			{ID: key + ":movies", Source: pipeline.SourceTraktWeekly, OccurredAt: end.Add(-2 * time.Second), Payload: &Digest{Kind: "movies", Week: w}},
			{ID: key + ":episodes", Source: pipeline.SourceTraktWeekly, OccurredAt: end.Add(-time.Second), Payload: &Digest{Kind: "episodes", Week: w}},
		}, nil
	})
}

// history pages through /users/{u}/history between start and end.
func (c *Client) history(ctx context.Context, start, end time.Time) ([]Play, error) {
	var plays []Play
	for page := 1; page <= historyMaxPages; page++ {
		q := url.Values{}
		q.Set("start_at", start.Format(historyTimeFmt))
		q.Set("end_at", end.Format(historyTimeFmt))
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(historyPageSize))
		items, hdr, err := c.getUser(ctx, "history", q)
		if err != nil {
			return nil, err
		}
		for i, raw := range items {
			var p Play
			if err := json.Unmarshal(raw, &p); err != nil {
				c.log.Warn("skipping play", logx.Int("page", page), logx.Int("index", i), logx.Err(err))
				continue
			}
			plays = append(plays, p)
		}
		if len(items) == 0 {
			break
		}
		if n, err := strconv.Atoi(hdr.Get("X-Pagination-Page-Count")); err == nil && page >= n {
			break
		}
	}
	return plays, nil
}

func summarize(plays []Play, start, end time.Time) *Week {
	year, week := start.ISOWeek()
	w := &Week{Year: year, Number: week, Start: start, End: end}
	counts := map[string]*ShowPlays{}
	for _, p := range plays {
		switch {
		case p.Type == "movie" && p.Movie != nil:
			w.Movies = append(w.Movies, *p.Movie)
		case p.Type == "episode" && p.Show != nil:
			sp, ok := counts[p.Show.Title]
			if !ok {
				sp = &ShowPlays{Show: *p.Show}
				counts[p.Show.Title] = sp
			}
			sp.Episodes++
		}
	}
	sort.SliceStable(w.Movies, func(i, j int) bool { return w.Movies[i].Title < w.Movies[j].Title })
	for _, sp := range counts {
		w.Shows = append(w.Shows, *sp)
	}
	sort.Slice(w.Shows, func(i, j int) bool {
		if w.Shows[i].Episodes != w.Shows[j].Episodes {
			return w.Shows[i].Episodes > w.Shows[j].Episodes
		}
		return w.Shows[i].Show.Title < w.Shows[j].Show.Title
	})
	return w
}

// EpisodeCount is the total number of episode plays.
func (w *Week) EpisodeCount() int {
	n := 0
	for _, s := range w.Shows {
		n += s.Episodes
	}
	return n
}
