package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"serverbot/internal/pipeline"
	logx "serverbot/pkg/logx"
)

// Rating is one entry of /users/{u}/ratings.
type Rating struct {
	RatedAt time.Time `json:"rated_at"`
	Rating  int       `json:"rating"`
	Type    string    `json:"type"`
	Movie   *Media    `json:"movie,omitempty"`
	Show    *Media    `json:"show,omitempty"`
	Season  *Season   `json:"season,omitempty"`
	Episode *Episode  `json:"episode,omitempty"`
}

// Favorite is one entry of /users/{u}/favorites.
type Favorite struct {
	ListedAt time.Time `json:"listed_at"`
	Type     string    `json:"type"`
	Notes    string    `json:"notes,omitempty"`
	Movie    *Media    `json:"movie,omitempty"`
	Show     *Media    `json:"show,omitempty"`
}

var errMalformed = errors.New("malformed item")

// id returns "<type>:<trakt id>" for the rated object.
func (r Rating) id() (string, error) {
	var tid int64
	switch r.Type {
	case "movie":
		if r.Movie != nil {
			tid = r.Movie.IDs.Trakt
		}
	case "show":
		if r.Show != nil {
			tid = r.Show.IDs.Trakt
		}
	case "season":
		if r.Show != nil && r.Season != nil {
			tid = r.Season.IDs.Trakt
		}
	case "episode":
		if r.Show != nil && r.Episode != nil {
			tid = r.Episode.IDs.Trakt
		}
	default:
		return "", fmt.Errorf("%w: unknown type %q", errMalformed, r.Type)
	}
	if tid == 0 {
		return "", fmt.Errorf("%w: %s without ids", errMalformed, r.Type)
	}
	if r.RatedAt.IsZero() {
		return "", fmt.Errorf("%w: missing rated_at", errMalformed)
	}
	return r.Type + ":" + strconv.FormatInt(tid, 10), nil
}

func (f Favorite) id() (string, error) {
	var tid int64
	switch f.Type {
	case "movie":
		if f.Movie != nil {
			tid = f.Movie.IDs.Trakt
		}
	case "show":
		if f.Show != nil {
			tid = f.Show.IDs.Trakt
		}
	default:
		return "", fmt.Errorf("%w: unknown type %q", errMalformed, f.Type)
	}
	if tid == 0 {
		return "", fmt.Errorf("%w: %s without ids", errMalformed, f.Type)
	}
	if f.ListedAt.IsZero() {
		return "", fmt.Errorf("%w: missing listed_at", errMalformed)
	}
	return f.Type + ":" + strconv.FormatInt(tid, 10), nil
}

// legacyIDs maps "<type>:<trakt id>" onto the bare trakt id older seen sets
// were keyed by.
func legacyIDs(id string) []string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return []string{id[i+1:]}
	}
	return nil
}

// Ratings returns a fetcher for the user's ratings.
func (c *Client) Ratings() pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context) ([]pipeline.Event, error) {
		items, err := c.listUser(ctx, "ratings")
		if err != nil {
			return nil, err
		}
		out := make([]pipeline.Event, 0, len(items))
		for i, raw := range items {
			var r Rating
			if err := json.Unmarshal(raw, &r); err != nil {
				c.log.Warn("skipping rating", logx.Int("index", i), logx.Err(err))
				continue
			}
			id, err := r.id()
			if err != nil {
				c.log.Warn("skipping rating", logx.Int("index", i), logx.Err(err))
				continue
			}
			out = append(out, pipeline.Event{
				ID:         id,
				Source:     pipeline.SourceTraktRatings,
				OccurredAt: r.RatedAt,
				LegacyIDs:  legacyIDs(id),
				Payload:    &r,
			})
		}
		return out, nil
	})
}

// Favorites returns a fetcher for the user's favorites.
func (c *Client) Favorites() pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context) ([]pipeline.Event, error) {
		items, err := c.listUser(ctx, "favorites")
		if err != nil {
			return nil, err
		}
		out := make([]pipeline.Event, 0, len(items))
		for i, raw := range items {
			var f Favorite
			if err := json.Unmarshal(raw, &f); err != nil {
				c.log.Warn("skipping favorite", logx.Int("index", i), logx.Err(err))
				continue
			}
			id, err := f.id()
			if err != nil {
				c.log.Warn("skipping favorite", logx.Int("index", i), logx.Err(err))
				continue
			}
			out = append(out, pipeline.Event{
				ID:         id,
				Source:     pipeline.SourceTraktFavorites,
				OccurredAt: f.ListedAt,
				LegacyIDs:  legacyIDs(id),
				Payload:    &f,
			})
		}
		return out, nil
	})
}
