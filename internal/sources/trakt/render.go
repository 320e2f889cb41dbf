package trakt

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"serverbot/internal/pipeline"
	kit "serverbot/internal/transport"
)

const (
	colorShowFavorite  = 0x328EFE
	colorMovieFavorite = 0xF27F09
	colorDefault       = 0x808080
	colorWeeklyMovies  = 0xFEA232
	colorWeeklyShows   = 0x328EFE
)

var ratingColors = map[int]int{
	1: 0xFF5733, 2: 0x00BFFF, 3: 0x32CD32, 4: 0xFF1493, 5: 0x5D6F31,
	6: 0x8A2BE2, 7: 0xE9967A, 8: 0x2E8B57, 9: 0xFF6347, 10: 0xFFD700,
}

func ratingColor(r int) int {
	if c, ok := ratingColors[r]; ok {
		return c
	}
	return colorDefault
}

var spoilerRe = regexp.MustCompile(`(?s)\[spoiler\](.*?)\[[\\=]?/spoiler\]`)

// convertSpoilers turns Trakt's [spoiler]..[/spoiler] markup into ||..||.
func convertSpoilers(s string) string {
	return spoilerRe.ReplaceAllString(s, "||$1||")
}

// Renderer builds records for the trakt sources.
type Renderer struct {
	UserURL  string
	Username string
}

func (c *Client) Renderer() Renderer {
	return Renderer{UserURL: c.UserURL(), Username: c.Username()}
}

func (rn Renderer) Rating(e pipeline.Event) (kit.Record, error) {
	r, ok := e.Payload.(*Rating)
	if !ok || r == nil {
		return kit.Record{}, fmt.Errorf("trakt rating %s: unexpected payload %T", e.ID, e.Payload)
	}

	rec := kit.Record{
		Color:     ratingColor(r.Rating),
		Timestamp: r.RatedAt,
		Fields: []kit.Field{
			{Name: "Rating", Value: strconv.Itoa(r.Rating) + "/10", Inline: true},
		},
	}
	if rn.UserURL != "" {
		rec.Fields = append(rec.Fields, kit.Field{Name: "User", Value: rn.UserURL, Inline: true})
	}

	switch r.Type {
	case "movie":
		rec.Author = "Trakt - Movie Rated"
		rec.Title = fmt.Sprintf("%s (%d)", r.Movie.Title, r.Movie.Year)
		rec.URL = "https://trakt.tv/movies/" + strconv.FormatInt(r.Movie.IDs.Trakt, 10)
		addIMDB(&rec, r.Movie.IDs.IMDB)
	case "show":
		rec.Author = "Trakt - Show Rated"
		rec.Title = r.Show.Title
		rec.URL = "https://trakt.tv/shows/" + strconv.FormatInt(r.Show.IDs.Trakt, 10)
		addIMDB(&rec, r.Show.IDs.IMDB)
	case "season":
		rec.Author = "Trakt - Season Rated"
		rec.Title = fmt.Sprintf("%s - Season %d", r.Show.Title, r.Season.Number)
		rec.URL = fmt.Sprintf("https://trakt.tv/shows/%d/seasons/%d", r.Show.IDs.Trakt, r.Season.Number)
	case "episode":
		rec.Author = "Trakt - Episode Rated"
		rec.Title = fmt.Sprintf("%s - %s (S%02dE%02d)", r.Show.Title, r.Episode.Title, r.Episode.Season, r.Episode.Number)
		rec.URL = fmt.Sprintf("https://trakt.tv/shows/%d/seasons/%d/episodes/%d", r.Show.IDs.Trakt, r.Episode.Season, r.Episode.Number)
		addIMDB(&rec, r.Episode.IDs.IMDB)
	default:
		return kit.Record{}, fmt.Errorf("trakt rating %s: unknown type %q", e.ID, r.Type)
	}
	return rec, nil
}

func (rn Renderer) Favorite(e pipeline.Event) (kit.Record, error) {
	f, ok := e.Payload.(*Favorite)
	if !ok || f == nil {
		return kit.Record{}, fmt.Errorf("trakt favorite %s: unexpected payload %T", e.ID, e.Payload)
	}

	rec := kit.Record{Timestamp: f.ListedAt}
	if rn.UserURL != "" {
		rec.Fields = append(rec.Fields, kit.Field{Name: "User", Value: rn.UserURL, Inline: true})
	}
	switch f.Type {
	case "movie":
		rec.Author = "Trakt - Movie Favorited"
		rec.Color = colorMovieFavorite
		rec.Title = fmt.Sprintf("%s (%d)", f.Movie.Title, f.Movie.Year)
		rec.URL = "https://trakt.tv/movies/" + strconv.FormatInt(f.Movie.IDs.Trakt, 10)
		addIMDB(&rec, f.Movie.IDs.IMDB)
	case "show":
		rec.Author = "Trakt - Show Favorited"
		rec.Color = colorShowFavorite
		rec.Title = f.Show.Title
		rec.URL = "https://trakt.tv/shows/" + strconv.FormatInt(f.Show.IDs.Trakt, 10)
		addIMDB(&rec, f.Show.IDs.IMDB)
	default:
		return kit.Record{}, fmt.Errorf("trakt favorite %s: unknown type %q", e.ID, f.Type)
	}
	if f.Notes != "" {
		rec.Body = convertSpoilers(f.Notes)
	}
	return rec, nil
}

func addIMDB(rec *kit.Record, id string) {
	if id == "" {
		return
	}
	rec.Fields = append(rec.Fields, kit.Field{Name: "IMDb", Value: "https://www.imdb.com/title/" + id, Inline: true})
}

// Weekly renders one half of a weekly digest.
func (rn Renderer) Weekly(e pipeline.Event) (kit.Record, error) {
	d, ok := e.Payload.(*Digest)
	if !ok || d == nil || d.Week == nil {
		return kit.Record{}, fmt.Errorf("trakt weekly %s: unexpected payload %T", e.ID, e.Payload)
	}
	w := d.Week
	rec := kit.Record{
		Timestamp: w.End,
		Fields: []kit.Field{{
			Name:  "Week",
			Value: w.Start.Format("Mon Jan 02 2006") + " to " + w.End.Format("Mon Jan 02 2006"),
		}},
	}
	var lines []string
	switch d.Kind {
	case "movies":
		n := len(w.Movies)
		rec.Author = fmt.Sprintf("Trakt - Movies watched by %s in Week %d", rn.Username, w.Number)
		rec.Title = fmt.Sprintf("%d %s", n, plural(n, "Movie"))
		rec.Color = colorWeeklyMovies
		rec.URL = rn.historyURL("movies", w)
		for _, m := range w.Movies {
			lines = append(lines, withYear(m))
		}
		if n == 0 {
			lines = append(lines, "No movies watched this week.")
		}
	case "episodes":
		n := w.EpisodeCount()
		rec.Author = fmt.Sprintf("Trakt - Episodes watched by %s in Week %d", rn.Username, w.Number)
		rec.Title = fmt.Sprintf("%d %s", n, plural(n, "Episode"))
		rec.Color = colorWeeklyShows
		rec.URL = rn.historyURL("episodes", w)
		for _, s := range w.Shows {
			lines = append(lines, fmt.Sprintf("%s: %d %s", withYear(s.Show), s.Episodes, plural(s.Episodes, "episode")))
		}
		if n == 0 {
			lines = append(lines, "No episodes watched this week.")
		}
	default:
		return kit.Record{}, fmt.Errorf("trakt weekly %s: unknown kind %q", e.ID, d.Kind)
	}
	rec.Body = strings.Join(lines, "\n")
	return rec, nil
}

func (rn Renderer) historyURL(kind string, w *Week) string {
	if rn.UserURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("start_at", w.Start.Format(historyTimeFmt))
	q.Set("end_at", w.End.Format(historyTimeFmt))
	return rn.UserURL + "/history/" + kind + "/added?" + q.Encode()
}

func withYear(m Media) string {
	if m.Year == 0 {
		return m.Title
	}
	return fmt.Sprintf("%s (%d)", m.Title, m.Year)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
