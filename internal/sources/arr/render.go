package arr

import (
	"fmt"
	"strings"

	"serverbot/internal/pipeline"
	kit "serverbot/internal/transport"
)

const (
	colorGrab     = 0x00FF00
	colorDownload = 0xFFA500
	colorOther    = 0x0099FF
)

func payloadOf(e pipeline.Event) (*Payload, error) {
	p, ok := e.Payload.(*Payload)
	if !ok || p == nil {
		return nil, fmt.Errorf("%s %s: unexpected payload %T", e.Source, e.ID, e.Payload)
	}
	return p, nil
}

func author(p *Payload) string {
	name := p.InstanceName
	if name == "" {
		name = "arr"
	}
	return name + " - " + p.EventType
}

// RenderSonarr is the pipeline.Renderer for sonarr events.
func RenderSonarr(e pipeline.Event) (kit.Record, error) {
	p, err := payloadOf(e)
	if err != nil {
		return kit.Record{}, err
	}
	if p.Series == nil {
		return kit.Record{}, fmt.Errorf("sonarr %s: missing series", e.ID)
	}
	rec := kit.Record{Author: author(p), Timestamp: e.OccurredAt}

	var ep *Episode
	if len(p.Episodes) > 0 {
		ep = &p.Episodes[0]
	}
	switch p.EventType {
	case EventGrab:
		rec.Color = colorGrab
		if ep != nil {
			rec.Title = fmt.Sprintf("%s (S%02dE%02d)", p.Series.Title, ep.SeasonNumber, ep.EpisodeNumber)
			rec.Fields = append(rec.Fields, kit.Field{Name: "Episode", Value: ep.Title})
		} else {
			rec.Title = p.Series.Title
		}
		rec.Fields = append(rec.Fields, releaseFields(p.Release)...)
	case EventDownload:
		rec.Color = colorDownload
		rec.Title = p.Series.Title + " - Downloaded"
		if ep != nil {
			rec.Fields = append(rec.Fields, kit.Field{Name: "Episode", Value: fmt.Sprintf("S%02dE%02d %s", ep.SeasonNumber, ep.EpisodeNumber, ep.Title)})
		}
	default:
		rec.Color = colorOther
		rec.Title = p.Series.Title + " - " + p.EventType
	}
	if p.Series.TVDBID != 0 {
		rec.URL = fmt.Sprintf("https://www.thetvdb.com/?tab=series&id=%d", p.Series.TVDBID)
	}
	return rec, nil
}

// RenderRadarr is the pipeline.Renderer for radarr events.
func RenderRadarr(e pipeline.Event) (kit.Record, error) {
	p, err := payloadOf(e)
	if err != nil {
		return kit.Record{}, err
	}
	if p.Movie == nil {
		return kit.Record{}, fmt.Errorf("radarr %s: missing movie", e.ID)
	}
	rec := kit.Record{Author: author(p), Timestamp: e.OccurredAt}
	switch p.EventType {
	case EventGrab:
		rec.Color = colorGrab
		rec.Title = fmt.Sprintf("%s (%d)", p.Movie.Title, p.Movie.Year)
		rec.Fields = releaseFields(p.Release)
	case EventDownload:
		rec.Color = colorDownload
		rec.Title = p.Movie.Title + " - Downloaded"
	default:
		rec.Color = colorOther
		rec.Title = p.Movie.Title + " - " + p.EventType
	}
	if p.Movie.TMDBID != 0 {
		rec.URL = fmt.Sprintf("https://www.themoviedb.org/movie/%d", p.Movie.TMDBID)
	}
	return rec, nil
}

func releaseFields(r *Release) []kit.Field {
	if r == nil {
		return nil
	}
	fields := []kit.Field{
		{Name: "Size", Value: HumanSize(r.Size), Inline: true},
		{Name: "Quality", Value: r.Quality, Inline: true},
		{Name: "Indexer", Value: r.Indexer, Inline: true},
	}
	if r.ReleaseTitle != "" {
		fields = append(fields, kit.Field{Name: "Release", Value: wrapRelease(r.ReleaseTitle, 40)})
	}
	if len(r.CustomFormats) > 0 {
		fields = append(fields, kit.Field{
			Name:  "Custom Formats",
			Value: fmt.Sprintf("Score: %d, Format: %s", r.CustomFormatScore, strings.Join(r.CustomFormats, ", ")),
		})
	}
	return fields
}

// HumanSize formats bytes as MB below 1 GiB and GB above, two decimals.
func HumanSize(b int64) string {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	if b < gib {
		return fmt.Sprintf("%.2fMB", float64(b)/mib)
	}
	return fmt.Sprintf("%.2fGB", float64(b)/gib)
}

// wrapRelease breaks long release names at the first '-' after width runes.
func wrapRelease(s string, width int) string {
	var (
		lines []string
		cur   []rune
	)
	for _, r := range s {
		if len(cur) >= width && r == '-' {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return strings.Join(lines, "\n")
}
