// Package arr parses Sonarr and Radarr webhook payloads into pipeline events.
//
// Grab events are merge-capable: repeated grabs for the same series season
// (Sonarr) or movie (Radarr) share a group key and land in one message.
// Every other event type is a standalone notification.
package arr

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"serverbot/internal/pipeline"
)

// ErrTestEvent is returned for the "Test" event both apps send when a
// connection is saved. It carries nothing to announce.
var ErrTestEvent = errors.New("arr: test event")

const (
	EventGrab     = "Grab"
	EventDownload = "Download"
	EventTest     = "Test"
)

type Series struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	TVDBID int64  `json:"tvdbId"`
	IMDBID string `json:"imdbId,omitempty"`
	Path   string `json:"path,omitempty"`
}

type Episode struct {
	ID            int64  `json:"id"`
	EpisodeNumber int    `json:"episodeNumber"`
	SeasonNumber  int    `json:"seasonNumber"`
	Title         string `json:"title"`
}

type Movie struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Year   int    `json:"year"`
	TMDBID int64  `json:"tmdbId"`
	IMDBID string `json:"imdbId,omitempty"`
}

type Release struct {
	Quality           string   `json:"quality"`
	Size              int64    `json:"size"`
	ReleaseTitle      string   `json:"releaseTitle"`
	Indexer           string   `json:"indexer"`
	CustomFormatScore int      `json:"customFormatScore"`
	CustomFormats     []string `json:"customFormats"`
}

// Payload is the subset of the Sonarr/Radarr webhook body we use.
type Payload struct {
	EventType      string    `json:"eventType"`
	InstanceName   string    `json:"instanceName"`
	DownloadClient string    `json:"downloadClient,omitempty"`
	DownloadID     string    `json:"downloadId,omitempty"`
	Series         *Series   `json:"series,omitempty"`
	Episodes       []Episode `json:"episodes,omitempty"`
	Movie          *Movie    `json:"movie,omitempty"`
	Release        *Release  `json:"release,omitempty"`
}

func decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("arr: decode: %w", err)
	}
	p.EventType = strings.TrimSpace(p.EventType)
	if p.EventType == "" {
		return nil, errors.New("arr: missing eventType")
	}
	if p.EventType == EventTest {
		return nil, ErrTestEvent
	}
	return &p, nil
}

// ParseSonarr builds an event from a Sonarr webhook body. The payload carries
// no event time, so receivedAt is used.
func ParseSonarr(raw []byte, receivedAt time.Time) (pipeline.Event, error) {
	p, err := decode(raw)
	if err != nil {
		return pipeline.Event{}, err
	}
	if p.Series == nil || p.Series.ID == 0 {
		return pipeline.Event{}, errors.New("sonarr: missing series")
	}

	e := pipeline.Event{
		Source:     pipeline.SourceSonarr,
		OccurredAt: receivedAt,
		Payload:    p,
	}
	if p.DownloadID != "" {
		e.ID = p.EventType + ":" + p.DownloadID
	} else {
		e.ID = p.EventType + ":" + sonarrEntityKey(p)
	}
	if p.EventType == EventGrab {
		season := 0
		if len(p.Episodes) > 0 {
			season = p.Episodes[0].SeasonNumber
		}
		e.GroupKey = fmt.Sprintf("sonarr:%d:s%d", p.Series.ID, season)
	}
	return e, nil
}

// ParseRadarr builds an event from a Radarr webhook body.
func ParseRadarr(raw []byte, receivedAt time.Time) (pipeline.Event, error) {
	p, err := decode(raw)
	if err != nil {
		return pipeline.Event{}, err
	}
	if p.Movie == nil || p.Movie.ID == 0 {
		return pipeline.Event{}, errors.New("radarr: missing movie")
	}

	e := pipeline.Event{
		Source:     pipeline.SourceRadarr,
		OccurredAt: receivedAt,
		Payload:    p,
	}
	if p.DownloadID != "" {
		e.ID = p.EventType + ":" + p.DownloadID
	} else {
		e.ID = "movie:" + strconv.FormatInt(p.Movie.ID, 10) + ":" + p.EventType
	}
	if p.EventType == EventGrab {
		e.GroupKey = "radarr:" + strconv.FormatInt(p.Movie.ID, 10)
	}
	return e, nil
}

// sonarrEntityKey hashes the series and episode ids, order-independent.
func sonarrEntityKey(p *Payload) string {
	ids := make([]int64, 0, len(p.Episodes))
	for _, ep := range p.Episodes {
		ids = append(ids, ep.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(p.Series.ID, 10)))
	for _, id := range ids {
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(strconv.FormatInt(id, 10)))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
