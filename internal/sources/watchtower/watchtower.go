// Package watchtower parses Watchtower's generic webhook notifications.
//
// Watchtower sends free-form text. The report kind is decided here, once:
// a message starting with "Watchtower" is a startup/check notice, one
// starting with a digit is an update report ("1 Scanned, 1 Updated, ...").
// Downstream code switches on the concrete Report type and never looks at the
// raw text again.
package watchtower

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"
	"unicode"

	"serverbot/internal/pipeline"
	kit "serverbot/internal/transport"
)

// Report is either Check or Update.
type Report interface {
	report()
}

// Check is the startup notice: version line plus the scheduling details.
type Check struct {
	Version string
	Details string
}

// Update lists the containers Watchtower replaced.
type Update struct {
	Summary    string
	Containers []Container
}

type Container struct {
	Name   string
	Image  string
	FromID string
	ToID   string
}

func (Check) report()  {}
func (Update) report() {}

type body struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

var updateLine = regexp.MustCompile(`^-?\s*/?(\S+)\s+\(([^)]+)\):\s*(\S+)\s+updated to\s+(\S+)`)

// ParseMessage classifies one notification text.
func ParseMessage(msg string) (Report, error) {
	msg = strings.TrimSpace(strings.ReplaceAll(msg, "\r\n", "\n"))
	if msg == "" {
		return nil, errors.New("watchtower: empty message")
	}
	switch {
	case strings.HasPrefix(msg, "Watchtower"):
		version, rest, _ := strings.Cut(msg, "\n")
		details := strings.TrimSpace(rest)
		if i := strings.Index(details, "Checking all containers"); i >= 0 {
			details = details[i:]
		}
		return Check{Version: strings.TrimSpace(version), Details: details}, nil
	case unicode.IsDigit([]rune(msg)[0]):
		lines := strings.Split(msg, "\n")
		u := Update{Summary: strings.TrimSpace(lines[0])}
		for _, line := range lines[1:] {
			m := updateLine.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			u.Containers = append(u.Containers, Container{Name: m[1], Image: m[2], FromID: m[3], ToID: m[4]})
		}
		return u, nil
	default:
		return nil, fmt.Errorf("watchtower: unrecognised message %q", firstLine(msg))
	}
}

// Parse builds an event from a webhook body. The id is a hash of the message
// text, so a retried POST of the same report is announced once.
func Parse(raw []byte, receivedAt time.Time) (pipeline.Event, error) {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return pipeline.Event{}, fmt.Errorf("watchtower: decode: %w", err)
	}
	rep, err := ParseMessage(b.Message)
	if err != nil {
		return pipeline.Event{}, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.Message))
	return pipeline.Event{
		ID:         fmt.Sprintf("%x", h.Sum64()),
		Source:     pipeline.SourceWatchtower,
		OccurredAt: receivedAt,
		Payload:    rep,
	}, nil
}

// Render is the pipeline.Renderer for watchtower events.
func Render(e pipeline.Event) (kit.Record, error) {
	switch r := e.Payload.(type) {
	case Check:
		return kit.Record{
			Author:    "Watchtower: Checking",
			Title:     r.Version,
			Body:      r.Details,
			Color:     0xADD8E6,
			Timestamp: e.OccurredAt,
		}, nil
	case Update:
		var b strings.Builder
		for i, c := range r.Containers {
			fmt.Fprintf(&b, "%d: %s %s\n    From: %s -> %s\n", i+1, c.Name, c.Image, c.FromID, c.ToID)
		}
		return kit.Record{
			Author:    "Watchtower: Update",
			Title:     r.Summary,
			Body:      b.String(),
			Color:     0x00FF00,
			Timestamp: e.OccurredAt,
		}, nil
	default:
		return kit.Record{}, fmt.Errorf("watchtower %s: unexpected payload %T", e.ID, e.Payload)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
