// Package retro polls the achievements a RetroAchievements user recently
// earned.
package retro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"serverbot/internal/pipeline"
	logx "serverbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://retroachievements.org"
	mediaBaseURL   = "https://media.retroachievements.org"

	recentPath = "/API/API_GetUserRecentAchievements.php"
	dateLayout = "2006-01-02 15:04:05"
)

type Config struct {
	// Username and APIKey authenticate the caller.
	Username string
	APIKey   string
	// Target is the user whose unlocks are reported. Defaults to Username.
	Target string
	// Lookback is the window asked of the API, rounded up to minutes.
	Lookback time.Duration
	BaseURL  string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("retroachievements: username and api_key are required")
	}
	if strings.TrimSpace(cfg.Target) == "" {
		cfg.Target = cfg.Username
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Component("retroachievements"),
	}, nil
}

// Achievement is one entry of API_GetUserRecentAchievements. Date is UTC
// without a zone suffix.
type Achievement struct {
	Date          string `json:"Date"`
	HardcoreMode  int    `json:"HardcoreMode"`
	AchievementID int64  `json:"AchievementID"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	BadgeURL      string `json:"BadgeURL"`
	Points        int    `json:"Points"`
	GameID        int64  `json:"GameID"`
	GameTitle     string `json:"GameTitle"`
	GameIcon      string `json:"GameIcon"`
	ConsoleName   string `json:"ConsoleName"`

	EarnedAt time.Time `json:"-"`
}

var errMalformed = errors.New("malformed achievement")

func (a *Achievement) normalize() error {
	if a.AchievementID <= 0 {
		return fmt.Errorf("%w: missing AchievementID", errMalformed)
	}
	at, err := time.ParseInLocation(dateLayout, strings.TrimSpace(a.Date), time.UTC)
	if err != nil {
		return fmt.Errorf("%w: Date %q", errMalformed, a.Date)
	}
	a.EarnedAt = at
	return nil
}

// Recent returns a fetcher for the target's recent unlocks. The event id is
// the achievement id.
func (c *Client) Recent() pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context) ([]pipeline.Event, error) {
		items, err := c.recent(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]pipeline.Event, 0, len(items))
		for i, raw := range items {
			var a Achievement
			if err := json.Unmarshal(raw, &a); err != nil {
				c.log.Warn("skipping achievement", logx.Int("index", i), logx.Err(err))
				continue
			}
			if err := a.normalize(); err != nil {
				c.log.Warn("skipping achievement", logx.Int("index", i), logx.Err(err))
				continue
			}
			out = append(out, pipeline.Event{
				ID:         strconv.FormatInt(a.AchievementID, 10),
				Source:     pipeline.SourceRetroAchievements,
				OccurredAt: a.EarnedAt,
				Payload:    &a,
			})
		}
		return out, nil
	})
}

func (c *Client) recent(ctx context.Context) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("z", c.cfg.Username)
	q.Set("y", c.cfg.APIKey)
	q.Set("u", c.cfg.Target)
	q.Set("m", strconv.Itoa(int(math.Ceil(c.cfg.Lookback.Minutes()))))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+recentPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the query string, and with it the API key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("GET recent achievements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET recent achievements: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode recent achievements: %w", err)
	}
	return items, nil
}
