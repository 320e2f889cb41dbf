// Package trakt polls a Trakt user's ratings and favorites, and builds a
// weekly summary of their watch history.
package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "serverbot/pkg/logx"
)

const DefaultBaseURL = "https://api.trakt.tv"

type Config struct {
	ClientID string
	Username string
	BaseURL  string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("trakt: client_id is required")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, errors.New("trakt: username is required")
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
		log:  log.Component("trakt"),
		now:  time.Now,
	}, nil
}

// UserURL is the public profile page, shown in rendered records.
func (c *Client) UserURL() string {
	return "https://trakt.tv/users/" + url.PathEscape(c.cfg.Username)
}

func (c *Client) Username() string { return c.cfg.Username }

// listUser fetches /users/{username}/{kind} and returns the raw items.
// Items are decoded one by one by the caller so a single malformed entry
// does not fail the whole page.
func (c *Client) listUser(ctx context.Context, kind string) ([]json.RawMessage, error) {
	items, _, err := c.getUser(ctx, kind, nil)
	return items, err
}

// getUser is listUser with a query; the response header carries Trakt's
// X-Pagination-* values.
func (c *Client) getUser(ctx context.Context, kind string, q url.Values) ([]json.RawMessage, http.Header, error) {
	u := c.cfg.BaseURL + "/users/" + url.PathEscape(c.cfg.Username) + "/" + kind
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", c.cfg.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("GET %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return items, resp.Header, nil
}

type IDs struct {
	Trakt int64  `json:"trakt"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

type Media struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

type Season struct {
	Number int `json:"number"`
	IDs    IDs `json:"ids"`
}

type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	IDs    IDs    `json:"ids"`
}
