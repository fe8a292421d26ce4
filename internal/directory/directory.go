package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Directory resolves display names for notification wording.
type Directory interface {
	DisplayName(ctx context.Context, userID int64) string
}

// Fallback is the name used when the core service cannot resolve a user.
func Fallback(userID int64) string {
	return fmt.Sprintf("User #%d", userID)
}

type Static map[int64]string

func (s Static) DisplayName(_ context.Context, userID int64) string {
	if name, ok := s[userID]; ok && name != "" {
		return name
	}
	return Fallback(userID)
}

type Options struct {
	BaseURL    string
	TTL        time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
	Log        zerolog.Logger
}

type entry struct {
	name    string
	expires time.Time
}

// Client reads user metadata from the core service and caches names,
// fallbacks included, for TTL.
type Client struct {
	baseURL string
	ttl     time.Duration
	http    *http.Client
	now     func() time.Time
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[int64]entry
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		ttl:     opts.TTL,
		http:    opts.HTTPClient,
		now:     opts.Now,
		log:     opts.Log,
		cache:   map[int64]entry{},
	}
	if c.ttl <= 0 {
		c.ttl = 10 * time.Minute
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) DisplayName(ctx context.Context, userID int64) string {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.cache[userID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.name
	}
	c.mu.Unlock()

	name, err := c.fetch(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Int64("user_id", userID).Msg("user meta lookup failed")
	}
	if name == "" {
		name = Fallback(userID)
	}

	c.mu.Lock()
	c.cache[userID] = entry{name: name, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return name
}

type metaResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"data"`
}

func (c *Client) fetch(ctx context.Context, userID int64) (string, error) {
	if c.baseURL == "" {
		return "", nil
	}
	url := fmt.Sprintf("%s/users/%d/meta", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user meta: http %d", resp.StatusCode)
	}
	var body metaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("user meta: decode: %w", err)
	}
	if !body.Success || body.Data == nil {
		return "", nil
	}
	return strings.TrimSpace(body.Data.Metadata.Name), nil
}
