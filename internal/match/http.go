package match

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the lostlink matching API over HTTP. It implements
// both Source and Finder.
type Client struct {
	base   string
	userID string
	http   *http.Client
}

// NewClient creates a matching client rooted at base (e.g.
// "https://api.lostlink.app").
func NewClient(base, userID string) *Client {
	return &Client{
		base:   base,
		userID: userID,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Items lists the current user's items.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	u := fmt.Sprintf("%s/api/items?owner=%s", c.base, url.QueryEscape(c.userID))
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return items, nil
}

// FindMatches returns the raw match response for one item. The payload
// is passed to Normalize untouched so shape drift on the server side
// degrades to an empty match list instead of an error.
func (c *Client) FindMatches(ctx context.Context, itemID string) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/api/items/%s/matches", c.base, url.PathEscape(itemID))
	return c.get(ctx, u)
}

func (c *Client) get(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matching request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matching request returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read matching response: %w", err)
	}
	return body, nil
}
