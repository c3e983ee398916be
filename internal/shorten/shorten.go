// Package shorten talks to a tinyurl-style shortening service.
package shorten

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultEndpoint is the tinyurl creation API.
const DefaultEndpoint = "http://tinyurl.com/api-create.php"

// errorSentinel is the body the service returns when it refuses a URL.
const errorSentinel = "Error"

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURLs returns every http(s) URL in text, in order. Trailing
// sentence punctuation is not part of the URL.
func ExtractURLs(text string) []string {
	found := urlPattern.FindAllString(text, -1)
	out := found[:0]
	for _, u := range found {
		u = strings.TrimRight(u, ".,;:!?)")
		if u != "http://" && u != "https://" {
			out = append(out, u)
		}
	}
	return out
}

// Client shortens URLs through the service at endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

// New creates a Client. An empty endpoint means DefaultEndpoint.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Shorten returns the short form of target. ok is false when the service
// answered with its error sentinel or could not be reached.
func (c *Client) Shorten(ctx context.Context, target string) (short string, ok bool) {
	short, err := c.request(ctx, target)
	if err != nil {
		slog.Debug("shorten failed", "url", target, "error", err)
		return "", false
	}
	return short, true
}

func (c *Client) request(ctx context.Context, target string) (string, error) {
	u := c.endpoint + "?url=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shorten request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shortener error (status %d)", resp.StatusCode)
	}

	short := strings.TrimSpace(string(body))
	if short == "" || short == errorSentinel {
		return "", fmt.Errorf("shortener refused %s", target)
	}
	return short, nil
}

// ShortenAll shortens every URL in text and joins the successes with ", ".
// The result is empty when text has no URLs or none could be shortened.
func (c *Client) ShortenAll(ctx context.Context, text string) string {
	var out []string
	for _, u := range ExtractURLs(text) {
		if short, ok := c.Shorten(ctx, u); ok {
			out = append(out, short)
		}
	}
	return strings.Join(out, ", ")
}
