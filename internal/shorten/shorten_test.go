package shorten

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("see http://example.com and https://go.dev/doc?x=1, or ftp://nope")
	want := []string{"http://example.com", "https://go.dev/doc?x=1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractURLs mismatch (-want +got):\n%s", diff)
	}
	if got := ExtractURLs("no links here"); len(got) != 0 {
		t.Errorf("expected no URLs, got %v", got)
	}
}

func TestShorten(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "http://example.com/a b" {
			t.Errorf("unexpected url param: %q", r.URL.Query().Get("url"))
		}
		w.Write([]byte("http://tiny/x"))
	}))
	defer server.Close()

	c := New(server.URL)
	short, ok := c.Shorten(context.Background(), "http://example.com/a b")
	if !ok || short != "http://tiny/x" {
		t.Errorf("expected (http://tiny/x, true), got (%q, %v)", short, ok)
	}
}

func TestShortenErrorSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Error"))
	}))
	defer server.Close()

	if short, ok := New(server.URL).Shorten(context.Background(), "http://example.com"); ok {
		t.Errorf("expected failure, got %q", short)
	}
}

func TestShortenHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	if _, ok := New(server.URL).Shorten(context.Background(), "http://example.com"); ok {
		t.Error("expected failure on 502")
	}
}

func TestShortenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	if _, ok := New(endpoint).Shorten(context.Background(), "http://example.com"); ok {
		t.Error("expected failure for closed server")
	}
}

func TestShortenAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("url") {
		case "http://a.example":
			w.Write([]byte("http://tiny/a"))
		case "http://b.example":
			w.Write([]byte("Error"))
		case "http://c.example":
			w.Write([]byte("http://tiny/c\n"))
		}
	}))
	defer server.Close()

	c := New(server.URL)
	got := c.ShortenAll(context.Background(), "http://a.example http://b.example http://c.example")
	if got != "http://tiny/a, http://tiny/c" {
		t.Errorf("expected joined short URLs, got %q", got)
	}
	if got := c.ShortenAll(context.Background(), "nothing to see"); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestNewDefaultEndpoint(t *testing.T) {
	if c := New(""); c.endpoint != DefaultEndpoint {
		t.Errorf("expected %s, got %s", DefaultEndpoint, c.endpoint)
	}
}
