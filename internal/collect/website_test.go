package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
)

func configFor(url string) models.ScrapingConfig {
	return models.ScrapingConfig{
		Source: models.Source{URL: url, Type: models.SourceWebsite},
	}
}

func TestWebsiteExecute(t *testing.T) {
	page := `<html><head><title> Product Catalog </title></head><body>
<a href="/items/1">one</a>
<a href="https://other.example.com/items/2">two</a>
<a href="mailto:team@example.com">mail</a>
<a href="">empty</a>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "catalog-bot/1.0" {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	w := NewWebsite(5*time.Second, 0, "catalog-bot/1.0")
	raw, err := w.Execute(context.Background(), configFor(srv.URL))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if raw.Title != "Product Catalog" {
		t.Errorf("title = %q", raw.Title)
	}
	if raw.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", raw.ContentType)
	}
	links, ok := raw.Fields["links"].([]string)
	if !ok {
		t.Fatalf("links field missing: %v", raw.Fields)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links (relative resolved, mailto and empty dropped), got %v", links)
	}
	if links[0] != srv.URL+"/items/1" {
		t.Errorf("relative link not resolved: %q", links[0])
	}
	if raw.ItemCount != 2 {
		t.Errorf("item count = %d", raw.ItemCount)
	}
	if raw.FetchedAt.IsZero() {
		t.Error("expected a fetch timestamp")
	}
}

func TestWebsiteUserAgentOverride(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	w := NewWebsite(5*time.Second, 0, "default-bot/1.0")
	cfg := configFor(srv.URL)
	cfg.Options.UserAgent = "job-specific/2.0"
	if _, err := w.Execute(context.Background(), cfg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if seen != "job-specific/2.0" {
		t.Errorf("user agent = %q", seen)
	}
}

func TestWebsiteServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebsite(5*time.Second, 0, "")
	_, err := w.Execute(context.Background(), configFor(srv.URL))
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient error for 502, got %v", err)
	}
}

func TestWebsiteClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	w := NewWebsite(5*time.Second, 0, "")
	_, err := w.Execute(context.Background(), configFor(srv.URL))
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error for 404, got %v", err)
	}
	if apperr.IsTransient(err) {
		t.Fatal("a 404 must not be retried")
	}
}

func TestWebsiteEnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	w := NewWebsite(5*time.Second, 1024, "")
	_, err := w.Execute(context.Background(), configFor(srv.URL))
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error for oversized body, got %v", err)
	}
}

func TestWebsiteObservesContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := NewWebsite(5*time.Second, 0, "")
	_, err := w.Execute(ctx, configFor(srv.URL))
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transport failure to be transient, got %v", err)
	}
}
