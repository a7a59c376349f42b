package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
)

// Website fetches an HTML page and extracts its title and links. It is the
// default strategy for WEBSITE sources.
type Website struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewWebsite constructs the strategy with a bounded download size.
func NewWebsite(timeout time.Duration, maxBytes int64, userAgent string) *Website {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &Website{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		userAgent: userAgent,
	}
}

// Execute downloads the source URL and parses the document.
func (w *Website) Execute(ctx context.Context, cfg models.ScrapingConfig) (*RawContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Source.URL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "collect.website", fmt.Errorf("build request: %w", err))
	}
	ua := cfg.Options.UserAgent
	if ua == "" {
		ua = w.userAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransient, "collect.website", fmt.Errorf("fetch %s: %w", cfg.Source.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperr.New(apperr.CodeTransient, "collect.website", "fetch %s: status %d", cfg.Source.URL, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apperr.New(apperr.CodeValidation, "collect.website", "fetch %s: status %d", cfg.Source.URL, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, w.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransient, "collect.website", fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > w.maxBytes {
		return nil, apperr.New(apperr.CodeValidation, "collect.website", "response too large (>%d bytes)", w.maxBytes)
	}

	title, links := parsePage(cfg.Source.URL, body)
	return &RawContent{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Title:       title,
		ItemCount:   len(links),
		Fields: map[string]any{
			"title": title,
			"links": links,
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}

// parsePage walks the document extracting the title and absolute http(s)
// links.
func parsePage(baseURL string, body []byte) (string, []string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", nil
	}

	var (
		title string
		links []string
	)
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" {
					continue
				}
				ref, err := url.Parse(href)
				if err != nil {
					continue
				}
				absolute := base.ResolveReference(ref)
				if absolute.Scheme == "http" || absolute.Scheme == "https" {
					links = append(links, absolute.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}
	walker(doc)
	return title, links
}
