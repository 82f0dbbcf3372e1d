package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

const (
	defaultMaxPages  = 15
	firstPartyScore  = 0.5
	defaultUserAgent = "CompanyResearcher/1.0"
)

var skippedSuffixes = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".zip", ".mp4", ".css", ".js"}

// SiteCrawler fetches a company homepage and the same-host pages it links to.
type SiteCrawler struct {
	client    *http.Client
	maxPages  int
	userAgent string
	logger    *slog.Logger
}

var (
	_ ports.Crawler          = (*SiteCrawler)(nil)
	_ ports.ContentExtractor = (*SiteCrawler)(nil)
)

// NewSiteCrawler wires an HTTP client; a nil client gets the configured timeout.
func NewSiteCrawler(client *http.Client, cfg config.CrawlerConfig, logger *slog.Logger) *SiteCrawler {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &SiteCrawler{client: client, maxPages: maxPages, userAgent: userAgent, logger: logger}
}

// Crawl returns the homepage followed by linked pages on the same host, depth 1.
// Failing subpages are skipped; only a failing homepage is an error.
func (c *SiteCrawler) Crawl(ctx context.Context, rawURL string) ([]domain.Document, error) {
	root, err := parseSiteURL(rawURL)
	if err != nil {
		return nil, err
	}

	home, err := c.fetchDocument(ctx, root.String())
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", root, err)
	}

	docs := []domain.Document{pageDocument(root.String(), home)}
	seen := map[string]struct{}{canonical(root): {}}
	for _, link := range sameHostLinks(home, root) {
		if len(docs) >= c.maxPages {
			break
		}
		if ctx.Err() != nil {
			return docs, ctx.Err()
		}
		key := canonical(link)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		page, err := c.fetchDocument(ctx, link.String())
		if err != nil {
			c.debug("skip page", "url", link.String(), "error", err)
			continue
		}
		docs = append(docs, pageDocument(link.String(), page))
	}

	c.debug("site crawled", "url", root.String(), "pages", len(docs))
	return docs, nil
}

// ExtractContent downloads one page and returns its readable text.
func (c *SiteCrawler) ExtractContent(ctx context.Context, rawURL string) (string, error) {
	doc, err := c.fetchDocument(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return readableText(doc), nil
}

func (c *SiteCrawler) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%s is not html: %s", pageURL, ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func pageDocument(pageURL string, doc *goquery.Document) domain.Document {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return domain.Document{
		URL:        pageURL,
		Title:      title,
		Content:    readableText(doc),
		SourceKind: domain.SourceFirstParty,
		BaseScore:  firstPartyScore,
	}
}

func readableText(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, nav, footer, header, svg, form").Remove()

	var lines []string
	for _, line := range strings.Split(body.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func sameHostLinks(doc *goquery.Document, root *url.URL) []*url.URL {
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := root.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !strings.EqualFold(strings.TrimPrefix(abs.Hostname(), "www."), strings.TrimPrefix(root.Hostname(), "www.")) {
			return
		}
		lower := strings.ToLower(abs.Path)
		for _, suffix := range skippedSuffixes {
			if strings.HasSuffix(lower, suffix) {
				return
			}
		}
		abs.Fragment = ""
		links = append(links, abs)
	})
	return links
}

func parseSiteURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty site url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid site url %s: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid site url %s: empty host", raw)
	}
	return u, nil
}

func canonical(u *url.URL) string {
	return strings.ToLower(u.Host) + strings.TrimSuffix(u.Path, "/")
}

func (c *SiteCrawler) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
