package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/agrivoice/horosafe"
)

// ListingConfig describes an HTML page listing notices as table rows.
type ListingConfig struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"user_agent"`
	TitleCol  int           `yaml:"title_col"` // zero-based cell index
	DateCol   int           `yaml:"date_col"`  // -1, or equal to TitleCol, when there is no date column
	Timeout   time.Duration `yaml:"timeout"`
}

// Listing scrapes a notice table. Rows are returned in document order; the
// first row with cells is treated as the newest notice.
type Listing struct {
	cfg    ListingConfig
	client *http.Client
	logger *slog.Logger
}

// NewListing creates a Listing. A nil client gets one with cfg.Timeout.
func NewListing(cfg ListingConfig, client *http.Client, logger *slog.Logger) *Listing {
	if cfg.DateCol == cfg.TitleCol {
		cfg.DateCol = -1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listing{cfg: cfg, client: client, logger: logger}
}

// Fetch downloads the page and extracts one item per table row.
func (l *Listing) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: new request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, l.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: l.cfg.URL, Status: resp.StatusCode}
	}
	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, l.cfg.URL, err)
	}

	base, _ := url.Parse(l.cfg.URL)
	items, err := parseListing(body, base, l.cfg.TitleCol, l.cfg.DateCol)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("source: listing fetched", "url", l.cfg.URL, "items", len(items))
	return items, nil
}

// parseListing walks every <tr> with <td> cells. The row link (first <a>
// with an href) becomes both FilePath and ID, resolved against base.
func parseListing(body []byte, base *url.URL, titleCol, dateCol int) ([]Item, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Reason: "html: " + err.Error(), Excerpt: horosafe.Excerpt(body, excerptLen)}
	}

	var items []Item
	var sawTable bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Table:
				sawTable = true
			case atom.Tr:
				if it, ok := rowItem(n, base, titleCol, dateCol); ok {
					items = append(items, it)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !sawTable {
		return nil, &ParseError{Reason: "no table in listing page", Excerpt: horosafe.Excerpt(body, excerptLen)}
	}
	return items, nil
}

func rowItem(tr *html.Node, base *url.URL, titleCol, dateCol int) (Item, bool) {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Td {
			cells = append(cells, c)
		}
	}
	if titleCol < 0 || titleCol >= len(cells) {
		return Item{}, false
	}

	var it Item
	it.Title = CleanText(nodeText(cells[titleCol]))
	if dateCol >= 0 && dateCol < len(cells) {
		it.PublishDate = CleanText(nodeText(cells[dateCol]))
	}
	if href := firstHref(tr); href != "" {
		if ref, err := url.Parse(href); err == nil && base != nil {
			href = base.ResolveReference(ref).String()
		}
		it.FilePath = href
		it.ID = href
	}
	return it, true
}

func firstHref(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		for _, a := range n.Attr {
			if a.Key == "href" && strings.TrimSpace(a.Val) != "" {
				return strings.TrimSpace(a.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := firstHref(c); h != "" {
			return h
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
