// Package source fetches candidate notices from external publishers.
//
// Every client returns items newest-first, in the order the publisher lists
// them. Ordering is the publisher's contract and is never re-derived here.
package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultUserAgent is sent when the config does not set one. Some government
// portals reject requests without a browser-looking agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// excerptLen bounds the payload excerpt attached to parse errors.
const excerptLen = 500

var (
	// ErrTransport marks an unreachable publisher or a non-2xx response.
	ErrTransport = errors.New("source: transport error")
	// ErrParse marks a payload whose shape does not match expectations.
	ErrParse = errors.New("source: parse error")
)

// Item is one notice as listed by the publisher.
type Item struct {
	ID          string `json:"id"` // empty when the publisher gives none
	Title       string `json:"title"`
	PublishDate string `json:"publish_date"`
	FilePath    string `json:"file_path"`
}

// Source lists the publisher's current notices, newest first.
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// ParseError carries a payload excerpt for diagnosis.
type ParseError struct {
	Reason  string
	Excerpt string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("source: parse: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// StatusError is a non-2xx publisher response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: %s: http %d", e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

var strict = bluemonday.StrictPolicy()

// CleanText strips markup from publisher text, decodes entities and
// collapses whitespace.
func CleanText(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}
