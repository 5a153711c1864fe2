// Package ingest pulls new notices from a source, voices them and appends
// them to the store behind the scrape cursor.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/agrivoice/idgen"
	"github.com/hazyhaar/agrivoice/noticecast/internal/metrics"
	"github.com/hazyhaar/agrivoice/noticecast/internal/source"
	"github.com/hazyhaar/agrivoice/noticecast/internal/speech"
	"github.com/hazyhaar/agrivoice/noticecast/internal/store"
)

// DefaultLang is the synthesis language for ingested notices.
const DefaultLang = "hi"

// Result summarises one run.
type Result struct {
	NewNotices   int    `json:"new_notices"`
	CursorBefore string `json:"cursor_before"`
	CursorAfter  string `json:"cursor_after"`
	AudioFailed  int    `json:"audio_failed,omitempty"`
}

// Config tunes a Pipeline.
type Config struct {
	Lang string
	// OnNew runs after a run appended at least one notice. It must not block.
	OnNew func(ctx context.Context, n int)
}

// Pipeline is the notice ingestion pipeline. Runs are serialised.
type Pipeline struct {
	store  *store.Store
	src    source.Source
	synth  speech.Synthesizer
	cfg    Config
	newID  idgen.Generator
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Pipeline.
func New(st *store.Store, src source.Source, synth speech.Synthesizer, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:  st,
		src:    src,
		synth:  synth,
		cfg:    cfg,
		newID:  idgen.Prefixed("ntc_", idgen.Default),
		logger: logger,
	}
}

// Ingest runs one pass. On any error nothing is written and the cursor is
// left where it was, so the next tick retries cleanly.
func (p *Pipeline) Ingest(ctx context.Context) (res *Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { metrics.IngestRuns.WithLabelValues(metrics.Outcome(err)).Inc() }()

	cursor, err := p.store.Cursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: read cursor: %w", err)
	}
	res = &Result{CursorBefore: cursor, CursorAfter: cursor}

	items, err := p.src.Fetch(ctx)
	if err != nil {
		var pe *source.ParseError
		if errors.As(err, &pe) {
			p.logger.Error("ingest: unexpected payload", "error", err, "excerpt", pe.Excerpt)
		} else {
			p.logger.Error("ingest: fetch failed", "error", err)
		}
		return nil, fmt.Errorf("ingest: fetch: %w", err)
	}

	fresh, newest := SelectNew(items, cursor)
	if len(fresh) == 0 {
		p.logger.Info("ingest: no new notices", "cursor", cursor, "listed", len(items))
		return res, nil
	}

	notices := make([]*store.Notice, 0, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		it := fresh[i]
		n := &store.Notice{
			ID:           p.newID(),
			ExternalID:   it.ID,
			Text:         NoticeText(it),
			Source:       store.SourceExternalFeed,
			OriginalLink: it.FilePath,
		}
		art, err := p.synth.Synthesize(ctx, n.Text, p.cfg.Lang)
		switch {
		case err == nil:
			n.Audio = art.Name
		case ctx.Err() != nil:
			return nil, fmt.Errorf("ingest: %w", ctx.Err())
		default:
			res.AudioFailed++
			p.logger.Warn("ingest: synthesis failed, keeping notice without audio",
				"external_id", it.ID, "error", err)
		}
		notices = append(notices, n)
	}

	if err := p.store.AppendIngested(ctx, notices, newest); err != nil {
		return nil, fmt.Errorf("ingest: persist: %w", err)
	}

	res.NewNotices = len(notices)
	res.CursorAfter = newest
	metrics.IngestedNotices.Add(float64(len(notices)))
	p.logger.Info("ingest: notices added", "count", len(notices), "cursor", newest, "audio_failed", res.AudioFailed)

	if p.cfg.OnNew != nil {
		p.cfg.OnNew(ctx, len(notices))
	}
	return res, nil
}

// SelectNew walks items newest-first and returns those strictly newer than
// cursor, in source order, plus the id the cursor should advance to. An item
// whose id equals cursor stops the walk. Items with empty titles are
// skipped. Missing ids are filled with FallbackID in the returned items.
func SelectNew(items []source.Item, cursor string) ([]source.Item, string) {
	var fresh []source.Item
	newest := ""
	for _, it := range items {
		if it.ID == "" {
			it.ID = FallbackID(it.Title)
		}
		if cursor != "" && it.ID == cursor {
			break
		}
		if it.Title == "" {
			continue
		}
		if newest == "" {
			newest = it.ID
		}
		fresh = append(fresh, it)
	}
	return fresh, newest
}

// FallbackID derives an id from the title. Two distinct notices with the
// same title collide and the second is treated as already seen.
func FallbackID(title string) string {
	sum := sha256.Sum256([]byte(title))
	return "h-" + hex.EncodeToString(sum[:])[:16]
}

// NoticeText is the stored and spoken form of an item. The suffix is
// appended even when the source gave no date.
func NoticeText(it source.Item) string {
	return it.Title + " - Published on " + it.PublishDate
}
