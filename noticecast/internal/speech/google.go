package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hazyhaar/agrivoice/horosafe"
	"github.com/hazyhaar/agrivoice/noticecast/internal/metrics"
)

// DefaultTTSURL is the public translate TTS endpoint.
const DefaultTTSURL = "https://translate.google.com/translate_tts"

// maxChunkRunes is the longest text the endpoint accepts per request.
const maxChunkRunes = 200

// GoogleConfig configures GoogleTTS.
type GoogleConfig struct {
	URL       string        `yaml:"url"`
	Prefix    string        `yaml:"prefix"` // artifact name prefix, default "notice"
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GoogleTTS synthesizes speech through the translate TTS endpoint and
// stores the result in an ArtifactStore.
type GoogleTTS struct {
	cfg       GoogleConfig
	client    *http.Client
	artifacts *ArtifactStore
	logger    *slog.Logger
}

// NewGoogleTTS creates a GoogleTTS writing into artifacts.
func NewGoogleTTS(cfg GoogleConfig, artifacts *ArtifactStore, client *http.Client, logger *slog.Logger) *GoogleTTS {
	if cfg.URL == "" {
		cfg.URL = DefaultTTSURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "notice"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0"
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
	return &GoogleTTS{cfg: cfg, client: client, artifacts: artifacts, logger: logger}
}

// Synthesize fetches audio for each chunk of text, concatenates the MP3
// frames and stores the result.
func (g *GoogleTTS) Synthesize(ctx context.Context, text, lang string) (art *Artifact, err error) {
	defer func() { metrics.Synthesis.WithLabelValues(metrics.Outcome(err)).Inc() }()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, failed("empty text")
	}
	if lang == "" {
		lang = "hi"
	}

	chunks := SplitText(text, maxChunkRunes)
	var audio bytes.Buffer
	for i, chunk := range chunks {
		data, err := g.fetch(ctx, chunk, lang, i, len(chunks))
		if err != nil {
			return nil, err
		}
		audio.Write(data)
	}

	if mt := mimetype.Detect(audio.Bytes()); !mt.Is("audio/mpeg") {
		return nil, failed("unexpected content type %s", mt.String())
	}

	art, err = g.artifacts.Write(g.cfg.Prefix, audio.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	g.logger.Debug("speech: synthesized", "artifact", art.Name, "chunks", len(chunks), "bytes", art.Size)
	return art, nil
}

func (g *GoogleTTS) fetch(ctx context.Context, chunk, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", chunk)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, failed("new request: %v", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, failed("chunk %d/%d: %v", idx+1, total, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, failed("chunk %d/%d: http %d", idx+1, total, resp.StatusCode)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, failed("chunk %d/%d: read: %v", idx+1, total, err)
	}
	if len(data) == 0 {
		return nil, failed("chunk %d/%d: empty body", idx+1, total)
	}
	return data, nil
}

// SplitText cuts text into pieces of at most limit runes, breaking on spaces
// where possible. Words longer than limit are cut hard.
func SplitText(text string, limit int) []string {
	words := strings.Fields(text)
	var chunks []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, string(cur))
			cur = cur[:0]
		}
	}
	for _, w := range words {
		wr := []rune(w)
		for len(wr) > limit {
			flush()
			chunks = append(chunks, string(wr[:limit]))
			wr = wr[limit:]
		}
		need := len(wr)
		if len(cur) > 0 {
			need++
		}
		if len(cur)+need > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, wr...)
	}
	flush()
	return chunks
}
