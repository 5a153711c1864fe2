// Package noticecast is the agricultural notice voice broadcaster.
//
// It scrapes official notices, voices them in Hindi and pushes them to
// registered farmers over WhatsApp. The pipeline:
//
//	source → ingest (cursor, TTS) → store → distribute (fan-out) → channel
//
// Key features:
//   - Append-only notice log behind a scrape cursor, stored in SQLite
//   - Best-effort fan-out: one recipient's failures never stop the others
//   - Periodic ingestion and a daily audio resend
//   - Tracked background jobs pollable by id
//   - MCP tools: list notices, ingest now, job status, stats
//
// Usage:
//
//	svc, err := noticecast.New(ctx, cfg)
//	defer svc.Close()
//	svc.RegisterMCP(mcpServer)
//	svc.Start(ctx)
package noticecast

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/spf13/afero"

	"github.com/hazyhaar/agrivoice/channels"
	"github.com/hazyhaar/agrivoice/horosafe"
	"github.com/hazyhaar/agrivoice/idgen"
	"github.com/hazyhaar/agrivoice/noticecast/internal/distribute"
	"github.com/hazyhaar/agrivoice/noticecast/internal/ingest"
	"github.com/hazyhaar/agrivoice/noticecast/internal/scheduler"
	"github.com/hazyhaar/agrivoice/noticecast/internal/source"
	"github.com/hazyhaar/agrivoice/noticecast/internal/speech"
	"github.com/hazyhaar/agrivoice/noticecast/internal/store"
	"github.com/hazyhaar/agrivoice/noticecast/internal/tasks"
	"github.com/hazyhaar/agrivoice/publicurl"
)

// Re-exported record types.
type (
	Notice         = store.Notice
	Registrant     = store.Registrant
	Job            = store.Job
	IngestResult   = ingest.Result
	Report         = distribute.Report
	ScheduleStatus = scheduler.Status
)

// Job kinds.
const (
	KindIngest     = "ingest"
	KindFanOut     = "fanout"
	KindWelcome    = "welcome"
	KindDistribute = "distribute"
	KindBroadcast  = "broadcast"
	KindResend     = "resend-audio"
)

// Artifact name prefixes.
const (
	noticePrefix = "notice"
	voicePrefix  = "voice_note"
)

// Stats is the service overview.
type Stats struct {
	Notices     int              `json:"notices"`
	Registrants int              `json:"registrants"`
	Cursor      string           `json:"cursor"`
	Artifacts   int              `json:"artifacts"`
	Channel     string           `json:"channel"`
	Schedule    []ScheduleStatus `json:"schedule,omitempty"`
}

// Service wires the stores, the ingestion pipeline, the distribution engine,
// the task runner and the scheduler.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	store     *store.Store
	ownsStore bool
	artifacts *speech.ArtifactStore
	synth     speech.Synthesizer
	pipeline  *ingest.Pipeline
	engine    *distribute.Engine
	tasks     *tasks.Runner
	sched     *scheduler.Scheduler
	newID     idgen.Generator
	newRegID  idgen.Generator

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

type options struct {
	logger *slog.Logger
	client *http.Client
	db     *sql.DB
	fs     afero.Fs
	src    source.Source
	synth  speech.Synthesizer
	sender channels.Sender
	urls   publicurl.Provider
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHTTPClient sets the client used by the source, TTS and channel.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithDB uses an already-opened database instead of cfg.DBPath. The schema
// is applied and the caller keeps ownership of db.
func WithDB(db *sql.DB) Option { return func(o *options) { o.db = db } }

// WithFs sets the filesystem holding the audio artifacts.
func WithFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

// WithSource replaces the configured notice source.
func WithSource(src source.Source) Option { return func(o *options) { o.src = src } }

// WithSynthesizer replaces the TTS client. It must write its artifacts into
// the service's audio directory.
func WithSynthesizer(s speech.Synthesizer) Option { return func(o *options) { o.synth = s } }

// WithSender replaces the configured messaging channel.
func WithSender(s channels.Sender) Option { return func(o *options) { o.sender = s } }

// WithURLProvider replaces the public base URL chain.
func WithURLProvider(p publicurl.Provider) Option { return func(o *options) { o.urls = p } }

// New builds a Service. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.fs == nil {
		o.fs = speech.OSFs()
	}

	s := &Service{
		cfg:      cfg,
		logger:   o.logger,
		newID:    idgen.Prefixed("ntc_", idgen.Default),
		newRegID: idgen.Prefixed("reg_", idgen.Default),
	}

	if o.db != nil {
		if err := store.ApplySchema(o.db); err != nil {
			return nil, fmt.Errorf("noticecast: %w", err)
		}
		s.store = store.NewStore(o.db)
	} else {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("noticecast: open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}

	if err := s.wire(ctx, o); err != nil {
		if s.ownsStore {
			s.store.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Service) wire(ctx context.Context, o *options) error {
	cfg := s.cfg
	artifacts, err := speech.NewArtifactStore(o.fs, cfg.AudioDir)
	if err != nil {
		return fmt.Errorf("noticecast: %w", err)
	}
	s.artifacts = artifacts

	synth, voice := o.synth, o.synth
	if synth == nil {
		gc := speech.GoogleConfig{URL: cfg.Speech.URL, Timeout: cfg.Speech.Timeout}
		gc.Prefix = noticePrefix
		synth = speech.NewGoogleTTS(gc, artifacts, o.client, s.logger)
		gc.Prefix = voicePrefix
		voice = speech.NewGoogleTTS(gc, artifacts, o.client, s.logger)
	}
	s.synth = synth

	src := o.src
	if src == nil {
		src = buildSource(cfg, o.client, s.logger)
	}

	sender := o.sender
	if sender == nil {
		if sender, err = buildSender(cfg, o.client, s.logger); err != nil {
			return err
		}
	}

	urls := o.urls
	if urls == nil {
		urls = buildURLProvider(cfg, o.client)
	}

	if s.tasks, err = tasks.New(ctx, s.store, s.logger); err != nil {
		return fmt.Errorf("noticecast: %w", err)
	}

	cached := speech.NewCached(voice, artifacts, cfg.Speech.CacheSize, cfg.Speech.CacheTTL)
	s.engine = distribute.New(s.store, sender, cached, urls, cfg.distributeConfig(), s.logger)
	s.pipeline = ingest.New(s.store, src, synth, ingest.Config{Lang: cfg.Lang, OnNew: s.onNewNotices}, s.logger)

	loc, _ := cfg.Location()
	s.sched = scheduler.New(scheduler.Config{CheckInterval: cfg.Schedule.CheckInterval, Location: loc}, s.logger)
	return s.addJobs()
}

func (s *Service) addJobs() error {
	sc := s.cfg.Schedule
	if sc.Disabled {
		return nil
	}
	err := s.sched.Add(scheduler.Job{
		Name:           KindIngest,
		Every:          sc.IngestEvery,
		RunImmediately: !sc.SkipInitialIngest,
		Run: func(ctx context.Context) {
			if _, err := s.Ingest(ctx); err != nil {
				s.logger.Error("noticecast: scheduled ingest failed", "error", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("noticecast: schedule ingest: %w", err)
	}
	if sc.ResendAt == "off" {
		return nil
	}
	err = s.sched.Add(scheduler.Job{
		Name: KindResend,
		At:   sc.ResendAt,
		Run: func(ctx context.Context) {
			if _, err := s.ResendAudio(ctx); err != nil {
				s.logger.Error("noticecast: scheduled audio resend failed", "error", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("noticecast: schedule resend: %w", err)
	}
	return nil
}

func buildSource(cfg *Config, client *http.Client, logger *slog.Logger) source.Source {
	switch cfg.Source.Kind {
	case SourceListing:
		if cfg.Source.Listing.URL != "" {
			return source.NewListing(cfg.Source.Listing, client, logger)
		}
	default:
		if cfg.Source.Feed.URL != "" {
			return source.NewFeed(cfg.Source.Feed, client, logger)
		}
	}
	return unconfiguredSource{}
}

type unconfiguredSource struct{}

func (unconfiguredSource) Fetch(context.Context) ([]source.Item, error) {
	return nil, fmt.Errorf("%w: no notice source url", ErrNotConfigured)
}

func buildSender(cfg *Config, client *http.Client, logger *slog.Logger) (channels.Sender, error) {
	var (
		raw []byte
		err error
	)
	if cfg.Channel.Platform == channels.PlatformTwilioWhatsApp {
		raw, err = json.Marshal(channels.TwilioConfig{
			AccountSID:     cfg.Twilio.AccountSID,
			AuthToken:      cfg.Twilio.AuthToken,
			From:           cfg.Twilio.From,
			BaseURL:        cfg.Twilio.BaseURL,
			StatusCallback: cfg.Twilio.StatusCallback,
		})
	} else {
		raw, err = json.Marshal(cfg.Channel.Options)
	}
	if err != nil {
		return nil, fmt.Errorf("noticecast: channel config: %w", err)
	}
	sender, err := channels.DefaultRegistry(client, logger).New(cfg.Channel.Platform, cfg.Channel.Name, raw)
	if err != nil {
		return nil, fmt.Errorf("noticecast: channel: %w", err)
	}
	return sender, nil
}

func buildURLProvider(cfg *Config, client *http.Client) publicurl.Provider {
	var chain publicurl.Chain
	if cfg.PublicURL.Static != "" {
		chain = append(chain, publicurl.Static(cfg.PublicURL.Static))
	}
	chain = append(chain, publicurl.Env(cfg.PublicURL.EnvVar))
	if cfg.PublicURL.NgrokAPI != "" {
		chain = append(chain, &publicurl.NgrokProbe{APIURL: cfg.PublicURL.NgrokAPI, Client: client})
	}
	return publicurl.NewCached(chain, cfg.PublicURL.CacheTTL)
}

// Start launches the scheduler. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.sched.Run(ctx)
	s.logger.Info("noticecast: started",
		"ingest_every", s.cfg.Schedule.IngestEvery,
		"resend_at", s.cfg.Schedule.ResendAt,
		"scheduler", !s.cfg.Schedule.Disabled,
	)
}

// Close stops the scheduler, waits for running jobs and closes the store.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.sched.Wait()
	s.tasks.Close()
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.cfg }

// --- ingestion ---

// Ingest runs one ingestion pass. When new notices were appended a tracked
// fan-out job is submitted.
func (s *Service) Ingest(ctx context.Context) (*IngestResult, error) {
	return s.pipeline.Ingest(ctx)
}

// SubmitIngest runs Ingest as a tracked job.
func (s *Service) SubmitIngest() (string, error) {
	return s.submit(KindIngest, func(ctx context.Context) (any, error) {
		return s.Ingest(ctx)
	})
}

func (s *Service) onNewNotices(_ context.Context, n int) {
	id, err := s.SubmitFanOut()
	if err != nil {
		s.logger.Error("noticecast: submit fan-out failed", "new_notices", n, "error", err)
		return
	}
	s.logger.Info("noticecast: fan-out submitted", "new_notices", n, "job", id)
}

// --- notices ---

// AddNotice voices text, appends it as a manual notice and broadcasts it
// to every registrant in the background. The returned job id tracks the
// broadcast. Nothing is appended when synthesis fails.
func (s *Service) AddNotice(ctx context.Context, text string) (*Notice, string, error) {
	text, err := cleanField("notice", text, MaxNoticeLen)
	if err != nil {
		return nil, "", err
	}
	art, err := s.synth.Synthesize(ctx, text, s.cfg.Lang)
	if err != nil {
		return nil, "", fmt.Errorf("noticecast: add notice: %w", err)
	}
	n := &Notice{
		ID:     s.newID(),
		Text:   text,
		Audio:  art.Name,
		Source: store.SourceManual,
	}
	if err := s.store.AppendNotice(ctx, n); err != nil {
		return nil, "", fmt.Errorf("noticecast: add notice: %w", err)
	}
	s.logger.Info("noticecast: manual notice added", "id", n.ID, "audio", n.Audio)

	jobID, err := s.submit(KindBroadcast, func(ctx context.Context) (any, error) {
		return s.engine.Broadcast(ctx, n)
	})
	if err != nil {
		return n, "", err
	}
	return n, jobID, nil
}

// ListNotices returns notices newest first.
func (s *Service) ListNotices(ctx context.Context, limit, offset int) ([]*Notice, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListNotices(ctx, limit, offset)
}

// GetNotice returns one notice or ErrNotFound.
func (s *Service) GetNotice(ctx context.Context, id string) (*Notice, error) {
	n, err := s.store.GetNotice(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: notice %s", ErrNotFound, id)
	}
	return n, nil
}

// OpenAudio opens a stored artifact for serving. Names that could escape
// the audio directory are rejected as not found.
func (s *Service) OpenAudio(name string) (afero.File, error) {
	if err := horosafe.ValidateArtifactName(name, speech.Ext); err != nil {
		return nil, fmt.Errorf("%w: audio %q", ErrNotFound, name)
	}
	if !s.artifacts.Exists(name) {
		return nil, fmt.Errorf("%w: audio %q", ErrNotFound, name)
	}
	return s.artifacts.Open(name)
}

// --- registrants ---

// Register enrolls a farmer and sends them the latest notices in the
// background. The returned job id tracks that welcome send.
func (s *Service) Register(ctx context.Context, name, phone, locality string) (*Registrant, string, error) {
	name, err := cleanField("name", name, MaxNameLen)
	if err != nil {
		return nil, "", err
	}
	locality, err = cleanField("locality", locality, MaxLocalityLen)
	if err != nil {
		return nil, "", err
	}
	phone, err = NormalizePhone(phone)
	if err != nil {
		return nil, "", err
	}

	r := &Registrant{ID: s.newRegID(), Name: name, Phone: phone, Locality: locality}
	if err := s.store.InsertRegistrant(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, "", fmt.Errorf("%w: %s", ErrDuplicateRegistrant, phone)
		}
		return nil, "", fmt.Errorf("noticecast: register: %w", err)
	}
	s.logger.Info("noticecast: registrant added", "id", r.ID, "phone", r.Phone, "locality", r.Locality)

	jobID, err := s.submit(KindWelcome, func(ctx context.Context) (any, error) {
		return s.engine.DistributeLatest(ctx, []*store.Registrant{r}, s.cfg.Distribute.Count)
	})
	if err != nil {
		return r, "", err
	}
	return r, jobID, nil
}

// ListRegistrants returns registrants in registration order.
func (s *Service) ListRegistrants(ctx context.Context) ([]*Registrant, error) {
	return s.store.ListRegistrants(ctx)
}

func (s *Service) registrant(ctx context.Context, phone string) (*Registrant, error) {
	p, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetRegistrantByPhone(ctx, p)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: registrant %s", ErrNotFound, p)
	}
	return r, nil
}

// --- distribution ---

// FanOut sends the latest notices to every registrant.
func (s *Service) FanOut(ctx context.Context) (*Report, error) {
	return s.engine.FanOut(ctx, s.cfg.Distribute.Count)
}

// SubmitFanOut runs FanOut as a tracked job.
func (s *Service) SubmitFanOut() (string, error) {
	return s.submit(KindFanOut, func(ctx context.Context) (any, error) {
		return s.FanOut(ctx)
	})
}

// DistributeTo sends the latest notices to one registrant.
func (s *Service) DistributeTo(ctx context.Context, phone string) (*Report, error) {
	r, err := s.registrant(ctx, phone)
	if err != nil {
		return nil, err
	}
	return s.engine.DistributeLatest(ctx, []*store.Registrant{r}, s.cfg.Distribute.Count)
}

// SubmitDistributeTo checks the registrant exists, then runs the send as a
// tracked job.
func (s *Service) SubmitDistributeTo(ctx context.Context, phone string) (string, error) {
	r, err := s.registrant(ctx, phone)
	if err != nil {
		return "", err
	}
	return s.submit(KindDistribute, func(ctx context.Context) (any, error) {
		return s.engine.DistributeLatest(ctx, []*store.Registrant{r}, s.cfg.Distribute.Count)
	})
}

// ResendAudio re-sends the stored audio of the latest voiced notices to
// every registrant.
func (s *Service) ResendAudio(ctx context.Context) (*Report, error) {
	return s.engine.ResendRecentAudio(ctx, s.cfg.Distribute.Count)
}

// SubmitResendAudio runs ResendAudio as a tracked job.
func (s *Service) SubmitResendAudio() (string, error) {
	return s.submit(KindResend, func(ctx context.Context) (any, error) {
		return s.ResendAudio(ctx)
	})
}

// --- jobs & stats ---

// Job returns a tracked job or ErrNotFound.
func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	j, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return j, nil
}

// Jobs returns the most recent jobs, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.tasks.Recent(ctx, limit)
}

// WaitJobs blocks until every submitted job has finished.
func (s *Service) WaitJobs() { s.tasks.Wait() }

// Stats returns counters, the cursor and the schedule.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	arts, err := s.artifacts.List()
	if err != nil {
		return nil, fmt.Errorf("noticecast: list artifacts: %w", err)
	}
	return &Stats{
		Notices:     st.Notices,
		Registrants: st.Registrants,
		Cursor:      st.Cursor,
		Artifacts:   len(arts),
		Channel:     s.cfg.Channel.Platform,
		Schedule:    s.sched.Jobs(),
	}, nil
}

// submit runs fn as a tracked job and stores its JSON-encoded result.
func (s *Service) submit(kind string, fn func(ctx context.Context) (any, error)) (string, error) {
	id, err := s.tasks.Submit(kind, func(ctx context.Context) (string, error) {
		v, err := fn(ctx)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		return "", fmt.Errorf("noticecast: submit %s: %w", kind, err)
	}
	return id, nil
}
