// Package engine runs the per-destination publish cycle: resolve credentials,
// authenticate, read the watermark, then either bootstrap the account or
// collect, deduplicate and publish new feed items.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ppiankov/feedcaster/internal/config"
	"github.com/ppiankov/feedcaster/internal/dedup"
	"github.com/ppiankov/feedcaster/internal/feed"
	"github.com/ppiankov/feedcaster/internal/format"
	"github.com/ppiankov/feedcaster/internal/journal"
	"github.com/ppiankov/feedcaster/internal/poster"
)

// State is how a destination ended.
type State string

const (
	StateDone    State = "done"
	StateSkipped State = "skipped"
)

// Fetcher downloads one feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) feed.Result
}

// PosterFactory builds the poster for one destination.
type PosterFactory func(section string, creds config.Credentials) poster.Poster

// Recorder receives the audit trail of a run. *journal.Store implements it.
type Recorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time, dryRun bool) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time) error
	RecordDestination(ctx context.Context, d journal.Destination) error
	RecordPost(ctx context.Context, p journal.Post) error
}

// Options configures an Engine.
type Options struct {
	Settings config.Settings
	Fetcher  Fetcher
	Posters  PosterFactory
	Journal  Recorder          // optional
	Lookup   config.LookupFunc // optional; defaults to os.LookupEnv
	Logger   zerolog.Logger
	Now      func() time.Time // optional
	DryRun   bool             // resolve watermarks but never post
}

// Engine publishes sections. One Engine may serve many runs.
type Engine struct {
	settings config.Settings
	fetcher  Fetcher
	posters  PosterFactory
	journal  Recorder
	lookup   config.LookupFunc
	log      zerolog.Logger
	now      func() time.Time
	dryRun   bool
}

// New creates an Engine.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		settings: opts.Settings,
		fetcher:  opts.Fetcher,
		posters:  opts.Posters,
		journal:  opts.Journal,
		lookup:   opts.Lookup,
		log:      opts.Logger,
		now:      now,
		dryRun:   opts.DryRun,
	}
}

// Outcome describes what happened to one destination.
type Outcome struct {
	Section      string
	State        State
	Reason       string
	Err          error
	Account      poster.Account
	Watermark    time.Time
	Bootstrapped bool
	FeedsOK      int
	FeedsFailed  int
	Items        int
	Messages     []format.Message
	Posted       int
	Failed       int
}

// Report is the result of one run over all selected sections.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Counts returns how many destinations finished and how many were skipped.
func (r Report) Counts() (done, skipped int) {
	for _, o := range r.Outcomes {
		if o.State == StateDone {
			done++
		} else {
			skipped++
		}
	}
	return done, skipped
}

// Run processes every section once. Destinations run on up to
// DestinationWorkers goroutines; outcomes keep section order. A failing
// destination never affects the others.
func (e *Engine) Run(ctx context.Context, sections []config.Section) Report {
	report := Report{
		RunID:    uuid.NewString(),
		Started:  e.now(),
		Outcomes: make([]Outcome, len(sections)),
	}
	log := e.log.With().Str("run_id", report.RunID).Logger()

	if e.journal != nil {
		if err := e.journal.StartRun(ctx, report.RunID, report.Started, e.dryRun); err != nil {
			log.Warn().Err(err).Msg("Journal unavailable for this run")
		}
	}

	workers := e.settings.DestinationWorkers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, sec := range sections {
		g.Go(func() error {
			report.Outcomes[i] = e.RunDestination(ctx, report.RunID, sec)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = e.now()
	if e.journal != nil {
		// The run is over even when ctx was cancelled; stamp it regardless.
		if err := e.journal.FinishRun(context.WithoutCancel(ctx), report.RunID, report.Finished); err != nil {
			log.Warn().Err(err).Msg("Could not finish journal run")
		}
	}

	done, skipped := report.Counts()
	log.Info().
		Int("done", done).
		Int("skipped", skipped).
		Dur("took", report.Finished.Sub(report.Started)).
		Msg("All done")

	return report
}

// RunDestination runs the publish cycle for one section. It always returns
// an Outcome in StateDone or StateSkipped, including after a panic.
func (e *Engine) RunDestination(ctx context.Context, runID string, sec config.Section) (out Outcome) {
	log := e.log.With().Str("section", sec.Name).Logger()
	out = Outcome{Section: sec.Name}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Destination panicked, skipping")
			out.State = StateSkipped
			out.Reason = "internal error"
			out.Err = fmt.Errorf("panic: %v", r)
		}
		e.recordDestination(ctx, runID, out, log)
	}()

	log.Info().Int("feeds", len(sec.Feeds)).Msg("Section started")

	creds, err := config.ResolveCredentials(sec.Name, e.lookup)
	if err != nil {
		log.Error().Err(err).Msg("Skipping section")
		return skip(out, "missing credentials", err)
	}

	p := e.posters(sec.Name, creds)

	acct, err := p.Authenticate(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Something is wrong with the credentials, skipping")
		return skip(out, "authentication failed", err)
	}
	out.Account = acct
	log.Info().Str("account_id", acct.ID).Str("display_name", acct.DisplayName).Msg("Authenticated")

	watermark, ok, err := p.LastPostTime(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not read the latest post, skipping")
		return skip(out, "watermark unavailable", err)
	}

	if !ok {
		if sec.WelcomeEnabled() {
			return e.bootstrap(ctx, runID, p, out, log)
		}
		watermark = e.now().Add(-e.lookback(sec))
		log.Info().Time("watermark", watermark).Msg("No posts yet, using lookback window")
	} else {
		log.Info().Time("watermark", watermark).Msg("Latest timestamp from timeline")
	}
	out.Watermark = watermark

	items, feedsOK, feedsFailed := e.collect(ctx, sec, watermark, log)
	out.FeedsOK, out.FeedsFailed, out.Items = feedsOK, feedsFailed, len(items)
	out.Messages = Plan(items, sec, e.settings.MaxPostLength, e.now())

	if e.dryRun {
		log.Info().Int("messages", len(out.Messages)).Msg("Dry run, nothing posted")
	} else {
		out.Posted, out.Failed = e.publish(ctx, runID, sec, p, out.Messages, log)
	}

	out.State = StateDone
	log.Info().
		Int("feeds_ok", out.FeedsOK).
		Int("feeds_failed", out.FeedsFailed).
		Int("items", out.Items).
		Int("posted", out.Posted).
		Int("failed", out.Failed).
		Msg("Section done")
	return out
}

// Preview collects and plans a section against an explicit watermark. It
// needs no credentials and never posts.
func (e *Engine) Preview(ctx context.Context, sec config.Section, watermark time.Time) Outcome {
	log := e.log.With().Str("section", sec.Name).Logger()

	items, feedsOK, feedsFailed := e.collect(ctx, sec, watermark, log)
	return Outcome{
		Section:     sec.Name,
		State:       StateDone,
		Watermark:   watermark,
		FeedsOK:     feedsOK,
		FeedsFailed: feedsFailed,
		Items:       len(items),
		Messages:    Plan(items, sec, e.settings.MaxPostLength, e.now()),
	}
}

func (e *Engine) bootstrap(ctx context.Context, runID string, p poster.Poster, out Outcome, log zerolog.Logger) Outcome {
	out.State = StateDone
	out.Bootstrapped = true
	out.Messages = []format.Message{{Kind: format.KindWelcome, Content: poster.WelcomeMessage}}

	if e.dryRun {
		log.Info().Msg("No posts yet, would post welcome message")
		return out
	}

	log.Info().Str("message", poster.WelcomeMessage).Msg("No posts yet, posting welcome message")
	st, err := p.PostWelcome(ctx)
	e.recordPost(ctx, runID, out.Section, out.Messages[0], st, err, log)
	if err != nil {
		log.Error().Err(err).Msg("Welcome post failed")
		out.Failed = 1
		out.Err = err
		return out
	}
	out.Posted = 1
	return out
}

// collect fetches every feed concurrently, then filters, deduplicates and
// orders the entries. Concatenation follows configured feed order, so the
// stable sort breaks timestamp ties by discovery order.
func (e *Engine) collect(ctx context.Context, sec config.Section, watermark time.Time, log zerolog.Logger) (items []feed.Item, feedsOK, feedsFailed int) {
	results := make([]feed.Result, len(sec.Feeds))

	workers := e.settings.FetchWorkers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, url := range sec.Feeds {
		g.Go(func() error {
			results[i] = e.fetchSafely(ctx, url, log)
			return nil
		})
	}
	_ = g.Wait()

	var candidates []feed.Item
	for _, res := range results {
		if !res.OK() {
			feedsFailed++
			log.Warn().Err(res.Err).Str("feed", res.URL).Int("attempts", res.Attempts).Msg("Feed unavailable, continuing")
			continue
		}
		feedsOK++
		found := feed.Filter(res, watermark, log)
		log.Info().
			Str("feed", res.URL).
			Int("entries", len(res.Feed.Items)).
			Int("new", len(found)).
			Msg("Feed read")
		candidates = append(candidates, found...)
	}

	items = dedup.New().Unique(candidates)
	if dropped := len(candidates) - len(items); dropped > 0 {
		log.Debug().Int("duplicates", dropped).Msg("Dropped duplicate items")
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	return items, feedsOK, feedsFailed
}

func (e *Engine) fetchSafely(ctx context.Context, url string, log zerolog.Logger) (res feed.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("feed", url).Msg("Feed fetch panicked")
			res = feed.Result{URL: url, Err: fmt.Errorf("fetch %s: panic: %v", url, r)}
		}
	}()
	return e.fetcher.Fetch(ctx, url)
}

// Plan decides how items are published: one status per item below the
// section's digest threshold, a single digest at or above it.
func Plan(items []feed.Item, sec config.Section, maxLength int, now time.Time) []format.Message {
	if len(items) == 0 {
		return nil
	}
	if maxLength <= 0 {
		maxLength = config.DefaultMaxPostLength
	}
	threshold := sec.DigestThreshold
	if threshold < 1 {
		threshold = config.DefaultDigestThreshold
	}

	if len(items) >= threshold {
		label := sec.Label
		if label == "" {
			label = sec.Name
		}
		return []format.Message{{
			Kind: format.KindDigest,
			Content: format.Digest(items, format.DigestOptions{
				Label:     label,
				Tags:      sec.Tags,
				Date:      now,
				MaxLength: maxLength,
			}),
			Items: items,
		}}
	}

	msgs := make([]format.Message, 0, len(items))
	for _, it := range items {
		msgs = append(msgs, format.Message{
			Kind:    format.KindItem,
			Content: format.Individual(it, maxLength),
			Items:   []feed.Item{it},
		})
	}
	return msgs
}

// publish posts messages in order, pacing them with a limiter. A failed post
// is logged and the rest continue.
func (e *Engine) publish(ctx context.Context, runID string, sec config.Section, p poster.Poster, msgs []format.Message, log zerolog.Logger) (posted, failed int) {
	limit := rate.Inf
	if e.settings.PostPause > 0 {
		limit = rate.Every(e.settings.PostPause)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, m := range msgs {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Int("remaining", len(msgs)-i).Msg("Publishing interrupted")
			failed += len(msgs) - i
			break
		}

		ev := log.Info().Str("kind", string(m.Kind))
		if m.Kind == format.KindItem {
			ev = ev.Str("title", m.Items[0].Title)
		} else {
			ev = ev.Int("items", len(m.Items))
		}
		ev.Msg("Posting")

		st, err := p.Post(ctx, m.Content)
		e.recordPost(ctx, runID, sec.Name, m, st, err, log)
		if err != nil {
			failed++
			if errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Post cancelled")
				continue
			}
			log.Error().Err(err).Str("kind", string(m.Kind)).Msg("Post failed, continuing")
			continue
		}
		posted++
	}
	return posted, failed
}

func (e *Engine) recordPost(ctx context.Context, runID, section string, m format.Message, st poster.Status, postErr error, log zerolog.Logger) {
	if e.journal == nil {
		return
	}

	rec := journal.Post{
		RunID:     runID,
		Section:   section,
		Kind:      string(m.Kind),
		Items:     len(m.Items),
		Status:    journal.StatusPosted,
		RemoteID:  st.ID,
		CreatedAt: e.now(),
	}
	if len(m.Items) == 1 {
		rec.Fingerprint = m.Items[0].Fingerprint
		rec.Title = m.Items[0].Title
		rec.Link = m.Items[0].Link
	}
	if postErr != nil {
		rec.Status = journal.StatusFailed
		rec.Error = postErr.Error()
	}

	if err := e.journal.RecordPost(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Msg("Could not journal post")
	}
}

func (e *Engine) recordDestination(ctx context.Context, runID string, out Outcome, log zerolog.Logger) {
	if e.journal == nil {
		return
	}

	d := journal.Destination{
		RunID:       runID,
		Section:     out.Section,
		State:       string(out.State),
		Reason:      out.Reason,
		Watermark:   out.Watermark,
		FeedsOK:     out.FeedsOK,
		FeedsFailed: out.FeedsFailed,
		Items:       out.Items,
		RecordedAt:  e.now(),
	}
	if err := e.journal.RecordDestination(context.WithoutCancel(ctx), d); err != nil {
		log.Warn().Err(err).Msg("Could not journal destination")
	}
}

func (e *Engine) lookback(sec config.Section) time.Duration {
	switch {
	case sec.Lookback.Duration > 0:
		return sec.Lookback.Duration
	case e.settings.Lookback > 0:
		return e.settings.Lookback
	default:
		return config.DefaultLookback
	}
}

func skip(out Outcome, reason string, err error) Outcome {
	out.State = StateSkipped
	out.Reason = reason
	out.Err = err
	return out
}
