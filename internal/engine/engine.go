// Package engine runs paginated crawl sessions: it resolves page bounds,
// fetches pages in order, filters their items into a result store and decides
// page by page whether to continue, retry, slow down or stop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratestate"
	"github.com/JakeFAU/listing-crawler/internal/progress"
	"github.com/JakeFAU/listing-crawler/internal/sampler"
)

var (
	// ErrNoSource is returned when Run is called without a PageSource.
	ErrNoSource = errors.New("engine: page source is required")
	// ErrInvalidRequest is returned for malformed session requests.
	ErrInvalidRequest = errors.New("engine: invalid session request")
	// ErrSessionRunning is returned when re-filtering a session that has not finished.
	ErrSessionRunning = errors.New("engine: session still running")

	errStopped = errors.New("stop requested")
)

// Options wires an Engine's collaborators. Only State is required.
type Options struct {
	Config   Config
	State    *ratestate.State
	Filters  *filter.Holder
	Retry    crawler.RetryPolicy
	Clock    crawler.Clock
	Progress progress.Emitter
	// Lookup serves termination samples for sources that do not implement
	// crawler.PopularityLookup themselves.
	Lookup crawler.PopularityLookup
	Logger *zap.Logger
}

// Engine executes crawl sessions. A single Engine may run many sessions
// concurrently; each session is sequential.
type Engine struct {
	cfg      Config
	state    *ratestate.State
	filters  *filter.Holder
	retry    crawler.RetryPolicy
	clock    crawler.Clock
	progress progress.Emitter
	lookup   crawler.PopularityLookup
	logger   *zap.Logger
}

// New constructs an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	state := opts.State
	if state == nil {
		state = ratestate.New()
	}
	filters := opts.Filters
	if filters == nil {
		filters = filter.NewHolder(nil)
	}
	retry := opts.Retry
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{})
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	emitter := opts.Progress
	if emitter == nil {
		emitter = progress.Nop
	}
	return &Engine{
		cfg:      opts.Config.withDefaults(),
		state:    state,
		filters:  filters,
		retry:    retry,
		clock:    clock,
		progress: emitter,
		lookup:   opts.Lookup,
		logger:   logger,
	}
}

// run carries per-session collaborators through the state machine.
type run struct {
	sess     *Session
	src      crawler.PageSource
	sampler  *sampler.Sampler
	key      [16]byte
	started  time.Time
	start    int
	logger   *zap.Logger
	capWarn  bool
	itemsCap int
	slow     bool
}

// Run executes one session to a terminal outcome and returns it. The error is
// non-nil only for invalid input or when ctx ends the session.
func (e *Engine) Run(ctx context.Context, id string, src crawler.PageSource, req crawler.SessionRequest) (*Session, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	info := src.Info()
	if info.ItemsPerPage <= 0 && info.ReportsTotal {
		return nil, fmt.Errorf("%w: source %q reports a total without items per page", ErrInvalidRequest, info.Name)
	}
	if req.Requested < 0 && req.Requested != crawler.Unbounded {
		return nil, fmt.Errorf("%w: requested %d", ErrInvalidRequest, req.Requested)
	}
	if req.StartPage < 1 {
		req.StartPage = 1
	}

	sess := newSession(id, info, req)
	threshold := func() int { return e.filters.Load().MinBookmarks() }
	r := &run{
		sess:     sess,
		src:      src,
		sampler:  sampler.New(e.lookupFor(src), threshold, e.logger.Named("sampler")),
		key:      progress.SessionKey(id),
		started:  e.clock.Now(),
		start:    req.StartPage,
		logger:   e.logger.With(zap.String("session_id", id), zap.String("source", info.Name)),
		itemsCap: crawler.Unbounded,
	}
	if info.BudgetUnit == crawler.BudgetItems {
		r.itemsCap = req.Requested
	}
	e.emit(r, progress.Event{Stage: progress.StageSessionStart})
	r.logger.Info("crawl session started",
		zap.Int("start_page", req.StartPage),
		zap.Int("requested", req.Requested),
	)

	outcome, err := e.execute(ctx, r)
	e.finish(r, outcome, err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return sess, fmt.Errorf("run session %s: %w", id, err)
	}
	return sess, nil
}

func (e *Engine) lookupFor(src crawler.PageSource) crawler.PopularityLookup {
	if lookup, ok := src.(crawler.PopularityLookup); ok {
		return lookup
	}
	return e.lookup
}

func (e *Engine) execute(ctx context.Context, r *run) (crawler.Outcome, error) {
	info := r.sess.info
	req := r.sess.request

	if e.stopRequested() {
		return crawler.OutcomeStopped, nil
	}
	if req.Requested == 0 {
		return crawler.OutcomeNoPages, nil
	}

	wanted := req.Requested
	if info.BudgetUnit == crawler.BudgetItems {
		wanted = crawler.Unbounded
	}
	if info.ReportsTotal {
		probe, _, err := e.fetchPage(ctx, r, crawler.PageRequest{Page: 1, Probe: true, Params: req.Params}, false)
		if err != nil {
			return terminalOrError(err)
		}
		if probe.Total <= 0 {
			r.logger.Info("crawl returned no results", zap.Int("total", probe.Total))
			return crawler.OutcomeEmpty, nil
		}
		pageCap := e.cfg.pageCap(e.state.Snapshot().Elevated)
		bounds := crawler.ResolveBounds(probe.Total, info.ItemsPerPage, pageCap, r.start, wanted)
		if bounds.Capped && !r.capWarn {
			r.capWarn = true
			r.logger.Info("page count clamped to account ceiling",
				zap.Int("total", probe.Total),
				zap.Int("page_cap", pageCap),
			)
		}
		r.sess.update(func(c *crawler.SessionCounters) {
			c.Total = probe.Total
			c.PageCount = bounds.PageCount
			c.EffectivePageCap = pageCap
			c.WantedPageCount = bounds.Wanted
		})
		if bounds.OutOfRange {
			r.logger.Info("start page beyond last page",
				zap.Int("start_page", r.start),
				zap.Int("page_count", bounds.PageCount),
			)
			return crawler.OutcomeOutOfRange, nil
		}
		if bounds.Wanted == 0 {
			return crawler.OutcomeNoPages, nil
		}
		wanted = bounds.Wanted
		if e.cfg.SlowModeAutoPages > 0 && wanted > e.cfg.SlowModeAutoPages {
			// Scoped to this session; the shared flag stays operator-owned.
			r.logger.Info("enabling slow mode for large session", zap.Int("wanted_pages", wanted))
			r.slow = true
		}
	} else {
		r.sess.update(func(c *crawler.SessionCounters) {
			c.WantedPageCount = wanted
		})
	}

	return e.loop(ctx, r, wanted)
}

func (e *Engine) loop(ctx context.Context, r *run, wanted int) (crawler.Outcome, error) {
	info := r.sess.info
	for requested := 0; wanted == crawler.Unbounded || requested < wanted; requested++ {
		if e.stopRequested() {
			return crawler.OutcomeStopped, nil
		}
		if requested > 0 && (r.slow || e.state.Snapshot().SlowMode) {
			if err := e.wait(ctx, e.cfg.SlowModeDelay, !r.slow); err != nil {
				return terminalOrError(err)
			}
		}

		page := r.start + requested
		r.sess.update(func(c *crawler.SessionCounters) { c.PagesRequested++ })
		result, dur, err := e.fetchPage(ctx, r, crawler.PageRequest{Page: page, Params: r.sess.request.Params}, info.ReportsTotal)
		if err != nil {
			return terminalOrError(err)
		}

		eval := e.evaluate(ctx, r, result.Items)
		var completed int
		r.sess.update(func(c *crawler.SessionCounters) {
			c.PagesCompleted++
			c.ItemsAccepted += eval.accepted
			c.ItemsScanned += eval.scanned
			completed = c.PagesCompleted
		})
		metrics.ObserveItems(info.Name, "accepted", eval.accepted)
		metrics.ObserveItems(info.Name, "rejected", eval.scanned-eval.accepted)
		e.emit(r, progress.Event{
			Stage:    progress.StagePageDone,
			Page:     page,
			Accepted: eval.accepted,
			Scanned:  eval.scanned,
			Dur:      dur,
		})

		if eval.budgetSpent {
			r.logger.Info("item budget reached", zap.Int("page", page))
			return crawler.OutcomeCompleted, nil
		}
		if completed%e.cfg.SampleEvery == 0 && eval.lastID != "" {
			if r.sampler.ShouldStop(ctx, eval.lastID, eval.lastKind) {
				metrics.ObserveSampledStop(info.Name)
				e.emit(r, progress.Event{Stage: progress.StageSampledStop, Page: page, Note: eval.lastID})
				r.logger.Info("remaining pages below popularity floor; stopping",
					zap.Int("page", page),
					zap.String("sampled_id", eval.lastID),
				)
				return crawler.OutcomeCompleted, nil
			}
		}
		if !info.ReportsTotal && (result.End || len(result.Items) == 0) {
			return crawler.OutcomeCompleted, nil
		}
	}
	return crawler.OutcomeCompleted, nil
}

// fetchPage issues req until it yields a usable page. Transport failures are
// retried per the retry policy; when zeroIsRateLimit is set a zero total is
// treated as throttling and retried after the cooldown.
func (e *Engine) fetchPage(
	ctx context.Context,
	r *run,
	req crawler.PageRequest,
	zeroIsRateLimit bool,
) (crawler.PageResult, time.Duration, error) {
	name := r.sess.info.Name
	attempt := 0
	for {
		if e.stopRequested() {
			return crawler.PageResult{}, 0, errStopped
		}
		if err := ctx.Err(); err != nil {
			return crawler.PageResult{}, 0, err
		}
		began := e.clock.Now()
		result, err := r.src.FetchPage(ctx, req)
		dur := e.clock.Now().Sub(began)
		if dur < 0 {
			dur = 0
		}
		if e.stopRequested() {
			return crawler.PageResult{}, 0, errStopped
		}
		if err != nil {
			metrics.ObservePageFetch(name, false)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.PageResult{}, 0, ctxErr
			}
			attempt++
			if !e.retry.ShouldRetry(err, attempt) {
				return crawler.PageResult{}, 0, fmt.Errorf("fetch page %d: %w", req.Page, err)
			}
			backoff := e.retry.Backoff(attempt)
			metrics.ObserveRetry(name)
			e.emit(r, progress.Event{Stage: progress.StageRetry, Page: req.Page, Dur: backoff, Note: err.Error()})
			r.logger.Debug("page fetch failed; retrying",
				zap.Int("page", req.Page),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if err := e.wait(ctx, backoff, false); err != nil {
				return crawler.PageResult{}, 0, err
			}
			continue
		}
		metrics.ObservePageFetch(name, true)
		if zeroIsRateLimit && result.Total == 0 {
			metrics.ObserveCooldown(name)
			e.emit(r, progress.Event{Stage: progress.StageRateLimited, Page: req.Page, Dur: e.cfg.RateLimitCooldown})
			r.logger.Warn("page reported zero total; assuming rate limit",
				zap.Int("page", req.Page),
				zap.Duration("cooldown", e.cfg.RateLimitCooldown),
			)
			if err := e.wait(ctx, e.cfg.RateLimitCooldown, false); err != nil {
				return crawler.PageResult{}, 0, err
			}
			continue
		}
		return result, dur, nil
	}
}

type evaluation struct {
	accepted    int
	scanned     int
	lastID      string
	lastKind    crawler.WorkKind
	budgetSpent bool
}

func (e *Engine) evaluate(ctx context.Context, r *run, items []crawler.RawItem) evaluation {
	var ev evaluation
	pipeline := e.filters.Load()
	scannedBefore := r.sess.Counters().ItemsScanned
	for _, raw := range items {
		if raw.Placeholder {
			continue
		}
		ev.lastID, ev.lastKind = raw.ID, raw.Kind
		desc, err := r.src.Describe(raw)
		if err != nil {
			r.logger.Warn("skipping undescribable item", zap.String("id", raw.ID), zap.Error(err))
			continue
		}
		if ev.lastID == "" {
			ev.lastID = desc.ID
		}
		if ev.lastKind == "" {
			ev.lastKind = desc.Kind
		}
		if desc.Kind != crawler.KindImageSingle || desc.PageCount > 1 {
			desc.Width, desc.Height = 0, 0
		}
		r.sess.buffer(desc)
		ev.scanned++
		if pipeline.Accept(ctx, filter.CriteriaFromItem(desc)) && r.sess.results.Add(desc) {
			ev.accepted++
		}
		if r.itemsCap != crawler.Unbounded && scannedBefore+ev.scanned >= r.itemsCap {
			ev.budgetSpent = true
			break
		}
	}
	return ev
}

// wait blocks for d, returning early on stop or ctx. With slowOnly set the wait
// also ends as soon as slow mode is switched off.
func (e *Engine) wait(ctx context.Context, d time.Duration, slowOnly bool) error {
	if d <= 0 {
		return nil
	}
	timer := e.clock.After(d)
	for {
		changed := e.state.Changed()
		snap := e.state.Snapshot()
		if snap.StopRequested {
			return errStopped
		}
		if slowOnly && !snap.SlowMode {
			return nil
		}
		select {
		case <-timer:
			return nil
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) finish(r *run, outcome crawler.Outcome, err error) {
	r.sess.once.Do(func() {
		if outcome == crawler.OutcomeNone {
			outcome = crawler.OutcomeCompleted
		}
		r.sess.results.Sort(r.sess.info.SortOrder)
		r.sess.setOutcome(outcome, err)
		counters := r.sess.Counters()
		evt := progress.Event{
			Stage:    terminalStage(outcome),
			Accepted: counters.ItemsAccepted,
			Scanned:  counters.ItemsScanned,
			Dur:      e.clock.Now().Sub(r.started),
			Note:     string(outcome),
		}
		if evt.Dur < 0 {
			evt.Dur = 0
		}
		fields := []zap.Field{
			zap.String("outcome", string(outcome)),
			zap.Int("pages_completed", counters.PagesCompleted),
			zap.Int("items_accepted", counters.ItemsAccepted),
			zap.Duration("runtime", evt.Dur),
		}
		if err != nil {
			evt.Note = err.Error()
			r.logger.Error("crawl session failed", append(fields, zap.Error(err))...)
		} else {
			r.logger.Info("crawl session finished", fields...)
		}
		e.emit(r, evt)
	})
}

// Refilter re-applies p (or the active pipeline when p is nil) to a finished
// session's buffered descriptors without touching the network.
func (e *Engine) Refilter(ctx context.Context, sess *Session, p *filter.Pipeline) (int, error) {
	if sess == nil {
		return 0, ErrInvalidRequest
	}
	if !sess.Outcome().Terminal() {
		return 0, ErrSessionRunning
	}
	if p == nil {
		p = e.filters.Load()
	}
	accepted := sess.refilter(ctx, p)
	e.logger.Debug("session re-filtered",
		zap.String("session_id", sess.id),
		zap.Int("items_accepted", accepted),
	)
	return accepted, nil
}

func (e *Engine) emit(r *run, evt progress.Event) {
	evt.SessionID = r.key
	evt.Source = r.sess.info.Name
	evt.TS = e.clock.Now()
	e.progress.Emit(evt)
}

func (e *Engine) stopRequested() bool {
	return e.state.Snapshot().StopRequested
}

// terminalOrError maps a fetch or wait error to the outcome it forces. A stop
// request is a clean termination, not a failure.
func terminalOrError(err error) (crawler.Outcome, error) {
	if errors.Is(err, errStopped) {
		return crawler.OutcomeStopped, nil
	}
	return crawler.OutcomeError, err
}

func terminalStage(outcome crawler.Outcome) progress.Stage {
	switch outcome {
	case crawler.OutcomeCompleted:
		return progress.StageSessionDone
	case crawler.OutcomeStopped:
		return progress.StageSessionStopped
	case crawler.OutcomeError:
		return progress.StageSessionError
	default:
		return progress.StageSessionEmpty
	}
}
