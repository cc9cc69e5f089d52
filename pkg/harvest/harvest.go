package harvest

import (
	"context"
	"fmt"
	"time"

	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/metrics"
	"tsscraper/pkg/models"
	"tsscraper/pkg/ratelimit"
	"tsscraper/pkg/retry"
)

// PageFetcher fetches the page of items older than cursor, newest first.
// An empty result means the timeline is exhausted.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Item, error)
}

// Store persists pages and replays them into a resume state.
type Store interface {
	LoadState(ctx context.Context) (models.State, error)
	SavePage(ctx context.Context, page models.Page) error
}

// Reconciler is a Store that can also prepend items newer than anything
// persisted.
type Reconciler interface {
	NewestID(ctx context.Context) (string, bool, error)
	PrependItems(ctx context.Context, items []models.Item) error
}

// StopReason says why a run ended.
type StopReason string

const (
	// StopExhausted: the remote returned an empty page
	StopExhausted StopReason = "exhausted"
	// StopCapReached: the configured item cap was reached
	StopCapReached StopReason = "cap_reached"
	// StopAborted: a fetch, save or wait failed; resume later
	StopAborted StopReason = "aborted"
)

// Options configures a Harvester
type Options struct {
	// Retrier wraps every fetch
	Retrier *retry.Retrier
	// Pacer is waited on between pages
	Pacer ratelimit.Pacer
	Logger logger.Logger
	// Handle labels log lines
	Handle string
	// MaxItems caps the persisted total across runs; 0 means unbounded
	MaxItems int
	// Reconcile runs a catch-up pass before resuming
	Reconcile bool
	// PageFilter selects which fetched items are persisted
	PageFilter func([]models.Item) []models.Item

	now func() time.Time
}

// Result summarises one run
type Result struct {
	Reason     StopReason
	PagesSaved int
	ItemsSaved int
	Reconciled int
	// State is the resume state after the last save
	State    models.State
	Duration time.Duration
}

// Harvester walks a timeline page by page into a store
type Harvester struct {
	fetcher PageFetcher
	store   Store
	opts    Options
	logger  logger.Logger
}

// New creates a Harvester. Missing options get the defaults of the CLI:
// five retries doubling from 10s and a 4s pacer with 2s jitter.
func New(fetcher PageFetcher, store Store, opts Options) *Harvester {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Retrier == nil {
		cfg := retry.DefaultConfig()
		cfg.Logger = opts.Logger
		opts.Retrier = retry.NewRetrier(cfg)
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewJitteredDelay(4*time.Second, 2*time.Second)
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	log := opts.Logger
	if opts.Handle != "" {
		log = log.WithField("handle", opts.Handle)
	}

	return &Harvester{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		logger:  log,
	}
}

// Run reconciles if configured, resumes from the persisted state and
// fetches pages until the timeline is exhausted, the cap is reached or a
// failure aborts the run. On abort the partial Result is returned with
// the error; every page saved so far stays valid for the next run.
func (h *Harvester) Run(ctx context.Context) (result *Result, err error) {
	start := h.opts.now()
	result = &Result{}

	defer func() {
		result.Duration = h.opts.now().Sub(start)
		metrics.Runs.WithLabelValues(string(result.Reason)).Inc()
		logger.LogRunStopped(h.logger, h.opts.Handle, string(result.Reason), result.PagesSaved, result.ItemsSaved, err)
	}()

	abort := func(cause error) (*Result, error) {
		result.Reason = StopAborted
		return result, cause
	}

	if h.opts.Reconcile {
		n, err := h.Reconcile(ctx)
		if err != nil {
			return abort(fmt.Errorf("catch-up pass: %w", err))
		}
		result.Reconciled = n
	}

	state, err := h.store.LoadState(ctx)
	if err != nil {
		return abort(fmt.Errorf("failed to load state: %w", err))
	}
	result.State = state

	if state.Cursor.IsNone() {
		h.logger.Info("Starting fresh harvest")
	} else {
		h.logger.InfoWithFields("Resuming harvest", map[string]interface{}{
			"page":   state.NextPage,
			"cursor": string(state.Cursor),
			"total":  state.TotalItems,
		})
	}

	for {
		remaining := h.remaining(state)
		if remaining == 0 {
			result.Reason = StopCapReached
			return result, nil
		}

		h.logger.DebugWithFields("Fetching page", map[string]interface{}{
			"page":   state.NextPage,
			"cursor": string(state.Cursor),
		})

		items, err := h.fetch(ctx, state.Cursor)
		if err != nil {
			return abort(err)
		}
		if len(items) == 0 {
			result.Reason = StopExhausted
			return result, nil
		}

		next := models.Cursor(models.LastID(items))
		if !state.Cursor.IsNone() && next == state.Cursor {
			return abort(fmt.Errorf("%w: page %d ended on its request cursor %s", errs.ErrCursorStalled, state.NextPage, next))
		}

		kept := items
		if h.opts.PageFilter != nil {
			kept = h.opts.PageFilter(items)
		}
		if remaining > 0 && len(kept) > remaining {
			kept = kept[:remaining]
		}

		page := models.NewPage(state.NextPage, state.Cursor, kept, h.opts.now())
		if err := h.store.SavePage(ctx, page); err != nil {
			return abort(fmt.Errorf("failed to save page %d: %w", page.Page, err))
		}

		state.Cursor = next
		state.NextPage++
		state.TotalItems += page.Count
		result.State = state
		result.PagesSaved++
		result.ItemsSaved += page.Count

		metrics.PagesSaved.Inc()
		metrics.ItemsSaved.Add(float64(page.Count))
		logger.LogPageSaved(h.logger, h.opts.Handle, page.Page, page.Count, state.TotalItems, string(state.Cursor))
		if h.opts.PageFilter != nil {
			h.logger.DebugWithFields("Filtered page", map[string]interface{}{
				"page":    page.Page,
				"kept":    page.Count,
				"fetched": len(items),
			})
		}

		if h.remaining(state) == 0 {
			h.logger.InfoWithFields("Reached item cap", map[string]interface{}{
				"max_items": h.opts.MaxItems,
			})
			result.Reason = StopCapReached
			return result, nil
		}

		if err := h.opts.Pacer.Wait(ctx); err != nil {
			return abort(err)
		}
	}
}

// remaining returns how many items may still be saved: -1 when unbounded,
// otherwise never below 0.
func (h *Harvester) remaining(state models.State) int {
	if h.opts.MaxItems <= 0 {
		return -1
	}
	if left := h.opts.MaxItems - state.TotalItems; left > 0 {
		return left
	}
	return 0
}

func (h *Harvester) fetch(ctx context.Context, cursor models.Cursor) ([]models.Item, error) {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}()

	return retry.DoWithResult(ctx, func(ctx context.Context) ([]models.Item, error) {
		return h.fetcher.FetchPage(ctx, cursor)
	}, h.opts.Retrier.Config())
}
