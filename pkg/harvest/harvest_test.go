package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsscraper/internal/testutil"
	"tsscraper/pkg/config"
	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
	"tsscraper/pkg/ratelimit"
	"tsscraper/pkg/retry"
	"tsscraper/pkg/store"
	"tsscraper/pkg/truthsocial"
)

// fakeTimeline serves ids (newest first) in pages of pageSize
type fakeTimeline struct {
	ids      []string
	pageSize int
	contents map[string]string

	cursors []models.Cursor
	// failFrom makes every call from this one (1-based) fail with err
	failFrom int
	err      error
	// ignoreCursor always serves the newest page
	ignoreCursor bool
}

func newFakeTimeline(ids ...string) *fakeTimeline {
	return &fakeTimeline{ids: ids, pageSize: 20}
}

func (f *fakeTimeline) FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Item, error) {
	f.cursors = append(f.cursors, cursor)
	if f.failFrom > 0 && len(f.cursors) >= f.failFrom {
		return nil, f.err
	}

	start := 0
	if !cursor.IsNone() && !f.ignoreCursor {
		start = len(f.ids)
		for i, id := range f.ids {
			if id == string(cursor) {
				start = i + 1
				break
			}
		}
	}
	end := start + f.pageSize
	if end > len(f.ids) {
		end = len(f.ids)
	}

	items := make([]models.Item, 0, end-start)
	for _, id := range f.ids[start:end] {
		raw, _ := json.Marshal(map[string]string{"id": id, "content": f.contents[id]})
		items = append(items, models.Item{ID: id, Raw: raw})
	}
	return items, nil
}

// memoryStore is an in-memory Store and Reconciler
type memoryStore struct {
	pages   []models.Page
	saveErr error
}

func (m *memoryStore) LoadState(ctx context.Context) (models.State, error) {
	return models.ReplayState(m.pages), nil
}

func (m *memoryStore) SavePage(ctx context.Context, page models.Page) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.pages = append(m.pages, page)
	return nil
}

func (m *memoryStore) NewestID(ctx context.Context) (string, bool, error) {
	id, ok := models.NewestID(m.pages)
	return id, ok, nil
}

func (m *memoryStore) PrependItems(ctx context.Context, items []models.Item) error {
	page := models.NewPage(models.ReconciledPageNumber, models.NoCursor, items, time.Now())
	m.pages = append([]models.Page{page}, m.pages...)
	return nil
}

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testRetrier(maxRetries int, retryIf func(error) bool) (*retry.Retrier, *recordingSleep) {
	rec := &recordingSleep{}
	return retry.NewRetrier(&retry.Config{
		MaxRetries: maxRetries,
		Backoff:    retry.DefaultExponentialBackoff(),
		RetryIf:    retryIf,
		Sleep:      rec.sleep,
		Logger:     logger.NewNopLogger(),
	}), rec
}

func testOptions() Options {
	r, _ := testRetrier(5, retry.RetryOnAnyError)
	return Options{
		Retrier: r,
		Pacer:   ratelimit.NoDelay{},
		Logger:  logger.NewNopLogger(),
		Handle:  "someone",
	}
}

func pageIDs(pages []models.Page) [][]string {
	out := make([][]string, len(pages))
	for i, p := range pages {
		out[i] = []string{}
		for _, item := range p.Data {
			out[i] = append(out[i], item.ID)
		}
	}
	return out
}

func TestRunUntilExhausted(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(1000, 45)...)
	st := &memoryStore{}

	result, err := New(timeline, st, testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopExhausted, result.Reason)
	assert.Equal(t, 3, result.PagesSaved)
	assert.Equal(t, 45, result.ItemsSaved)
	assert.Equal(t, models.State{Cursor: "956", NextPage: 4, TotalItems: 45}, result.State)

	require.Len(t, st.pages, 3)
	assert.Equal(t, []int{20, 20, 5}, []int{st.pages[0].Count, st.pages[1].Count, st.pages[2].Count})
	assert.Equal(t, []int{1, 2, 3}, []int{st.pages[0].Page, st.pages[1].Page, st.pages[2].Page})
	assert.Equal(t, models.NoCursor, st.pages[0].Cursor)
	assert.Equal(t, models.Cursor("981"), st.pages[1].Cursor)

	// the empty page is fetched but never persisted
	assert.Equal(t, []models.Cursor{"", "981", "961", "956"}, timeline.cursors)
}

func TestRunCapTruncatesSecondPage(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(1000, 60)...)
	st := &memoryStore{}

	opts := testOptions()
	opts.MaxItems = 25
	result, err := New(timeline, st, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopCapReached, result.Reason)
	assert.Equal(t, 2, result.PagesSaved)
	assert.Equal(t, 25, result.ItemsSaved)
	require.Len(t, st.pages, 2)
	assert.Equal(t, 20, st.pages[0].Count)
	assert.Equal(t, 5, st.pages[1].Count)
	assert.Equal(t, "976", st.pages[1].LastID())
	assert.Len(t, timeline.cursors, 2)

	// the in-run cursor advanced past the whole second fetch
	assert.Equal(t, models.Cursor("961"), result.State.Cursor)
	assert.Equal(t, 25, result.State.TotalItems)
}

func TestRunCapAlreadyReached(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(1000, 60)...)
	st := &memoryStore{pages: []models.Page{
		models.NewPage(1, models.NoCursor, mustItems(testutil.DescendingIDs(1000, 20)...), time.Now()),
	}}

	opts := testOptions()
	opts.MaxItems = 20
	result, err := New(timeline, st, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopCapReached, result.Reason)
	assert.Zero(t, result.PagesSaved)
	assert.Empty(t, timeline.cursors, "no fetch once the cap is met")
}

func TestRunCapAcrossRuns(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(1000, 60)...)
	st := &memoryStore{}

	opts := testOptions()
	opts.MaxItems = 30
	_, err := New(timeline, st, opts).Run(context.Background())
	require.NoError(t, err)

	state, _ := st.LoadState(context.Background())
	assert.Equal(t, 30, state.TotalItems)

	result, err := New(timeline, st, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopCapReached, result.Reason)
	assert.Zero(t, result.PagesSaved)
}

func TestRunCursorIsMonotonic(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(5000, 137)...)
	_, err := New(timeline, &memoryStore{}, testOptions()).Run(context.Background())
	require.NoError(t, err)

	prev := int64(-1)
	for _, cursor := range timeline.cursors[1:] {
		n, err := strconv.ParseInt(string(cursor), 10, 64)
		require.NoError(t, err)
		if prev >= 0 {
			assert.Less(t, n, prev, "cursor must strictly decrease")
		}
		prev = n
	}
}

func TestRunResumeIsIdempotent(t *testing.T) {
	ids := testutil.DescendingIDs(9000, 73)
	ctx := context.Background()
	dir := t.TempDir()

	// uninterrupted reference run
	reference := store.NewJSONStore(filepath.Join(dir, "reference.json"), logger.NewNopLogger())
	_, err := New(newFakeTimeline(ids...), reference, testOptions()).Run(ctx)
	require.NoError(t, err)

	// interrupted run: the third fetch keeps failing until retries run out
	path := filepath.Join(dir, "resumed.json")
	interrupted := store.NewJSONStore(path, logger.NewNopLogger())
	failing := newFakeTimeline(ids...)
	failing.failFrom = 3
	failing.err = errs.FromStatus(http.StatusTooManyRequests)

	opts := testOptions()
	opts.Retrier, _ = testRetrier(2, retry.RetryOnAnyError)
	result, err := New(failing, interrupted, opts).Run(ctx)
	require.ErrorIs(t, err, errs.ErrRetriesExhausted)
	assert.Equal(t, StopAborted, result.Reason)
	assert.Equal(t, 2, result.PagesSaved)

	// a fresh process resumes from what was persisted
	resumed := store.NewJSONStore(path, logger.NewNopLogger())
	result, err = New(newFakeTimeline(ids...), resumed, testOptions()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, result.Reason)
	assert.Equal(t, 2, result.PagesSaved)

	want, err := reference.LoadPages(ctx)
	require.NoError(t, err)
	got, err := resumed.LoadPages(ctx)
	require.NoError(t, err)

	assert.Equal(t, pageIDs(want), pageIDs(got))
	for i := range want {
		assert.Equal(t, want[i].Page, got[i].Page)
		assert.Equal(t, want[i].Cursor, got[i].Cursor)
	}
}

func TestRunAbortsWhenRetriesExhausted(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(100, 10)...)
	timeline.failFrom = 1
	timeline.err = errs.FromStatus(http.StatusTooManyRequests)
	st := &memoryStore{}

	opts := testOptions()
	var rec *recordingSleep
	opts.Retrier, rec = testRetrier(2, retry.RetryOnRateLimit)

	result, err := New(timeline, st, opts).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRetriesExhausted)
	assert.True(t, errs.IsRateLimit(err))
	assert.Equal(t, StopAborted, result.Reason)
	assert.Empty(t, st.pages)
	assert.Len(t, timeline.cursors, 3)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, rec.delays)
}

func TestRunMalformedPageIsNotExhaustion(t *testing.T) {
	timeline := newFakeTimeline()
	timeline.failFrom = 1
	timeline.err = errs.Wrap(errs.ErrMalformedPage, errs.ErrorTypeParsing, 0, "response is not a JSON array")

	opts := testOptions()
	opts.Retrier, _ = testRetrier(5, retry.RetryOnTransient)

	result, err := New(timeline, &memoryStore{}, opts).Run(context.Background())

	assert.ErrorIs(t, err, errs.ErrMalformedPage)
	assert.NotErrorIs(t, err, errs.ErrRetriesExhausted)
	assert.Equal(t, StopAborted, result.Reason)
	assert.Len(t, timeline.cursors, 1)
}

func TestRunStalledCursor(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(100, 40)...)
	timeline.ignoreCursor = true
	st := &memoryStore{}

	result, err := New(timeline, st, testOptions()).Run(context.Background())

	require.ErrorIs(t, err, errs.ErrCursorStalled)
	assert.Equal(t, StopAborted, result.Reason)
	assert.Len(t, st.pages, 1, "the repeated page is not saved")
	assert.Len(t, timeline.cursors, 2)
}

func TestRunStorageErrorAborts(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(100, 40)...)
	st := &memoryStore{saveErr: errors.New("disk full")}

	result, err := New(timeline, st, testOptions()).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StopAborted, result.Reason)
	assert.Len(t, timeline.cursors, 1, "storage errors are not retried")
}

type cancellingPacer struct {
	cancel context.CancelFunc
}

func (p cancellingPacer) Wait(ctx context.Context) error {
	p.cancel()
	return ctx.Err()
}

func TestRunCancelledWhilePacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timeline := newFakeTimeline(testutil.DescendingIDs(100, 40)...)
	st := &memoryStore{}

	opts := testOptions()
	opts.Pacer = cancellingPacer{cancel: cancel}
	result, err := New(timeline, st, opts).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopAborted, result.Reason)
	assert.Len(t, st.pages, 1)
}

func TestRunLogsEveryPage(t *testing.T) {
	log := logger.NewTestLogger()
	opts := testOptions()
	opts.Logger = log

	_, err := New(newFakeTimeline(testutil.DescendingIDs(100, 30)...), &memoryStore{}, opts).Run(context.Background())
	require.NoError(t, err)

	saved := 0
	for _, msg := range log.GetMessages() {
		if msg.Message == "Saved page" {
			saved++
			assert.Equal(t, "someone", msg.Fields["handle"])
		}
	}
	assert.Equal(t, 2, saved)
	assert.True(t, log.HasMessage("Harvest stopped"))
}

func TestRunWithKeywordFilter(t *testing.T) {
	timeline := newFakeTimeline(testutil.DescendingIDs(100, 30)...)
	timeline.contents = map[string]string{
		"99": "<p>The ELECTION is rigged</p>",
		"75": "<p>election day</p>",
	}
	st := &memoryStore{}

	opts := testOptions()
	opts.PageFilter = KeywordFilter("Election")
	result, err := New(timeline, st, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopExhausted, result.Reason)
	assert.Equal(t, [][]string{{"99"}, {"75"}}, pageIDs(st.pages))
	assert.Equal(t, 2, result.ItemsSaved)
	// cursor still follows the unfiltered fetch
	assert.Equal(t, models.Cursor("71"), result.State.Cursor)
}

func TestRunReconcilesBeforeResuming(t *testing.T) {
	timeline := newFakeTimeline("50", "49", "42", "41")
	st := &memoryStore{pages: []models.Page{
		models.NewPage(1, models.NoCursor, mustItems("42", "41"), time.Now()),
	}}

	opts := testOptions()
	opts.Reconcile = true
	result, err := New(timeline, st, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Reconciled)
	assert.Equal(t, StopExhausted, result.Reason)
	assert.Equal(t, [][]string{{"50", "49"}, {"42", "41"}}, pageIDs(st.pages))
	assert.Equal(t, models.ReconciledPageNumber, st.pages[0].Page)
	// newest page for catch-up, then resume below the tail cursor
	assert.Equal(t, []models.Cursor{"", "41"}, timeline.cursors)
	assert.Equal(t, models.State{Cursor: "41", NextPage: 2, TotalItems: 4}, result.State)
}

func TestRunCatchUpRespectsCap(t *testing.T) {
	ctx := context.Background()

	t.Run("cap already met", func(t *testing.T) {
		st := &memoryStore{}
		opts := testOptions()
		opts.MaxItems = 25
		_, err := New(newFakeTimeline(testutil.DescendingIDs(90, 90)...), st, opts).Run(ctx)
		require.NoError(t, err)

		timeline := newFakeTimeline(testutil.DescendingIDs(100, 100)...)
		opts.Reconcile = true
		result, err := New(timeline, st, opts).Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, StopCapReached, result.Reason)
		assert.Zero(t, result.Reconciled)
		state, _ := st.LoadState(ctx)
		assert.Equal(t, 25, state.TotalItems)
		assert.Len(t, st.pages, 2)
	})

	t.Run("partial budget", func(t *testing.T) {
		st := &memoryStore{}
		opts := testOptions()
		opts.MaxItems = 20
		_, err := New(newFakeTimeline(testutil.DescendingIDs(90, 90)...), st, opts).Run(ctx)
		require.NoError(t, err)

		timeline := newFakeTimeline(testutil.DescendingIDs(100, 100)...)
		opts.MaxItems = 25
		opts.Reconcile = true
		result, err := New(timeline, st, opts).Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, StopCapReached, result.Reason)
		assert.Equal(t, 5, result.Reconciled)
		assert.Equal(t, []string{"95", "94", "93", "92", "91"}, pageIDs(st.pages)[0])
		assert.Equal(t, 25, result.State.TotalItems)
		assert.Equal(t, []models.Cursor{""}, timeline.cursors, "no tail fetch once the cap is met")
	})
}

func TestRunRetriesRequestTimeouts(t *testing.T) {
	mock := testutil.NewMockTimeline("someone", "1077")
	defer mock.Close()

	var calls atomic.Int32
	mock.SetHandler(mock.StatusesPath(), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	})

	cfg := config.DefaultConfig().API
	cfg.BaseURL = mock.URL()
	cfg.RequestTimeout = 50 * time.Millisecond
	client := truthsocial.NewClient(cfg, logger.NewNopLogger())

	opts := testOptions()
	var rec *recordingSleep
	opts.Retrier, rec = testRetrier(2, retry.DefaultConfig().RetryIf)

	result, err := New(truthsocial.NewTimeline(client, "1077"), &memoryStore{}, opts).Run(context.Background())

	require.ErrorIs(t, err, errs.ErrRetriesExhausted)
	assert.Equal(t, errs.ErrorTypeTimeout, errs.TypeOf(err))
	assert.Equal(t, StopAborted, result.Reason)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, rec.delays, 2)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("newest id found", func(t *testing.T) {
		st := &memoryStore{pages: []models.Page{models.NewPage(1, models.NoCursor, mustItems("42", "41"), time.Now())}}
		n, err := New(newFakeTimeline("50", "49", "42", "41"), st, testOptions()).Reconcile(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, [][]string{{"50", "49"}, {"42", "41"}}, pageIDs(st.pages))
	})

	t.Run("newest id not on first page", func(t *testing.T) {
		st := &memoryStore{pages: []models.Page{models.NewPage(1, models.NoCursor, mustItems("10", "9"), time.Now())}}
		n, err := New(newFakeTimeline("50", "49", "42", "41"), st, testOptions()).Reconcile(ctx)

		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []string{"50", "49", "42", "41"}, pageIDs(st.pages)[0])
	})

	t.Run("nothing new", func(t *testing.T) {
		st := &memoryStore{pages: []models.Page{models.NewPage(1, models.NoCursor, mustItems("50", "49"), time.Now())}}
		n, err := New(newFakeTimeline("50", "49"), st, testOptions()).Reconcile(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, st.pages, 1)
	})

	t.Run("empty store", func(t *testing.T) {
		timeline := newFakeTimeline("50", "49")
		n, err := New(timeline, &memoryStore{}, testOptions()).Reconcile(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, timeline.cursors)
	})

	t.Run("retries the newest page", func(t *testing.T) {
		timeline := newFakeTimeline("50", "49", "42")
		timeline.failFrom = 1
		timeline.err = errs.FromStatus(http.StatusBadGateway)
		st := &memoryStore{pages: []models.Page{models.NewPage(1, models.NoCursor, mustItems("42"), time.Now())}}

		opts := testOptions()
		opts.Retrier, _ = testRetrier(1, retry.RetryOnAnyError)
		_, err := New(timeline, st, opts).Reconcile(ctx)

		assert.ErrorIs(t, err, errs.ErrRetriesExhausted)
		assert.Len(t, timeline.cursors, 2)
	})

	t.Run("unsupported store", func(t *testing.T) {
		// hides NewestID and PrependItems
		appendOnly := struct{ Store }{&memoryStore{}}
		_, err := New(newFakeTimeline("1"), appendOnly, testOptions()).Reconcile(ctx)
		assert.ErrorIs(t, err, ErrReconcileUnsupported)
	})
}

func TestCollectNewer(t *testing.T) {
	items := mustItems("50", "49", "42", "41")

	newer, reached := CollectNewer(items, "42")
	assert.True(t, reached)
	assert.Equal(t, []string{"50", "49"}, idsOf(newer))

	newer, reached = CollectNewer(items, "50")
	assert.True(t, reached)
	assert.Empty(t, newer)

	newer, reached = CollectNewer(items, "7")
	assert.False(t, reached)
	assert.Equal(t, []string{"50", "49", "42", "41"}, idsOf(newer))

	// appending to the result must not clobber the input
	newer, _ = CollectNewer(items, "42")
	_ = append(newer, models.Item{ID: "x"})
	assert.Equal(t, "42", items[2].ID)
}

func TestKeywordFilter(t *testing.T) {
	assert.Nil(t, KeywordFilter("  "))

	filter := KeywordFilter("tariff")
	items := []models.Item{
		{ID: "3", Raw: json.RawMessage(`{"id":"3","content":"<p>TARIFFS now</p>"}`)},
		{ID: "2", Raw: json.RawMessage(`{"id":"2","content":"nothing"}`)},
		{ID: "1", Raw: json.RawMessage(`{"id":"1"}`)},
	}
	assert.Equal(t, []string{"3"}, idsOf(filter(items)))
	assert.Len(t, items, 3)
}

// End to end against the mock HTTP API with transient failures.
func TestRunAgainstMockAPI(t *testing.T) {
	mock := testutil.NewMockTimeline("someone", "1077", testutil.DescendingIDs(500, 50)...)
	defer mock.Close()
	mock.FailNext(http.StatusTooManyRequests, 2)

	cfg := config.DefaultConfig().API
	cfg.BaseURL = mock.URL()
	cfg.RequestTimeout = 5 * time.Second
	client := truthsocial.NewClient(cfg, logger.NewNopLogger())

	ctx := context.Background()
	accountID, err := client.ResolveAccountID(ctx, config.TargetConfig{Handle: "someone"})
	require.NoError(t, err)

	st := store.NewJSONLStore(filepath.Join(t.TempDir(), "someone.jsonl"), logger.NewNopLogger())
	require.NoError(t, st.Lock(ctx))
	defer st.Close()

	opts := testOptions()
	var rec *recordingSleep
	opts.Retrier, rec = testRetrier(5, retry.RetryOnRateLimit)
	result, err := New(truthsocial.NewTimeline(client, accountID), st, opts).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, StopExhausted, result.Reason)
	assert.Equal(t, 50, result.ItemsSaved)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, rec.delays)
	assert.Equal(t, []string{"", "", "", "481", "461", "451"}, mock.StatusQueries())

	// new statuses appear; a catch-up run prepends them and finds nothing older
	mock.Publish("503", "502", "501")
	opts.Reconcile = true
	result, err = New(truthsocial.NewTimeline(client, accountID), st, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Reconciled)
	assert.Zero(t, result.PagesSaved)
	assert.Equal(t, 53, result.State.TotalItems)

	newest, _, err := st.NewestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "503", newest)
}

func mustItems(ids ...string) []models.Item {
	out := make([]models.Item, len(ids))
	for i, id := range ids {
		out[i] = models.Item{ID: id, Raw: json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))}
	}
	return out
}

func idsOf(items []models.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
