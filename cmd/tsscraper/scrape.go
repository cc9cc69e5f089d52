package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsscraper/pkg/config"
	"tsscraper/pkg/harvest"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/metrics"
	"tsscraper/pkg/ratelimit"
	"tsscraper/pkg/retry"
	"tsscraper/pkg/store"
	"tsscraper/pkg/truthsocial"
	"tsscraper/pkg/ui"
)

var (
	// Scrape command flags
	outputPath  string
	backend     string
	delayMS     int
	maxRetries  int
	maxItems    int
	retryPolicy string
	catchUp     bool
	keyword     string
	accountID   string
	baseURL     string
	metricsAddr string
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape <handle>",
	Short: "Harvest an account's timeline, resuming from saved output",
	Long: `Harvest every status of an account's timeline, newest first.

Each page is saved as soon as it is fetched. Running the same command again
resumes after the last saved page; once the timeline is exhausted a rerun
saves nothing. Use --catch-up to prepend statuses published since the first
run.

Exit codes:
  0    timeline exhausted or item cap reached
  1    lookup, configuration or storage failure
  2    aborted after retries ran out; rerun to resume
  3    output locked by another run
  130  interrupted`,
	Example: `  # Harvest into statuses.json
  tsscraper scrape realDonaldTrump

  # One JSON page per line, at most 500 statuses
  tsscraper scrape realDonaldTrump --backend jsonl --output trump.jsonl --max-items 500

  # Only retry rate limits, and pick up new statuses first
  tsscraper scrape realDonaldTrump --retry-policy rate_limit --catch-up

  # Store pages in redis and expose metrics
  tsscraper scrape realDonaldTrump --backend redis --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file for json/jsonl backends (default statuses.json)")
	scrapeCmd.Flags().StringVarP(&backend, "backend", "b", "", "storage backend: json, jsonl or redis")
	scrapeCmd.Flags().IntVar(&delayMS, "delay-ms", 4000, "delay between pages in milliseconds")
	scrapeCmd.Flags().IntVar(&maxRetries, "max-retries", 5, "retries per page before aborting")
	scrapeCmd.Flags().IntVar(&maxItems, "max-items", 0, "stop once this many statuses are saved (0 for no cap)")
	scrapeCmd.Flags().StringVar(&retryPolicy, "retry-policy", "", "failures to retry: any, rate_limit or transient")
	scrapeCmd.Flags().BoolVar(&catchUp, "catch-up", false, "prepend statuses published since the newest saved one")
	scrapeCmd.Flags().StringVarP(&keyword, "keyword", "k", "", "only save statuses whose content contains this text")
	scrapeCmd.Flags().StringVar(&accountID, "account-id", "", "account id, skips the handle lookup")
	scrapeCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL")
	scrapeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// scrapeFlags collects the flags set on the command line for
// config.MergeCommandLineFlags.
func scrapeFlags(cmd *cobra.Command, handle string) map[string]interface{} {
	flags := map[string]interface{}{"handle": handle}
	values := map[string]interface{}{
		"output":       outputPath,
		"backend":      backend,
		"delay-ms":     delayMS,
		"max-retries":  maxRetries,
		"max-items":    maxItems,
		"retry-policy": retryPolicy,
		"catch-up":     catchUp,
		"keyword":      keyword,
		"account-id":   accountID,
		"base-url":     baseURL,
		"metrics-addr": metricsAddr,
	}
	for name, value := range values {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func normalizeHandle(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "@")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	handle := normalizeHandle(args[0])

	cfg, err := config.Load(configFile, scrapeFlags(cmd, handle))
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()
	logger.WithFields(map[string]interface{}{
		"version": version,
		"handle":  handle,
		"backend": cfg.Storage.Backend,
	}).Info("tsscraper starting")

	ui.PrintInfo("Target", "@"+handle)

	client := truthsocial.NewClient(cfg.API, log)
	id, err := client.ResolveAccountID(ctx, cfg.Target)
	if err != nil {
		logger.WithError(err).WithField("handle", handle).Error("Account lookup failed")
		return err
	}
	ui.PrintInfo("Account ID", id)

	st, err := store.Open(cfg.Storage, handle, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to release store")
		}
	}()
	if err := st.Lock(ctx); err != nil {
		logger.WithError(err).WithField("output", st.Location()).Error("Could not lock output")
		return err
	}
	ui.PrintInfo("Output", st.Location())

	if cfg.Metrics.Enabled {
		stop := serveMetrics(cfg.Metrics.Address, log)
		defer stop()
		ui.PrintInfo("Metrics", "http://"+cfg.Metrics.Address+"/metrics")
	}

	retryCfg, err := retry.FromHarvestConfig(cfg.Harvest, log)
	if err != nil {
		return err
	}

	h := harvest.New(truthsocial.NewTimeline(client, id), st, harvest.Options{
		Retrier:    retry.NewRetrier(retryCfg),
		Pacer:      ratelimit.FromHarvestConfig(cfg.Harvest),
		Logger:     log,
		Handle:     handle,
		MaxItems:   cfg.Harvest.MaxItems,
		Reconcile:  cfg.Harvest.CatchUp,
		PageFilter: harvest.KeywordFilter(cfg.Harvest.Keyword),
	})

	ui.PrintHighlight("Harvesting @" + handle)
	result, err := h.Run(ctx)
	printResult(result, err)
	return err
}

func printResult(result *harvest.Result, err error) {
	if result == nil {
		return
	}

	rows := []ui.Row{
		{Label: "Reason", Value: result.Reason},
		{Label: "Pages saved", Value: result.PagesSaved},
		{Label: "Items saved", Value: result.ItemsSaved},
	}
	if result.Reconciled > 0 {
		rows = append(rows, ui.Row{Label: "Caught up", Value: result.Reconciled})
	}
	rows = append(rows,
		ui.Row{Label: "Total items", Value: result.State.TotalItems},
		ui.Row{Label: "Next page", Value: result.State.NextPage},
		ui.Row{Label: "Duration", Value: result.Duration.Round(time.Millisecond)},
	)
	ui.PrintSummary("Run summary", rows)

	switch result.Reason {
	case harvest.StopExhausted:
		ui.PrintSuccess("Timeline exhausted")
	case harvest.StopCapReached:
		ui.PrintSuccess("Item cap reached")
	case harvest.StopAborted:
		if err != nil && !errors.Is(err, context.Canceled) {
			ui.PrintHint("Run the same command again to resume after the last saved page")
		}
	}
}

// serveMetrics exposes the Prometheus handler until the returned func is
// called.
func serveMetrics(addr string, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
