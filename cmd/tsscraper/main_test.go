package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsscraper/internal/testutil"
	"tsscraper/pkg/config"
	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/ui"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"interrupted", fmt.Errorf("retry cancelled: %w", context.Canceled), ExitInterrupted},
		{"locked", fmt.Errorf("%w: statuses.json.lock", errs.ErrStoreLocked), ExitLocked},
		{"retries exhausted", fmt.Errorf("%w: %w", errs.ErrRetriesExhausted, errs.FromStatus(http.StatusTooManyRequests)), ExitAborted},
		{"stalled", fmt.Errorf("%w: page 3", errs.ErrCursorStalled), ExitAborted},
		{"lookup", fmt.Errorf("%w for %q: %w", errs.ErrLookupFailed, "nobody", errs.FromStatus(http.StatusNotFound)), ExitFailure},
		{"other", errors.New("disk full"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	ui.SetOutput(&buf)
	ui.SetNoColor(true)
	t.Cleanup(func() {
		ui.SetOutput(color.Output)
		ui.SetQuietMode(false)
	})

	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeConfig writes a config for fast runs against mock
func writeConfig(t *testing.T, mock *testutil.MockTimeline, output string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tsscraper.yaml")
	content := fmt.Sprintf(`api:
  base_url: %q
  request_timeout: 5s
harvest:
  delay_ms: 0
  jitter: 0s
  max_retries: 1
  retry_base_delay: 0s
storage:
  backend: jsonl
  output: %q
logging:
  level: error
  format: json
`, mock.URL(), output)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScrapeThenState(t *testing.T) {
	mock := testutil.NewMockTimeline("someone", "1077", testutil.DescendingIDs(900, 25)...)
	defer mock.Close()

	output := filepath.Join(t.TempDir(), "someone.jsonl")
	cfgPath := writeConfig(t, mock, output)

	out, err := runCLI(t, "scrape", "@someone", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Timeline exhausted")
	assert.Contains(t, out, "Items saved: 25")
	assert.NoFileExists(t, output+".lock")
	assert.Equal(t, 1, mock.LookupCount())

	out, err = runCLI(t, "state", "someone", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total items: 25")
	assert.Contains(t, out, "876")
	assert.Contains(t, out, "900")

	// a rerun fetches one empty page and saves nothing
	out, err = runCLI(t, "scrape", "someone", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Items saved: 0")
}

func TestScrapeExitCodes(t *testing.T) {
	mock := testutil.NewMockTimeline("someone", "1077", testutil.DescendingIDs(900, 25)...)
	defer mock.Close()

	t.Run("store locked", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "someone.jsonl")
		require.NoError(t, os.WriteFile(output+".lock", []byte("1\n"), 0644))

		_, err := runCLI(t, "scrape", "someone", "--config", writeConfig(t, mock, output))
		assert.Equal(t, ExitLocked, exitCode(err))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		mock.FailNext(http.StatusServiceUnavailable, 2)
		output := filepath.Join(t.TempDir(), "someone.jsonl")

		out, err := runCLI(t, "scrape", "someone", "--config", writeConfig(t, mock, output))
		assert.ErrorIs(t, err, errs.ErrRetriesExhausted)
		assert.Equal(t, ExitAborted, exitCode(err))
		assert.Contains(t, out, "Run the same command again")
		assert.NoFileExists(t, output+".lock")
	})

	t.Run("unknown handle", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "nobody.jsonl")

		_, err := runCLI(t, "scrape", "nobody", "--config", writeConfig(t, mock, output))
		assert.ErrorIs(t, err, errs.ErrLookupFailed)
		assert.Equal(t, ExitFailure, exitCode(err))
		assert.NoFileExists(t, output)
	})
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsscraper.yaml")

	out, err := runCLI(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file created")

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, config.BackendJSON, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Harvest.MaxRetries)

	out, err = runCLI(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no target configured")
	assert.Contains(t, out, "Configuration is valid")

	_, err = runCLI(t, "config", "init", "--config", path)
	assert.Error(t, err, "init refuses to overwrite")
}
