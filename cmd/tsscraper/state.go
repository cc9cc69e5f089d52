package main

import (
	"github.com/spf13/cobra"

	"tsscraper/pkg/config"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/store"
	"tsscraper/pkg/ui"
)

// stateCmd prints the resume state of saved output
var stateCmd = &cobra.Command{
	Use:   "state <handle>",
	Short: "Show where the next scrape of a handle would resume",
	Long: `Replay the saved pages of a handle and print the resume state: the cursor
the next page will be requested with, its page number and the number of
statuses saved so far. The output is only read; no lock is taken.`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

var (
	stateOutput  string
	stateBackend string
)

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVarP(&stateOutput, "output", "o", "", "output file for json/jsonl backends")
	stateCmd.Flags().StringVarP(&stateBackend, "backend", "b", "", "storage backend: json, jsonl or redis")
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	handle := normalizeHandle(args[0])

	flags := map[string]interface{}{"handle": handle}
	if stateOutput != "" {
		flags["output"] = stateOutput
	}
	if stateBackend != "" {
		flags["backend"] = stateBackend
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage, handle, logger.NewNopLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	pages, err := st.LoadPages(ctx)
	if err != nil {
		return err
	}
	state, err := st.LoadState(ctx)
	if err != nil {
		return err
	}

	cursor := string(state.Cursor)
	if state.Cursor.IsNone() {
		cursor = "(none, starts at the newest status)"
	}
	newest, found, err := st.NewestID(ctx)
	if err != nil {
		return err
	}
	if !found {
		newest = "-"
	}

	ui.PrintSummary("@"+handle+" at "+st.Location(), []ui.Row{
		{Label: "Pages", Value: len(pages)},
		{Label: "Total items", Value: state.TotalItems},
		{Label: "Next page", Value: state.NextPage},
		{Label: "Cursor", Value: cursor},
		{Label: "Newest id", Value: newest},
	})
	return nil
}
