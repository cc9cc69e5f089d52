package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Banner printed at the top of interactive commands
const Banner = `
  ╔════════════════════════════════════════╗
  ║  tsscraper · resumable timeline harvest ║
  ╚════════════════════════════════════════╝
`

var (
	mu    sync.Mutex
	out   io.Writer = color.Output
	quiet bool

	cyan    = color.New(color.FgCyan).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	magenta = color.New(color.FgMagenta, color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
)

// SetOutput redirects all terminal output to w
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// SetNoColor disables ANSI colours globally
func SetNoColor(noColor bool) {
	color.NoColor = noColor
}

func printLine(always bool, line string) {
	mu.Lock()
	defer mu.Unlock()
	if quiet && !always {
		return
	}
	fmt.Fprintln(out, line)
}

// PrintBanner prints the banner in cyan
func PrintBanner() {
	printLine(false, cyan(Banner))
}

// PrintError prints an error message in red, with an optional detail
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	printLine(true, red(msg))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, args[0])
	}
	printLine(false, yellow(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printLine(false, green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value interface{}) {
	printLine(false, fmt.Sprintf("%s: %s", cyan(label), yellow(fmt.Sprint(value))))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printLine(false, magenta(msg))
}

// Row is one label/value line of a summary
type Row struct {
	Label string
	Value interface{}
}

// PrintSummary prints a titled block of aligned rows
func PrintSummary(title string, rows []Row) {
	width := 0
	for _, r := range rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
	}

	printLine(false, magenta(title))
	for _, r := range rows {
		printLine(false, fmt.Sprintf("  %s %s", cyan(fmt.Sprintf("%-*s", width+1, r.Label+":")), fmt.Sprint(r.Value)))
	}
}

// PrintHint prints a dimmed follow-up suggestion
func PrintHint(msg string) {
	printLine(false, dim(msg))
}
