// Package ui provides terminal feedback for the pipeline CLI: step banners, progress bars and spinners.
// Animated output is only drawn when stderr is a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var (
	out         io.Writer = os.Stdout
	interactive           = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
)

// Init applies the color setting.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects messages, mainly for tests. Animations are disabled for non-stdout writers.
func SetOutput(w io.Writer) {
	out = w
	if w != os.Stdout {
		interactive = false
	}
}

// Banner prints the header of a pipeline step.
func Banner(step string) {
	title := fmt.Sprintf("▶ %s", strings.ToUpper(step))
	fmt.Fprintln(out)
	color.New(color.FgCyan, color.Bold).Fprintln(out, title)
	fmt.Fprintln(out, strings.Repeat("─", len([]rune(title))))
}

// Success displays a success message.
func Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Error displays an error message.
func Error(format string, args ...any) {
	color.New(color.FgRed).Fprintf(out, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...any) {
	fmt.Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Progress tracks a batch of items.
type Progress interface {
	Add(n int)
	Describe(desc string)
	Finish()
}

type noopProgress struct{}

func (noopProgress) Add(int)         {}
func (noopProgress) Describe(string) {}
func (noopProgress) Finish()         {}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Add(n int)            { _ = p.bar.Add(n) }
func (p *barProgress) Describe(desc string) { p.bar.Describe(desc) }
func (p *barProgress) Finish()              { _ = p.bar.Finish() }

// NewProgress returns a progress bar over total items, or a no-op when not on a terminal.
func NewProgress(total int, description string) Progress {
	if !interactive || total <= 0 {
		return noopProgress{}
	}
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &barProgress{bar: bar}
}

// Spin shows a spinner with message until the returned stop function is called.
func Spin(message string) (stop func()) {
	if !interactive {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}
