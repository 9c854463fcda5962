// Package progress renders a pass on the terminal with pterm: a progress bar
// fed from pass events and a formatted summary.
package progress

import (
	"io"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/inbox-to-sheets/stats"
)

// Bar is a stats.Observer that advances once per listed message as it is
// filtered out or parsed.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	enabled bool
	writer  io.Writer
	total   int
	done    int
}

// New returns a bar; a disabled bar ignores every event.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled}
}

// WithWriter sends bar output to w instead of the terminal.
func (b *Bar) WithWriter(w io.Writer) *Bar {
	b.writer = w
	return b
}

func (b *Bar) Observe(evt stats.Event) {
	if !b.enabled {
		return
	}

	switch evt.Type {
	case stats.EventTypeFound:
		b.start(evt.Count)
	case stats.EventTypeKnown, stats.EventTypeParsed, stats.EventTypeParseFailed:
		b.advance(evt.MessageID)
	case stats.EventTypeError:
		if evt.Err != nil {
			b.printer(pterm.Error).Printf("Error: %v\n", evt.Err)
		}
	}
}

func (b *Bar) start(total int) {
	if b.pb != nil || total <= 0 {
		return
	}
	b.total = total

	printer := pterm.DefaultProgressbar.WithTotal(total).WithTitle("Syncing messages")
	if b.writer != nil {
		printer = printer.WithWriter(b.writer)
	}
	pb, err := printer.Start()
	if err != nil {
		return
	}
	b.pb = pb
}

func (b *Bar) advance(messageID string) {
	if b.pb == nil || b.done >= b.total {
		return
	}
	b.done++
	if messageID != "" {
		display := messageID
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		b.pb.UpdateTitle("Processing: " + display)
	}
	b.pb.Increment()
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

func (b *Bar) printer(p pterm.PrefixPrinter) *pterm.PrefixPrinter {
	if b.writer != nil {
		return p.WithWriter(b.writer)
	}
	return &p
}

// PrintSummary writes the end-of-pass counts.
func PrintSummary(w io.Writer, summary stats.Summary, duration time.Duration, dryRun bool) {
	info := pterm.Info.WithWriter(w)

	pterm.Fprintln(w)
	pterm.DefaultSection.WithWriter(w).Println("Sync summary")
	info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	info.Printf("Found unread: %d\n", summary.Found)
	info.Printf("Already processed: %d\n", summary.Known)
	info.Printf("Parsed: %d\n", summary.Parsed)
	if dryRun {
		info.Printf("Would append: %d\n", summary.Accepted)
	} else {
		info.Printf("Appended: %d\n", summary.Appended)
	}
	info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	info.Printf("Marked read: %d\n", summary.MarkedRead)
	if summary.ParseFailed > 0 {
		pterm.Warning.WithWriter(w).Printf("Parse failures: %d\n", summary.ParseFailed)
	}
	if summary.MarkReadFailed > 0 {
		pterm.Warning.WithWriter(w).Printf("Mark-read failures (retried next pass): %d\n", summary.MarkReadFailed)
	}
	if summary.LastError != nil {
		pterm.Error.WithWriter(w).Printf("Last error: %v\n", summary.LastError)
	}
}
