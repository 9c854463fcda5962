package stats

import (
	"log/slog"
	"time"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageFilter  Stage = "filter"
	StageParse   Stage = "parse"
	StageDedup   Stage = "dedup"
	StageAppend  Stage = "append"
	StageConfirm Stage = "confirm"
	StagePersist Stage = "persist"
)

type EventType string

const (
	EventTypeFound          EventType = "found"
	EventTypeKnown          EventType = "known"
	EventTypeNew            EventType = "new"
	EventTypeParsed         EventType = "parsed"
	EventTypeParseFailed    EventType = "parse_failed"
	EventTypeAccepted       EventType = "accepted"
	EventTypeDuplicate      EventType = "duplicate"
	EventTypeAppended       EventType = "appended"
	EventTypeMarkedRead     EventType = "marked_read"
	EventTypeMarkReadFailed EventType = "mark_read_failed"
	EventTypeError          EventType = "error"
)

// Event is emitted by the runner for every observable step of a pass. Count
// defaults to one when zero.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Count     int
	Err       error
	Detail    string
}

// Observer receives pass events synchronously, in emission order.
type Observer interface {
	Observe(Event)
}

type Summary struct {
	Found          int
	Known          int
	New            int
	Parsed         int
	ParseFailed    int
	Accepted       int
	Appended       int
	Duplicates     int
	MarkedRead     int
	MarkReadFailed int
	Errors         int
	LastError      error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"found", s.Found,
		"new", s.New,
		"parsed", s.Parsed,
		"appended", s.Appended,
		"skippedDuplicate", s.Duplicates,
		"markedRead", s.MarkedRead,
	}
	if s.Known > 0 {
		attrs = append(attrs, "alreadyProcessed", s.Known)
	}
	if s.ParseFailed > 0 {
		attrs = append(attrs, "parseFailed", s.ParseFailed)
	}
	if s.MarkReadFailed > 0 {
		attrs = append(attrs, "markReadFailed", s.MarkReadFailed)
	}
	if s.Accepted != s.Appended {
		attrs = append(attrs, "accepted", s.Accepted)
	}
	if s.Errors > 0 {
		attrs = append(attrs, "errors", s.Errors)
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector folds events into a Summary. A pass is single-threaded, so the
// collector needs no locking.
type Collector struct {
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(evt Event) {
	n := evt.Count
	if n == 0 {
		n = 1
	}
	switch evt.Type {
	case EventTypeFound:
		c.summary.Found += n
	case EventTypeKnown:
		c.summary.Known += n
	case EventTypeNew:
		c.summary.New += n
	case EventTypeParsed:
		c.summary.Parsed += n
	case EventTypeParseFailed:
		c.summary.ParseFailed += n
		c.setErr(evt.Err)
	case EventTypeAccepted:
		c.summary.Accepted += n
	case EventTypeDuplicate:
		c.summary.Duplicates += n
	case EventTypeAppended:
		c.summary.Appended += n
	case EventTypeMarkedRead:
		c.summary.MarkedRead += n
	case EventTypeMarkReadFailed:
		c.summary.MarkReadFailed += n
		c.setErr(evt.Err)
	case EventTypeError:
		c.summary.Errors += n
		c.setErr(evt.Err)
	}
}

func (c *Collector) setErr(err error) {
	if err != nil {
		c.summary.LastError = err
	}
}

func (c *Collector) Snapshot() Summary {
	return c.summary
}

// Reporter logs the summary of a finished pass.
type Reporter struct {
	logger  *slog.Logger
	started time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger, started: time.Now()}
}

func (r *Reporter) Report(summary Summary, dryRun bool) {
	if r.logger == nil {
		return
	}
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if dryRun {
		attrs = append(attrs, "dryRun", true)
	}
	r.logger.Info("sync summary", attrs...)
}
