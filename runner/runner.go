package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/inbox-to-sheets/dedup"
	"github.com/dhcgn/inbox-to-sheets/model"
	"github.com/dhcgn/inbox-to-sheets/normalize"
	"github.com/dhcgn/inbox-to-sheets/state"
	"github.com/dhcgn/inbox-to-sheets/stats"
)

const (
	DefaultBatchSize = 5
	DefaultMaxRows   = 10000
	MaxBatchSize     = 500
)

// MailSource is the capability the runner needs from a mail provider.
// MarkRead failures are reported per message and never abort a pass.
type MailSource interface {
	ListUnread(ctx context.Context, limit int) ([]model.MessageRef, error)
	FetchFull(ctx context.Context, id string) (model.RawMessage, error)
	MarkRead(ctx context.Context, id string) error
}

// TableSink is the capability the runner needs from the tabular store.
type TableSink interface {
	EnsureHeader(ctx context.Context, sheet string) error
	ReadRows(ctx context.Context, sheet string, maxRows int) ([]model.Row, error)
	AppendRows(ctx context.Context, sheet string, rows []model.Row) (int, error)
}

// Authenticator is implemented by adapters that need to establish a session
// before use. The runner calls it in the authenticating phase.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Normalizer turns a raw message into a record.
type Normalizer interface {
	Normalize(model.RawMessage) (model.Record, error)
}

type Options struct {
	SheetName string
	BatchSize int
	MaxRows   int
	DryRun    bool
}

// Result describes a finished pass.
type Result struct {
	PassID  string
	Phase   Phase
	Reason  string
	Summary stats.Summary
	// PersistErr is set when the pass completed remotely but the state could
	// not be saved. The pass still counts as done.
	PersistErr error
}

type Runner struct {
	opts       Options
	source     MailSource
	sink       TableSink
	store      state.Store
	normalizer Normalizer
	logger     *slog.Logger
	observers  []stats.Observer
	now        func() time.Time
}

type Option func(*Runner)

// WithObserver registers an additional event observer (progress display, tests).
func WithObserver(o stats.Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

func WithNormalizer(n Normalizer) Option {
	return func(r *Runner) {
		r.normalizer = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func New(opts Options, source MailSource, sink TableSink, store state.Store, logger *slog.Logger, options ...Option) (*Runner, error) {
	if strings.TrimSpace(opts.SheetName) == "" {
		return nil, fmt.Errorf("%w: sheet name is empty", model.ErrConfiguration)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: mail source must not be nil", model.ErrConfiguration)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: table sink must not be nil", model.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: state store must not be nil", model.ErrConfiguration)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds %d", model.ErrConfiguration, opts.BatchSize, MaxBatchSize)
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Runner{
		opts:       opts,
		source:     source,
		sink:       sink,
		store:      store,
		normalizer: normalize.New(nil),
		logger:     logger,
		now:        time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

func (r *Runner) Options() Options {
	return r.opts
}

// item is one message moving through a pass. duplicate is set when its row
// was already present in the table or earlier in the batch.
type item struct {
	id        string
	row       model.Row
	duplicate bool
}

// pass holds everything owned by a single execution of Run.
type pass struct {
	r         *Runner
	id        string
	phase     Phase
	logger    *slog.Logger
	state     *state.State
	collector *stats.Collector
}

// Run executes one synchronization pass. It returns a non-nil error only when
// the pass aborted; a failed state save is reported in Result.PersistErr.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	p := &pass{
		r:         r,
		id:        uuid.NewString(),
		phase:     PhaseIdle,
		collector: stats.NewCollector(),
	}
	p.logger = r.logger.With("pass", p.id)
	reporter := stats.NewReporter(p.logger)

	p.state = r.store.Load()
	p.logger.Debug("pass started", "processed", p.state.Len(), "sheet", r.opts.SheetName, "batch", r.opts.BatchSize, "dryRun", r.opts.DryRun)

	res, err := p.run(ctx)
	res.PassID = p.id
	res.Phase = p.phase
	res.Summary = p.collector.Snapshot()

	if err != nil {
		p.logger.Error("pass aborted", append(res.Summary.LogAttrs(), "err", err)...)
		return res, err
	}
	if res.Reason != "" {
		p.logger.Info(res.Reason)
	}
	reporter.Report(res.Summary, r.opts.DryRun)
	return res, nil
}

func (p *pass) run(ctx context.Context) (Result, error) {
	r := p.r

	p.enter(PhaseAuthenticating)
	for _, adapter := range []any{r.source, r.sink} {
		if a, ok := adapter.(Authenticator); ok {
			if err := a.Authenticate(ctx); err != nil {
				return p.abort(err)
			}
		}
	}

	p.enter(PhaseFetching)
	refs, err := r.source.ListUnread(ctx, r.opts.BatchSize)
	if err != nil {
		return p.abort(err)
	}
	if len(refs) > r.opts.BatchSize {
		p.logger.Debug("source returned more than requested, truncating", "got", len(refs), "limit", r.opts.BatchSize)
		refs = refs[:r.opts.BatchSize]
	}
	if len(refs) > 0 {
		p.emit(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFound, Count: len(refs)})
	}
	if len(refs) == 0 {
		return p.done("no unread messages")
	}

	p.enter(PhaseFiltering)
	ids := p.filter(refs)
	if len(ids) == 0 {
		return p.done("no new messages to process")
	}

	p.enter(PhaseParsing)
	items, err := p.parse(ctx, ids)
	if err != nil {
		return p.abort(err)
	}
	if len(items) == 0 {
		p.logger.Warn("no messages were parsed successfully")
		return p.done("nothing parsed")
	}

	p.enter(PhaseDeduplicating)
	batch, err := p.deduplicate(ctx, items)
	if err != nil {
		return p.abort(err)
	}

	if r.opts.DryRun {
		p.logger.Info("dry run, skipping append and mark-read", "wouldAppend", len(batch), "wouldMarkRead", len(items))
		return p.done("")
	}

	p.enter(PhaseAppending)
	appended, err := p.appendRows(ctx, batch)
	if err != nil {
		return p.abort(err)
	}
	if appended < len(batch) {
		items = p.withheld(items, len(batch)-appended)
	}

	p.enter(PhaseConfirmingRead)
	confirmed := p.confirm(ctx, items)

	p.enter(PhasePersisting)
	persistErr := p.persist(confirmed)

	res, _ := p.done("")
	res.PersistErr = persistErr
	return res, nil
}

// filter drops ids already in the processed set, and repeats within the
// listing, without touching the source.
func (p *pass) filter(refs []model.MessageRef) []string {
	ids := make([]string, 0, len(refs))
	listed := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		_, repeated := listed[ref.ID]
		if ref.ID == "" || repeated || p.state.Contains(ref.ID) {
			p.emit(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeKnown, MessageID: ref.ID})
			continue
		}
		listed[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
		p.emit(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeNew, MessageID: ref.ID})
	}
	p.logger.Info("filtered unread messages", "new", len(ids), "total", len(refs))
	return ids
}

// parse fetches and normalizes each message. Missing messages and parse
// failures drop only that message; a source outage aborts.
func (p *pass) parse(ctx context.Context, ids []string) ([]item, error) {
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		raw, err := p.r.source.FetchFull(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				p.skip(id, err)
				continue
			}
			return nil, fmt.Errorf("fetch message %s: %w", id, err)
		}
		if raw.ID == "" {
			raw.ID = id
		}

		rec, err := p.r.normalizer.Normalize(raw)
		if err != nil {
			p.skip(id, err)
			continue
		}

		items = append(items, item{id: id, row: rec.Row()})
		p.emit(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, MessageID: id})
	}
	p.logger.Info("parsed messages", "parsed", len(items), "failed", len(ids)-len(items))
	return items, nil
}

func (p *pass) skip(id string, err error) {
	p.logger.Error("skipping message", "messageID", id, "err", err)
	p.emit(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParseFailed, MessageID: id, Err: err})
}

// deduplicate reads the table once and splits items into new rows and
// duplicates. The comparison set grows with every accepted row.
func (p *pass) deduplicate(ctx context.Context, items []item) ([]model.Row, error) {
	r := p.r
	if !r.opts.DryRun {
		if err := r.sink.EnsureHeader(ctx, r.opts.SheetName); err != nil {
			return nil, fmt.Errorf("ensure header: %w", err)
		}
	}

	existing, err := r.sink.ReadRows(ctx, r.opts.SheetName, r.opts.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("read existing rows: %w", err)
	}
	p.logger.Debug("loaded existing rows", "rows", len(existing))

	index := dedup.NewIndex(existing)
	batch := make([]model.Row, 0, len(items))
	for i := range items {
		it := &items[i]
		if rule := index.Check(it.row); rule.Duplicate() {
			it.duplicate = true
			p.logger.Debug("skipping duplicate row", "messageID", it.id, "rule", rule.String(), "subject", truncate(it.row[1], 50))
			p.emit(stats.Event{Stage: stats.StageDedup, Type: stats.EventTypeDuplicate, MessageID: it.id, Detail: rule.String()})
			continue
		}
		index.Add(it.row)
		batch = append(batch, it.row)
		p.emit(stats.Event{Stage: stats.StageDedup, Type: stats.EventTypeAccepted, MessageID: it.id})
	}
	return batch, nil
}

// appendRows writes the batch and returns the count the sink confirmed.
func (p *pass) appendRows(ctx context.Context, batch []model.Row) (int, error) {
	if len(batch) == 0 {
		p.logger.Info("all rows already present, nothing to append")
		return 0, nil
	}

	n, err := p.r.sink.AppendRows(ctx, p.r.opts.SheetName, batch)
	if err != nil {
		return 0, fmt.Errorf("append %d rows: %w", len(batch), err)
	}
	if n > len(batch) {
		p.logger.Warn("sink reported more rows than sent", "appended", n, "sent", len(batch))
		n = len(batch)
	}
	if n > 0 {
		p.emit(stats.Event{Stage: stats.StageAppend, Type: stats.EventTypeAppended, Count: n})
	}
	p.logger.Info("appended rows", "appended", n)
	return n, nil
}

// withheld drops the accepted items after a short append. The sink does not
// say which rows landed, so none of them may be marked read or recorded; the
// next pass refetches them and its table read sorts out the rows that did.
func (p *pass) withheld(items []item, missing int) []item {
	kept := make([]item, 0, len(items))
	held := 0
	for _, it := range items {
		if it.duplicate {
			kept = append(kept, it)
			continue
		}
		held++
	}
	err := fmt.Errorf("%w: %d of %d rows not confirmed by the sink", model.ErrSinkUnavailable, missing, held)
	p.logger.Warn("short append, leaving accepted messages unread", "withheld", held, "missing", missing)
	p.emit(stats.Event{Stage: stats.StageAppend, Type: stats.EventTypeError, Err: err})
	return kept
}

// confirm marks every item read, whether its row was appended now or already
// existed. Failures leave the id out of the processed set so the next pass
// retries it.
func (p *pass) confirm(ctx context.Context, items []item) []string {
	confirmed := make([]string, 0, len(items))
	for _, it := range items {
		if err := p.r.source.MarkRead(ctx, it.id); err != nil {
			p.logger.Warn("mark read failed, will retry next pass", "messageID", it.id, "err", err)
			p.emit(stats.Event{Stage: stats.StageConfirm, Type: stats.EventTypeMarkReadFailed, MessageID: it.id, Err: err})
			continue
		}
		confirmed = append(confirmed, it.id)
		p.emit(stats.Event{Stage: stats.StageConfirm, Type: stats.EventTypeMarkedRead, MessageID: it.id})
	}
	p.logger.Info("marked messages read", "marked", len(confirmed), "failed", len(items)-len(confirmed))
	return confirmed
}

func (p *pass) persist(confirmed []string) error {
	for _, id := range confirmed {
		p.state.MarkProcessed(id)
	}
	p.state.TouchLastRun(p.r.now())

	if err := p.r.store.Save(p.state); err != nil {
		p.logger.Error("saving state failed, remote effects are kept", "err", err)
		p.emit(stats.Event{Stage: stats.StagePersist, Type: stats.EventTypeError, Err: err})
		return err
	}
	return nil
}

func (p *pass) enter(next Phase) {
	p.logger.Debug("phase", "from", p.phase.String(), "to", next.String())
	p.phase = next
}

func (p *pass) done(reason string) (Result, error) {
	p.enter(PhaseDone)
	return Result{Reason: reason}, nil
}

// abort ends the pass. State is only written if this pass changed it.
func (p *pass) abort(err error) (Result, error) {
	failed := p.phase
	p.emit(stats.Event{Stage: stageOf(failed), Type: stats.EventTypeError, Err: err})
	p.enter(PhaseAborted)

	if p.state.Dirty() && !p.r.opts.DryRun {
		if saveErr := p.r.store.Save(p.state); saveErr != nil {
			p.logger.Error("saving state after abort failed", "err", saveErr)
		}
	}
	return Result{}, fmt.Errorf("%s: %w", failed, err)
}

func (p *pass) emit(evt stats.Event) {
	p.collector.Observe(evt)
	for _, o := range p.r.observers {
		o.Observe(evt)
	}
}

func stageOf(phase Phase) stats.Stage {
	switch phase {
	case PhaseFiltering:
		return stats.StageFilter
	case PhaseParsing:
		return stats.StageParse
	case PhaseDeduplicating:
		return stats.StageDedup
	case PhaseAppending:
		return stats.StageAppend
	case PhaseConfirmingRead:
		return stats.StageConfirm
	case PhasePersisting:
		return stats.StagePersist
	default:
		return stats.StageFetch
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
