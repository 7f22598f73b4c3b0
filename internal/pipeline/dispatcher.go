package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"patchwatch/internal/registry"
	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

// On-demand trigger failures, each mapped to its own user reply.
var (
	ErrNotConfigured = errors.New("destination not configured")
	ErrNothingYet    = errors.New("no item observed yet")
	ErrTransient     = errors.New("temporary failure")
)

// Outcome summarizes how a cycle ended.
type Outcome string

const (
	OutcomeNoChange       Outcome = "no_change"
	OutcomeNoDestinations Outcome = "no_destinations"
	OutcomeOverlap        Outcome = "overlap_skipped"
	OutcomeExtractFailed  Outcome = "extract_failed"
	OutcomeEmpty          Outcome = "empty_document"
	OutcomeDelivered      Outcome = "delivered"
	OutcomePanicked       Outcome = "cycle_panicked"
)

type CycleReport struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	Duration   time.Duration       `json:"duration"`
	Outcome    Outcome             `json:"outcome"`
	URL        string              `json:"url,omitempty"`
	Chunks     int                 `json:"chunks,omitempty"`
	Delivered  int                 `json:"delivered"`
	Failed     int                 `json:"failed"`
	Unresolved int                 `json:"unresolved"`
	Results    []DestinationResult `json:"results,omitempty"`
}

type Config struct {
	MaxChunkLen int
	Workers     int
	RatePerSec  int
	Title       string
	ParseMode   string
}

type Dispatcher struct {
	detector  *Detector
	extractor *Extractor
	dests     Destinations
	state     *State
	deliver   *deliverer
	cfg       Config
	observer  Observer
	log       logx.Logger

	running atomic.Bool
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

func NewDispatcher(det *Detector, ext *Extractor, dests Destinations, sender Sender, state *State, cfg Config, log logx.Logger, opts ...Option) *Dispatcher {
	if cfg.MaxChunkLen < 1 {
		cfg.MaxChunkLen = 2000
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if state == nil {
		state = NewState()
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	log = log.With(logx.String("comp", "dispatcher"))
	d := &Dispatcher{
		detector:  det,
		extractor: ext,
		dests:     dests,
		state:     state,
		cfg:       cfg,
		observer:  nopObserver{},
		log:       log,
		deliver: &deliverer{
			sender:  sender,
			limiter: lim,
			locks:   newKeyedLock(),
			opt:     &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: true},
			log:     log,
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) State() *State { return d.state }

// Baseline adopts the current latest item without delivering it, so content
// published before startup is not announced.
func (d *Dispatcher) Baseline(ctx context.Context) (SourceItem, bool) {
	item, ok := d.detector.DetectLatest(ctx)
	if !ok {
		d.log.Warn("baseline failed; first detected item will be delivered")
		return SourceItem{}, false
	}
	d.state.Adopt(item)
	d.log.Info("baseline recorded", logx.String("url", item.URL))
	return item, true
}

// RunCycle performs one detection/extraction/delivery pass. It never returns
// an error: every failure is absorbed into the report. A call made while
// another cycle is in flight returns immediately with OutcomeOverlap.
func (d *Dispatcher) RunCycle(ctx context.Context) (rep CycleReport) {
	rep = CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}
	if !d.running.CompareAndSwap(false, true) {
		rep.Outcome = OutcomeOverlap
		d.log.Warn("cycle skipped; previous cycle still running", logx.String("cycle", rep.ID))
		d.observer.CycleFinished(rep)
		return rep
	}
	defer d.running.Store(false)

	log := d.log.With(logx.String("cycle", rep.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("cycle panicked", logx.Any("panic", r))
			rep.Outcome = OutcomePanicked
		}
		rep.Duration = time.Since(rep.StartedAt)
		d.state.setLast(rep)
		d.observer.CycleFinished(rep)
	}()

	dests := d.dests.All()
	if len(dests) == 0 {
		rep.Outcome = OutcomeNoDestinations
		log.Debug("no destinations configured; skipping cycle")
		return rep
	}

	item, ok := d.detector.DetectLatest(ctx)
	if !ok {
		rep.Outcome = OutcomeNoChange
		return rep
	}
	rep.URL = item.URL
	if !d.state.Adopt(item) {
		rep.Outcome = OutcomeNoChange
		log.Trace("no new item", logx.String("url", item.URL))
		return rep
	}
	log.Info("new item detected", logx.String("url", item.URL))

	// One extraction per cycle. Credentials are tried in destination order,
	// moving on only when one is rejected.
	creds := lo.Map(dests, func(dst registry.Destination, _ int) string { return dst.Credential })
	doc, ok := d.extractor.Extract(ctx, item.URL, creds...)
	if !ok {
		rep.Outcome = OutcomeExtractFailed
		log.Warn("new item left undelivered", logx.String("url", item.URL))
		return rep
	}

	chunks := Chunk(doc.Text, d.cfg.MaxChunkLen)
	rep.Chunks = len(chunks)
	if len(chunks) == 0 {
		rep.Outcome = OutcomeEmpty
		return rep
	}

	rep.Results = d.fanOut(ctx, dests, HeaderNew, doc.SourceURL, chunks)
	rep.Outcome = OutcomeDelivered
	for _, r := range rep.Results {
		switch r.Status {
		case DeliveryOK:
			rep.Delivered++
		case DeliveryUnresolved:
			rep.Unresolved++
		default:
			rep.Failed++
		}
	}
	log.Info("cycle finished",
		logx.String("url", item.URL),
		logx.Int("chunks", rep.Chunks),
		logx.Int("delivered", rep.Delivered),
		logx.Int("unresolved", rep.Unresolved),
		logx.Int("failed", rep.Failed),
	)
	return rep
}

// fanOut delivers to every destination concurrently, bounded by Workers.
// Each destination is isolated: its failure is only recorded in its result.
func (d *Dispatcher) fanOut(ctx context.Context, dests []registry.Destination, kind HeaderKind, url string, chunks []string) []DestinationResult {
	results := make([]DestinationResult, len(dests))
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, dest := range dests {
		g.Go(func() error {
			results[i] = d.deliver.deliver(ctx, dest, Header(kind, dest.Tag, d.cfg.Title, url), chunks)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Trigger re-delivers the held item to one destination using that
// destination's credential. Detection is not re-run.
func (d *Dispatcher) Trigger(ctx context.Context, destinationID string) (err error) {
	defer func() { d.observer.TriggerFinished(destinationID, err) }()

	dest, ok := d.dests.Get(strings.TrimSpace(destinationID))
	if !ok {
		return ErrNotConfigured
	}
	item, ok := d.state.Latest()
	if !ok {
		return ErrNothingYet
	}

	doc, err := d.extractor.ExtractErr(ctx, item.URL, dest.Credential)
	if err != nil {
		d.log.Warn("on-demand extraction failed", logx.String("destination", dest.ID), logx.String("url", item.URL), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	chunks := Chunk(doc.Text, d.cfg.MaxChunkLen)
	res := d.deliver.deliver(ctx, dest, Header(HeaderLatest, dest.Tag, d.cfg.Title, doc.SourceURL), chunks)
	if res.Status != DeliveryOK {
		return fmt.Errorf("%w: %s", ErrTransient, res.Error)
	}
	return nil
}
