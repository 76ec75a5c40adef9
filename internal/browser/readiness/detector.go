// File: internal/browser/readiness/detector.go

// Package readiness decides when a page has finished becoming itself: all
// network work resolved, the DOM complete, every image decoded and every
// lazy-load element unveiled. A single "load finished" event is not enough,
// because lazy-load libraries and onload handlers schedule new work after it
// fires, so the decision is re-evaluated on a fixed cadence until a fully
// quiescent snapshot is observed.
package readiness

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kv4sh0x/capture-cli/internal/config"
)

//go:embed probe.js
var probeScript string

// Phase selects the poll cadence. The initial load polls slowly while the
// document is still arriving; the capture phase (after load, and again after
// injection) polls faster to catch the moment of quiescence.
type Phase int

const (
	PhaseInitialLoad Phase = iota
	PhaseCapture
)

func (p Phase) String() string {
	if p == PhaseInitialLoad {
		return "initial-load"
	}
	return "capture"
}

// PageProbe is the DOM-side readiness observation returned by the embedded
// probe script.
type PageProbe struct {
	ReadyState       string `json:"readyState"`
	ImageCount       int    `json:"imageCount"`
	BrokenImageCount int    `json:"brokenImageCount"`
	LazyCount        int    `json:"lazyCount"`
	UnveiledCount    int    `json:"unveiledCount"`
}

// Snapshot combines one page probe with the resource ledger's view at the
// same instant. It is recomputed on every poll and never persisted.
type Snapshot struct {
	PageProbe
	PendingResources int
	PendingURLs      []string
}

// Ready reports whether all four readiness conditions hold simultaneously.
func (s Snapshot) Ready() bool {
	return s.PendingResources == 0 &&
		s.ReadyState == "complete" &&
		s.BrokenImageCount == 0 &&
		s.LazyCount == s.UnveiledCount
}

// Unmet names the failed conditions, for diagnosability when a page refuses
// to settle.
func (s Snapshot) Unmet() []string {
	var unmet []string
	if s.PendingResources != 0 {
		unmet = append(unmet, fmt.Sprintf("%d resources pending", s.PendingResources))
	}
	if s.ReadyState != "complete" {
		unmet = append(unmet, fmt.Sprintf("document readyState is %q", s.ReadyState))
	}
	if s.BrokenImageCount != 0 {
		unmet = append(unmet, fmt.Sprintf("%d of %d images not fully loaded", s.BrokenImageCount, s.ImageCount))
	}
	if s.LazyCount != s.UnveiledCount {
		unmet = append(unmet, fmt.Sprintf("%d of %d lazy-load elements unveiled", s.UnveiledCount, s.LazyCount))
	}
	return unmet
}

// PendingSource exposes the ledger's pending view to the detector.
type PendingSource interface {
	PendingCount() int
	Pending() []string
}

// Prober supplies DOM-side observations. The production prober evaluates the
// embedded script in the page; tests substitute their own.
type Prober interface {
	Probe(ctx context.Context) (PageProbe, error)
}

// EvalProber runs the embedded probe script in the page's own context.
type EvalProber struct{}

func (EvalProber) Probe(ctx context.Context) (PageProbe, error) {
	var p PageProbe
	if err := chromedp.Run(ctx, chromedp.Evaluate(probeScript, &p)); err != nil {
		return PageProbe{}, err
	}
	return p, nil
}

// Detector polls the page and the ledger until both are quiescent. It keeps
// no deadline of its own: a page that never settles is the supervisor's
// problem, and the only way out besides readiness is context cancellation.
type Detector struct {
	pending PendingSource
	prober  Prober
	logger  *zap.Logger

	loadInterval    time.Duration
	captureInterval time.Duration
}

// NewDetector builds a detector over the given pending source, using the
// embedded page probe.
func NewDetector(pending PendingSource, cfg config.ReadinessConfig, logger *zap.Logger) *Detector {
	return &Detector{
		pending:         pending,
		prober:          EvalProber{},
		logger:          logger.Named("readiness"),
		loadInterval:    cfg.LoadPollInterval,
		captureInterval: cfg.SettlePollInterval,
	}
}

// WithProber substitutes the DOM prober.
func (d *Detector) WithProber(p Prober) *Detector {
	d.prober = p
	return d
}

func (d *Detector) interval(phase Phase) time.Duration {
	if phase == PhaseInitialLoad {
		return d.loadInterval
	}
	return d.captureInterval
}

// Wait blocks until a fully ready snapshot is observed, polling at the
// phase's cadence. It returns nil exactly when readiness was reached, or the
// context's error when cancelled. Probe failures are logged and the poll
// continues: a page mid-transition can briefly refuse evaluation without
// that meaning it will never settle.
func (d *Detector) Wait(ctx context.Context, phase Phase) error {
	interval := d.interval(phase)
	d.logger.Debug("Waiting for page readiness.",
		zap.String("phase", phase.String()),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness wait (%s) interrupted: %w", phase, ctx.Err())
		case <-ticker.C:
		}
		polls++

		snap, err := d.observe(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("readiness wait (%s) interrupted: %w", phase, err)
			}
			d.logger.Warn("Readiness probe failed, will retry.", zap.Error(err))
			continue
		}

		if snap.Ready() {
			d.logger.Info("Page is ready.",
				zap.String("phase", phase.String()),
				zap.Int("polls", polls),
				zap.Int("images", snap.ImageCount),
				zap.Int("lazyElements", snap.LazyCount))
			return nil
		}

		d.logger.Debug("Page not ready yet.",
			zap.String("phase", phase.String()),
			zap.Int("polls", polls),
			zap.Strings("unmet", snap.Unmet()),
			zap.Strings("pendingUrls", snap.PendingURLs))
	}
}

// observe composes one snapshot from the page probe and the ledger.
func (d *Detector) observe(ctx context.Context) (Snapshot, error) {
	probe, err := d.prober.Probe(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		PageProbe:        probe,
		PendingResources: d.pending.PendingCount(),
		PendingURLs:      d.pending.Pending(),
	}, nil
}
