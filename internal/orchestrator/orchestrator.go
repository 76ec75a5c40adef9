// File: internal/orchestrator/orchestrator.go
// Description: Drives one capture from navigation to screenshot. The runner is
// injected with factories for its browser-facing components, making the
// sequencing testable without a browser.

package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kv4sh0x/capture-cli/internal/browser"
	"github.com/kv4sh0x/capture-cli/internal/browser/inject"
	"github.com/kv4sh0x/capture-cli/internal/browser/readiness"
	"github.com/kv4sh0x/capture-cli/internal/config"
	"github.com/kv4sh0x/capture-cli/internal/faults"
)

// CaptureSession is the slice of the browser session the runner drives.
type CaptureSession interface {
	ID() string
	Context() context.Context
	Initialize(ctx context.Context) error
	Navigate(ctx context.Context) error
	WaitReady(ctx context.Context, phase readiness.Phase) error
	CaptureScreenshot(ctx context.Context, outputPath string) error
	Close(ctx context.Context) error
}

// Injector applies the configured page mutations after the initial load.
type Injector interface {
	Apply(ctx context.Context) error
}

// SessionFactory builds the browser session for one capture.
type SessionFactory func(ctx context.Context, settings *config.Config, job *config.CaptureConfig, logger *zap.Logger) CaptureSession

// InjectorFactory builds the injection stage for one capture.
type InjectorFactory func(job *config.CaptureConfig, assetsDir string, logger *zap.Logger) Injector

// Runner owns the capture pipeline sequencing. Each stage failure is wrapped
// with its fault class; the command layer makes the single exit decision.
type Runner struct {
	settings *config.Config
	logger   *zap.Logger

	newSession  SessionFactory
	newInjector InjectorFactory
}

// New creates a Runner wired to the real browser components.
func New(settings *config.Config, logger *zap.Logger) (*Runner, error) {
	if settings == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	return &Runner{
		settings: settings,
		logger:   logger,
		newSession: func(ctx context.Context, settings *config.Config, job *config.CaptureConfig, logger *zap.Logger) CaptureSession {
			return browser.NewSession(ctx, settings, job, logger)
		},
		newInjector: func(job *config.CaptureConfig, assetsDir string, logger *zap.Logger) Injector {
			return inject.NewStage(job, assetsDir, logger)
		},
	}, nil
}

// Run executes the capture pipeline for one job: navigate, settle, inject,
// settle again, render. The first fault short-circuits the remaining stages
// and no output file is produced.
func (r *Runner) Run(ctx context.Context, job *config.CaptureConfig, outputPath string) error {
	session := r.newSession(ctx, r.settings, job, r.logger)
	logger := r.logger.With(zap.String("session_id", session.ID()))
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.Warn("Session close reported an error.", zap.Error(err))
		}
	}()

	logger.Info("Starting capture.",
		zap.String("url", job.TargetURL),
		zap.String("output", outputPath))

	// 1. Browser bootstrap and per-capture page state (domains, emulation,
	//    cookies, interception).
	if err := session.Initialize(ctx); err != nil {
		return faults.New(faults.ClassNavigation, err)
	}

	// 2. Navigate and wait for the native load event.
	if err := session.Navigate(ctx); err != nil {
		return faults.New(faults.ClassNavigation, err)
	}

	// 3. First readiness pass: all dispatched resources resolved, images
	//    decoded, lazy elements unveiled.
	if err := session.WaitReady(ctx, readiness.PhaseInitialLoad); err != nil {
		return faults.New(faults.ClassNavigation, err)
	}

	// 4. Page mutations: asset scripts, stylesheet, page script.
	injector := r.newInjector(job, r.settings.Assets.Dir, logger)
	if err := injector.Apply(session.Context()); err != nil {
		return faults.New(faults.ClassInjection, err)
	}

	// 5. Second readiness pass covers resources the injected code started.
	if err := session.WaitReady(ctx, readiness.PhaseCapture); err != nil {
		return faults.New(faults.ClassCapture, err)
	}

	// 6. Render and write the screenshot.
	if err := session.CaptureScreenshot(ctx, outputPath); err != nil {
		return faults.New(faults.ClassCapture, err)
	}

	logger.Info("Capture finished.")
	return nil
}
