// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kv4sh0x/capture-cli/internal/browser/intercept"
	"github.com/kv4sh0x/capture-cli/internal/browser/readiness"
	"github.com/kv4sh0x/capture-cli/internal/config"
)

// dialogDismissTimeout bounds the CDP command that answers a JavaScript
// dialog. Dialogs block the renderer, so the answer must not wait forever.
const dialogDismissTimeout = 2 * time.Second

// Session owns one browser tab for one capture: allocator, CDP contexts,
// interceptor and readiness detector. It is created, driven through
// Initialize/Navigate/WaitReady/CaptureScreenshot, and closed exactly once.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	job      *config.CaptureConfig
	settings *config.Config

	interceptor *intercept.Interceptor
	detector    *readiness.Detector

	loadOnce  sync.Once
	loadFired chan struct{}

	mu       sync.Mutex
	isClosed bool
}

// NewSession builds the browser contexts and session components. The browser
// process itself is not started until Initialize runs the first command.
func NewSession(parent context.Context, settings *config.Config, job *config.CaptureConfig, logger *zap.Logger) *Session {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, DefaultAllocatorOptions(settings.Browser)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithErrorf(logger.Sugar().Errorf),
	}
	if settings.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	ctx, cancel := chromedp.NewContext(allocCtx, ctxOpts...)

	sessionID := uuid.New().String()
	sessionLogger := logger.With(zap.String("session_id", sessionID))

	ledger := intercept.NewLedger()
	s := &Session{
		id:          sessionID,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      sessionLogger,
		job:         job,
		settings:    settings,
		interceptor: intercept.NewInterceptor(job, ledger, sessionLogger),
		detector:    readiness.NewDetector(ledger, settings.Readiness, sessionLogger),
		loadFired:   make(chan struct{}),
	}
	return s
}

// Initialize starts the browser, wires the event listeners and applies the
// per-capture page setup (domains, emulation, cookies).
func (s *Session) Initialize(ctx context.Context) error {
	// 1. Ensure the target (tab) is created and CDP is connected.
	if err := s.runActions(ctx); err != nil {
		return fmt.Errorf("starting browser target: %w", err)
	}

	// 2. Event listeners must be attached before the domains start emitting.
	s.interceptor.Start(s.ctx)
	s.listen(s.ctx)

	// 3. Enable the CDP domains and apply emulation overrides.
	tasks := chromedp.Tasks{
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
		s.fetchEnableAction(),
	}

	if v := s.job.ViewportSize; v != nil {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(v.Width, v.Height, 1.0, false))
	}
	if s.job.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.job.UserAgent))
	}

	// 4. Seed cookies in declaration order before any request goes out.
	for _, ck := range s.job.Cookies {
		tasks = append(tasks, cookieParams(ck, s.job.TargetURL))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("initializing capture session: %w", err)
	}

	s.logger.Debug("Capture session initialized.",
		zap.Int("cookies", len(s.job.Cookies)),
		zap.Bool("auth", s.hasCredentials()))
	return nil
}

// fetchEnableAction enables request interception, opting into auth challenge
// handling only when credentials are configured.
func (s *Session) fetchEnableAction() chromedp.Action {
	enable := fetch.Enable()
	if s.hasCredentials() {
		enable = enable.WithHandleAuthRequests(true)
	}
	return enable
}

func (s *Session) hasCredentials() bool {
	_, _, ok := s.job.BasicAuth()
	return ok
}

// cookieParams translates a configured cookie into the CDP set-cookie
// command. Cookies without an explicit domain are scoped to the target URL.
func cookieParams(ck config.Cookie, targetURL string) *network.SetCookieParams {
	p := network.SetCookie(ck.Name, ck.Value)
	if ck.Domain != "" {
		p = p.WithDomain(ck.Domain)
	} else {
		p = p.WithURL(targetURL)
	}
	if ck.Path != "" {
		p = p.WithPath(ck.Path)
	}
	if ck.Secure {
		p = p.WithSecure(true)
	}
	if ck.HTTPOnly {
		p = p.WithHTTPOnly(true)
	}
	if ck.Expires > 0 {
		sec := int64(ck.Expires)
		nsec := int64((ck.Expires - float64(sec)) * float64(time.Second))
		expires := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
		p = p.WithExpires(&expires)
	}
	return p
}

// Navigate drives the page to the target URL and blocks until the native
// load event has fired. The load event only gates entry into readiness
// polling; sub-resources may still be in flight when it returns.
func (s *Session) Navigate(ctx context.Context) error {
	s.logger.Info("Opening page.", zap.String("url", s.job.TargetURL))

	var errorText string
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, _, text, err := page.Navigate(s.job.TargetURL).Do(c)
		errorText = text
		return err
	}))
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", s.job.TargetURL, err)
	}
	if errorText != "" {
		return fmt.Errorf("navigating to %s: %s", s.job.TargetURL, errorText)
	}

	select {
	case <-s.loadFired:
	case <-ctx.Done():
		return fmt.Errorf("waiting for page load event: %w", ctx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("waiting for page load event: %w", s.ctx.Err())
	}

	if status, ok := s.interceptor.MainResponse(); ok && status >= 400 {
		return fmt.Errorf("page %s answered with status %d", s.job.TargetURL, status)
	}

	s.logger.Info("Page load event fired.")
	return nil
}

// WaitReady blocks until the readiness detector reports the page settled for
// the given phase.
func (s *Session) WaitReady(ctx context.Context, phase readiness.Phase) error {
	waitCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return s.detector.Wait(waitCtx, phase)
}

// ID returns the unique identifier for this capture session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the session's CDP context for components that run their
// own page commands.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close tears the session down: drains the interceptor, then cancels the
// page and allocator contexts. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing capture session.")

	if err := s.interceptor.Close(ctx); err != nil {
		s.logger.Warn("Interceptor did not drain cleanly.", zap.Error(err))
	}

	s.cancel()
	s.allocCancel()
	return nil
}

// listen attaches the page-side event handlers: load gating, dialog
// dismissal and console forwarding.
func (s *Session) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		// -- Page Events --
		case *page.EventLoadEventFired:
			s.markLoaded()
		case *page.EventJavascriptDialogOpening:
			go s.dismissDialog(ctx, ev)

		// -- Runtime Events --
		case *runtime.EventConsoleAPICalled:
			s.handleConsoleCall(ev)
		case *runtime.EventExceptionThrown:
			s.handleExceptionThrown(ev)
		}
	})
}

// markLoaded releases everyone blocked on the load event. Chrome can fire
// the event again after in-page navigations, so the release is once-only.
func (s *Session) markLoaded() {
	s.loadOnce.Do(func() { close(s.loadFired) })
}

// dismissDialog answers a JavaScript dialog with "cancel" so an alert() or
// confirm() on the page cannot hang the capture.
func (s *Session) dismissDialog(ctx context.Context, ev *page.EventJavascriptDialogOpening) {
	s.logger.Warn("Dismissing JavaScript dialog.",
		zap.String("type", string(ev.Type)),
		zap.String("message", ev.Message))

	cmdCtx, cancel := context.WithTimeout(ctx, dialogDismissTimeout)
	defer cancel()

	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	executor := cdp.WithExecutor(cmdCtx, c.Target)
	if err := page.HandleJavaScriptDialog(false).Do(executor); err != nil {
		s.logger.Warn("Could not dismiss dialog.", zap.Error(err))
	}
}

func (s *Session) handleConsoleCall(ev *runtime.EventConsoleAPICalled) {
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		parts = append(parts, formatConsoleArg(arg))
	}
	s.logger.Info("Page console.",
		zap.String("method", string(ev.Type)),
		zap.String("message", strings.Join(parts, " ")))
}

func (s *Session) handleExceptionThrown(ev *runtime.EventExceptionThrown) {
	if ev.ExceptionDetails == nil {
		return
	}
	s.logger.Warn("Page error.", zap.String("detail", ev.ExceptionDetails.Error()))
}

// formatConsoleArg renders one console argument the way devtools would:
// primitive values verbatim, objects by description or class name.
func formatConsoleArg(arg *runtime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		raw := string(arg.Value)
		if unquoted, err := strconv.Unquote(raw); err == nil {
			return unquoted
		}
		return raw
	}
	if arg.Description != "" {
		return arg.Description
	}
	if arg.ClassName != "" {
		return "[" + arg.ClassName + "]"
	}
	return "[" + string(arg.Type) + "]"
}

// runActions executes chromedp actions against the session target while
// honoring the caller's context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// combineContext derives a context from primary (which carries the CDP
// target) that is also canceled when secondary ends.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
