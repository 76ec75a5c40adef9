// File: internal/browser/intercept/interceptor.go
package intercept

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kv4sh0x/capture-cli/internal/config"
)

const (
	// cdpCommandTimeout bounds each continue/fail/auth command so a dead
	// target cannot park a handler goroutine forever.
	cdpCommandTimeout = 2 * time.Second

	// maxPausedHandlers bounds the goroutines answering paused requests.
	maxPausedHandlers = 32
)

// verdict is the interception decision for one paused request.
type verdict int

const (
	// verdictAllow lets the request proceed and tracks it in the ledger.
	verdictAllow verdict = iota
	// verdictBlock aborts the request; it never enters the ledger.
	verdictBlock
	// verdictDataURI passes the request through untouched and untracked.
	verdictDataURI
)

// Interceptor owns the request interception wiring for one page: it answers
// every paused request according to the blocklist and header rules, keeps
// the resource ledger current from network events, arms the per-resource
// timeout and services basic-auth challenges. Handlers for paused requests
// run in bounded goroutines because answering them issues CDP commands that
// must not block the event dispatch loop.
type Interceptor struct {
	cfg    *config.CaptureConfig
	ledger *Ledger
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu         sync.Mutex
	requests   map[network.RequestID]string // live request id -> current URL
	aborted    map[network.RequestID]struct{}
	authSeen   map[fetch.RequestID]bool
	timers     map[uint64]*time.Timer
	mainID     network.RequestID
	mainStatus int64
	haveMain   bool
	closed     bool
}

// NewInterceptor builds an interceptor for one capture job.
func NewInterceptor(cfg *config.CaptureConfig, ledger *Ledger, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		cfg:      cfg,
		ledger:   ledger,
		logger:   logger.Named("interceptor"),
		sem:      semaphore.NewWeighted(maxPausedHandlers),
		requests: make(map[network.RequestID]string),
		aborted:  make(map[network.RequestID]struct{}),
		authSeen: make(map[fetch.RequestID]bool),
		timers:   make(map[uint64]*time.Timer),
	}
}

// Ledger returns the resource ledger this interceptor feeds.
func (i *Interceptor) Ledger() *Ledger { return i.ledger }

// Start registers the CDP event listeners on the page context. The fetch and
// network domains must be enabled separately in the session's task list.
func (i *Interceptor) Start(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		// -- Fetch (interception) Events --
		case *fetch.EventRequestPaused:
			go i.handleRequestPaused(ctx, ev)
		case *fetch.EventAuthRequired:
			go i.handleAuthRequired(ctx, ev)
		// -- Network Events --
		case *network.EventRequestWillBeSent:
			i.handleRequestWillBeSent(ev)
		case *network.EventResponseReceived:
			i.handleResponseReceived(ev)
		case *network.EventLoadingFinished:
			i.handleLoadingFinished(ev)
		case *network.EventLoadingFailed:
			i.handleLoadingFailed(ev)
		}
	})
}

// Close waits for in-flight paused-request handlers to finish answering and
// disarms every outstanding resource timer.
func (i *Interceptor) Close(ctx context.Context) error {
	if err := i.sem.Acquire(ctx, maxPausedHandlers); err != nil {
		return fmt.Errorf("draining paused request handlers: %w", err)
	}
	i.sem.Release(maxPausedHandlers)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for seq, t := range i.timers {
		t.Stop()
		delete(i.timers, seq)
	}
	return nil
}

// MainResponse returns the HTTP status observed for the main document, once
// its response headers have arrived.
func (i *Interceptor) MainResponse() (int64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mainStatus, i.haveMain
}

// classify decides what to do with a request URL before it goes on the wire.
func (i *Interceptor) classify(url string) (verdict, config.Pattern) {
	if strings.HasPrefix(url, "data:") {
		return verdictDataURI, config.Pattern{}
	}
	if p, ok := i.cfg.ShouldIgnore(url); ok {
		return verdictBlock, p
	}
	return verdictAllow, config.Pattern{}
}

func (i *Interceptor) handleRequestPaused(ctx context.Context, ev *fetch.EventRequestPaused) {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer i.sem.Release(1)

	cmdCtx, cancel := context.WithTimeout(ctx, cdpCommandTimeout)
	defer cancel()
	c := chromedp.FromContext(ctx)
	executor := cdp.WithExecutor(cmdCtx, c.Target)

	url := ev.Request.URL

	switch v, pattern := i.classify(url); v {
	case verdictDataURI:
		// Data URIs never touch the network or the ledger, but their
		// presence is still worth a trace.
		i.logger.Debug("Passing through data URI request.", zap.String("url", truncateURL(url)))
		if err := fetch.ContinueRequest(ev.RequestID).Do(executor); err != nil {
			i.logger.Warn("Failed to continue data URI request.", zap.Error(err))
		}
		return

	case verdictBlock:
		i.logger.Info("Blocking ignored resource.",
			zap.String("url", url),
			zap.String("pattern", pattern.String()))
		i.markAborted(ev.NetworkID)
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(executor); err != nil {
			i.logger.Warn("Failed to abort blocked request.", zap.String("url", url), zap.Error(err))
		}
		return
	}

	// Allowed: the request enters the ledger as PENDING and its timeout is
	// armed against this specific dispatch.
	seq := i.ledger.Dispatched(url)
	i.armTimeout(url, seq)

	extra := i.cfg.HeadersFor(url)
	if len(extra) == 0 {
		if err := fetch.ContinueRequest(ev.RequestID).Do(executor); err != nil {
			i.failContinued(executor, ev.RequestID, url, err)
		}
		return
	}

	headers := mergeHeaders(ev.Request.Headers, extra)
	i.logger.Debug("Attaching injected headers.",
		zap.String("url", url), zap.Int("count", len(extra)))
	if err := fetch.ContinueRequest(ev.RequestID).WithHeaders(headers).Do(executor); err != nil {
		i.failContinued(executor, ev.RequestID, url, err)
	}
}

// failContinued cleans up after a ContinueRequest that could not be issued:
// the request is failed so the browser does not hang on an unanswered pause,
// and the ledger entry resolves to ERROR instead of dangling in PENDING.
func (i *Interceptor) failContinued(executor context.Context, id fetch.RequestID, url string, cause error) {
	i.logger.Warn("Failed to continue request, aborting it.", zap.String("url", url), zap.Error(cause))
	if err := fetch.FailRequest(id, network.ErrorReasonFailed).Do(executor); err != nil {
		i.logger.Warn("Failed to abort request after continue error.", zap.String("url", url), zap.Error(err))
	}
	i.ledger.Failed(url)
}

func (i *Interceptor) handleAuthRequired(ctx context.Context, ev *fetch.EventAuthRequired) {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer i.sem.Release(1)

	cmdCtx, cancel := context.WithTimeout(ctx, cdpCommandTimeout)
	defer cancel()
	c := chromedp.FromContext(ctx)
	executor := cdp.WithExecutor(cmdCtx, c.Target)

	user, pass, ok := i.cfg.BasicAuth()
	first := i.firstAuthChallenge(ev.RequestID)

	response := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	if ok && first {
		i.logger.Info("Answering authentication challenge.",
			zap.String("url", ev.Request.URL), zap.String("user", user))
		response = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: user,
			Password: pass,
		}
	} else {
		// Either no credentials are configured or they were already tried
		// for this request; cancelling breaks the challenge loop.
		i.logger.Warn("Cancelling authentication challenge.",
			zap.String("url", ev.Request.URL), zap.Bool("credentialsConfigured", ok))
	}

	if err := fetch.ContinueWithAuth(ev.RequestID, response).Do(executor); err != nil {
		i.logger.Warn("Failed to answer authentication challenge.",
			zap.String("url", ev.Request.URL), zap.Error(err))
	}
}

func (i *Interceptor) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	i.mu.Lock()
	defer i.mu.Unlock()

	// A redirect hop carries the response of the previous URL. That response
	// completes the previous ledger entry; the redirect target is tracked as
	// its own request below.
	if ev.RedirectResponse != nil {
		prev := i.requests[ev.RequestID]
		if prev == "" {
			prev = ev.RedirectResponse.URL
		}
		i.logger.Info("Request redirected.",
			zap.String("from", prev),
			zap.String("to", ev.Request.URL),
			zap.Int64("status", ev.RedirectResponse.Status))
		i.ledger.Completed(prev)
	}

	i.requests[ev.RequestID] = ev.Request.URL

	if !i.haveMain && i.mainID == "" && ev.Type == network.ResourceTypeDocument {
		i.mainID = ev.RequestID
	}
}

func (i *Interceptor) handleResponseReceived(ev *network.EventResponseReceived) {
	i.mu.Lock()
	if ev.RequestID == i.mainID {
		i.mainStatus = ev.Response.Status
		i.haveMain = true
	}
	i.mu.Unlock()

	i.logger.Debug("Response received.",
		zap.String("url", ev.Response.URL),
		zap.Int64("status", ev.Response.Status),
		zap.String("mimeType", ev.Response.MimeType))
}

func (i *Interceptor) handleLoadingFinished(ev *network.EventLoadingFinished) {
	i.mu.Lock()
	url := i.requests[ev.RequestID]
	delete(i.requests, ev.RequestID)
	i.mu.Unlock()

	if url == "" {
		return
	}
	if i.ledger.Completed(url) {
		i.logger.Debug("Resource completed.", zap.String("url", url))
	}
}

func (i *Interceptor) handleLoadingFailed(ev *network.EventLoadingFailed) {
	i.mu.Lock()
	url := i.requests[ev.RequestID]
	delete(i.requests, ev.RequestID)
	_, wasAborted := i.aborted[ev.RequestID]
	delete(i.aborted, ev.RequestID)
	i.mu.Unlock()

	if wasAborted {
		// Our own FailRequest surfaces as a loading failure; the request was
		// never in the ledger, so there is nothing to resolve.
		i.logger.Debug("Blocked request cancelled.", zap.String("url", url))
		return
	}
	if url == "" {
		return
	}
	if i.ledger.Failed(url) {
		i.logger.Warn("Resource failed.",
			zap.String("url", url),
			zap.String("error", ev.ErrorText),
			zap.Bool("canceled", ev.Canceled))
	}
}

func (i *Interceptor) markAborted(id network.RequestID) {
	if id == "" {
		return
	}
	i.mu.Lock()
	i.aborted[id] = struct{}{}
	i.mu.Unlock()
}

func (i *Interceptor) firstAuthChallenge(id fetch.RequestID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.authSeen[id] {
		return false
	}
	i.authSeen[id] = true
	return true
}

// armTimeout schedules the per-resource timeout for one dispatch. The timer
// carries the dispatch sequence, so it is void once the URL resolves or is
// dispatched again.
func (i *Interceptor) armTimeout(url string, seq uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.timers[seq] = time.AfterFunc(i.cfg.ResourceTimeout(), func() {
		i.mu.Lock()
		delete(i.timers, seq)
		i.mu.Unlock()
		if i.ledger.TimedOut(url, seq) {
			i.logger.Warn("Resource timed out.",
				zap.String("url", url),
				zap.Duration("timeout", i.cfg.ResourceTimeout()))
		}
	})
}

// mergeHeaders combines the request's original headers with the injected
// ones. Injected values win; original headers survive unless overridden,
// compared case-insensitively. The result is sorted for deterministic wire
// order.
func mergeHeaders(original network.Headers, extra map[string]string) []*fetch.HeaderEntry {
	entries := make([]*fetch.HeaderEntry, 0, len(original)+len(extra))

	overridden := func(name string) bool {
		for k := range extra {
			if strings.EqualFold(k, name) {
				return true
			}
		}
		return false
	}

	for name, value := range original {
		if overridden(name) {
			continue
		}
		entries = append(entries, &fetch.HeaderEntry{Name: name, Value: fmt.Sprintf("%v", value)})
	}
	for name, value := range extra {
		entries = append(entries, &fetch.HeaderEntry{Name: name, Value: value})
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })
	return entries
}

func truncateURL(url string) string {
	const max = 96
	if len(url) <= max {
		return url
	}
	return url[:max] + "..."
}
