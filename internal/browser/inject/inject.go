// File: internal/browser/inject/inject.go

// Package inject applies post-load page modifications: the asset scripts
// every capture receives, the per-job stylesheet and the per-job script.
// Scripts run in the page's own execution context; a script that throws is
// fatal to the capture, because a screenshot of a half-broken page is worse
// than no screenshot. The stylesheet is best-effort by contract.
package inject

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kv4sh0x/capture-cli/internal/config"
)

// styleSnippet wraps raw CSS into a script that appends a style element to
// the document head. The CSS arrives JSON-quoted so arbitrary text is safe.
const styleSnippet = `(() => {
	const style = document.createElement('style');
	style.type = 'text/css';
	style.appendChild(document.createTextNode(%s));
	document.head.appendChild(style);
})()`

// step is one planned injection.
type step struct {
	label      string
	script     string
	bestEffort bool
}

// Stage carries the injections for one capture job.
type Stage struct {
	cfg       *config.CaptureConfig
	assetsDir string
	logger    *zap.Logger
}

// NewStage builds the injection stage. assetsDir may be empty, which
// disables asset script injection.
func NewStage(cfg *config.CaptureConfig, assetsDir string, logger *zap.Logger) *Stage {
	return &Stage{cfg: cfg, assetsDir: assetsDir, logger: logger.Named("inject")}
}

// Apply runs every planned injection in order: asset scripts first, then the
// job's stylesheet, then the job's script. A thrown exception from any
// script aborts with an error carrying the exception text; stylesheet
// failures are logged and swallowed.
func (s *Stage) Apply(ctx context.Context) error {
	steps, err := s.plan()
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		s.logger.Debug("Nothing to inject.")
		return nil
	}

	for _, st := range steps {
		s.logger.Debug("Injecting.", zap.String("what", st.label))
		if err := evalInPage(ctx, st.script); err != nil {
			if st.bestEffort {
				s.logger.Warn("Best-effort injection failed.",
					zap.String("what", st.label), zap.Error(err))
				continue
			}
			s.logger.Error("Injected script threw an exception.",
				zap.String("what", st.label), zap.Error(err))
			return fmt.Errorf("injecting %s: %w", st.label, err)
		}
	}
	return nil
}

// plan assembles the ordered injection list without touching the page.
func (s *Stage) plan() ([]step, error) {
	var steps []step

	assets, err := s.assetScripts()
	if err != nil {
		return nil, err
	}
	steps = append(steps, assets...)

	if s.cfg.InjectCSS != "" {
		quoted, err := json.Marshal(s.cfg.InjectCSS)
		if err != nil {
			return nil, fmt.Errorf("encoding stylesheet: %w", err)
		}
		steps = append(steps, step{
			label:      "stylesheet",
			script:     fmt.Sprintf(styleSnippet, quoted),
			bestEffort: true,
		})
	}

	if s.cfg.InjectJS != "" {
		steps = append(steps, step{label: "page script", script: s.cfg.InjectJS})
	}
	return steps, nil
}

// assetScripts loads the *.js files of the asset directory in name order.
// A missing or unreadable directory is a deployment problem, not a capture
// fault: it is logged and skipped. A script that later throws is still fatal
// like any other injection.
func (s *Stage) assetScripts() ([]step, error) {
	if s.assetsDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.assetsDir)
	if err != nil {
		s.logger.Warn("Asset directory is not readable, skipping asset injection.",
			zap.String("dir", s.assetsDir), zap.Error(err))
		return nil, nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".js" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var steps []step
	for _, name := range names {
		path := filepath.Join(s.assetsDir, name)
		text, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Asset script is not readable, skipping it.",
				zap.String("path", path), zap.Error(err))
			continue
		}
		steps = append(steps, step{label: "asset " + name, script: string(text)})
	}
	return steps, nil
}

// evalInPage evaluates script in the page and surfaces thrown exceptions as
// errors, including the exception description with its stack.
func evalInPage(ctx context.Context, script string) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exp, err := runtime.Evaluate(script).Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return exp
		}
		return nil
	}))
}
