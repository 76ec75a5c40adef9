// File: internal/config/capture_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCaptureConfigDefaults(t *testing.T) {
	cfg, err := ParseCaptureConfig([]byte(`{"targetUrl": "http://example.test/ok.html"}`), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "http://example.test/ok.html", cfg.TargetURL)
	require.NotNil(t, cfg.ViewportSize)
	assert.Equal(t, int64(1024), cfg.ViewportSize.Width)
	assert.Equal(t, int64(768), cfg.ViewportSize.Height)
	assert.Nil(t, cfg.ClipRect)
	assert.Equal(t, 10*time.Second, cfg.ResourceTimeout())
	require.NotNil(t, cfg.ResourcesToIgnore)
	assert.Equal(t, DefaultIgnoredResources(), *cfg.ResourcesToIgnore)
	assert.Empty(t, cfg.InjectHeaders)
	assert.Empty(t, cfg.UserAgent)
}

func TestParseCaptureConfigFull(t *testing.T) {
	doc := []byte(`{
		"targetUrl": "https://shop.example.test/catalog",
		"viewportSize": {"width": 1280, "height": 1024},
		"userAgent": "CaptureBot/1.0",
		"clipRect": {"width": 1280, "height": 600},
		"cookies": [
			{"name": "session", "value": "abc123", "domain": ".example.test", "path": "/", "httponly": true},
			{"name": "consent", "value": "yes", "domain": ".example.test"}
		],
		"httpUserName": "viewer",
		"httpPassword": "hunter2",
		"resourceTimeoutMs": 5000,
		"resourcesToIgnore": ["tracker\\.example\\.test", "exact.host/pixel.gif"],
		"injectHeaders": {
			".*": {"X-Capture": "1"},
			"api\\.example\\.test": {"X-Capture": "api", "Authorization": "Bearer tok"}
		},
		"injectCss": "body { background: white; }",
		"injectJs": "window.__captureReady = true;"
	}`)

	cfg, err := ParseCaptureConfig(doc, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(1280), cfg.ViewportSize.Width)
	require.NotNil(t, cfg.ClipRect)
	assert.Equal(t, 600.0, cfg.ClipRect.Height)
	require.Len(t, cfg.Cookies, 2)
	assert.Equal(t, "session", cfg.Cookies[0].Name)
	assert.True(t, cfg.Cookies[0].HTTPOnly)
	assert.Equal(t, 5*time.Second, cfg.ResourceTimeout())

	user, pass, ok := cfg.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "viewer", user)
	assert.Equal(t, "hunter2", pass)

	require.Len(t, cfg.InjectHeaders, 2)
	assert.Equal(t, ".*", cfg.InjectHeaders[0].URLPattern)
	assert.Equal(t, `api\.example\.test`, cfg.InjectHeaders[1].URLPattern)
}

func TestParseCaptureConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"Malformed JSON", `{"targetUrl": `, "parsing capture config"},
		{"Missing Target", `{"userAgent": "x"}`, "targetUrl is required"},
		{"Blank Target", `{"targetUrl": "   "}`, "targetUrl is required"},
		{"Partial Viewport", `{"targetUrl": "http://a.test", "viewportSize": {"width": 800}}`, "viewportSize"},
		{"Zero Clip", `{"targetUrl": "http://a.test", "clipRect": {"width": 0, "height": 100}}`, "clipRect"},
		{"Lone Username", `{"targetUrl": "http://a.test", "httpUserName": "u"}`, "together"},
		{"Lone Password", `{"targetUrl": "http://a.test", "httpPassword": "p"}`, "together"},
		{"Negative Timeout", `{"targetUrl": "http://a.test", "resourceTimeoutMs": -1}`, "resourceTimeoutMs"},
		{"Nameless Cookie", `{"targetUrl": "http://a.test", "cookies": [{"value": "v"}]}`, "cookies[0]"},
		{"Headers Not Object", `{"targetUrl": "http://a.test", "injectHeaders": {"p": "not-an-object"}}`, "injectHeaders"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCaptureConfig([]byte(tc.doc), zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestResourcesToIgnorePresentButEmpty(t *testing.T) {
	// An explicitly empty list disables the default blocklist rather than
	// merging with it.
	cfg, err := ParseCaptureConfig([]byte(`{"targetUrl": "http://a.test", "resourcesToIgnore": []}`), zap.NewNop())
	require.NoError(t, err)

	assert.Empty(t, *cfg.ResourcesToIgnore)
	_, ignored := cfg.ShouldIgnore("http://www.google-analytics.com/collect")
	assert.False(t, ignored)
}

func TestShouldIgnore(t *testing.T) {
	doc := []byte(`{
		"targetUrl": "http://a.test",
		"resourcesToIgnore": ["http://exact.test/pixel.gif", "ads\\..*\\.test", "broken[regex"]
	}`)
	cfg, err := ParseCaptureConfig(doc, zap.NewNop())
	require.NoError(t, err)

	t.Run("Exact Match", func(t *testing.T) {
		_, ok := cfg.ShouldIgnore("http://exact.test/pixel.gif")
		assert.True(t, ok)
		_, ok = cfg.ShouldIgnore("http://exact.test/pixel.gif?x=1")
		assert.False(t, ok, "exact entries must not match supersets")
	})

	t.Run("Regex Match", func(t *testing.T) {
		p, ok := cfg.ShouldIgnore("http://ads.banner.test/x.js")
		require.True(t, ok)
		assert.True(t, p.IsRegexp())
	})

	t.Run("Invalid Regex Degrades To Exact", func(t *testing.T) {
		_, ok := cfg.ShouldIgnore("broken[regex")
		assert.True(t, ok, "the raw text itself still matches exactly")
		_, ok = cfg.ShouldIgnore("http://broken.test/regex.js")
		assert.False(t, ok)
	})

	t.Run("Default Blocklist Regex Semantics", func(t *testing.T) {
		cfg, err := ParseCaptureConfig([]byte(`{"targetUrl": "http://a.test"}`), zap.NewNop())
		require.NoError(t, err)
		_, ok := cfg.ShouldIgnore("https://www.google-analytics.com/analytics.js")
		assert.True(t, ok, "default entries match as unanchored regexps inside full URLs")
	})
}

func TestHeadersForDeclarationOrder(t *testing.T) {
	doc := []byte(`{
		"targetUrl": "http://a.test",
		"injectHeaders": {
			".*": {"X-Tag": "base", "X-Only-Base": "yes"},
			"api\\.example\\.test": {"x-tag": "api"}
		}
	}`)
	cfg, err := ParseCaptureConfig(doc, zap.NewNop())
	require.NoError(t, err)

	t.Run("Single Match", func(t *testing.T) {
		h := cfg.HeadersFor("http://other.test/asset.js")
		assert.Equal(t, map[string]string{"X-Tag": "base", "X-Only-Base": "yes"}, h)
	})

	t.Run("Later Rule Overwrites Case-Insensitively", func(t *testing.T) {
		h := cfg.HeadersFor("http://api.example.test/v1/items")
		assert.Equal(t, "api", h["x-tag"])
		_, clash := h["X-Tag"]
		assert.False(t, clash, "overwritten spelling must be dropped")
		assert.Equal(t, "yes", h["X-Only-Base"])
	})

	t.Run("No Match", func(t *testing.T) {
		cfg, err := ParseCaptureConfig([]byte(`{"targetUrl": "http://a.test", "injectHeaders": {"never\\.test": {"A": "b"}}}`), zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, cfg.HeadersFor("http://other.test/"))
	})
}

func TestLoadCaptureConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"targetUrl": "http://file.test"}`), 0o644))

	cfg, err := LoadCaptureConfig(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://file.test", cfg.TargetURL)

	_, err = LoadCaptureConfig(filepath.Join(dir, "absent.json"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading capture config")
}

// -- Fuzz Testing --

// FuzzParseCaptureConfig feeds arbitrary bytes through the parser. The goal
// is survival: no panic, and any accepted config must satisfy its own
// invariants.
func FuzzParseCaptureConfig(f *testing.F) {
	f.Add([]byte(`{"targetUrl": "http://example.test"}`))
	f.Add([]byte(`{"targetUrl": "http://example.test", "injectHeaders": {"a": {"B": "c"}}}`))
	f.Add([]byte(`{"resourcesToIgnore": ["(("]}`))
	f.Add([]byte(`not json at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := ParseCaptureConfig(data, zap.NewNop())
		if err != nil {
			return
		}
		if cfg.TargetURL == "" {
			t.Errorf("accepted a config without targetUrl")
		}
		if cfg.ViewportSize == nil || cfg.ResourceTimeoutMs == nil || cfg.ResourcesToIgnore == nil {
			t.Errorf("accepted config left a defaulted field unresolved")
		}
	})
}

// FuzzCaptureConfigRoundTrip generates structured configs, serializes them
// and feeds them back through the parser.
func FuzzCaptureConfigRoundTrip(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)
		var cfg CaptureConfig
		if err := fuzzConsumer.GenerateStruct(&cfg); err != nil {
			return
		}
		cfg.InjectHeaders = nil // object ordering is covered by the dedicated tests

		raw, err := json.Marshal(&cfg)
		if err != nil {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				t.Errorf("panic while re-parsing generated config: %v", r)
			}
		}()
		_, _ = ParseCaptureConfig(raw, zap.NewNop())
	})
}
