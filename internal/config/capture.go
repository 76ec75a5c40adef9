// File: internal/config/capture.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Defaults applied to a CaptureConfig when the corresponding field is absent
// from the JSON document. Each field falls back exactly once; a field that is
// present, even if empty, is taken verbatim.
const (
	DefaultViewportWidth    int64 = 1024
	DefaultViewportHeight   int64 = 768
	DefaultResourceTimeout        = 10000 * time.Millisecond
)

// DefaultIgnoredResources is the blocklist used when resourcesToIgnore is
// absent. Analytics beacons routinely keep connections open long past page
// load and would otherwise stall readiness detection.
func DefaultIgnoredResources() []string {
	return []string{
		"www.google-analytics.com",
		"ssl.google-analytics.com",
		"stats.g.doubleclick.net",
	}
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// ClipRect bounds the screenshot region. The origin is always the top-left
// corner of the page; only the extent is configurable.
type ClipRect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Cookie is one cookie record to set before navigation. Records are applied
// in the order they appear in the config.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httponly,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds; 0 means session cookie
}

// HeaderRule attaches extra request headers to URLs matching its pattern.
type HeaderRule struct {
	URLPattern string
	Headers    map[string]string

	pattern Pattern
}

// Matches reports whether the rule applies to the given request URL.
func (r *HeaderRule) Matches(url string) bool { return r.pattern.Matches(url) }

// HeaderRules preserves the declaration order of the injectHeaders object.
// Order matters: every matching rule applies, and a later rule overwrites
// header values set by an earlier one. A Go map would lose that ordering, so
// the JSON object is decoded field by field.
type HeaderRules []HeaderRule

func (h *HeaderRules) UnmarshalJSON(data []byte) error {
	iter := json.ParseBytes(json.ConfigCompatibleWithStandardLibrary, data)
	if iter.WhatIsNext() == json.NilValue {
		iter.ReadNil()
		*h = nil
		return iter.Error
	}
	if iter.WhatIsNext() != json.ObjectValue {
		return fmt.Errorf("injectHeaders must be a JSON object keyed by URL pattern")
	}

	rules := HeaderRules{}
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		if iter.WhatIsNext() != json.ObjectValue {
			return fmt.Errorf("injectHeaders[%q] must be an object of header name/value pairs", field)
		}
		headers := make(map[string]string)
		for name := iter.ReadObject(); name != ""; name = iter.ReadObject() {
			headers[name] = iter.ReadString()
		}
		rules = append(rules, HeaderRule{URLPattern: field, Headers: headers})
	}
	if iter.Error != nil {
		return iter.Error
	}
	*h = rules
	return nil
}

// CaptureConfig describes one capture job. It is loaded once at startup and
// treated as immutable afterwards.
type CaptureConfig struct {
	TargetURL         string      `json:"targetUrl"`
	ViewportSize      *Size       `json:"viewportSize,omitempty"`
	UserAgent         string      `json:"userAgent,omitempty"`
	ClipRect          *ClipRect   `json:"clipRect,omitempty"`
	Cookies           []Cookie    `json:"cookies,omitempty"`
	HTTPUserName      string      `json:"httpUserName,omitempty"`
	HTTPPassword      string      `json:"httpPassword,omitempty"`
	ResourceTimeoutMs *int64      `json:"resourceTimeoutMs,omitempty"`
	ResourcesToIgnore *[]string   `json:"resourcesToIgnore,omitempty"`
	InjectHeaders     HeaderRules `json:"injectHeaders,omitempty"`
	InjectCSS         string      `json:"injectCss,omitempty"`
	InjectJS          string      `json:"injectJs,omitempty"`

	ignore []Pattern
}

// LoadCaptureConfig reads and parses the capture job description at path,
// applies per-field defaults, validates the result and compiles its URL
// patterns. Degraded patterns (regexps that fail to compile) are reported on
// log and fall back to exact matching.
func LoadCaptureConfig(path string, log *zap.Logger) (*CaptureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture config: %w", err)
	}
	return ParseCaptureConfig(data, log)
}

// ParseCaptureConfig parses a capture job description from raw JSON bytes.
func ParseCaptureConfig(data []byte, log *zap.Logger) (*CaptureConfig, error) {
	var cfg CaptureConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing capture config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.compilePatterns(log)
	return &cfg, nil
}

// applyDefaults resolves every absent optional field to its documented
// default. Each field is resolved exactly once and whole; a partially
// specified viewport or clip is a validation error, never a merge.
func (c *CaptureConfig) applyDefaults() {
	if c.ViewportSize == nil {
		c.ViewportSize = &Size{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if c.ResourceTimeoutMs == nil {
		ms := int64(DefaultResourceTimeout / time.Millisecond)
		c.ResourceTimeoutMs = &ms
	}
	if c.ResourcesToIgnore == nil {
		defaults := DefaultIgnoredResources()
		c.ResourcesToIgnore = &defaults
	}
}

// Validate checks the loaded job for required fields and sane values.
func (c *CaptureConfig) Validate() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return fmt.Errorf("targetUrl is required and must be non-empty")
	}
	if _, err := url.Parse(c.TargetURL); err != nil {
		return fmt.Errorf("targetUrl is not a valid URL: %w", err)
	}
	if v := c.ViewportSize; v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("viewportSize width and height must both be positive")
	}
	if r := c.ClipRect; r != nil && (r.Width <= 0 || r.Height <= 0) {
		return fmt.Errorf("clipRect width and height must both be positive")
	}
	if (c.HTTPUserName == "") != (c.HTTPPassword == "") {
		return fmt.Errorf("httpUserName and httpPassword must be provided together")
	}
	if *c.ResourceTimeoutMs <= 0 {
		return fmt.Errorf("resourceTimeoutMs must be a positive integer")
	}
	for i, ck := range c.Cookies {
		if ck.Name == "" {
			return fmt.Errorf("cookies[%d] is missing a name", i)
		}
	}
	return nil
}

func (c *CaptureConfig) compilePatterns(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	c.ignore = make([]Pattern, 0, len(*c.ResourcesToIgnore))
	for _, raw := range *c.ResourcesToIgnore {
		p, err := CompilePattern(raw)
		if err != nil {
			log.Warn("resourcesToIgnore entry is not a valid regexp, matching exact string only",
				zap.String("pattern", raw), zap.Error(err))
		}
		c.ignore = append(c.ignore, p)
	}
	for i := range c.InjectHeaders {
		rule := &c.InjectHeaders[i]
		p, err := CompilePattern(rule.URLPattern)
		if err != nil {
			log.Warn("injectHeaders pattern is not a valid regexp, matching exact string only",
				zap.String("pattern", rule.URLPattern), zap.Error(err))
		}
		rule.pattern = p
	}
}

// ResourceTimeout returns the per-resource timeout as a duration.
func (c *CaptureConfig) ResourceTimeout() time.Duration {
	return time.Duration(*c.ResourceTimeoutMs) * time.Millisecond
}

// ShouldIgnore reports whether requests for url must be aborted, along with
// the pattern that matched.
func (c *CaptureConfig) ShouldIgnore(url string) (Pattern, bool) {
	for _, p := range c.ignore {
		if p.Matches(url) {
			return p, true
		}
	}
	return Pattern{}, false
}

// HeadersFor merges the headers of every rule matching url, in declaration
// order, so later rules overwrite earlier values for the same header name.
// Name comparison is case-insensitive; the final spelling is the last
// writer's. Returns nil when no rule matches.
func (c *CaptureConfig) HeadersFor(url string) map[string]string {
	var merged map[string]string
	for i := range c.InjectHeaders {
		rule := &c.InjectHeaders[i]
		if !rule.Matches(url) {
			continue
		}
		if merged == nil {
			merged = make(map[string]string)
		}
		names := make([]string, 0, len(rule.Headers))
		for name := range rule.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for existing := range merged {
				if strings.EqualFold(existing, name) {
					delete(merged, existing)
				}
			}
			merged[name] = rule.Headers[name]
		}
	}
	return merged
}

// BasicAuth reports the configured basic-auth credentials, if any.
func (c *CaptureConfig) BasicAuth() (user, pass string, ok bool) {
	if c.HTTPUserName == "" {
		return "", "", false
	}
	return c.HTTPUserName, c.HTTPPassword, true
}
