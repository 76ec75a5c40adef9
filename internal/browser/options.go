// File: internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/kv4sh0x/capture-cli/internal/config"
)

// DefaultAllocatorOptions translates the browser configuration into chromedp
// allocator options for the Chrome process.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	// Start with chromedp defaults, plus flags needed in containers and on
	// hardened systems.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	// The chromedp defaults already include the headless flag, so an explicit
	// false must override it rather than just not add it.
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// Add additional flags from the config file's 'args' slice.
	for _, arg := range cfg.Args {
		if name, value, ok := flagFromArg(arg); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}

	return opts
}

// flagFromArg parses one configured command line argument into a chromedp
// flag. chromedp.Flag wants names without the leading dashes, so strip them
// if present. An argument without a value becomes a boolean flag.
func flagFromArg(arg string) (name string, value any, ok bool) {
	key, val, found := strings.Cut(arg, "=")
	key = strings.TrimPrefix(key, "--")
	if key == "" {
		return "", nil, false
	}
	if found {
		return key, val, true
	}
	return key, true, true
}
