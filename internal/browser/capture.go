// File: internal/browser/capture.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// lossyQuality is the encoder quality used for JPEG and WebP output.
const lossyQuality = 90

// screenshotFormat maps an output path extension to the browser's native
// capture format. Unknown extensions fall back to PNG.
func screenshotFormat(path string) (format page.CaptureScreenshotFormat, quality int64) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return page.CaptureScreenshotFormatJpeg, lossyQuality
	case ".webp":
		return page.CaptureScreenshotFormatWebp, lossyQuality
	default:
		return page.CaptureScreenshotFormatPng, 0
	}
}

// CaptureScreenshot renders the current page once and writes the image to
// outputPath. When a clip rectangle is configured the render is limited to
// it (anchored at the origin), otherwise the full viewport is captured. The
// file is written only after the encoder returned the complete buffer, so a
// failed render leaves no partial file behind.
func (s *Session) CaptureScreenshot(ctx context.Context, outputPath string) error {
	format, quality := screenshotFormat(outputPath)

	params := page.CaptureScreenshot().WithFormat(format)
	if quality > 0 {
		params = params.WithQuality(quality)
	}
	if clip := s.job.ClipRect; clip != nil {
		params = params.WithClip(&page.Viewport{
			X:      0,
			Y:      0,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		})
	}

	var buf []byte
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = params.Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("rendering screenshot: %w", err)
	}

	if err := os.WriteFile(outputPath, buf, 0644); err != nil {
		return fmt.Errorf("writing screenshot to %s: %w", outputPath, err)
	}

	s.logger.Info("Screenshot written.",
		zap.String("path", outputPath),
		zap.String("format", string(format)),
		zap.Int("bytes", len(buf)))
	return nil
}
