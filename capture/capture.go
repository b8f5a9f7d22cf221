package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/use-agent/pageshot/config"
	"github.com/use-agent/pageshot/models"
	"golang.org/x/sync/semaphore"
)

const (
	// StopMargin is how long before the navigation timeout the engine gives
	// up waiting and forces the page to stop. The margin pays for the stop,
	// the screenshot and teardown inside the platform's request ceiling.
	StopMargin = 1500 * time.Millisecond

	// stopTimeout bounds the forced stop itself.
	stopTimeout = time.Second

	defaultScreenshotTimeout = 5 * time.Second
)

// Capturer renders pages to images. Every Capture call launches, owns and
// tears down its own browser process; nothing is shared between calls
// except the concurrency limit. It is safe for concurrent use.
type Capturer struct {
	launcher    Launcher
	provisioner Provisioner
	browserCfg  config.BrowserConfig
	captureCfg  config.CaptureConfig

	sem    *semaphore.Weighted
	active atomic.Int32
	total  atomic.Int64
	failed atomic.Int64
}

// New creates a Capturer around the given browser collaborators.
func New(launcher Launcher, provisioner Provisioner, browserCfg config.BrowserConfig, captureCfg config.CaptureConfig) *Capturer {
	captureCfg.MaxConcurrent = config.ResolveConcurrency(captureCfg.MaxConcurrent)
	if captureCfg.ScreenshotTimeout <= 0 {
		captureCfg.ScreenshotTimeout = defaultScreenshotTimeout
	}
	return &Capturer{
		launcher:    launcher,
		provisioner: provisioner,
		browserCfg:  browserCfg,
		captureCfg:  captureCfg,
		sem:         semaphore.NewWeighted(int64(captureCfg.MaxConcurrent)),
	}
}

// NewFromConfig wires the rod launcher and lookup provisioner.
func NewFromConfig(cfg *config.Config) *Capturer {
	return New(NewRodLauncher(cfg.Browser), NewLookupProvisioner(cfg.Browser), cfg.Browser, cfg.Capture)
}

// Stats returns a snapshot of capture slot usage.
func (c *Capturer) Stats() models.CaptureStats {
	return models.CaptureStats{
		MaxConcurrent:  c.captureCfg.MaxConcurrent,
		ActiveCaptures: int(c.active.Load()),
		TotalCaptures:  c.total.Load(),
		FailedCaptures: c.failed.Load(),
	}
}

// Capture renders req to an image.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Validate               – defaults, URL/size/format checks, timeout clamp
//  2. Acquire slot           – bounded number of live browsers
//  3. Provision + launch     – fresh isolated browser with the requested viewport
//  4. DEFER: teardown        – browser closed exactly once on every path
//  5. Page setup             – script toggle, stealth, headers, ad blocking
//  6. Raced navigation       – navigation vs. (timeout - StopMargin) timer
//  7. Screenshot             – clipped to the viewport, never full page
//
// Steps 5 must happen before step 6: none of them apply retroactively to
// a load that is already in flight.
func (c *Capturer) Capture(ctx context.Context, req *models.CaptureRequest) (*Result, error) {
	start := time.Now()

	// ── 1. Validate ───────────────────────────────────────────────────
	r := *req
	r.Defaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	timeout := r.Timeout()

	// ── 2. Acquire capture slot ───────────────────────────────────────
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, models.NewCaptureError(models.ErrCodeTimeout, "no capture slot became available", err)
	}
	defer c.sem.Release(1)

	c.active.Add(1)
	defer c.active.Add(-1)
	c.total.Add(1)

	res, err := c.capture(ctx, &r, timeout)
	if err != nil {
		c.failed.Add(1)
		slog.Warn("capture failed",
			"url", r.URL,
			"error", err,
			"duration", time.Since(start),
		)
		return nil, err
	}

	res.Duration = time.Since(start)
	slog.Info("capture complete",
		"url", r.URL,
		"format", r.Format,
		"width", r.Width,
		"height", r.Height,
		"timeout", timeout,
		"partial", res.Partial,
		"bytes", len(res.Data),
		"duration", res.Duration,
	)
	return res, nil
}

func (c *Capturer) capture(ctx context.Context, r *models.CaptureRequest, timeout time.Duration) (*Result, error) {
	// ── 3. Provision + launch ─────────────────────────────────────────
	bin, err := c.provisioner.Provision(ctx)
	if err != nil {
		return nil, models.NewCaptureError(models.ErrCodeLaunch, "browser provisioning failed", err)
	}

	browser, err := c.launcher.Launch(ctx, LaunchOptions{
		Binary:   bin,
		Headless: c.browserCfg.Headless,
		Viewport: Viewport{
			Width:             r.Width,
			Height:            r.Height,
			DeviceScaleFactor: r.DevicePixelRatio,
		},
	})
	if err != nil {
		return nil, models.NewCaptureError(models.ErrCodeLaunch, "failed to launch browser", err)
	}

	// ── 4. CRITICAL DEFER: no browser process outlives the request ────
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			slog.Warn("browser teardown reported errors", "url", r.URL, "error", closeErr)
		}
	}()

	page, err := browser.NewPage(ctx)
	if err != nil {
		return nil, models.NewCaptureError(models.ErrCodeLaunch, "failed to open page", err)
	}

	// ── 5. Page setup (before navigation!) ────────────────────────────
	if !r.JavaScriptEnabled() {
		if err := page.SetJavaScriptEnabled(ctx, false); err != nil {
			return nil, models.NewCaptureError(models.ErrCodeLaunch, "failed to disable javascript", err)
		}
	}
	if r.Stealth || r.BlockAds || len(r.Headers) > 0 {
		err := page.Prepare(ctx, PrepareOptions{
			Stealth:  r.Stealth,
			BlockAds: r.BlockAds,
			Headers:  r.Headers,
		})
		if err != nil {
			return nil, models.NewCaptureError(models.ErrCodeLaunch, "failed to prepare page", err)
		}
	}

	// ── 6. Raced navigation ───────────────────────────────────────────
	partial, err := navigateWithDeadline(ctx, page, r, timeout)
	if err != nil {
		return nil, err
	}

	// ── 7. Screenshot ─────────────────────────────────────────────────
	shotCtx, cancel := context.WithTimeout(ctx, c.captureCfg.ScreenshotTimeout)
	defer cancel()

	opts := ScreenshotOptions{
		Format: r.Format,
		Clip: Clip{
			Width:  float64(r.Width),
			Height: float64(r.Height),
		},
	}
	if r.Format == models.FormatJPEG {
		opts.Quality = c.captureCfg.JPEGQuality
	}

	data, err := page.Screenshot(shotCtx, opts)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeCapture, "screenshot failed")
	}

	return &Result{
		Data:             data,
		MIMEType:         r.MIMEType(),
		Format:           r.Format,
		Width:            r.Width,
		Height:           r.Height,
		DevicePixelRatio: r.DevicePixelRatio,
		Partial:          partial,
	}, nil
}

// navigateWithDeadline races navigation against a timer firing StopMargin
// before the navigation timeout. It reports partial=true when the timer
// won; in that case the page has been told to stop loading and the
// navigation call has returned before this function does, so the caller
// never captures concurrently with a live navigation.
func navigateWithDeadline(ctx context.Context, page Page, r *models.CaptureRequest, timeout time.Duration) (partial bool, err error) {
	navCtx, cancelNav := context.WithTimeout(ctx, timeout)
	defer cancelNav()

	navDone := make(chan error, 1)
	go func() {
		navDone <- page.Navigate(navCtx, r.URL, r.WaitUntil)
	}()

	deadline := time.NewTimer(timeout - StopMargin)
	defer deadline.Stop()

	select {
	case err := <-navDone:
		if err != nil {
			return false, categorizeError(err, models.ErrCodeNavigation, "navigation to target URL failed")
		}
		return false, nil

	case <-ctx.Done():
		cancelNav()
		<-navDone
		return false, categorizeError(ctx.Err(), models.ErrCodeTimeout, "request ended during navigation")

	case <-deadline.C:
	}

	slog.Info("navigation deadline reached, stopping page load",
		"url", r.URL,
		"timeout", timeout,
		"waitUntil", r.WaitUntil,
	)

	stopCtx, cancelStop := context.WithTimeout(ctx, stopTimeout)
	if err := page.StopLoading(stopCtx); err != nil {
		slog.Warn("forced stop failed, capturing anyway", "url", r.URL, "error", err)
	}
	cancelStop()

	cancelNav()
	<-navDone
	return true, nil
}

// categorizeError wraps raw errors into typed CaptureErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, code, msg string) *models.CaptureError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewCaptureError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewCaptureError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewCaptureError(code, msg, err)
	}
}
