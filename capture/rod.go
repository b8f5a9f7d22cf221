package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/pageshot/config"
	"github.com/use-agent/pageshot/models"
	"github.com/use-agent/pageshot/process"
	"github.com/ysmood/gson"
)

// closeTimeout bounds the CDP Browser.close call; the process is killed
// afterwards regardless.
const closeTimeout = 2 * time.Second

// stopStepTimeout bounds each half of StopLoading.
const stopStepTimeout = 400 * time.Millisecond

// Compile-time interface checks
var (
	_ Launcher = (*RodLauncher)(nil)
	_ Browser  = (*rodBrowser)(nil)
	_ Page     = (*rodPage)(nil)
)

// RodLauncher launches one Chromium process per call through go-rod.
type RodLauncher struct {
	leakless bool
	proxy    string
}

// NewRodLauncher creates a RodLauncher from browser config.
func NewRodLauncher(cfg config.BrowserConfig) *RodLauncher {
	return &RodLauncher{leakless: cfg.Leakless, proxy: cfg.Proxy}
}

// Launch implements Launcher.
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Binary == nil || opts.Binary.Path == "" {
		return nil, ErrNoBrowser
	}

	// The launcher context only bounds startup: rod cancels it once the
	// DevTools URL is known or the launch fails.
	ln := launcher.New().
		Context(ctx).
		Bin(opts.Binary.Path).
		Headless(opts.Headless).
		Leakless(l.leakless)
	for _, arg := range opts.Binary.Args {
		if name, value, ok := strings.Cut(arg, "="); ok {
			ln.Set(flags.Flag(name), value)
		} else {
			ln.Set(flags.Flag(arg))
		}
	}
	if l.proxy != "" {
		ln = ln.Proxy(l.proxy)
	}

	controlURL, err := ln.Launch()
	if err != nil {
		abandon(ln)
		return nil, fmt.Errorf("launch %s: %w", opts.Binary.Path, err)
	}

	// The CDP connection lives as long as the request does.
	// NoDefaultDevice keeps rod from emulating its laptop preset; the
	// requested viewport is the only device metrics applied.
	browser := rod.New().Context(ctx).ControlURL(controlURL).NoDefaultDevice()
	if err := browser.Connect(); err != nil {
		abandon(ln)
		return nil, fmt.Errorf("connect %s: %w", controlURL, err)
	}
	slog.Debug("browser launched", "pid", ln.PID(), "controlURL", controlURL)

	return &rodBrowser{
		browser:  browser,
		launcher: ln,
		viewport: opts.Viewport,
	}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	viewport Viewport

	mu    sync.Mutex
	pages []*rodPage

	once     sync.Once
	closeErr error
}

// NewPage implements Browser.
func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	err = page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.viewport.Width,
		Height:            b.viewport.Height,
		DeviceScaleFactor: b.viewport.DeviceScaleFactor,
		Mobile:            false,
	})
	if err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	p := &rodPage{page: page}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close implements Browser. The CDP close is best-effort; the launcher
// process and its whole process group are always killed.
func (b *rodBrowser) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		for _, p := range b.pages {
			p.release()
		}
		b.mu.Unlock()

		var errs []error
		// Detached from the request: teardown must run after it has ended.
		if err := b.browser.Context(context.Background()).Timeout(closeTimeout).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}

		if err := killLauncher(b.launcher); err != nil {
			errs = append(errs, err)
		}
		b.launcher.Cleanup()

		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// SetJavaScriptEnabled implements Page.
func (p *rodPage) SetJavaScriptEnabled(ctx context.Context, enabled bool) error {
	return proto.EmulationSetScriptExecutionDisabled{Value: !enabled}.Call(p.page.Context(ctx))
}

// Prepare implements Page.
func (p *rodPage) Prepare(ctx context.Context, opts PrepareOptions) error {
	pg := p.page.Context(ctx)

	if opts.Stealth {
		if _, err := pg.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	if len(opts.Headers) > 0 {
		if err := (proto.NetworkEnable{}).Call(pg); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		err := proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}.Call(pg)
		if err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	if opts.BlockAds {
		p.router = setupAdBlock(p.page)
	}
	return nil
}

// Navigate implements Page. The lifecycle waiter is registered before
// navigation starts so a fast load event is not missed.
func (p *rodPage) Navigate(ctx context.Context, url, waitUntil string) error {
	pg := p.page.Context(ctx)

	wait := pg.WaitNavigation(lifecycleEvent(waitUntil))
	if err := pg.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

// StopLoading implements Page. window.stop() halts script-initiated loads
// in the committed document; Page.stopLoading is always sent afterwards
// since it also aborts a provisional navigation still waiting on the
// server. Each step gets its own budget.
func (p *rodPage) StopLoading(ctx context.Context) error {
	evalCtx, cancel := context.WithTimeout(ctx, stopStepTimeout)
	_, evalErr := p.page.Context(evalCtx).Eval(`() => window.stop()`)
	cancel()
	if evalErr != nil {
		slog.Debug("window.stop() failed", "error", evalErr)
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopStepTimeout)
	defer cancel()
	if err := (proto.PageStopLoading{}).Call(p.page.Context(stopCtx)); err != nil {
		return errors.Join(evalErr, fmt.Errorf("page stop loading: %w", err))
	}
	return nil
}

// Screenshot implements Page.
func (p *rodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      opts.Clip.X,
			Y:      opts.Clip.Y,
			Width:  opts.Clip.Width,
			Height: opts.Clip.Height,
			Scale:  1,
		},
		FromSurface:           true,
		CaptureBeyondViewport: false,
	}
	if opts.Format == models.FormatJPEG {
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		if opts.Quality > 0 {
			req.Quality = gson.Int(opts.Quality)
		}
	}
	return p.page.Context(ctx).Screenshot(false, req)
}

func (p *rodPage) release() {
	if p.router != nil {
		_ = p.router.Stop()
		p.router = nil
	}
}

// killLauncher SIGKILLs the launched browser and its process group.
// launcher.Kill is not used: it sleeps a second before killing.
func killLauncher(ln *launcher.Launcher) error {
	pid := ln.PID()
	if pid <= 0 {
		return nil
	}
	err := process.KillTree(pid)
	if p, findErr := os.FindProcess(pid); findErr == nil {
		_ = p.Kill()
	}
	if err != nil {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

// abandon kills a browser that never became usable. Its profile directory
// is removed once the process has exited.
func abandon(ln *launcher.Launcher) {
	if ln.PID() <= 0 {
		return
	}
	if err := killLauncher(ln); err != nil {
		slog.Warn("kill abandoned browser", "error", err)
	}
	go ln.Cleanup()
}

// lifecycleEvent maps a wait condition to the CDP lifecycle event that
// signals it.
func lifecycleEvent(waitUntil string) proto.PageLifecycleEventName {
	switch waitUntil {
	case models.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case models.WaitNetworkIdle0:
		return proto.PageLifecycleEventNameNetworkIdle
	case models.WaitNetworkIdle2:
		return proto.PageLifecycleEventNameNetworkAlmostIdle
	default:
		return proto.PageLifecycleEventNameLoad
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
