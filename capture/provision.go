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

	"github.com/go-rod/rod/lib/launcher"
	"github.com/use-agent/pageshot/config"
	"golang.org/x/sync/singleflight"
)

// ErrNoBrowser is returned when no launchable browser binary exists.
var ErrNoBrowser = errors.New("no browser binary available")

// Binary is a launchable browser executable plus the switches it needs in
// this environment. Args are Chrome switch names without the leading
// dashes, optionally "name=value".
type Binary struct {
	Path string
	Args []string
}

// Provisioner supplies the browser binary for each launch.
type Provisioner interface {
	Provision(ctx context.Context) (*Binary, error)
}

// defaultArgs are the switches every capture browser gets. They keep
// Chrome lean inside small containers and short-lived functions.
var defaultArgs = []string{
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-extensions",
	"disable-default-apps",
	"disable-background-networking",
	"disable-component-update",
	"disable-sync",
	"hide-scrollbars",
	"mute-audio",
	"no-first-run",
	"no-default-browser-check",
}

// StaticProvisioner always returns the same binary.
type StaticProvisioner struct {
	Binary Binary
}

// Provision implements Provisioner.
func (p StaticProvisioner) Provision(ctx context.Context) (*Binary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := p.Binary
	b.Args = append([]string(nil), p.Binary.Args...)
	return &b, nil
}

const (
	// downloadRetryAfter is how long a failed download is reported
	// without retrying.
	downloadRetryAfter = 30 * time.Second

	// downloadTimeout bounds one managed Chromium download.
	downloadTimeout = 5 * time.Minute
)

// LookupProvisioner resolves the browser in order: configured path, a
// system install found by rod's launcher, then (optionally) rod's managed
// Chromium download. The resolved path is cached.
//
// Concurrent callers share a single download, which runs outside the lock
// and outlives any one caller's context. A failed download is remembered
// for downloadRetryAfter so a burst of requests does not refetch.
type LookupProvisioner struct {
	cfg config.BrowserConfig

	lookPath func() (string, bool)
	download func(ctx context.Context) (string, error)
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	path     string
	failErr  error
	failedAt time.Time
}

// NewLookupProvisioner creates a LookupProvisioner from browser config.
func NewLookupProvisioner(cfg config.BrowserConfig) *LookupProvisioner {
	return &LookupProvisioner{
		cfg:      cfg,
		lookPath: launcher.LookPath,
		download: func(ctx context.Context) (string, error) {
			b := launcher.NewBrowser()
			b.Context = ctx
			return b.Get()
		},
		now: time.Now,
	}
}

// Provision implements Provisioner.
func (p *LookupProvisioner) Provision(ctx context.Context) (*Binary, error) {
	path, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &Binary{Path: path, Args: LaunchArgs(p.cfg)}, nil
}

func (p *LookupProvisioner) resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	path, done, err := p.resolveLocal()
	p.mu.Unlock()
	if done {
		return path, err
	}

	ch := p.group.DoChan("download", func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// resolveLocal covers everything short of a download. It must be called
// with p.mu held; done is false when a download is needed.
func (p *LookupProvisioner) resolveLocal() (path string, done bool, err error) {
	if p.path != "" {
		return p.path, true, nil
	}

	if bin := p.cfg.BrowserBin; bin != "" {
		if _, err := os.Stat(bin); err != nil {
			return "", true, fmt.Errorf("%w: configured browser %s: %v", ErrNoBrowser, bin, err)
		}
		p.path = bin
		return bin, true, nil
	}

	if found, ok := p.lookPath(); ok {
		slog.Info("using system browser", "path", found)
		p.path = found
		return found, true, nil
	}

	if !p.cfg.DownloadIfMissing {
		return "", true, fmt.Errorf("%w: set PAGESHOT_BROWSER_BIN or enable PAGESHOT_DOWNLOAD_BROWSER", ErrNoBrowser)
	}

	if p.failErr != nil && p.now().Sub(p.failedAt) < downloadRetryAfter {
		return "", true, p.failErr
	}
	return "", false, nil
}

func (p *LookupProvisioner) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	slog.Info("no system browser found, downloading managed chromium")
	downloaded, err := p.download(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failErr = fmt.Errorf("%w: download: %v", ErrNoBrowser, err)
		p.failedAt = p.now()
		slog.Warn("managed chromium download failed", "error", err, "retryAfter", downloadRetryAfter)
		return "", p.failErr
	}
	p.failErr = nil
	p.path = downloaded
	return downloaded, nil
}

// LaunchArgs returns the Chrome switches for cfg: the defaults, no-sandbox
// when requested, then user extras. Leading dashes on extras are dropped.
func LaunchArgs(cfg config.BrowserConfig) []string {
	args := make([]string, 0, len(defaultArgs)+len(cfg.ExtraFlags)+1)
	args = append(args, defaultArgs...)
	if cfg.NoSandbox {
		args = append(args, "no-sandbox")
	}
	for _, f := range cfg.ExtraFlags {
		if f = strings.TrimLeft(strings.TrimSpace(f), "-"); f != "" {
			args = append(args, f)
		}
	}
	return args
}
