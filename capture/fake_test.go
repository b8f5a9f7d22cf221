package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/pageshot/models"
)

// Compile-time interface checks
var (
	_ Launcher = (*fakeLauncher)(nil)
	_ Browser  = (*fakeBrowser)(nil)
	_ Page     = (*fakePage)(nil)
)

// fakeLauncher is a Launcher test double that counts browser launches and
// closes and records page operations in order.
type fakeLauncher struct {
	launchErr     error
	newPageErr    error
	screenshotErr error
	stopErr       error

	// navigate overrides the page's navigation; nil means instant success.
	navigate func(ctx context.Context, url string) error

	launches atomic.Int32
	closes   atomic.Int32
	stops    atomic.Int32

	mu       sync.Mutex
	ops      []string
	opts     []LaunchOptions
	shots    []ScreenshotOptions
	navStart time.Time
	navDead  time.Time
	stopDead time.Time
}

func (l *fakeLauncher) record(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *fakeLauncher) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launches.Add(1)
	l.mu.Lock()
	l.opts = append(l.opts, opts)
	l.mu.Unlock()
	l.record("launch")
	return &fakeBrowser{l: l}, nil
}

type fakeBrowser struct {
	l    *fakeLauncher
	once sync.Once
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	if b.l.newPageErr != nil {
		return nil, b.l.newPageErr
	}
	b.l.record("page")
	return &fakePage{l: b.l}, nil
}

func (b *fakeBrowser) Close() error {
	b.once.Do(func() {
		b.l.closes.Add(1)
		b.l.record("close")
	})
	return nil
}

type fakePage struct {
	l *fakeLauncher
}

func (p *fakePage) SetJavaScriptEnabled(ctx context.Context, enabled bool) error {
	p.l.record(fmt.Sprintf("js:%t", enabled))
	return nil
}

func (p *fakePage) Prepare(ctx context.Context, opts PrepareOptions) error {
	p.l.record(fmt.Sprintf("prepare:stealth=%t,ads=%t,headers=%d", opts.Stealth, opts.BlockAds, len(opts.Headers)))
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url, waitUntil string) error {
	p.l.mu.Lock()
	p.l.navStart = time.Now()
	if d, ok := ctx.Deadline(); ok {
		p.l.navDead = d
	}
	p.l.mu.Unlock()
	p.l.record("navigate:" + waitUntil)

	var err error
	if p.l.navigate != nil {
		err = p.l.navigate(ctx, url)
	}
	p.l.record("navigate-returned")
	return err
}

func (p *fakePage) StopLoading(ctx context.Context) error {
	p.l.stops.Add(1)
	if d, ok := ctx.Deadline(); ok {
		p.l.mu.Lock()
		p.l.stopDead = d
		p.l.mu.Unlock()
	}
	p.l.record("stop")
	return p.l.stopErr
}

func (p *fakePage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	p.l.record("screenshot")
	p.l.mu.Lock()
	p.l.shots = append(p.l.shots, opts)
	p.l.mu.Unlock()
	if p.l.screenshotErr != nil {
		return nil, p.l.screenshotErr
	}
	return encodeSolid(opts)
}

// encodeSolid produces a deterministic image exactly the size of the clip.
func encodeSolid(opts ScreenshotOptions) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, int(opts.Clip.Width), int(opts.Clip.Height)))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, color.RGBA{R: 0x20, G: 0x60, B: 0xa0, A: 0xff})
		}
	}

	var buf bytes.Buffer
	var err error
	switch opts.Format {
	case models.FormatPNG:
		err = png.Encode(&buf, img)
	case models.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality})
	default:
		err = errors.New("unknown format " + opts.Format)
	}
	return buf.Bytes(), err
}

// blockUntilDone is a navigation that never fires its load event.
func blockUntilDone(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// failingProvisioner never finds a browser.
type failingProvisioner struct{ err error }

func (p failingProvisioner) Provision(context.Context) (*Binary, error) { return nil, p.err }

// staticProvisioner returns a fixed fake binary.
func staticProvisioner() Provisioner {
	return StaticProvisioner{Binary: Binary{Path: "/fake/chrome", Args: []string{"headless"}}}
}
