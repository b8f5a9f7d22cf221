package capture

import (
	"context"
)

// Launcher starts isolated browser processes. Every Launch returns a
// browser that the caller exclusively owns and must Close.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// NewPage opens a tab sized to the launch viewport.
	NewPage(ctx context.Context) (Page, error)

	// Close terminates the browser process. Safe to call more than once.
	Close() error
}

// Page is a single tab inside a Browser.
type Page interface {
	// SetJavaScriptEnabled toggles script execution. It only affects
	// navigations that start after the call.
	SetJavaScriptEnabled(ctx context.Context, enabled bool) error

	// Prepare installs stealth scripts, extra headers and request
	// blocking. Like SetJavaScriptEnabled it must run before Navigate.
	Prepare(ctx context.Context, opts PrepareOptions) error

	// Navigate loads url and blocks until the wait condition fires,
	// navigation fails, or ctx is done.
	Navigate(ctx context.Context, url, waitUntil string) error

	// StopLoading halts all in-flight loading on the page.
	StopLoading(ctx context.Context) error

	// Screenshot encodes the clipped region of the page.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
}

// Viewport is the emulated device surface.
type Viewport struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
}

// LaunchOptions configures one browser process.
type LaunchOptions struct {
	Binary   *Binary
	Headless bool
	Viewport Viewport
}

// PrepareOptions are per-page settings applied before navigation.
type PrepareOptions struct {
	Stealth  bool
	BlockAds bool
	Headers  map[string]string
}

// Clip is the page region captured, in CSS pixels.
type Clip struct {
	X, Y          float64
	Width, Height float64
}

// ScreenshotOptions controls image encoding.
type ScreenshotOptions struct {
	Format string // models.FormatJPEG or models.FormatPNG

	// Quality applies to JPEG only; zero means encoder default.
	Quality int

	Clip Clip
}
