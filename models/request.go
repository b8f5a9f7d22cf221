package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Image formats supported by the capture engine.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Navigation wait conditions. The names follow the puppeteer vocabulary
// that callers of the path endpoint already use.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle0     = "networkidle0"
	WaitNetworkIdle2     = "networkidle2"
)

// Request limits and defaults.
const (
	DefaultWidth  = 800
	DefaultHeight = 640

	// MaxDimension caps each viewport side; larger surfaces blow up
	// browser memory without any real use case.
	MaxDimension = 4096

	DefaultDevicePixelRatio = 1.0
	MaxDevicePixelRatio     = 4.0

	MinTimeoutMs     = 3000
	MaxTimeoutMs     = 8500
	DefaultTimeoutMs = MaxTimeoutMs
)

// CaptureRequest describes one page-to-image render.
type CaptureRequest struct {
	// URL is the page to render. Must be absolute http(s). Required.
	URL string `json:"url" binding:"required"`

	// Width and Height are the viewport and output image size in CSS pixels.
	// Default: 800x640.
	Width  int `json:"width,omitempty" binding:"omitempty,min=1,max=4096"`
	Height int `json:"height,omitempty" binding:"omitempty,min=1,max=4096"`

	// DevicePixelRatio controls the browser's rendering resolution.
	// Default: 1.
	DevicePixelRatio float64 `json:"device_pixel_ratio,omitempty" binding:"omitempty,gt=0,lte=4"`

	// Format is the output encoding: "jpeg" (default) or "png".
	Format string `json:"format,omitempty" binding:"omitempty,oneof=jpeg jpg png"`

	// JavaScript toggles script execution on the page. Default: true.
	JavaScript *bool `json:"javascript,omitempty"`

	// WaitUntil is the load-completion signal navigation waits for.
	// Allowed: load (default), domcontentloaded, networkidle0, networkidle2.
	WaitUntil string `json:"wait_until,omitempty" binding:"omitempty,oneof=load domcontentloaded networkidle0 networkidle2"`

	// TimeoutMs is advisory; it is clamped to [3000, 8500]. Default: 8500.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// Stealth masks common headless fingerprints before navigation.
	Stealth bool `json:"stealth,omitempty"`

	// BlockAds aborts requests to well-known ad and tracking domains.
	BlockAds bool `json:"block_ads,omitempty"`

	// Headers are extra HTTP headers sent with every page request.
	Headers map[string]string `json:"headers,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *CaptureRequest) Defaults() {
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.DevicePixelRatio == 0 {
		r.DevicePixelRatio = DefaultDevicePixelRatio
	}
	if r.Format == "" {
		r.Format = FormatJPEG
	}
	if r.Format == "jpg" {
		r.Format = FormatJPEG
	}
	if r.JavaScript == nil {
		t := true
		r.JavaScript = &t
	}
	if r.WaitUntil == "" {
		r.WaitUntil = WaitLoad
	}
	if r.TimeoutMs == 0 {
		r.TimeoutMs = DefaultTimeoutMs
	}
}

// Validate rejects requests that must never reach a browser.
// Call Defaults first.
func (r *CaptureRequest) Validate() error {
	if err := ValidateURL(r.URL); err != nil {
		return NewCaptureError(ErrCodeInvalidInput, err.Error(), nil)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return NewCaptureError(ErrCodeInvalidInput,
			fmt.Sprintf("invalid size %dx%d: width and height must be positive", r.Width, r.Height), nil)
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return NewCaptureError(ErrCodeInvalidInput,
			fmt.Sprintf("invalid size %dx%d: max %d per side", r.Width, r.Height, MaxDimension), nil)
	}
	if r.DevicePixelRatio <= 0 || r.DevicePixelRatio > MaxDevicePixelRatio {
		return NewCaptureError(ErrCodeInvalidInput,
			fmt.Sprintf("invalid device pixel ratio %g", r.DevicePixelRatio), nil)
	}
	if r.Format != FormatJPEG && r.Format != FormatPNG {
		return NewCaptureError(ErrCodeInvalidInput,
			fmt.Sprintf("invalid format %q: use jpeg or png", r.Format), nil)
	}
	switch r.WaitUntil {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle0, WaitNetworkIdle2:
	default:
		return NewCaptureError(ErrCodeInvalidInput,
			fmt.Sprintf("invalid wait condition %q", r.WaitUntil), nil)
	}
	return nil
}

// Timeout returns the effective navigation timeout.
func (r *CaptureRequest) Timeout() time.Duration {
	return ClampTimeout(r.TimeoutMs)
}

// JavaScriptEnabled reports whether scripts should run on the page.
func (r *CaptureRequest) JavaScriptEnabled() bool {
	return r.JavaScript == nil || *r.JavaScript
}

// MIMEType returns the content type for the request's format.
func (r *CaptureRequest) MIMEType() string {
	return MIMEType(r.Format)
}

// ClampTimeout corrects an advisory timeout into [MinTimeoutMs, MaxTimeoutMs].
func ClampTimeout(ms int) time.Duration {
	ms = min(max(ms, MinTimeoutMs), MaxTimeoutMs)
	return time.Duration(ms) * time.Millisecond
}

// ParseSize decodes a WIDTHxHEIGHT token. Anything that is not a pair of
// positive integers yields the default 800x640.
func ParseSize(token string) (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(token), "x")
	if !ok {
		return DefaultWidth, DefaultHeight
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return DefaultWidth, DefaultHeight
	}
	return width, height
}

// MIMEType maps an image format to its content type.
func MIMEType(format string) string {
	if format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// ValidateURL checks that raw is an absolute http(s) URL with a host that
// survives IDNA conversion.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("invalid `url`: empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid `url`: %s", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid `url`: %s", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("invalid `url`: unsupported scheme %q", u.Scheme)
	}
	if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
		return fmt.Errorf("invalid `url`: bad host %q", u.Hostname())
	}
	return nil
}
