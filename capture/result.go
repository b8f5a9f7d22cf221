package capture

import (
	"encoding/base64"
	"time"
)

// Result is one encoded screenshot. It is never mutated after Capture
// returns it.
type Result struct {
	// Data is the encoded image.
	Data []byte

	// MIMEType is image/jpeg or image/png.
	MIMEType string

	// Format is models.FormatJPEG or models.FormatPNG.
	Format string

	// Width and Height are the clip size in CSS pixels. The encoded image
	// is Width*DevicePixelRatio by Height*DevicePixelRatio device pixels.
	Width            int
	Height           int
	DevicePixelRatio float64

	// Partial is set when the navigation deadline fired and loading was
	// forced to stop before capture.
	Partial bool

	// Duration is the wall-clock time of the whole capture, teardown included.
	Duration time.Duration
}

// Base64 returns the image in standard base64, for envelopes that are not
// binary-safe.
func (r *Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Data)
}
