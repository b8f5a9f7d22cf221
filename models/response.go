package models

// ScreenshotResponse is the response for POST /api/v1/screenshot.
type ScreenshotResponse struct {
	// Success indicates whether the capture completed without errors.
	Success bool `json:"success"`

	// Image is the base64-encoded image.
	Image string `json:"image,omitempty"`

	// MIMEType is image/jpeg or image/png.
	MIMEType string `json:"mime_type,omitempty"`

	// Width and Height are the output image size in CSS pixels.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Partial is true when navigation overran its deadline and the page
	// was forced to stop loading before capture.
	Partial bool `json:"partial,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// CaptureMs is the time spent inside the capture engine
	// (launch, navigation, screenshot, teardown).
	CaptureMs int64 `json:"capture_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string       `json:"status"` // "healthy" or "degraded"
	Uptime       string       `json:"uptime"`
	CaptureStats CaptureStats `json:"capture_stats"`
	Version      string       `json:"version"`
}

// CaptureStats reports capture slot usage. Each active capture owns one
// browser process.
type CaptureStats struct {
	MaxConcurrent  int   `json:"max_concurrent"`
	ActiveCaptures int   `json:"active_captures"`
	TotalCaptures  int64 `json:"total_captures"`
	FailedCaptures int64 `json:"failed_captures"`
}
