package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pageshot/capture"
	"github.com/use-agent/pageshot/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCapturer struct {
	mu   sync.Mutex
	reqs []models.CaptureRequest

	result   *capture.Result
	err      error
	deadline time.Duration
	stats    models.CaptureStats
}

func (f *fakeCapturer) Capture(ctx context.Context, req *models.CaptureRequest) (*capture.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, *req)
	if d, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(d)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCapturer) Stats() models.CaptureStats { return f.stats }

func (f *fakeCapturer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func newEngine(cp Capturer) *gin.Engine {
	r := gin.New()
	r.GET("/screenshot/*path", ScreenshotPath(cp, 10*time.Second))
	r.POST("/api/v1/screenshot", PostScreenshot(cp, 10*time.Second))
	r.GET("/api/v1/health", Health(cp, time.Now()))
	return r
}

func jpegResult() *capture.Result {
	return &capture.Result{
		Data:     []byte{0xff, 0xd8, 0xff, 0xe0},
		MIMEType: "image/jpeg",
		Format:   models.FormatJPEG,
		Width:    800,
		Height:   640,
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		query      string
		wantURL    string
		wantW      int
		wantH      int
		wantFormat string
		wantErr    bool
	}{
		{
			name:       "all tokens",
			path:       "/screenshot/https%3A%2F%2Fexample.com/800x640/jpeg",
			wantURL:    "https://example.com",
			wantW:      800,
			wantH:      640,
			wantFormat: "jpeg",
		},
		{
			name:    "url with path and query",
			path:    "/screenshot/https%3A%2F%2Fexample.com%2Fa%2Fb%3Fq%3D1%26r%3D2/1280x720",
			wantURL: "https://example.com/a/b?q=1&r=2",
			wantW:   1280,
			wantH:   720,
		},
		{
			name:    "url only",
			path:    "/screenshot/http%3A%2F%2Fexample.com",
			wantURL: "http://example.com",
		},
		{
			name:    "non-numeric size falls back",
			path:    "/screenshot/https%3A%2F%2Fexample.com/abcxdef/png",
			wantURL: "https://example.com", wantW: 800, wantH: 640, wantFormat: "png",
		},
		{
			name:    "uppercase format",
			path:    "/screenshot/https%3A%2F%2Fexample.com/10X20/PNG",
			wantURL: "https://example.com", wantW: 10, wantH: 20, wantFormat: "png",
		},
		{
			name:    "not a url",
			path:    "/screenshot/not-a-url/800x640/jpeg",
			wantErr: true,
		},
		{
			name:    "unencoded url",
			path:    "/screenshot/https://example.com/800x640/jpeg",
			wantErr: true,
		},
		{
			name:    "bad escape",
			path:    "/screenshot/https%3A%2F%2Fexa%ZZmple.com",
			wantErr: true,
		},
		{
			name:    "empty",
			path:    "/screenshot/",
			wantErr: true,
		},
		{
			name:    "bad bool query",
			path:    "/screenshot/https%3A%2F%2Fexample.com",
			query:   "js=maybe",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q, _ := url.ParseQuery(tt.query)
			req, err := ParsePath(tt.path, q)
			if tt.wantErr {
				var ce *models.CaptureError
				if !errors.As(err, &ce) || ce.Code != models.ErrCodeInvalidInput {
					t.Fatalf("ParsePath(%q) error = %v, want INVALID_INPUT", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q) error = %v", tt.path, err)
			}
			if req.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", req.URL, tt.wantURL)
			}
			if req.Width != tt.wantW || req.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", req.Width, req.Height, tt.wantW, tt.wantH)
			}
			if req.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", req.Format, tt.wantFormat)
			}
		})
	}
}

func TestParsePath_Query(t *testing.T) {
	t.Parallel()

	q := url.Values{
		"dpr":       {"2"},
		"js":        {"false"},
		"wait":      {"networkidle0"},
		"timeout":   {"4000"},
		"stealth":   {"1"},
		"block_ads": {"true"},
	}
	req, err := ParsePath("/screenshot/https%3A%2F%2Fexample.com", q)
	if err != nil {
		t.Fatalf("ParsePath() error = %v", err)
	}
	if req.DevicePixelRatio != 2 || req.JavaScriptEnabled() || req.WaitUntil != models.WaitNetworkIdle0 ||
		req.TimeoutMs != 4000 || !req.Stealth || !req.BlockAds {
		t.Errorf("query not applied: %+v", req)
	}
}

func TestScreenshotPath_Success(t *testing.T) {
	t.Parallel()

	res := jpegResult()
	res.Partial = true
	cp := &fakeCapturer{result: res}
	r := newEngine(cp)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/screenshot/https%3A%2F%2Fexample.com/800x640/jpeg", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), res.Data) {
		t.Errorf("body = %x, want raw image bytes %x", w.Body.Bytes(), res.Data)
	}
	if w.Header().Get(PartialHeader) != "true" {
		t.Errorf("%s header missing for partial capture", PartialHeader)
	}

	got := cp.reqs[0]
	if got.URL != "https://example.com" || got.Width != 800 || got.Height != 640 || got.Format != "jpeg" {
		t.Errorf("capture request = %+v", got)
	}
	if cp.deadline <= 0 || cp.deadline > 10*time.Second {
		t.Errorf("request deadline = %v, want within 10s", cp.deadline)
	}
}

func TestScreenshotPath_InvalidURLSkipsCapture(t *testing.T) {
	t.Parallel()

	cp := &fakeCapturer{result: jpegResult()}
	r := newEngine(cp)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/screenshot/not-a-url/800x640/jpeg", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "Error: ") {
		t.Errorf("body = %q, want plain-text error", w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", w.Header().Get("Content-Type"))
	}
	if cp.calls() != 0 {
		t.Errorf("capture called %d times for invalid url", cp.calls())
	}
}

func TestScreenshotPath_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"navigation", models.NewCaptureError(models.ErrCodeNavigation, "navigation to target URL failed", nil), http.StatusBadGateway},
		{"timeout", models.NewCaptureError(models.ErrCodeTimeout, "request canceled", context.Canceled), http.StatusGatewayTimeout},
		{"launch", models.NewCaptureError(models.ErrCodeLaunch, "failed to launch browser", nil), http.StatusInternalServerError},
		{"capture", models.NewCaptureError(models.ErrCodeCapture, "screenshot failed", nil), http.StatusInternalServerError},
		{"invalid size", models.NewCaptureError(models.ErrCodeInvalidInput, "invalid size", nil), http.StatusBadRequest},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newEngine(&fakeCapturer{err: tt.err})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/screenshot/https%3A%2F%2Fexample.com", nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if !strings.HasPrefix(w.Body.String(), "Error: ") {
				t.Errorf("body = %q, want plain-text error", w.Body.String())
			}
		})
	}
}

func TestPostScreenshot_Success(t *testing.T) {
	t.Parallel()

	res := jpegResult()
	cp := &fakeCapturer{result: res}
	r := newEngine(cp)

	body := `{"url":"https://example.com","width":800,"height":640,"format":"jpeg","javascript":false,"timeout_ms":4000}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screenshot", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.ScreenshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.MIMEType != "image/jpeg" || resp.Width != 800 || resp.Height != 640 {
		t.Errorf("response = %+v", resp)
	}
	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil || !bytes.Equal(img, res.Data) {
		t.Errorf("image round trip failed: %v", err)
	}

	got := cp.reqs[0]
	if got.JavaScriptEnabled() || got.TimeoutMs != 4000 {
		t.Errorf("capture request = %+v", got)
	}
}

func TestPostScreenshot_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		err      error
		status   int
		wantCode string
	}{
		{"missing url", `{"width":800}`, nil, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"bad format", `{"url":"https://example.com","format":"gif"}`, nil, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"oversized", `{"url":"https://example.com","width":5000}`, nil, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"malformed json", `{"url":`, nil, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{
			"navigation failure",
			`{"url":"https://example.com"}`,
			models.NewCaptureError(models.ErrCodeNavigation, "navigation to target URL failed", nil),
			http.StatusBadGateway,
			models.ErrCodeNavigation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newEngine(&fakeCapturer{result: jpegResult(), err: tt.err})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/screenshot", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var resp models.ScreenshotResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("response = %+v, want error %s", resp, tt.wantCode)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stats models.CaptureStats
		want  string
	}{
		{"idle", models.CaptureStats{MaxConcurrent: 4}, "healthy"},
		{"busy", models.CaptureStats{MaxConcurrent: 4, ActiveCaptures: 3}, "healthy"},
		{"saturated", models.CaptureStats{MaxConcurrent: 4, ActiveCaptures: 4}, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newEngine(&fakeCapturer{stats: tt.stats})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			var resp models.HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.want || resp.Version != Version {
				t.Errorf("health = %+v, want status %s", resp, tt.want)
			}
		})
	}
}
