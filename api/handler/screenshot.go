package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pageshot/capture"
	"github.com/use-agent/pageshot/models"
)

// PartialHeader is set on binary responses whose page load was forcibly
// stopped at the navigation deadline.
const PartialHeader = "X-Pageshot-Partial"

// Capturer is the capture engine as seen by the HTTP layer.
type Capturer interface {
	Capture(ctx context.Context, req *models.CaptureRequest) (*capture.Result, error)
	Stats() models.CaptureStats
}

// ScreenshotPath returns a handler for GET /screenshot/<url>/<size>/<format>.
//
// The URL token is percent-encoded. Size and format tokens are optional;
// a missing or malformed size falls back to 800x640 and a missing format
// means jpeg. The image is returned as a raw binary body; failures are
// text/plain "Error: <message>".
func ScreenshotPath(cp Capturer, requestTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := ParsePath(c.Request.URL.EscapedPath(), c.Request.URL.Query())
		if err != nil {
			respondText(c, err)
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		res, err := cp.Capture(ctx, req)
		if err != nil {
			respondText(c, err)
			return
		}

		if res.Partial {
			c.Header(PartialHeader, "true")
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, res.MIMEType, res.Data)
	}
}

// PostScreenshot returns a handler for POST /api/v1/screenshot.
//
// Orchestration flow:
//  1. Bind & validate the JSON body.
//  2. Capture under the request deadline    (records capture_ms)
//  3. Base64 the image and respond 200.
func PostScreenshot(cp Capturer, requestTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.CaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScreenshotResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// ── 2. Capture ──────────────────────────────────────────────
		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		captureStart := time.Now()
		res, err := cp.Capture(ctx, &req)
		captureMs := time.Since(captureStart).Milliseconds()

		if err != nil {
			respondJSON(c, err, models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				CaptureMs: captureMs,
			})
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, models.ScreenshotResponse{
			Success:  true,
			Image:    res.Base64(),
			MIMEType: res.MIMEType,
			Width:    res.Width,
			Height:   res.Height,
			Partial:  res.Partial,
			Timing: models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				CaptureMs: captureMs,
			},
		})
	}
}

// ParsePath turns the escaped request path of the path endpoint plus its
// query string into a CaptureRequest. Only the URL token is validated
// here; everything else is left to the capture engine.
func ParsePath(escapedPath string, q url.Values) (*models.CaptureRequest, error) {
	rest := strings.TrimPrefix(escapedPath, "/screenshot")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil, models.NewCaptureError(models.ErrCodeInvalidInput, "invalid `url`: empty", nil)
	}

	tokens := strings.Split(rest, "/")
	if len(tokens) > 3 {
		return nil, models.NewCaptureError(models.ErrCodeInvalidInput,
			"invalid `url`: the url token must be percent-encoded", nil)
	}

	target, err := url.PathUnescape(tokens[0])
	if err != nil {
		return nil, models.NewCaptureError(models.ErrCodeInvalidInput,
			fmt.Sprintf("invalid `url`: %v", err), err)
	}
	if err := models.ValidateURL(target); err != nil {
		return nil, models.NewCaptureError(models.ErrCodeInvalidInput, err.Error(), nil)
	}

	req := &models.CaptureRequest{URL: target}

	if len(tokens) > 1 {
		req.Width, req.Height = models.ParseSize(tokens[1])
	}
	if len(tokens) > 2 && tokens[2] != "" {
		req.Format = strings.ToLower(tokens[2])
	}

	if err := applyQuery(req, q); err != nil {
		return nil, err
	}
	return req, nil
}

func applyQuery(req *models.CaptureRequest, q url.Values) error {
	invalid := func(name, value string) error {
		return models.NewCaptureError(models.ErrCodeInvalidInput,
			fmt.Sprintf("invalid `%s`: %q", name, value), nil)
	}

	if v := q.Get("dpr"); v != "" {
		dpr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid("dpr", v)
		}
		req.DevicePixelRatio = dpr
	}
	if v := q.Get("js"); v != "" {
		js, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("js", v)
		}
		req.JavaScript = &js
	}
	if v := q.Get("wait"); v != "" {
		req.WaitUntil = strings.ToLower(v)
	}
	if v := q.Get("timeout"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return invalid("timeout", v)
		}
		req.TimeoutMs = ms
	}
	if v := q.Get("stealth"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("stealth", v)
		}
		req.Stealth = b
	}
	if v := q.Get("block_ads"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("block_ads", v)
		}
		req.BlockAds = b
	}
	return nil
}

func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func asCaptureError(err error) *models.CaptureError {
	var ce *models.CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	return models.NewCaptureError(models.ErrCodeInternal, err.Error(), err)
}

// respondText writes the path endpoint's plain-text error body.
func respondText(c *gin.Context, err error) {
	ce := asCaptureError(err)
	c.String(mapErrorToStatus(ce), "Error: %s", ce.Message)
}

// respondJSON maps a CaptureError to the correct HTTP status code and writes
// a structured JSON error response.
func respondJSON(c *gin.Context, err error, timing models.TimingInfo) {
	ce := asCaptureError(err)
	c.JSON(mapErrorToStatus(ce), models.ScreenshotResponse{
		Success: false,
		Error:   ce.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.CaptureError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	default:
		return http.StatusInternalServerError // 500
	}
}
