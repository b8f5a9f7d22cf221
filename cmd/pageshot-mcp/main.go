package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// screenshotRequest mirrors the pageshot API request model.
type screenshotRequest struct {
	URL              string  `json:"url"`
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	DevicePixelRatio float64 `json:"device_pixel_ratio,omitempty"`
	Format           string  `json:"format,omitempty"`
	JavaScript       *bool   `json:"javascript,omitempty"`
	WaitUntil        string  `json:"wait_until,omitempty"`
	TimeoutMs        int     `json:"timeout_ms,omitempty"`
}

// screenshotResponse mirrors the pageshot API response model.
type screenshotResponse struct {
	Success  bool   `json:"success"`
	Image    string `json:"image"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Partial  bool   `json:"partial"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("PAGESHOT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	s := server.NewMCPServer(
		"pageshot",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	screenshotTool := mcp.NewTool("screenshot_url",
		mcp.WithDescription("Render a web page in a headless browser and return a screenshot of the viewport. Slow pages are stopped at the deadline and captured as-is."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to capture"),
		),
		mcp.WithNumber("width",
			mcp.Description("Viewport width in CSS pixels (default 800)"),
		),
		mcp.WithNumber("height",
			mcp.Description("Viewport height in CSS pixels (default 640)"),
		),
		mcp.WithString("format",
			mcp.Description("Image format: 'jpeg' (default) or 'png'"),
			mcp.Enum("jpeg", "png"),
		),
		mcp.WithNumber("dpr",
			mcp.Description("Device pixel ratio (default 1, max 4)"),
		),
		mcp.WithBoolean("javascript",
			mcp.Description("Run page scripts (default true)"),
		),
		mcp.WithString("wait_until",
			mcp.Description("Load signal to wait for before capture"),
			mcp.Enum("load", "domcontentloaded", "networkidle0", "networkidle2"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Navigation timeout in milliseconds, clamped to 3000-8500"),
		),
	)

	s.AddTool(screenshotTool, handleScreenshotURL(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func handleScreenshotURL(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := screenshotRequest{
			URL:              url,
			Width:            request.GetInt("width", 0),
			Height:           request.GetInt("height", 0),
			DevicePixelRatio: request.GetFloat("dpr", 0),
			Format:           request.GetString("format", ""),
			WaitUntil:        request.GetString("wait_until", ""),
			TimeoutMs:        request.GetInt("timeout_ms", 0),
		}
		if args := request.GetArguments(); args["javascript"] != nil {
			js := request.GetBool("javascript", true)
			reqBody.JavaScript = &js
		}

		respBody, err := apiPost(ctx, client, apiURL, "/api/v1/screenshot", reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("screenshot request failed: %v", err)), nil
		}

		var shot screenshotResponse
		if err := json.Unmarshal(respBody, &shot); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !shot.Success {
			errMsg := "screenshot failed"
			if shot.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", shot.Error.Code, shot.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		caption := fmt.Sprintf("Screenshot of %s (%dx%d %s)", url, shot.Width, shot.Height, shot.MIMEType)
		if shot.Partial {
			caption += ", page load was stopped at the deadline"
		}
		return mcp.NewToolResultImage(caption, shot.Image, shot.MIMEType), nil
	}
}

// apiPost sends a JSON body to the pageshot API and returns the raw
// response body. Error statuses are returned as bodies too: the API
// always answers with its JSON envelope.
func apiPost(ctx context.Context, client *http.Client, apiURL, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
