package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pageshot/capture"
	"github.com/use-agent/pageshot/config"
	"github.com/use-agent/pageshot/models"
)

var version = "dev"

func main() {
	f := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:     "pageshot-cli [URL]",
		Short:   "Render a web page to an image with a headless browser",
		Version: version,
		Long: `pageshot-cli captures the viewport of a web page in a fresh headless
browser and writes the encoded image to a file or stdout. Pages that do not
finish loading in time are stopped and captured as they are.`,
		Example: `  # 800x640 JPEG to stdout
  pageshot-cli https://example.com > shot.jpg

  # Retina PNG, format inferred from the output file
  pageshot-cli https://example.com -s 1280x720 --dpr 2 -o shot.png

  # Static render without scripts, ads blocked
  pageshot-cli https://news.example.com --no-js --block-ads -o news.jpg`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], f, cmd.OutOrStdout())
		},
	}
	bindFlags(rootCmd.Flags(), f)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, target string, f *cliFlags, stdout io.Writer) error {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	req, err := f.request(target)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Capture.MaxConcurrent = 1

	res, err := capture.NewFromConfig(cfg).Capture(ctx, req)
	if err != nil {
		return err
	}
	if res.Partial {
		fmt.Fprintln(os.Stderr, "warning: page did not finish loading before the deadline")
	}

	if f.output == "" || f.output == "-" {
		_, err = stdout.Write(res.Data)
		return err
	}
	if err := os.WriteFile(f.output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.output, err)
	}
	fmt.Fprintf(os.Stderr, "%s: %dx%d %s, %d bytes in %s\n",
		f.output, res.Width, res.Height, res.MIMEType, len(res.Data), res.Duration.Round(time.Millisecond))
	return nil
}

// request builds a CaptureRequest from the parsed flags. The size flag
// follows the path endpoint: anything but WIDTHxHEIGHT means 800x640.
func (f *cliFlags) request(target string) (*models.CaptureRequest, error) {
	format := strings.ToLower(f.format)
	if format == "" {
		format = inferFormat(f.output)
	}

	req := &models.CaptureRequest{
		URL:              target,
		DevicePixelRatio: f.dpr,
		Format:           format,
		WaitUntil:        f.wait,
		TimeoutMs:        int(f.timeout.Milliseconds()),
		Stealth:          f.stealth,
		BlockAds:         f.blockAds,
	}
	req.Width, req.Height = models.ParseSize(f.size)
	if f.noJS {
		js := false
		req.JavaScript = &js
	}
	if len(f.headers) > 0 {
		req.Headers = make(map[string]string, len(f.headers))
		for _, h := range f.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, fmt.Errorf("invalid header %q: want Name: value", h)
			}
			req.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return req, nil
}

// inferFormat picks the image format from an output file extension.
func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return models.FormatPNG
	default:
		return models.FormatJPEG
	}
}
