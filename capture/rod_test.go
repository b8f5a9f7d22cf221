package capture

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/pageshot/config"
	"github.com/use-agent/pageshot/models"
)

func TestLifecycleEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wait string
		want proto.PageLifecycleEventName
	}{
		{models.WaitLoad, proto.PageLifecycleEventNameLoad},
		{models.WaitDOMContentLoaded, proto.PageLifecycleEventNameDOMContentLoaded},
		{models.WaitNetworkIdle0, proto.PageLifecycleEventNameNetworkIdle},
		{models.WaitNetworkIdle2, proto.PageLifecycleEventNameNetworkAlmostIdle},
		{"", proto.PageLifecycleEventNameLoad},
	}
	for _, tt := range tests {
		if got := lifecycleEvent(tt.wait); got != tt.want {
			t.Errorf("lifecycleEvent(%q) = %q, want %q", tt.wait, got, tt.want)
		}
	}
}

func TestToHeadersMap(t *testing.T) {
	t.Parallel()

	m := toHeadersMap(map[string]string{"Accept-Language": "en-US", "X-Trace": "abc"})
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if got := m["Accept-Language"].Str(); got != "en-US" {
		t.Errorf("Accept-Language = %q", got)
	}
}

func TestRodLauncher_RequiresBinary(t *testing.T) {
	t.Parallel()

	l := NewRodLauncher(config.BrowserConfig{Leakless: true})
	if _, err := l.Launch(t.Context(), LaunchOptions{}); err != ErrNoBrowser {
		t.Errorf("Launch() error = %v, want ErrNoBrowser", err)
	}
}

// A browser that never prints its DevTools URL must not hold the caller
// past its own deadline.
func TestRodLauncher_LaunchHonoursDeadline(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script as the browser binary")
	}

	bin := filepath.Join(t.TempDir(), "silent-browser")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 20\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	l := NewRodLauncher(config.BrowserConfig{Leakless: false})
	start := time.Now()
	b, err := l.Launch(ctx, LaunchOptions{
		Binary:   &Binary{Path: bin},
		Viewport: Viewport{Width: 800, Height: 640, DeviceScaleFactor: 1},
		Headless: true,
	})
	elapsed := time.Since(start)

	if err == nil {
		_ = b.Close()
		t.Fatal("Launch() succeeded against a silent binary")
	}
	// rod's own kill on a failed launch waits one second.
	if elapsed > 3*time.Second {
		t.Errorf("Launch() returned after %s, want about the 500ms deadline", elapsed)
	}
}
