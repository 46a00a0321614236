package headless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// hangingBrowser writes an executable that never prints a DevTools URL.
func hangingBrowser(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script browser stand-in needs a unix shell")
	}
	bin := filepath.Join(t.TempDir(), "chrome")
	// #nosec G306 -- the stand-in must be executable.
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o700))
	return bin
}

func TestChromedpLaunchBoundedByContext(t *testing.T) {
	t.Parallel()

	c := NewChromedp(profile.New(), Config{Bin: hangingBrowser(t), NoSandbox: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	began := time.Now()
	err := c.CreateSession(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 15*time.Second)
	require.NoError(t, c.Quit())
}

func TestChromedpLaunchMissingBinary(t *testing.T) {
	t.Parallel()

	c := NewChromedp(profile.New(), Config{Bin: filepath.Join(t.TempDir(), "missing")}, nil)
	err := c.CreateSession(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}

func findChrome() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func TestChromedpSessionOutlivesLaunch(t *testing.T) {
	bin := findChrome()
	if bin == "" {
		t.Skip("no chrome binary found")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>kept</title></head><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)

	c := NewChromedp(profile.New(), Config{Bin: bin, NoSandbox: true, SettleDelay: 10 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = c.Quit() })

	// A short-lived start-up context must not take the browser down with it.
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	require.NoError(t, c.CreateSession(startCtx))
	cancel()

	ctx := context.Background()
	for range 2 {
		resp, err := c.RawFetch(ctx, backend.RawRequest{URL: srv.URL, Timeout: 20 * time.Second})
		require.NoError(t, err)
		assert.Contains(t, string(resp.Body), "ok")
	}
	var title string
	require.NoError(t, c.Evaluate(ctx, "document.title", &title))
	assert.Equal(t, "kept", title)
}
