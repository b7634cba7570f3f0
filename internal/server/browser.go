package server

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/conneroisu/sidepeek/internal/logging"
)

// Opener shows a page to the user.
type Opener func(url string)

// BrowserOpener returns an Opener that starts the platform browser.
func BrowserOpener(logger logging.Logger) Opener {
	return func(target string) {
		if err := openBrowser(target); err != nil {
			logger.Warn(context.Background(), err, "Failed to open browser", "url", target)
		}
	}
}

func openBrowser(target string) error {
	// Validate URL before passing it to system commands
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid browser url %q", target)
	}

	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	case "darwin":
		return exec.Command("open", target).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
