package browser

import (
	"fmt"
	"net/url"

	"github.com/go-rod/rod/lib/launcher"

	"tokscraper/pkg/config"
)

// Launch starts a local Chrome and returns its DevTools HTTP endpoint plus a
// stop function
func Launch(cfg config.BrowserConfig) (string, func(), error) {
	l := launcher.New().Headless(cfg.Headless).Set("lang", "en-US")
	if cfg.ChromePath != "" {
		l = l.Bin(cfg.ChromePath)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("launch chrome: %w", err)
	}

	httpURL, err := devtoolsHTTP(wsURL)
	if err != nil {
		l.Kill()
		return "", nil, err
	}

	stop := func() {
		l.Kill()
		// A caller-supplied profile directory is kept across runs.
		if cfg.UserDataDir == "" {
			l.Cleanup()
		}
	}
	return httpURL, stop, nil
}

// devtoolsHTTP turns ws://host:port/devtools/browser/<id> into http://host:port
func devtoolsHTTP(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse devtools url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("devtools url %q has no host", wsURL)
	}
	return "http://" + u.Host, nil
}
