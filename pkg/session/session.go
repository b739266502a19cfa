package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/logger"
)

// DefaultAccount names the jar used when no account is configured
const DefaultAccount = "default"

// Jar is a persisted set of browser cookies for one account
type Jar struct {
	Account string           `json:"account"`
	Cookies []browser.Cookie `json:"cookies"`
	Saved   time.Time        `json:"saved"`
}

// Live drops cookies that expired before now
func (j *Jar) Live(now time.Time) []browser.Cookie {
	out := make([]browser.Cookie, 0, len(j.Cookies))
	for _, c := range j.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Store is a backend that can hold cookie jars
type Store interface {
	Save(jar *Jar) error
	Load(account string) (*Jar, error)
	Delete(account string) error
}

var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalid     = errors.New("invalid session")
	ErrUnavailable = errors.New("session store unavailable")
)

// Manager tries its stores in order: keyring, encrypted file, environment
type Manager struct {
	stores []Store
	logger logger.Logger
}

// NewManager creates a manager with every backend available on this system
func NewManager(log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	var stores []Store

	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	} else {
		log.DebugWithFields("keyring unavailable", map[string]interface{}{"error": err.Error()})
	}

	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	fs, err := NewEncryptedFileStore(filepath.Join(dir, "session.enc"), dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, fs, NewEnvironmentStore())

	return &Manager{stores: stores, logger: log}, nil
}

// NewManagerWithStores creates a manager over explicit backends
func NewManagerWithStores(log logger.Logger, stores ...Store) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{stores: stores, logger: log}
}

// Save writes the jar to the first store that accepts it
func (m *Manager) Save(jar *Jar) error {
	if jar == nil || jar.Account == "" {
		return ErrInvalid
	}
	jar.Saved = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Save(jar)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to save session: %w", lastErr)
	}
	return ErrUnavailable
}

// Load returns the jar from the first store that has it
func (m *Manager) Load(account string) (*Jar, error) {
	for _, store := range m.stores {
		if jar, err := store.Load(account); err == nil && jar != nil {
			return jar, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, account)
}

// Delete removes the jar from every store
func (m *Manager) Delete(account string) error {
	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(account); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrNotFound) && !errors.Is(lastErr, ErrUnavailable) {
		return fmt.Errorf("failed to delete session: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, account)
}

// Seed loads the account's live cookies into the browser. A missing jar is
// not an error.
func (m *Manager) Seed(ctx context.Context, s browser.Session, account string) (int, error) {
	jar, err := m.Load(account)
	if err != nil {
		return 0, nil
	}
	cookies := jar.Live(time.Now())
	if len(cookies) == 0 {
		return 0, nil
	}
	if err := s.SetCookies(ctx, cookies); err != nil {
		return 0, fmt.Errorf("failed to seed cookies: %w", err)
	}
	m.logger.InfoWithFields("session cookies restored", map[string]interface{}{
		"account": account,
		"cookies": len(cookies),
	})
	return len(cookies), nil
}

// Persist saves the browser's current cookies for account
func (m *Manager) Persist(ctx context.Context, s browser.Session, account string) error {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	if err := m.Save(&Jar{Account: account, Cookies: cookies}); err != nil {
		return err
	}
	m.logger.InfoWithFields("session cookies saved", map[string]interface{}{
		"account": account,
		"cookies": len(cookies),
	})
	return nil
}

// Sanitize returns a copy of the jar with cookie values masked
func Sanitize(jar *Jar) *Jar {
	if jar == nil {
		return nil
	}
	out := &Jar{Account: jar.Account, Saved: jar.Saved, Cookies: make([]browser.Cookie, len(jar.Cookies))}
	for i, c := range jar.Cookies {
		c.Value = maskString(c.Value)
		out.Cookies[i] = c
	}
	return out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// configDir returns the per-user configuration directory, creating it
func configDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "tokscraper")
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), "tokscraper")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "tokscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "tokscraper")
		}
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
