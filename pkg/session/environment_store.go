package session

import (
	"os"
	"time"

	"tokscraper/pkg/browser"
)

// EnvMsToken holds an msToken supplied through the environment
const EnvMsToken = "TOKSCRAPER_MS_TOKEN"

// EnvironmentStore exposes an msToken from the environment as a read-only jar
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-backed store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Save is not supported for environment variables
func (e *EnvironmentStore) Save(jar *Jar) error {
	return ErrUnavailable
}

// Load returns a jar holding only the msToken cookie
func (e *EnvironmentStore) Load(account string) (*Jar, error) {
	token := os.Getenv(EnvMsToken)
	if token == "" {
		return nil, ErrNotFound
	}
	if account == "" {
		account = DefaultAccount
	}
	return &Jar{
		Account: account,
		Cookies: []browser.Cookie{{
			Name:   "msToken",
			Value:  token,
			Domain: ".tiktok.com",
			Path:   "/",
			Secure: true,
		}},
		Saved: time.Now(),
	}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(account string) error {
	return ErrUnavailable
}
