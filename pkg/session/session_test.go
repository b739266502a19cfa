package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/logger"
)

type memoryStore struct {
	mu   sync.Mutex
	jars map[string]Jar
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jars: make(map[string]Jar)}
}

func (m *memoryStore) Save(jar *Jar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jars[jar.Account] = *jar
	return nil
}

func (m *memoryStore) Load(account string) (*Jar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jar, ok := m.jars[account]
	if !ok {
		return nil, ErrNotFound
	}
	return &jar, nil
}

func (m *memoryStore) Delete(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jars[account]; !ok {
		return ErrNotFound
	}
	delete(m.jars, account)
	return nil
}

func sampleJar() *Jar {
	return &Jar{
		Account: "alice",
		Cookies: []browser.Cookie{
			{Name: "msToken", Value: "abcdefghijklmnop", Domain: ".tiktok.com"},
			{Name: "ttwid", Value: "old", Domain: ".tiktok.com", Expires: time.Now().Add(-time.Hour)},
		},
	}
}

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPassphrase, "")
	store, err := NewEncryptedFileStore(filepath.Join(dir, "session.enc"), dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleJar()))
	require.NoError(t, store.Save(&Jar{Account: "bob"}))

	raw, err := os.ReadFile(filepath.Join(dir, "session.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "abcdefghijklmnop")

	jar, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", jar.Cookies[0].Value)

	require.NoError(t, store.Delete("alice"))
	_, err = store.Load("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete("bob"))
	_, err = os.Stat(filepath.Join(dir, "session.enc"))
	assert.True(t, os.IsNotExist(err))
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.enc")

	t.Setenv(EnvPassphrase, "first")
	store, err := NewEncryptedFileStore(path, dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleJar()))

	t.Setenv(EnvPassphrase, "second")
	other, err := NewEncryptedFileStore(path, dir)
	require.NoError(t, err)
	_, err = other.Load("alice")
	assert.Error(t, err)
}

func TestKeyringStoreWithMockProvider(t *testing.T) {
	keyring.MockInit()
	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleJar()))
	jar, err := store.Load("alice")
	require.NoError(t, err)
	assert.Len(t, jar.Cookies, 2)

	require.NoError(t, store.Delete("alice"))
	assert.ErrorIs(t, store.Delete("alice"), ErrNotFound)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvMsToken, "")
	_, err := NewEnvironmentStore().Load("")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Setenv(EnvMsToken, "env-token")
	jar, err := NewEnvironmentStore().Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAccount, jar.Account)
	assert.Equal(t, "env-token", jar.Cookies[0].Value)
	assert.ErrorIs(t, NewEnvironmentStore().Save(jar), ErrUnavailable)
}

func TestManagerFallsThroughStores(t *testing.T) {
	t.Setenv(EnvMsToken, "env-token")
	first := newMemoryStore()
	m := NewManagerWithStores(logger.NewNopLogger(), first, NewEnvironmentStore())

	jar, err := m.Load("nobody")
	require.NoError(t, err)
	assert.Equal(t, "env-token", jar.Cookies[0].Value)

	require.NoError(t, m.Save(sampleJar()))
	jar, err = m.Load("alice")
	require.NoError(t, err)
	assert.False(t, jar.Saved.IsZero())

	require.NoError(t, m.Delete("alice"))
	assert.ErrorIs(t, m.Delete("alice"), ErrNotFound)
	assert.ErrorIs(t, m.Save(&Jar{}), ErrInvalid)
}

func TestSeedAndPersist(t *testing.T) {
	t.Setenv(EnvMsToken, "")
	store := newMemoryStore()
	m := NewManagerWithStores(logger.NewNopLogger(), store)
	require.NoError(t, store.Save(sampleJar()))

	page := browser.NewFake()
	n, err := m.Seed(context.Background(), page, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expired cookie is dropped")

	cookies, err := page.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "msToken", cookies[0].Name)

	require.NoError(t, page.SetCookies(context.Background(), []browser.Cookie{{Name: "sessionid", Value: "s", Domain: ".tiktok.com"}}))
	require.NoError(t, m.Persist(context.Background(), page, "alice"))
	jar, err := store.Load("alice")
	require.NoError(t, err)
	assert.Len(t, jar.Cookies, 2)

	n, err = m.Seed(context.Background(), page, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSanitizeMasksValues(t *testing.T) {
	clean := Sanitize(sampleJar())
	assert.Equal(t, "abcd...mnop", clean.Cookies[0].Value)
	assert.Equal(t, "********", clean.Cookies[1].Value)
	assert.Nil(t, Sanitize(nil))
}
