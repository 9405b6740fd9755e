package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/browser"
	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/local"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/sqlite"
)

const (
	itemURL     = "https://marketplace.visualstudio.com/items?itemName=pub.one"
	listingHTML = `<html><body><div class="ux-item-card"><a href="/items?itemName=pub.one">One</a></div></body></html>`
	itemHTML    = `<html><head><script>x()</script></head><body><h1 class="ux-item-name">Item One</h1>
<div class="ux-item-shortdesc">First item</div><span class="installs-text">1,024 installs</span></body></html>`
)

// fakeTab serves the listing for search URLs and the item page otherwise.
type fakeTab struct {
	mu      sync.Mutex
	current string
}

func (f *fakeTab) Navigate(_ context.Context, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = url
	return nil
}

func (f *fakeTab) WaitVisible(context.Context, string, time.Duration) error { return nil }

func (f *fakeTab) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(f.current, "/search") {
		return listingHTML, nil
	}
	return itemHTML, nil
}

func (f *fakeTab) Scroll(context.Context, int) error { return nil }

func (f *fakeTab) Close() error { return nil }

type fakeBrowser struct {
	mu       sync.Mutex
	acquired int
	closed   bool
}

func (b *fakeBrowser) Acquire(context.Context) (crawler.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired++
	return &fakeTab{}, nil
}

func (b *fakeBrowser) Release(s crawler.Session) { _ = s.Close() }

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func useFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fake := &fakeBrowser{}
	prev := newSessionManager
	newSessionManager = func(browser.Config, *zap.Logger) (sessionManager, error) {
		return fake, nil
	}
	t.Cleanup(func() { newSessionManager = prev })
	return fake
}

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`logging:
  development: false
  level: error
store:
  driver: sqlite
  path: %s
catalog:
  dimensions: [Installs]
discovery:
  settle_delay: 1ms
  stall_limit: 1
`, dbPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&strings.Builder{})
	root.SetErr(&strings.Builder{})
	return root.ExecuteContext(context.Background())
}

func openDB(t *testing.T, path string) *sqlite.ItemStore {
	t.Helper()
	store, err := sqlite.Open(context.Background(), sqlite.Config{Path: path, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDiscoverThenArchive(t *testing.T) {
	fake := useFakeBrowser(t)
	dbPath := filepath.Join(t.TempDir(), "data", "items.db")
	cfg := writeConfig(t, dbPath)

	require.NoError(t, execute("discover", "--config", cfg))
	assert.True(t, fake.closed)

	dest := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, execute("archive", dest, "--config", cfg))

	content, err := os.ReadFile(filepath.Join(dest, "Item One", local.ContentFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Item One")
	assert.NotContains(t, string(content), "x()")
	shortcut, err := os.ReadFile(filepath.Join(dest, "Item One", "Item One.url"))
	require.NoError(t, err)
	assert.Equal(t, "[InternetShortcut]\nURL="+itemURL+"\n", string(shortcut))

	store := openDB(t, dbPath)
	rec, err := store.FindByIdentifier(context.Background(), "pub.one")
	require.NoError(t, err)
	require.NotNil(t, rec.Name)
	assert.Equal(t, "Item One", *rec.Name)
	require.NotNil(t, rec.Installs)
	assert.Equal(t, int64(1024), *rec.Installs)
	require.NotNil(t, rec.LocalPath)
	assert.Equal(t, filepath.Join(dest, "Item One"), *rec.LocalPath)
}

func TestArchiveSingleURL(t *testing.T) {
	useFakeBrowser(t)
	dbPath := filepath.Join(t.TempDir(), "items.db")
	cfg := writeConfig(t, dbPath)

	store := openDB(t, dbPath)
	name, u := "Item One", itemURL
	_, err := store.Create(context.Background(), "pub.one", crawler.Metadata{Name: &name, URL: &u})
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, execute("archive", dest, "--url", itemURL, "--config", cfg))
	assert.DirExists(t, filepath.Join(dest, "Item One"))

	// Second run finds the folder and leaves it alone.
	require.NoError(t, execute("archive", dest, "--url", itemURL, "--config", cfg))

	// Unknown items and URLs without an identifier are skipped.
	require.NoError(t, execute("archive", dest, "--url", "https://marketplace.visualstudio.com/items?itemName=pub.nope", "--config", cfg))
	require.NoError(t, execute("archive", dest, "--url", "https://marketplace.visualstudio.com/items", "--config", cfg))
}

func TestArchiveEmptyStore(t *testing.T) {
	fake := useFakeBrowser(t)
	cfg := writeConfig(t, filepath.Join(t.TempDir(), "items.db"))

	require.NoError(t, execute("archive", filepath.Join(t.TempDir(), "out"), "--config", cfg))
	assert.Zero(t, fake.acquired)
}

func TestArchiveRequiresDestination(t *testing.T) {
	useFakeBrowser(t)
	cfg := writeConfig(t, filepath.Join(t.TempDir(), "items.db"))
	require.Error(t, execute("archive", "--config", cfg))
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: nope\n"), 0o600))
	require.Error(t, execute("discover", "--config", path))
}
