package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedtrak/internal/database"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) (configPath, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(dir, "feedtrak.db")
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
database:
  path: %s
feed:
  domain_delay: 0s
jobs:
  backoff: [0s]
youtube:
  mirrors: []
log:
  level: error
`, dbPath)), 0o644))
	return configPath, dbPath
}

const testRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Local Feed</title><link>https://local.example.com/</link>
  <item><title>One</title><link>https://local.example.com/1</link><guid>1</guid><pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate></item>
  <item><title>Two</title><link>https://local.example.com/2</link><guid>2</guid><pubDate>Tue, 07 Jan 2025 10:00:00 GMT</pubDate></item>
  <item><title>Three</title><link>https://local.example.com/3</link><guid>3</guid><pubDate>Wed, 08 Jan 2025 10:00:00 GMT</pubDate></item>
</channel></rss>`

func TestImportAndRefreshCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer srv.Close()

	dir := t.TempDir()
	configPath, dbPath := writeConfig(t, dir)
	opmlPath := filepath.Join(dir, "feeds.opml")
	require.NoError(t, os.WriteFile(opmlPath, []byte(fmt.Sprintf(`<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Tech"><outline text="Local" xmlUrl="%s/feed.xml"/></outline>
</body></opml>`, srv.URL)), 0o644))

	out, err := execute(t, "import-opml", opmlPath, "--user", "1", "--config", configPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"feeds_imported": 1`)
	assert.Contains(t, out, `"categories_created": 1`)

	out, err = execute(t, "refresh", "--config", configPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Refreshed 1 feed(s)")

	store, err := database.New(dbPath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	feed, err := store.GetFeedByURL(ctx, srv.URL+"/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, "Local Feed", feed.Title)
	n, err := store.CountEntries(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	unread, err := store.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
}

func TestImportRequiresUser(t *testing.T) {
	configPath, _ := writeConfig(t, t.TempDir())
	_, err := execute(t, "import-opml", "feeds.opml", "--config", configPath)
	assert.Error(t, err)
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feedtrak.yaml")
	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new_feed_entry_limit: 15")
	assert.Contains(t, string(data), "driver: sqlite")
}
