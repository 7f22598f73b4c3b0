package forum

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "patchwatch/pkg/logx"
)

const listingHTML = `<html><body>
<div class="thread"><a class="thread-subject" href="/forum/190048/thread/alpha-4-1-patch-notes">Alpha 4.1</a></div>
<div class="thread"><a class="thread-subject" href="/forum/190048/thread/alpha-4-0-patch-notes">Alpha 4.0</a></div>
</body></html>`

const threadHTML = `<html><head><title>Alpha 4.1</title><script>var x = 1;</script></head><body>
<nav>Home | Forums</nav>
<div class="content-main">
  <h1>Alpha 4.1 Patch Notes</h1>
  <p>Published: 2024-01-01</p>
  <h2>Known Issues</h2>
  <ul><li>Elevators   sometimes stall</li></ul>
  <h2>Technical</h2>
  <p>Fixed 3 <b>client</b> crashes</p>
</div>
</body></html>`

func newForumServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/forum/190048", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "patchwatch-test", r.UserAgent())
		fmt.Fprint(w, listingHTML)
	})
	mux.HandleFunc("/forum/190048/thread/alpha-4-1-patch-notes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, threadHTML)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="content-main">   </div></body></html>`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Patch notes</title>
<item><title>Old</title><link>/thread/old</link><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>New</title><link>/thread/new</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newHTMLScraper(t *testing.T, srv *httptest.Server, format string) *Scraper {
	t.Helper()
	s, err := New(Config{
		Kind:            KindHTML,
		URL:             srv.URL + "/forum/190048",
		ItemSelector:    "a.thread-subject",
		ContentSelector: "div.content-main",
		ContentFormat:   format,
		FetchTimeout:    time.Second,
		UserAgent:       "patchwatch-test",
	}, logx.Nop())
	require.NoError(t, err)
	return s
}

func TestLatestItemURLResolvesFirstMatch(t *testing.T) {
	srv := newForumServer(t)
	s := newHTMLScraper(t, srv, FormatText)

	got, err := s.LatestItemURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/forum/190048/thread/alpha-4-1-patch-notes", got)
}

func TestLatestItemURLNoMatch(t *testing.T) {
	srv := newForumServer(t)
	s, err := New(Config{URL: srv.URL + "/forum/190048", ItemSelector: "a.missing", UserAgent: "patchwatch-test"}, logx.Nop())
	require.NoError(t, err)

	_, err = s.LatestItemURL(context.Background())
	assert.ErrorIs(t, err, ErrNoItem)
}

func TestPageTextSelectsContentAsText(t *testing.T) {
	srv := newForumServer(t)
	s := newHTMLScraper(t, srv, FormatText)

	got, err := s.PageText(context.Background(), srv.URL+"/forum/190048/thread/alpha-4-1-patch-notes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Alpha 4.1 Patch Notes"))
	assert.Contains(t, got, "Elevators sometimes stall")
	assert.Contains(t, got, "Fixed 3 client crashes")
	assert.NotContains(t, got, "Home | Forums")
}

func TestPageTextAsMarkdown(t *testing.T) {
	srv := newForumServer(t)
	s := newHTMLScraper(t, srv, FormatMarkdown)

	got, err := s.PageText(context.Background(), srv.URL+"/forum/190048/thread/alpha-4-1-patch-notes")
	require.NoError(t, err)
	assert.Contains(t, got, "# Alpha 4.1 Patch Notes")
	assert.Contains(t, got, "**client**")
}

func TestPageTextEmptyContent(t *testing.T) {
	srv := newForumServer(t)
	s := newHTMLScraper(t, srv, FormatText)

	_, err := s.PageText(context.Background(), srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = s.PageText(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestPageTextHTTPError(t *testing.T) {
	srv := newForumServer(t)
	s := newHTMLScraper(t, srv, FormatText)

	_, err := s.PageText(context.Background(), srv.URL+"/nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchTimeoutBoundsTheCall(t *testing.T) {
	srv := newForumServer(t)
	s, err := New(Config{
		URL:          srv.URL + "/slow",
		ItemSelector: "a",
		FetchTimeout: 50 * time.Millisecond,
	}, logx.Nop())
	require.NoError(t, err)

	start := time.Now()
	_, err = s.LatestItemURL(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLatestItemURLFromFeed(t *testing.T) {
	srv := newForumServer(t)
	s, err := New(Config{Kind: KindFeed, URL: srv.URL + "/feed.xml"}, logx.Nop())
	require.NoError(t, err)

	got, err := s.LatestItemURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/thread/new", got)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{URL: "https://x.example", Kind: "ftp"}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{URL: "https://x.example"}, logx.Nop())
	require.Error(t, err)
}
