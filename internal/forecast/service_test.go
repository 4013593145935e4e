package forecast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

const forecastPage = `<html><head><title>Avalanche Outlook</title></head>
<body>
<div id="header">Missoula</div>
<pre>
AVALANCHE OUTLOOK FOR THE KOOTENAI
DANGER: MODERATE above 6000 ft
</pre>
<pre>second block</pre>
</body></html>`

func newTestService(t *testing.T, srvURL string) *Service {
	t.Helper()
	svc, err := New(Config{
		Sources: []Source{
			{Name: "kootenai", URL: srvURL + "/kootenai"},
			{Name: "whitefish", URL: srvURL + "/whitefish"},
		},
		CacheDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestExtractText(t *testing.T) {
	text, ok, err := extractText(strings.NewReader(forecastPage), "pre")
	if err != nil || !ok {
		t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
	}
	want := "AVALANCHE OUTLOOK FOR THE KOOTENAI\nDANGER: MODERATE above 6000 ft"
	if text != want {
		t.Fatalf("unexpected text %q", text)
	}

	text, ok, _ = extractText(strings.NewReader(forecastPage), "#header")
	if !ok || text != "Missoula" {
		t.Fatalf("expected id lookup to find the header, got %q", text)
	}

	if _, ok, _ := extractText(strings.NewReader(forecastPage), "table"); ok {
		t.Fatalf("expected no match for a missing tag")
	}
}

func TestGet_FetchesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(forecastPage))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	f, err := svc.Get(context.Background(), "kootenai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Stale || !strings.HasPrefix(f.Text, "AVALANCHE OUTLOOK") {
		t.Fatalf("unexpected forecast: %+v", f)
	}

	b, err := os.ReadFile(filepath.Join(svc.cacheDir, "kootenai.txt"))
	if err != nil {
		t.Fatalf("expected a cache file: %v", err)
	}
	if string(b) != f.Text {
		t.Fatalf("cache content mismatch: %q", b)
	}
}

func TestGet_FallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(forecastPage))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	if _, err := svc.Get(context.Background(), "whitefish"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	fail.Store(true)
	f, err := svc.Get(context.Background(), "whitefish")
	if err != nil {
		t.Fatalf("expected the cached copy, got %v", err)
	}
	if !f.Stale || !strings.Contains(f.Text, "DANGER: MODERATE") {
		t.Fatalf("expected a stale cached forecast, got %+v", f)
	}

	if _, err := svc.Get(context.Background(), "kootenai"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable without a cache, got %v", err)
	}
}

func TestGet_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>no forecast today</p></body></html>"))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	if _, err := svc.Get(context.Background(), "../etc"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "kootenai"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}

func TestRefreshAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/whitefish" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(forecastPage))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	if n := svc.RefreshAll(context.Background()); n != 1 {
		t.Fatalf("expected one successful refresh, got %d", n)
	}
	if _, err := svc.Cached("kootenai"); err != nil {
		t.Fatalf("expected kootenai to be cached: %v", err)
	}
	if _, err := svc.Cached("whitefish"); err == nil {
		t.Fatalf("expected whitefish to have no cache")
	}
	if got := svc.Names(); len(got) != 2 || got[0] != "kootenai" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestNew_DuplicateSource(t *testing.T) {
	_, err := New(Config{Sources: []Source{
		{Name: "a", URL: "http://example.com/a"},
		{Name: "a", URL: "http://example.com/b"},
	}}, nil)
	if err == nil {
		t.Fatalf("expected an error for duplicate names")
	}
}
