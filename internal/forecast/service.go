// Package forecast fetches avalanche forecast pages and keeps a cached text
// copy of the forecast element for each configured area.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultElement is the tag that holds the forecast text on NOAA pages.
const DefaultElement = "pre"

const maxPageBytes = 4 << 20

var (
	// ErrUnknownSource is returned for a name that is not configured.
	ErrUnknownSource = errors.New("unknown forecast source")
	// ErrElementNotFound means the page parsed but had no matching element.
	ErrElementNotFound = errors.New("forecast element not found")
	// ErrUnavailable covers transport failures with no cached copy to fall back on.
	ErrUnavailable = errors.New("forecast unavailable")
)

// Source is one forecast page.
type Source struct {
	Name string `validate:"required,alphanum"`
	URL  string `validate:"required,url"`
}

// Forecast is the extracted text of one source. Stale is set when the live
// fetch failed and the text came from the cache.
type Forecast struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale"`
}

// Config configures a Service.
type Config struct {
	Sources    []Source
	Element    string
	CacheDir   string
	HTTPClient *http.Client
}

// Service fetches forecasts from its sources. Each source has its own
// circuit breaker.
type Service struct {
	sources  map[string]Source
	breakers map[string]*gobreaker.CircuitBreaker
	element  string
	cacheDir string
	client   *http.Client
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// New creates a Service and its cache directory.
func New(cfg Config, logger *zap.SugaredLogger) (*Service, error) {
	if cfg.Element == "" {
		cfg.Element = DefaultElement
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create forecast cache dir: %w", err)
		}
	}

	s := &Service{
		sources:  make(map[string]Source, len(cfg.Sources)),
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(cfg.Sources)),
		element:  cfg.Element,
		cacheDir: cfg.CacheDir,
		client:   cfg.HTTPClient,
		logger:   logger.Named("forecast"),
		now:      time.Now,
	}
	for _, src := range cfg.Sources {
		if _, dup := s.sources[src.Name]; dup {
			return nil, fmt.Errorf("duplicate forecast source %q", src.Name)
		}
		s.sources[src.Name] = src
		s.breakers[src.Name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "forecast-" + src.Name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
	}
	return s, nil
}

// Names lists the configured sources in sorted order.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.sources))
	for n := range s.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get fetches the named forecast. When the page cannot be fetched it falls
// back to the cached copy and marks the result stale.
func (s *Service) Get(ctx context.Context, name string) (Forecast, error) {
	src, ok := s.sources[name]
	if !ok {
		return Forecast{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	text, err := s.fetch(ctx, src)
	if err == nil {
		f := Forecast{Name: src.Name, URL: src.URL, Text: text, FetchedAt: s.now()}
		if werr := s.writeCache(src.Name, text); werr != nil {
			s.logger.Warnw("failed to cache forecast", "source", src.Name, "error", werr)
		}
		return f, nil
	}

	s.logger.Errorw("forecast fetch failed", "source", src.Name, "url", src.URL, "error", err)
	cached, cerr := s.Cached(src.Name)
	if cerr != nil {
		if errors.Is(err, ErrElementNotFound) {
			return Forecast{}, err
		}
		return Forecast{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, src.Name, err)
	}
	cached.Stale = true
	return cached, nil
}

// Cached returns the last cached copy of the named forecast.
func (s *Service) Cached(name string) (Forecast, error) {
	src, ok := s.sources[name]
	if !ok {
		return Forecast{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if s.cacheDir == "" {
		return Forecast{}, fs.ErrNotExist
	}
	path := s.cachePath(name)
	info, err := os.Stat(path)
	if err != nil {
		return Forecast{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{Name: src.Name, URL: src.URL, Text: string(b), FetchedAt: info.ModTime()}, nil
}

// RefreshAll fetches every source concurrently and refreshes the cache.
// Failures are logged; the number of successful fetches is returned.
func (s *Service) RefreshAll(ctx context.Context) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, src := range s.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()

			text, err := s.fetch(ctx, src)
			if err != nil {
				s.logger.Errorw("forecast refresh failed", "source", src.Name, "error", err)
				return
			}
			if err := s.writeCache(src.Name, text); err != nil {
				s.logger.Warnw("failed to cache forecast", "source", src.Name, "error", err)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return ok
}

func (s *Service) fetch(ctx context.Context, src Source) (string, error) {
	s.logger.Infow("fetching forecast", "source", src.Name, "url", src.URL)

	result, err := s.breakers[src.Name].Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		text, found, err := extractText(io.LimitReader(resp.Body, maxPageBytes), s.element)
		if err != nil {
			return nil, fmt.Errorf("parse page: %w", err)
		}
		if !found {
			return "", fmt.Errorf("%w: <%s> on %s", ErrElementNotFound, s.element, src.URL)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

func (s *Service) cachePath(name string) string {
	return filepath.Join(s.cacheDir, name+".txt")
}

func (s *Service) writeCache(name, text string) error {
	if s.cacheDir == "" {
		return nil
	}
	tmp, err := os.CreateTemp(s.cacheDir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.cachePath(name))
}
