package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/pow-tracker/internal/forecast"
	"github.com/i474232898/pow-tracker/internal/station"
	"github.com/i474232898/pow-tracker/internal/station/awdb"
)

// Snapshot backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	AWDBURL        string        `validate:"required,url"`
	HTTPTimeout    time.Duration `validate:"gt=0"`
	BreakerEnabled bool

	// RefreshInterval is the snapshot period.
	RefreshInterval time.Duration `validate:"gt=0"`
	// RunTimeout bounds a single snapshot run.
	RunTimeout time.Duration `validate:"gt=0"`

	// Sites are the triplets in the snapshot, in table order.
	Sites           []string       `validate:"dive,triplet"`
	StationTimezone *time.Location `validate:"required"`

	SnapshotBackend string `validate:"oneof=file sqlite memory"`
	CacheDir        string `validate:"required"`
	SQLitePath      string `validate:"required_if=SnapshotBackend sqlite"`

	Forecasts       []forecast.Source `validate:"dive"`
	ForecastElement string            `validate:"required"`

	Debug   bool
	LogFile string
}

// siteFile is the on-disk site list, TOML or JSON.
type siteFile struct {
	Sites []string `toml:"sites" json:"sites"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("triplet", func(fl validator.FieldLevel) bool {
		return station.ValidTriplet(fl.Field().String())
	})
	return v
}()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.AWDBURL = getenvDefault("AWDB_URL", awdb.DefaultURL)
	cfg.BreakerEnabled = getenvBool("BREAKER_ENABLED", true)
	cfg.Debug = getenvBool("DEBUG", false)
	cfg.LogFile = os.Getenv("LOG_FILE")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "2m"); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = getenvDuration("RUN_TIMEOUT", "90s"); err != nil {
		return nil, err
	}

	tz := getenvDefault("STATION_TIMEZONE", "America/Denver")
	cfg.StationTimezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid STATION_TIMEZONE: %w", err)
	}

	cfg.SnapshotBackend = strings.ToLower(getenvDefault("SNAPSHOT_BACKEND", BackendFile))
	cfg.CacheDir = getenvDefault("CACHE_DIR", "cache")
	cfg.SQLitePath = getenvDefault("SQLITE_PATH", filepath.Join(cfg.CacheDir, "snapshots.db"))

	cfg.Sites, err = loadSites(os.Getenv("SITES_FILE"), os.Getenv("SITES"))
	if err != nil {
		return nil, err
	}

	cfg.Forecasts, err = parseForecasts(os.Getenv("FORECASTS"))
	if err != nil {
		return nil, err
	}
	cfg.ForecastElement = getenvDefault("FORECAST_ELEMENT", forecast.DefaultElement)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadSites reads the site list from path when set, then appends the
// comma-separated triplets in inline. Duplicates keep their first position.
func loadSites(path, inline string) ([]string, error) {
	var sites []string
	if path != "" {
		fromFile, err := ReadSiteFile(path)
		if err != nil {
			return nil, err
		}
		sites = append(sites, fromFile...)
	}
	for _, s := range strings.Split(inline, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sites = append(sites, s)
		}
	}

	seen := make(map[string]bool, len(sites))
	out := sites[:0]
	for _, s := range sites {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// ReadSiteFile decodes a site list. Files ending in .json use the
// {"sites": [...]} layout; anything else is TOML with a top-level sites array.
func ReadSiteFile(path string) ([]string, error) {
	var f siteFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read site file: %w", err)
		}
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("decode site file %s: %w", path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("decode site file %s: %w", path, err)
		}
	}
	if len(f.Sites) == 0 {
		return nil, fmt.Errorf("site file %s lists no sites", path)
	}
	for i := range f.Sites {
		f.Sites[i] = strings.TrimSpace(f.Sites[i])
	}
	return f.Sites, nil
}

// parseForecasts reads "name=url,name=url".
func parseForecasts(raw string) ([]forecast.Source, error) {
	var out []forecast.Source
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid FORECASTS entry " + strconv.Quote(pair) + ": expected name=url")
		}
		out = append(out, forecast.Source{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
