// Package mapping supplies the key mapping table, preferring a local cache
// over downloading the published mapping resource.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/fsutil"
	"github.com/nmstools/nmssave/pkg/keymap"
)

const (
	// DefaultURL is the latest published mapping resource.
	DefaultURL = "https://github.com/monkeyman192/MBINCompiler/releases/latest/download/mapping.json"

	// DefaultMaxAge is how long a cached mapping is used before refreshing.
	DefaultMaxAge = 7 * 24 * time.Hour

	// CacheFileName is the name of the cache file inside the cache directory.
	CacheFileName = "mapping.json"

	defaultTimeout = 30 * time.Second
	cachedVersion  = "cached"
)

// ErrMappingUnavailable means no local file, usable cache or download could
// supply a mapping.
var ErrMappingUnavailable = errors.New("mapping unavailable")

// Source tells where a mapping came from.
type Source int

const (
	SourceFile Source = iota
	SourceCache
	SourceRemote
	SourceStaleCache
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceCache:
		return "cache"
	case SourceRemote:
		return "remote"
	case SourceStaleCache:
		return "stale-cache"
	default:
		return "unknown"
	}
}

// Result is a resolved mapping and its provenance.
type Result struct {
	Mapping keymap.Mapping
	Source  Source
	Version string // libMBIN version tag when known
}

// cacheFile is the on-disk cache document.
type cacheFile struct {
	LibMBINVersion string         `json:"libMBIN_version"`
	CachedAt       string         `json:"cached_at"`
	Mapping        keymap.Mapping `json:"Mapping"`
}

// Provider resolves mappings. The zero value is not usable; use NewProvider.
type Provider struct {
	cacheDir   string
	url        string
	maxAge     time.Duration
	useCache   bool
	client     *resty.Client
	ownsClient bool
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithCacheDir sets the directory holding the cache file.
func WithCacheDir(dir string) Option {
	return func(p *Provider) {
		if dir != "" {
			p.cacheDir = dir
		}
	}
}

// WithURL sets the remote mapping location.
func WithURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.url = url
		}
	}
}

// WithMaxAge sets the cache freshness threshold.
func WithMaxAge(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

// WithHTTPClient uses c for downloads. The caller keeps ownership of c.
func WithHTTPClient(c *resty.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithoutCache always downloads and never reads or writes the cache.
func WithoutCache() Option {
	return func(p *Provider) {
		p.useCache = false
	}
}

// WithClock overrides the time source used for cache ageing.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// DefaultCacheDir returns the per-user cache directory for mappings.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "nmssave")
	}
	return filepath.Join(os.TempDir(), "nmssave")
}

// NewProvider creates a provider with the given options.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		cacheDir: DefaultCacheDir(),
		url:      DefaultURL,
		maxAge:   DefaultMaxAge,
		useCache: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = resty.New().SetTimeout(defaultTimeout)
		p.ownsClient = true
	}
	return p
}

// Close releases the HTTP client when the provider created it.
func (p *Provider) Close() error {
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

// CachePath returns the location of the cache file.
func (p *Provider) CachePath() string {
	return filepath.Join(p.cacheDir, CacheFileName)
}

// Get returns the mapping. A non-empty explicitPath is loaded directly and
// any failure there is returned as is.
func (p *Provider) Get(ctx context.Context, explicitPath string) (keymap.Mapping, error) {
	res, err := p.Resolve(ctx, explicitPath)
	if err != nil {
		return nil, err
	}
	return res.Mapping, nil
}

// Resolve is Get that also reports where the mapping came from.
func (p *Provider) Resolve(ctx context.Context, explicitPath string) (*Result, error) {
	if explicitPath != "" {
		m, err := LoadFile(explicitPath)
		if err != nil {
			return nil, err
		}
		return &Result{Mapping: m, Source: SourceFile}, nil
	}

	if p.useCache {
		if res, ok := p.freshCache(); ok {
			applog.Info("Using cached mapping",
				zap.String("path", p.CachePath()),
				zap.Int("entries", len(res.Mapping)))
			return res, nil
		}
	}

	res, fetchErr := p.Fetch(ctx)
	if fetchErr == nil {
		applog.Info("Downloaded mapping",
			zap.String("url", p.url),
			zap.String("version", res.Version),
			zap.Int("entries", len(res.Mapping)))
		if p.useCache {
			if err := p.writeCache(res); err != nil {
				applog.Warn("Failed to save mapping cache, continuing",
					zap.String("path", p.CachePath()),
					zap.Error(err))
			}
		}
		return res, nil
	}

	if p.useCache {
		if res, err := p.readCache(); err == nil {
			applog.Warn("Mapping download failed, using cached mapping (may be outdated)",
				zap.String("path", p.CachePath()),
				zap.Error(fetchErr))
			res.Source = SourceStaleCache
			return res, nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrMappingUnavailable, fetchErr)
}

// LoadFile reads a mapping file in either accepted shape.
func LoadFile(path string) (keymap.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	m, err := keymap.ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file '%s': %w", path, err)
	}
	return m, nil
}

// Fetch downloads and parses the remote mapping, bypassing the cache.
func (p *Provider) Fetch(ctx context.Context) (*Result, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(p.url)
	if err != nil {
		return nil, fmt.Errorf("fetching mapping failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetching mapping failed: %v", resp.Status())
	}

	body := resp.Bytes()
	m, err := keymap.ParseMapping(body)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, keymap.ErrEmptyMapping
	}

	var meta struct {
		LibMBINVersion string `json:"libMBIN_version"`
	}
	_ = json.Unmarshal(body, &meta)
	if meta.LibMBINVersion == "" {
		meta.LibMBINVersion = cachedVersion
	}

	return &Result{Mapping: m, Source: SourceRemote, Version: meta.LibMBINVersion}, nil
}

// Refresh downloads the mapping and rewrites the cache regardless of its age.
// Unlike Resolve, a failed cache write is an error.
func (p *Provider) Refresh(ctx context.Context) (*Result, error) {
	res, err := p.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingUnavailable, err)
	}
	if p.useCache {
		if err := p.writeCache(res); err != nil {
			return nil, fmt.Errorf("write mapping cache: %w", err)
		}
	}
	return res, nil
}

// CacheFresh reports whether the cache file would be used without a download.
func (p *Provider) CacheFresh() bool {
	_, ok := p.freshCache()
	return ok
}

func (p *Provider) freshCache() (*Result, bool) {
	info, err := os.Stat(p.CachePath())
	if err != nil {
		return nil, false
	}
	if p.now().Sub(info.ModTime()) > p.maxAge {
		return nil, false
	}
	res, err := p.readCache()
	if err != nil {
		applog.Warn("Failed to load mapping cache, downloading fresh copy",
			zap.String("path", p.CachePath()),
			zap.Error(err))
		return nil, false
	}
	return res, true
}

func (p *Provider) readCache() (*Result, error) {
	data, err := os.ReadFile(p.CachePath())
	if err != nil {
		return nil, err
	}
	m, err := keymap.ParseMapping(data)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, keymap.ErrEmptyMapping
	}

	var meta cacheFile
	_ = json.Unmarshal(data, &meta)
	return &Result{Mapping: m, Source: SourceCache, Version: meta.LibMBINVersion}, nil
}

func (p *Provider) writeCache(res *Result) error {
	version := res.Version
	if version == "" {
		version = cachedVersion
	}
	data, err := json.MarshalIndent(cacheFile{
		LibMBINVersion: version,
		CachedAt:       p.now().Format(time.RFC3339),
		Mapping:        res.Mapping,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	return fsutil.WriteFileAtomic(p.CachePath(), data, 0644)
}

// ClearCache deletes the cache file. It reports whether a file was removed;
// a missing file is not an error.
func (p *Provider) ClearCache() (bool, error) {
	err := os.Remove(p.CachePath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove mapping cache: %w", err)
}
