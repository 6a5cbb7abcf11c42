// Package config holds the settings shared by the nmssave commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/nmstools/nmssave/pkg/container"
	"github.com/nmstools/nmssave/pkg/mapping"
	"github.com/nmstools/nmssave/pkg/save"
)

// Environment variables read by ApplyEnv.
const (
	EnvMappingURL  = "NMSSAVE_MAPPING_URL"
	EnvMappingFile = "NMSSAVE_MAPPING_FILE"
	EnvCacheDir    = "NMSSAVE_CACHE_DIR"
	EnvLogLevel    = "NMSSAVE_LOG_LEVEL"
	EnvLogPath     = "NMSSAVE_LOG_PATH"
	EnvBackupDir   = "NMSSAVE_BACKUP_DIR"
)

var logLevels = []string{"debug", "info", "warn", "error"}

type Config struct {
	MappingFile    string
	MappingURL     string
	CacheDir       string
	CacheMaxAge    time.Duration
	NoCache        bool
	LogLevel       string
	LogPath        string
	MetadataBudget int
	BackupDir      string
	OutputDir      string
	HighCompress   bool
}

// Default returns the settings used when nothing is overridden.
func Default() *Config {
	return &Config{
		MappingURL:     mapping.DefaultURL,
		CacheDir:       mapping.DefaultCacheDir(),
		CacheMaxAge:    mapping.DefaultMaxAge,
		LogLevel:       "info",
		MetadataBudget: save.DefaultMetadataBudget,
		BackupDir:      "backups",
		OutputDir:      "output",
	}
}

// ApplyEnv fills settings from NMSSAVE_* variables. Only fields still at
// their default value are overridden, so explicit flags take precedence.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	def := Default()
	apply := func(dst *string, defVal, key string) {
		if *dst != defVal {
			return
		}
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	apply(&c.MappingURL, def.MappingURL, EnvMappingURL)
	apply(&c.MappingFile, def.MappingFile, EnvMappingFile)
	apply(&c.CacheDir, def.CacheDir, EnvCacheDir)
	apply(&c.LogLevel, def.LogLevel, EnvLogLevel)
	apply(&c.LogPath, def.LogPath, EnvLogPath)
	apply(&c.BackupDir, def.BackupDir, EnvBackupDir)
}

func (c *Config) Validate() error {
	if c.MappingFile == "" && c.MappingURL == "" {
		return fmt.Errorf("--mapping-url cannot be empty when no --mapping file is given")
	}
	if c.MappingURL != "" && !strings.HasPrefix(c.MappingURL, "http://") && !strings.HasPrefix(c.MappingURL, "https://") {
		return fmt.Errorf("--mapping-url must be an http(s) URL, got %q", c.MappingURL)
	}
	if !c.NoCache && c.CacheDir == "" {
		return fmt.Errorf("--cache-dir cannot be empty unless --no-cache is set")
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("--cache-max-age cannot be negative")
	}
	if c.MetadataBudget <= 0 {
		return fmt.Errorf("--metadata-budget must be positive, got %d", c.MetadataBudget)
	}
	if c.MetadataBudget > container.MaxBlockSize {
		return fmt.Errorf("--metadata-budget cannot exceed %d bytes", container.MaxBlockSize)
	}
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("--log-level must be one of %s, got %q", strings.Join(logLevels, ", "), c.LogLevel)
	}
	return nil
}

// ProviderOptions converts the mapping settings into provider options.
func (c *Config) ProviderOptions() []mapping.Option {
	opts := []mapping.Option{
		mapping.WithCacheDir(c.CacheDir),
		mapping.WithMaxAge(c.CacheMaxAge),
	}
	if c.MappingURL != "" {
		opts = append(opts, mapping.WithURL(c.MappingURL))
	}
	if c.NoCache {
		opts = append(opts, mapping.WithoutCache())
	}
	return opts
}

// WriterOptions returns the container writer options for recompression.
func (c *Config) WriterOptions() []container.WriterOption {
	if c.HighCompress {
		return []container.WriterOption{container.WithCompressionLevel(lz4.Level9)}
	}
	return nil
}

// OutputPath places name under the output directory.
func (c *Config) OutputPath(name string) string {
	if c.OutputDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

// String renders the effective settings for debug logging.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mapping_file=%q mapping_url=%q ", c.MappingFile, c.MappingURL)
	fmt.Fprintf(&sb, "cache_dir=%q cache_max_age=%s no_cache=%s ", c.CacheDir, c.CacheMaxAge, strconv.FormatBool(c.NoCache))
	fmt.Fprintf(&sb, "metadata_budget=%d backup_dir=%q output_dir=%q", c.MetadataBudget, c.BackupDir, c.OutputDir)
	return sb.String()
}
