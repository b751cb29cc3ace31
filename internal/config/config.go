package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Precedence: defaults < updater.yaml < AVENGER_* env < overrides.
const (
	KeyOwner            = "release.owner"
	KeyRepo             = "release.repo"
	KeyBaseURL          = "release.base-url"
	KeyUserToken        = "release.token"
	KeyManifestAsset    = "release.manifest-asset"
	KeyCheckInterval    = "check.interval"
	KeyInstallDir       = "paths.install-dir"
	KeyDataDir          = "paths.data-dir"
	KeyAppExecutable    = "paths.app-executable"
	KeyRetention        = "backup.retention"
	KeySafetyMarginMB   = "disk.safety-margin-mb"
	KeyParallelism      = "download.parallelism"
	KeyDownloadAttempts = "download.attempts"
	KeySizeEpsilon      = "manifest.size-epsilon"
)

const (
	envPrefix      = "AVENGER"
	configFileName = "updater"

	DefaultRetention        = 3
	DefaultSafetyMarginMB   = 100
	DefaultParallelism      = 4
	DefaultDownloadAttempts = 4
	DefaultCheckInterval    = 6 * time.Hour
	DefaultManifestAsset    = "manifest.json"
)

// embeddedToken is the read-only token shipped with the client; it is the
// second credential tier, between the user-supplied token and anonymous
// access. Stamped at build time via ldflags.
var embeddedToken = ""

// Config is the resolved, typed view of the updater settings handed to the
// pipeline components. It is immutable once loaded.
type Config struct {
	Owner         string
	Repo          string
	BaseURL       string
	UserToken     string
	EmbeddedToken string
	ManifestAsset string

	CheckInterval    time.Duration
	InstallDir       string
	DataDir          string
	AppExecutable    string
	Retention        int
	SafetyMarginMB   int64
	Parallelism      int
	DownloadAttempts int
	SizeEpsilon      int64
}

// StagingDir is where verified downloads are materialized before the swap.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// BackupRoot holds the bounded history of pre-apply snapshots.
func (c *Config) BackupRoot() string {
	return filepath.Join(c.DataDir, "backups")
}

// CheckCachePath is the persisted update-check cache file.
func (c *Config) CheckCachePath() string {
	return filepath.Join(c.DataDir, "update-check.json")
}

// LocalManifestPath is the cached manifest of the currently installed version.
func (c *Config) LocalManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.json")
}

// SafetyMarginBytes converts the configured margin to bytes.
func (c *Config) SafetyMarginBytes() int64 {
	return c.SafetyMarginMB << 20
}

// Option overrides a setting during Load, typically from CLI flags or tests.
type Option func(v *viper.Viper)

func WithDataDir(dir string) Option {
	return func(v *viper.Viper) { v.Set(KeyDataDir, dir) }
}

func WithInstallDir(dir string) Option {
	return func(v *viper.Viper) { v.Set(KeyInstallDir, dir) }
}

func WithOverride(key string, value any) Option {
	return func(v *viper.Viper) { v.Set(key, value) }
}

// Load builds the effective configuration. A missing config file is fine;
// a malformed one is an error.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultDataDir())
	v.AutomaticEnv()

	_ = v.BindEnv(KeyUserToken, envPrefix+"_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read updater config: %w", err)
		}
	}

	for _, opt := range opts {
		opt(v)
	}

	cfg := &Config{
		Owner:            v.GetString(KeyOwner),
		Repo:             v.GetString(KeyRepo),
		BaseURL:          v.GetString(KeyBaseURL),
		UserToken:        v.GetString(KeyUserToken),
		EmbeddedToken:    embeddedToken,
		ManifestAsset:    v.GetString(KeyManifestAsset),
		CheckInterval:    v.GetDuration(KeyCheckInterval),
		InstallDir:       v.GetString(KeyInstallDir),
		DataDir:          v.GetString(KeyDataDir),
		AppExecutable:    v.GetString(KeyAppExecutable),
		Retention:        v.GetInt(KeyRetention),
		SafetyMarginMB:   v.GetInt64(KeySafetyMarginMB),
		Parallelism:      v.GetInt(KeyParallelism),
		DownloadAttempts: v.GetInt(KeyDownloadAttempts),
		SizeEpsilon:      v.GetInt64(KeySizeEpsilon),
	}

	if cfg.Retention < 1 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = DefaultParallelism
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyOwner, "sccmavenger")
	v.SetDefault(KeyRepo, "avenger-dashboard")
	v.SetDefault(KeyBaseURL, "https://api.github.com")
	v.SetDefault(KeyManifestAsset, DefaultManifestAsset)
	v.SetDefault(KeyCheckInterval, DefaultCheckInterval)
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyInstallDir, defaultInstallDir())
	v.SetDefault(KeyAppExecutable, defaultAppExecutable())
	v.SetDefault(KeyRetention, DefaultRetention)
	v.SetDefault(KeySafetyMarginMB, DefaultSafetyMarginMB)
	v.SetDefault(KeyParallelism, DefaultParallelism)
	v.SetDefault(KeyDownloadAttempts, DefaultDownloadAttempts)
	v.SetDefault(KeySizeEpsilon, 0)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".avenger")
	}
	return filepath.Join(home, ".local", "state", "avenger")
}

func defaultInstallDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func defaultAppExecutable() string {
	if runtime.GOOS == "windows" {
		return "avenger-dashboard.exe"
	}
	return "avenger-dashboard"
}
