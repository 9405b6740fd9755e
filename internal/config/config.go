// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/marketplace-archiver/internal/browser"
	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
	"github.com/JakeFAU/marketplace-archiver/internal/logging"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Notification drivers.
const (
	NotifyPubSub = "pubsub"
	NotifyMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Store      StoreConfig      `mapstructure:"store"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the Chrome process and tab defaults.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	NavigationCeiling time.Duration `mapstructure:"navigation_ceiling"`
	QPS               float64       `mapstructure:"qps"`
}

// CatalogConfig describes the marketplace being archived.
type CatalogConfig struct {
	BaseURL         string              `mapstructure:"base_url"`
	ListingPath     string              `mapstructure:"listing_path"`
	Dimensions      []string            `mapstructure:"dimensions"`
	ListingSelector string              `mapstructure:"listing_selector"`
	LinkSelectors   []string            `mapstructure:"link_selectors"`
	MarkerSelector  string              `mapstructure:"marker_selector"`
	IdentifierParam string              `mapstructure:"identifier_param"`
	Fields          []crawler.FieldSpec `mapstructure:"fields"`
}

// NavigationConfig controls item-page navigation retries.
type NavigationConfig struct {
	MaxAttempts           int           `mapstructure:"max_attempts"`
	BaseDelay             time.Duration `mapstructure:"base_delay"`
	Multiplier            float64       `mapstructure:"multiplier"`
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout"`
	NavigationTimeoutStep time.Duration `mapstructure:"navigation_timeout_step"`
	MarkerTimeout         time.Duration `mapstructure:"marker_timeout"`
	MarkerTimeoutStep     time.Duration `mapstructure:"marker_timeout_step"`
}

// DiscoveryConfig controls the listing walk.
type DiscoveryConfig struct {
	ListingTimeout  time.Duration `mapstructure:"listing_timeout"`
	ScrollViewports int           `mapstructure:"scroll_viewports"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	MaxScrolls      int           `mapstructure:"max_scrolls"`
	StallLimit      int           `mapstructure:"stall_limit"`
}

// ArchiveConfig controls the batch driver.
type ArchiveConfig struct {
	SessionPool     int           `mapstructure:"session_pool"`
	SubBatch        int           `mapstructure:"sub_batch"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	Multiplier      float64       `mapstructure:"multiplier"`
	SubBatchDelay   time.Duration `mapstructure:"sub_batch_delay"`
	OuterBatchDelay time.Duration `mapstructure:"outer_batch_delay"`
}

// StoreConfig selects and configures the persistence service.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MirrorConfig enables a secondary copy of every snapshot.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig enables archived-item notifications.
type NotifyConfig struct {
	Driver  string `mapstructure:"driver"`
	Project string `mapstructure:"project"`
	Topic   string `mapstructure:"topic"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	nav := crawler.DefaultNavigationConfig()
	walk := crawler.DefaultWalkerConfig()
	batch := crawler.DefaultBatchConfig()
	br := browser.DefaultConfig()

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("browser.headless", br.Headless)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", br.UserAgent)
	v.SetDefault("browser.default_timeout", br.DefaultTimeout)
	v.SetDefault("browser.navigation_ceiling", br.NavigationCeiling)
	v.SetDefault("browser.qps", 0)

	v.SetDefault("catalog.base_url", walk.BaseURL)
	v.SetDefault("catalog.listing_path", walk.ListingPath)
	v.SetDefault("catalog.dimensions", walk.Dimensions)
	v.SetDefault("catalog.listing_selector", walk.ListingSelector)
	v.SetDefault("catalog.link_selectors", walk.LinkSelectors)
	v.SetDefault("catalog.marker_selector", nav.MarkerSelector)
	v.SetDefault("catalog.identifier_param", crawler.DefaultIdentifierParam)

	v.SetDefault("navigation.max_attempts", nav.Retry.MaxAttempts)
	v.SetDefault("navigation.base_delay", nav.Retry.BaseDelay)
	v.SetDefault("navigation.multiplier", nav.Retry.Multiplier)
	v.SetDefault("navigation.navigation_timeout", nav.NavigationTimeout.Base)
	v.SetDefault("navigation.navigation_timeout_step", nav.NavigationTimeout.Step)
	v.SetDefault("navigation.marker_timeout", nav.MarkerTimeout.Base)
	v.SetDefault("navigation.marker_timeout_step", nav.MarkerTimeout.Step)

	v.SetDefault("discovery.listing_timeout", walk.ListingTimeout)
	v.SetDefault("discovery.scroll_viewports", walk.ScrollViewports)
	v.SetDefault("discovery.settle_delay", walk.SettleDelay)
	v.SetDefault("discovery.max_scrolls", walk.MaxScrolls)
	v.SetDefault("discovery.stall_limit", walk.StallLimit)

	v.SetDefault("archive.session_pool", batch.SessionPool)
	v.SetDefault("archive.sub_batch", batch.SubBatch)
	v.SetDefault("archive.max_attempts", batch.Retry.MaxAttempts)
	v.SetDefault("archive.base_delay", batch.Retry.BaseDelay)
	v.SetDefault("archive.multiplier", batch.Retry.Multiplier)
	v.SetDefault("archive.sub_batch_delay", batch.SubBatchDelay)
	v.SetDefault("archive.outer_batch_delay", batch.OuterBatchDelay)

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "data/marketplace.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", time.Hour)

	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("mirror.prefix", "snapshots")

	v.SetDefault("notify.driver", "")
	v.SetDefault("notify.project", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits. It reports the
// first violated key.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Browser.DefaultTimeout <= 0 {
		return fmt.Errorf("browser.default_timeout must be > 0")
	}
	if c.Browser.NavigationCeiling <= 0 {
		return fmt.Errorf("browser.navigation_ceiling must be > 0")
	}
	if c.Browser.QPS < 0 {
		return fmt.Errorf("browser.qps must be >= 0")
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	if len(c.Catalog.Dimensions) == 0 {
		return fmt.Errorf("catalog.dimensions must not be empty")
	}
	if len(c.Catalog.LinkSelectors) == 0 {
		return fmt.Errorf("catalog.link_selectors must not be empty")
	}
	if strings.TrimSpace(c.Catalog.MarkerSelector) == "" {
		return fmt.Errorf("catalog.marker_selector is required")
	}
	if strings.TrimSpace(c.Catalog.IdentifierParam) == "" {
		return fmt.Errorf("catalog.identifier_param is required")
	}
	if err := crawler.ValidateFieldMap(c.FieldMap()); err != nil {
		return fmt.Errorf("catalog.fields: %w", err)
	}
	if c.Navigation.MaxAttempts <= 0 {
		return fmt.Errorf("navigation.max_attempts must be > 0")
	}
	if c.Navigation.BaseDelay < 0 {
		return fmt.Errorf("navigation.base_delay must be >= 0")
	}
	if c.Navigation.Multiplier < 1 {
		return fmt.Errorf("navigation.multiplier must be >= 1")
	}
	if c.Navigation.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation.navigation_timeout must be > 0")
	}
	if c.Navigation.MarkerTimeout <= 0 {
		return fmt.Errorf("navigation.marker_timeout must be > 0")
	}
	if c.Discovery.ScrollViewports <= 0 {
		return fmt.Errorf("discovery.scroll_viewports must be > 0")
	}
	if c.Discovery.MaxScrolls <= 0 {
		return fmt.Errorf("discovery.max_scrolls must be > 0")
	}
	if c.Discovery.StallLimit <= 0 {
		return fmt.Errorf("discovery.stall_limit must be > 0")
	}
	if c.Archive.SessionPool <= 0 {
		return fmt.Errorf("archive.session_pool must be > 0")
	}
	if c.Archive.SubBatch <= 0 {
		return fmt.Errorf("archive.sub_batch must be > 0")
	}
	if c.Archive.MaxAttempts <= 0 {
		return fmt.Errorf("archive.max_attempts must be > 0")
	}
	if c.Archive.Multiplier < 1 {
		return fmt.Errorf("archive.multiplier must be >= 1")
	}
	switch c.Store.Driver {
	case StoreSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, memory")
	}
	if c.Mirror.GCSBucket != "" && c.Mirror.LocalDir != "" {
		return fmt.Errorf("mirror.gcs_bucket and mirror.local_dir are mutually exclusive")
	}
	switch c.Notify.Driver {
	case "":
	case NotifyPubSub:
		if c.Notify.Project == "" {
			return fmt.Errorf("notify.project is required for the pubsub driver")
		}
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic is required for the pubsub driver")
		}
	case NotifyMemory:
	default:
		return fmt.Errorf("notify.driver must be one of pubsub, memory")
	}
	return nil
}

// FieldMap returns the default field map with catalog.fields entries
// replacing same-named defaults and extra entries appended.
func (c Config) FieldMap() []crawler.FieldSpec {
	specs := crawler.DefaultFieldMap()
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Name] = i
	}
	for _, override := range c.Catalog.Fields {
		if i, ok := index[override.Name]; ok {
			specs[i] = override
			continue
		}
		index[override.Name] = len(specs)
		specs = append(specs, override)
	}
	return specs
}

// BrowserConfig converts the browser section.
func (c Config) BrowserConfig() browser.Config {
	return browser.Config{
		Headless:          c.Browser.Headless,
		ExecPath:          c.Browser.ExecPath,
		UserAgent:         c.Browser.UserAgent,
		DefaultTimeout:    c.Browser.DefaultTimeout,
		NavigationCeiling: c.Browser.NavigationCeiling,
		QPS:               c.Browser.QPS,
	}
}

// NavigationConfig converts the navigation section.
func (c Config) NavigationConfig() crawler.NavigationConfig {
	return crawler.NavigationConfig{
		Retry: crawler.RetryPolicy{
			MaxAttempts: c.Navigation.MaxAttempts,
			BaseDelay:   c.Navigation.BaseDelay,
			Multiplier:  c.Navigation.Multiplier,
		},
		NavigationTimeout: crawler.TimeoutGrowth{Base: c.Navigation.NavigationTimeout, Step: c.Navigation.NavigationTimeoutStep},
		MarkerTimeout:     crawler.TimeoutGrowth{Base: c.Navigation.MarkerTimeout, Step: c.Navigation.MarkerTimeoutStep},
		MarkerSelector:    c.Catalog.MarkerSelector,
	}
}

// WalkerConfig converts the catalog and discovery sections.
func (c Config) WalkerConfig() crawler.WalkerConfig {
	return crawler.WalkerConfig{
		BaseURL:         c.Catalog.BaseURL,
		ListingPath:     c.Catalog.ListingPath,
		Dimensions:      append([]string(nil), c.Catalog.Dimensions...),
		ListingSelector: c.Catalog.ListingSelector,
		LinkSelectors:   append([]string(nil), c.Catalog.LinkSelectors...),
		ListingTimeout:  c.Discovery.ListingTimeout,
		ScrollViewports: c.Discovery.ScrollViewports,
		SettleDelay:     c.Discovery.SettleDelay,
		MaxScrolls:      c.Discovery.MaxScrolls,
		StallLimit:      c.Discovery.StallLimit,
	}
}

// BatchConfig converts the archive section.
func (c Config) BatchConfig() crawler.BatchConfig {
	return crawler.BatchConfig{
		SessionPool: c.Archive.SessionPool,
		SubBatch:    c.Archive.SubBatch,
		Retry: crawler.RetryPolicy{
			MaxAttempts: c.Archive.MaxAttempts,
			BaseDelay:   c.Archive.BaseDelay,
			Multiplier:  c.Archive.Multiplier,
		},
		SubBatchDelay:   c.Archive.SubBatchDelay,
		OuterBatchDelay: c.Archive.OuterBatchDelay,
	}
}
