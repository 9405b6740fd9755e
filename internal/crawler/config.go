package crawler

import (
	"strings"
	"time"
)

// Catalog listing defaults for the Visual Studio Code marketplace.
const (
	DefaultBaseURL         = "https://marketplace.visualstudio.com"
	DefaultListingPath     = "/search?target=VSCode&category=All%20categories&sortBy={sort}"
	DefaultListingSelector = ".item-grid-container, .gallery-item-card-container, .ux-item-card"
	DefaultMarkerSelector  = `.ux-item-name, h1[itemprop="name"]`
)

// DefaultDimensions lists the sort orders walked during discovery.
func DefaultDimensions() []string {
	return []string{"Installs", "Rating", "PublisherCount", "UpdatedDate", "ReleaseDate", "Name"}
}

// DefaultLinkSelectors are unioned: list layout, grid layout, then cards.
func DefaultLinkSelectors() []string {
	return []string{
		".item-list-container a.item-list-link",
		".item-grid-container a.gallery-item-card-container",
		"a.gallery-item-card-container",
		".ux-item-card a",
		`a[href*="/items?itemName="]`,
	}
}

// NavigationConfig drives the Navigator.
type NavigationConfig struct {
	Retry             RetryPolicy
	NavigationTimeout TimeoutGrowth
	MarkerTimeout     TimeoutGrowth
	MarkerSelector    string
}

// DefaultNavigationConfig returns 3 attempts, 30s+10s navigation and 20s+5s
// marker timeouts.
func DefaultNavigationConfig() NavigationConfig {
	return NavigationConfig{
		Retry:             DefaultRetryPolicy(),
		NavigationTimeout: TimeoutGrowth{Base: 30 * time.Second, Step: 10 * time.Second},
		MarkerTimeout:     TimeoutGrowth{Base: 20 * time.Second, Step: 5 * time.Second},
		MarkerSelector:    DefaultMarkerSelector,
	}
}

// WalkerConfig drives the frontier walker.
type WalkerConfig struct {
	BaseURL         string
	ListingPath     string
	Dimensions      []string
	ListingSelector string
	LinkSelectors   []string
	ListingTimeout  time.Duration
	ScrollViewports int
	SettleDelay     time.Duration
	MaxScrolls      int
	StallLimit      int
}

// DefaultWalkerConfig mirrors the marketplace listing behavior.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		BaseURL:         DefaultBaseURL,
		ListingPath:     DefaultListingPath,
		Dimensions:      DefaultDimensions(),
		ListingSelector: DefaultListingSelector,
		LinkSelectors:   DefaultLinkSelectors(),
		ListingTimeout:  60 * time.Second,
		ScrollViewports: 5,
		SettleDelay:     5 * time.Second,
		MaxScrolls:      200,
		StallLimit:      8,
	}
}

// ListingURL returns the listing URL for a sort dimension.
func (c WalkerConfig) ListingURL(dimension string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	path := c.ListingPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + strings.ReplaceAll(path, "{sort}", dimension)
}

// BatchConfig drives the archive batch driver.
type BatchConfig struct {
	SessionPool     int
	SubBatch        int
	Retry           RetryPolicy
	SubBatchDelay   time.Duration
	OuterBatchDelay time.Duration
}

// DefaultBatchConfig returns pool 2, sub-batch 3, and 3s/5s pacing.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		SessionPool:     2,
		SubBatch:        3,
		Retry:           DefaultRetryPolicy(),
		SubBatchDelay:   3 * time.Second,
		OuterBatchDelay: 5 * time.Second,
	}
}

// OuterBatchSize is the number of records handled per session pool.
func (c BatchConfig) OuterBatchSize() int {
	return c.pool() * c.sub()
}

func (c BatchConfig) pool() int {
	if c.SessionPool < 1 {
		return 1
	}
	return c.SessionPool
}

func (c BatchConfig) sub() int {
	if c.SubBatch < 1 {
		return 1
	}
	return c.SubBatch
}
