package config

import (
	"fmt"
	"os"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/priority"
)

type Provider struct {
	Mode               string `yaml:"mode"` // sim | http
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

type Quota struct {
	PerMinute     int `yaml:"per_minute"`
	PerDay        int `yaml:"per_day"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// TTL holds per-domain cache lifetimes as duration strings. Day units are
// accepted ("7d"), which time.ParseDuration alone cannot handle.
type TTL struct {
	Quote      string `yaml:"quote"`
	Technical  string `yaml:"technical"`
	Historical string `yaml:"historical"`
	Search     string `yaml:"search"`
}

type Storage struct {
	BudgetBytes      int64  `yaml:"budget_bytes"`
	EvictionInterval string `yaml:"eviction_interval"`
}

type Root struct {
	ListenAddr    string          `yaml:"listen_addr"`
	Provider      Provider        `yaml:"provider"`
	Quota         Quota           `yaml:"quota"`
	TTL           TTL             `yaml:"ttl"`
	Storage       Storage         `yaml:"storage"`
	PriorityRules []priority.Rule `yaml:"priority_rules"`

	// Resolved at Load time.
	TTLByDomain      map[cache.Domain]time.Duration `yaml:"-"`
	EvictionInterval time.Duration                  `yaml:"-"`
}

// TTLFor returns the configured lifetime for a cache domain.
func (c *Root) TTLFor(d cache.Domain) time.Duration {
	if ttl, ok := c.TTLByDomain[d]; ok {
		return ttl
	}
	return time.Minute
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return finish(c)
}

// Default returns the configuration used when no file is given.
func Default() Root {
	c, _ := finish(Root{})
	return c
}

// finish applies defaults and resolves duration strings.
func finish(c Root) (Root, error) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.Provider.Mode == "" {
		c.Provider.Mode = "sim"
	}
	if c.Provider.RateLimitPerMinute == 0 {
		c.Provider.RateLimitPerMinute = 5
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Provider.BackoffBaseMs == 0 {
		c.Provider.BackoffBaseMs = 1000
	}

	if c.Quota.PerMinute == 0 {
		c.Quota.PerMinute = 5
	}
	if c.Quota.PerDay == 0 {
		c.Quota.PerDay = 500
	}
	if c.Quota.MaxConcurrent == 0 {
		c.Quota.MaxConcurrent = 5
	}

	if c.Storage.BudgetBytes == 0 {
		c.Storage.BudgetBytes = 50 << 20 // 50 MiB
	}
	if c.Storage.EvictionInterval == "" {
		c.Storage.EvictionInterval = "5m"
	}

	ttlDefaults := map[cache.Domain]string{
		cache.DomainQuote:      "60s",
		cache.DomainTechnical:  "10m",
		cache.DomainHistorical: "1d",
		cache.DomainSearch:     "12h",
	}
	configured := map[cache.Domain]string{
		cache.DomainQuote:      c.TTL.Quote,
		cache.DomainTechnical:  c.TTL.Technical,
		cache.DomainHistorical: c.TTL.Historical,
		cache.DomainSearch:     c.TTL.Search,
	}
	c.TTLByDomain = make(map[cache.Domain]time.Duration, len(ttlDefaults))
	for domain, def := range ttlDefaults {
		raw := configured[domain]
		if raw == "" {
			raw = def
		}
		d, err := str2duration.ParseDuration(raw)
		if err != nil {
			return c, fmt.Errorf("ttl.%s: %w", domain, err)
		}
		if d <= 0 {
			return c, fmt.Errorf("ttl.%s: must be positive, got %q", domain, raw)
		}
		c.TTLByDomain[domain] = d
	}

	interval, err := str2duration.ParseDuration(c.Storage.EvictionInterval)
	if err != nil {
		return c, fmt.Errorf("storage.eviction_interval: %w", err)
	}
	c.EvictionInterval = interval

	return c, nil
}
