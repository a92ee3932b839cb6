package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Keywords holds named keyword lists referenced by other config sections
type Keywords map[string][]string

// ClassifierConfig references keyword lists and sets scoring thresholds
type ClassifierConfig struct {
	StrongHashtags string `toml:"strong_hashtags"` // Reference to keyword list
	Hard           string `toml:"hard"`            // Reference to keyword list
	Soft           string `toml:"soft"`            // Reference to keyword list
	HardThreshold  int    `toml:"hard_threshold"`
	SoftThreshold  int    `toml:"soft_threshold"`
	SpamHashtagCap int    `toml:"spam_hashtag_cap"`
}

// RelaysConfig names the relay endpoints per source
type RelaysConfig struct {
	Pool    []string `toml:"pool"`
	Curated string   `toml:"curated,omitempty"`
}

// AggregatorConfig points at the third-party aggregation API used as the
// fast path for social graph lookups.
type AggregatorConfig struct {
	BaseURL string `toml:"base_url"`
}

// CacheConfig holds the on-device cache location and per-mode freshness bounds
type CacheConfig struct {
	Path       string         `toml:"path"`
	TTLMinutes map[string]int `toml:"ttl_minutes"`
	Compress   bool           `toml:"compress"`
}

// FeedConfig holds the reconciler tuning constants. Their values are product
// tuning, not derivable, so they all live here rather than in code.
type FeedConfig struct {
	Topic              string `toml:"topic"`
	PageSize           int    `toml:"page_size"`
	DebounceMs         int    `toml:"debounce_ms"`
	QueryTimeoutMs     int    `toml:"query_timeout_ms"`
	RetryAttempts      int    `toml:"retry_attempts"`
	RetryDelayMs       int    `toml:"retry_delay_ms"`
	InitialWindowHours int    `toml:"initial_window_hours"`
	MaxWindowDays      int    `toml:"max_window_days"`
	RefreshMinutes     int    `toml:"refresh_minutes"`
	FoodFilterDefault  bool   `toml:"food_filter_default"`
}

// ServerConfig holds the HTTP serving surface settings
type ServerConfig struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
}

// Config represents the top-level configuration
type Config struct {
	Identity   string           `toml:"identity,omitempty"`
	Keywords   Keywords         `toml:"keywords"`
	Classifier ClassifierConfig `toml:"classifier"`
	Relays     RelaysConfig     `toml:"relays"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Cache      CacheConfig      `toml:"cache"`
	Feed       FeedConfig       `toml:"feed"`
	Server     ServerConfig     `toml:"server"`
}

// Default returns the configuration used when no file overrides it. The
// keyword lists are the curated food vocabulary; strong hashtags are the
// small high-confidence subset, hard terms are low-ambiguity, soft terms
// are prone to metaphorical use and need two occurrences.
func Default() *Config {
	return &Config{
		Keywords: Keywords{
			"strong_hashtags": {
				"foodstr", "foodies", "foodie", "foodporn", "cooking",
				"recipe", "recipes", "baking", "chef", "homecooking",
				"foodphotography", "bakestr",
			},
			"hard": {
				"recipe", "recipes", "cooking", "baking", "baked",
				"restaurant", "restaurants", "breakfast", "brunch",
				"sourdough", "pizza", "pasta", "ramen", "sushi", "taco",
				"tacos", "burger", "curry", "barbecue", "bbq", "vegan",
				"vegetarian", "keto", "paleo", "gluten free", "saute",
				"sauteed", "simmer", "marinate", "braise", "braised",
				"knead", "home cooking", "farmers market", "olive oil",
				"street food", "comfort food",
			},
			"soft": {
				"food", "meal", "meals", "eat", "eating", "delicious",
				"tasty", "hungry", "dish", "dishes", "kitchen", "menu",
				"snack", "dessert", "flavor", "flavour", "grill",
				"grilled", "roast", "roasted", "cook", "bake", "italian",
				"mexican", "thai", "indian", "japanese", "french",
			},
		},
		Classifier: ClassifierConfig{
			StrongHashtags: "strong_hashtags",
			Hard:           "hard",
			Soft:           "soft",
			HardThreshold:  1,
			SoftThreshold:  2,
			SpamHashtagCap: 5,
		},
		Relays: RelaysConfig{
			Pool: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
		},
		Aggregator: AggregatorConfig{
			BaseURL: "https://api.nostr.band/v0",
		},
		Cache: CacheConfig{
			Path:     "foodstr.db",
			Compress: true,
			TTLMinutes: map[string]int{
				"global":            5,
				"following":         5,
				"following-replies": 5,
			},
		},
		Feed: FeedConfig{
			Topic:              "foodstr",
			PageSize:           40,
			DebounceMs:         300,
			QueryTimeoutMs:     8000,
			RetryAttempts:      3,
			RetryDelayMs:       2000,
			InitialWindowHours: 24,
			MaxWindowDays:      30,
			RefreshMinutes:     5,
			FoodFilterDefault:  true,
		},
		Server: ServerConfig{
			Hostname: "localhost",
			Port:     3000,
		},
	}
}

// LoadConfig reads a TOML file over the defaults. A missing path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// List resolves a keyword list reference from the classifier section.
func (c *Config) List(name string) []string {
	return c.Keywords[name]
}
