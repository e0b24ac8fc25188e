package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "GAMESHELF"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "gameshelf.db"
	defaultStoreBackend         = StoreBackendSQLite
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 60 * 24
	defaultTokenIssuer          = "gameshelf-api"
	defaultTokenAudience        = "gameshelf-app"
	defaultCatalogBaseURL       = "https://api.rawg.io/api"
	defaultCatalogCacheTTL      = 60
	defaultCatalogRequestsPerS  = 5.0
	defaultCacheDir             = "cache"
	defaultCacheStateDir        = "cache-state"
	defaultCacheIntervalMinutes = 60
	defaultSentryEnvironment    = "development"
)

// Store backends.
const (
	StoreBackendSQLite    = "sqlite"
	StoreBackendFirestore = "firestore"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	AllowedOrigins   []string
	DatabasePath     string
	StoreBackend     string
	FirebaseProject  string
	FirebaseCredFile string
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	LogLevel         string
	AdminToken       string
	Catalog          CatalogConfig
	Cache            CacheConfig
	Sentry           SentryConfig
}

// CatalogConfig configures the game catalog client.
type CatalogConfig struct {
	BaseURL           string
	APIKey            string
	ExcludedTags      []string
	ExcludedWords     []string
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

// CacheConfig configures the local cache directory and its housekeeper.
type CacheConfig struct {
	Dir           string
	StateDir      string
	ClearInterval time.Duration
}

// SentryConfig configures error tracking.
type SentryConfig struct {
	DSN         string
	Environment string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("catalog.base_url", defaultCatalogBaseURL)
	configViper.SetDefault("catalog.cache_ttl_minutes", defaultCatalogCacheTTL)
	configViper.SetDefault("catalog.requests_per_second", defaultCatalogRequestsPerS)
	configViper.SetDefault("cache.dir", defaultCacheDir)
	configViper.SetDefault("cache.state_dir", defaultCacheStateDir)
	configViper.SetDefault("cache.clear_interval_minutes", defaultCacheIntervalMinutes)
	configViper.SetDefault("sentry.environment", defaultSentryEnvironment)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		AllowedOrigins:   splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:     configViper.GetString("database.path"),
		StoreBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		FirebaseProject:  configViper.GetString("firebase.project_id"),
		FirebaseCredFile: configViper.GetString("firebase.credentials_file"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenIssuer:      configViper.GetString("token.issuer"),
		TokenAudience:    configViper.GetString("token.audience"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:         configViper.GetString("log.level"),
		AdminToken:       strings.TrimSpace(configViper.GetString("admin.token")),
		Catalog: CatalogConfig{
			BaseURL:           configViper.GetString("catalog.base_url"),
			APIKey:            configViper.GetString("catalog.api_key"),
			ExcludedTags:      splitList(configViper.GetStringSlice("catalog.excluded_tags")),
			ExcludedWords:     splitList(configViper.GetStringSlice("catalog.excluded_words")),
			CacheTTL:          time.Duration(configViper.GetInt("catalog.cache_ttl_minutes")) * time.Minute,
			RequestsPerSecond: configViper.GetFloat64("catalog.requests_per_second"),
		},
		Cache: CacheConfig{
			Dir:           configViper.GetString("cache.dir"),
			StateDir:      configViper.GetString("cache.state_dir"),
			ClearInterval: time.Duration(configViper.GetInt("cache.clear_interval_minutes")) * time.Minute,
		},
		Sentry: SentryConfig{
			DSN:         configViper.GetString("sentry.dsn"),
			Environment: configViper.GetString("sentry.environment"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// AdminEnabled reports whether operator routes are served.
func (c AppConfig) AdminEnabled() bool {
	return c.AdminToken != ""
}

// CatalogEnabled reports whether a catalog api key was configured.
func (c AppConfig) CatalogEnabled() bool {
	return strings.TrimSpace(c.Catalog.APIKey) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.StoreBackend {
	case StoreBackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreBackendFirestore:
		if strings.TrimSpace(c.FirebaseProject) == "" {
			return fmt.Errorf("firebase.project_id is required for the firestore backend")
		}
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for account storage")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.StoreBackend)
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Cache.ClearInterval <= 0 {
		return fmt.Errorf("cache.clear_interval_minutes must be positive")
	}
	return nil
}

// splitList accepts both repeated values and comma separated env values.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
