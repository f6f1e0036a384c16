// Package config loads service settings from an optional YAML file overlaid
// with METAX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"metax/internal/blob"
	"metax/internal/logging"
)

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"` // absolute URL used in pagination links
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory|sqlite|postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // postgres DSN
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite file
}

// PIDConfig configures the PID minting service.
//
// WARNING: contains the API key.
type PIDConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	EtsinURL string        `mapstructure:"etsin_url" yaml:"etsin_url"` // landing page prefix registered for URNs
	Dummy    bool          `mapstructure:"dummy" yaml:"dummy"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// V2Config configures synchronization to the legacy V2 service.
//
// WARNING: contains credentials.
type V2Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
}

// REMSConfig configures the entitlement management integration.
//
// WARNING: contains the API key.
type REMSConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	UserID         string `mapstructure:"user_id" yaml:"user_id"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	OrganizationID string `mapstructure:"organization_id" yaml:"organization_id"`
	ETSINURL       string `mapstructure:"etsin_url" yaml:"etsin_url"`
}

// TasksConfig configures background work.
type TasksConfig struct {
	Background        bool   `mapstructure:"background" yaml:"background"`
	Workers           int    `mapstructure:"workers" yaml:"workers"`
	RetrySyncSchedule string `mapstructure:"retry_sync_schedule" yaml:"retry_sync_schedule"`
	CacheWarmSchedule string `mapstructure:"cache_warm_schedule" yaml:"cache_warm_schedule"`
}

// CacheConfig sizes the dataset representation cache. Size 0 disables it.
type CacheConfig struct {
	Size int `mapstructure:"size" yaml:"size"`
}

// RefdataConfig points at the reference data source list.
type RefdataConfig struct {
	Sources string `mapstructure:"sources" yaml:"sources"`
}

// TokenConfig describes the identity behind a bearer token.
type TokenConfig struct {
	User         string   `mapstructure:"user" yaml:"user"`
	Organization string   `mapstructure:"organization" yaml:"organization"`
	Admin        bool     `mapstructure:"admin" yaml:"admin"`
	Groups       []string `mapstructure:"groups" yaml:"groups"`
	CSCProjects  []string `mapstructure:"csc_projects" yaml:"csc_projects"`
}

// AuthConfig maps bearer tokens to users.
//
// WARNING: tokens are secrets.
type AuthConfig struct {
	Tokens map[string]TokenConfig `mapstructure:"tokens" yaml:"tokens"`
}

// Config wraps the whole service configuration.
type Config struct {
	HTTP    HTTPConfig     `mapstructure:"http" yaml:"http"`
	Storage StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Blob    blob.Config    `mapstructure:"blob" yaml:"blob"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	PID     PIDConfig      `mapstructure:"pid" yaml:"pid"`
	V2      V2Config       `mapstructure:"v2" yaml:"v2"`
	REMS    REMSConfig     `mapstructure:"rems" yaml:"rems"`
	Tasks   TasksConfig    `mapstructure:"tasks" yaml:"tasks"`
	Cache   CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Refdata RefdataConfig  `mapstructure:"refdata" yaml:"refdata"`
	Auth    AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

var defaults = map[string]any{
	"http.addr":                 ":8000",
	"http.base_url":             "http://localhost:8000",
	"storage.driver":            "sqlite",
	"storage.path":              "metax.db",
	"blob.driver":               "fs",
	"blob.root":                 "./blobdata",
	"log.level":                 "info",
	"log.format":                "json",
	"pid.dummy":                 true,
	"pid.timeout":               10 * time.Second,
	"pid.etsin_url":             "https://etsin.fairdata.fi/dataset/",
	"tasks.background":          true,
	"tasks.workers":             2,
	"tasks.retry_sync_schedule": "@every 15m",
	"tasks.cache_warm_schedule": "@hourly",
	"cache.size":                1024,
	"refdata.sources":           "refdata/sources.yaml",
}

// envBindings maps config keys to the environment variables that may provide them.
var envBindings = map[string][]string{
	"http.addr":            {"METAX_HTTP_ADDR"},
	"http.base_url":        {"METAX_HTTP_BASE_URL", "METAX_BASE_URL"},
	"storage.driver":       {"METAX_STORAGE_DRIVER"},
	"storage.dsn":          {"METAX_STORAGE_DSN", "DATABASE_URL"},
	"storage.path":         {"METAX_STORAGE_PATH"},
	"blob.driver":          {"METAX_BLOB_DRIVER"},
	"blob.root":            {"METAX_BLOB_ROOT"},
	"blob.bucket":          {"METAX_BLOB_BUCKET"},
	"blob.region":          {"METAX_BLOB_REGION"},
	"blob.endpoint":        {"METAX_BLOB_ENDPOINT"},
	"blob.path_style":      {"METAX_BLOB_PATH_STYLE"},
	"log.level":            {"METAX_LOG_LEVEL"},
	"log.format":           {"METAX_LOG_FORMAT"},
	"pid.base_url":         {"METAX_PID_BASE_URL", "PID_MS_BASEURL"},
	"pid.api_key":          {"METAX_PID_API_KEY", "PID_MS_APIKEY"},
	"pid.etsin_url":        {"METAX_PID_ETSIN_URL"},
	"pid.dummy":            {"METAX_PID_DUMMY"},
	"v2.enabled":           {"METAX_V2_ENABLED"},
	"v2.host":              {"METAX_V2_HOST"},
	"v2.user":              {"METAX_V2_USER"},
	"v2.password":          {"METAX_V2_PASSWORD"},
	"rems.enabled":         {"METAX_REMS_ENABLED"},
	"rems.base_url":        {"METAX_REMS_BASE_URL"},
	"rems.user_id":         {"METAX_REMS_USER_ID"},
	"rems.api_key":         {"METAX_REMS_API_KEY"},
	"rems.organization_id": {"METAX_REMS_ORGANIZATION_ID"},
	"tasks.background":     {"METAX_TASKS_BACKGROUND"},
	"tasks.workers":        {"METAX_TASKS_WORKERS"},
	"cache.size":           {"METAX_CACHE_SIZE"},
	"refdata.sources":      {"METAX_REFDATA_SOURCES"},
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, envs := range envBindings {
		if err := v.BindEnv(slices.Insert(slices.Clone(envs), 0, key)...); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load reads filePath when it exists and applies environment overrides.
// An empty filePath loads defaults and environment only.
func Load(filePath string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if filePath != "" {
		if _, statErr := os.Stat(filePath); !errors.Is(statErr, fs.ErrNotExist) {
			v.SetConfigFile(filePath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", filePath, err)
			}
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Blob.Driver == "s3" && c.Blob.Bucket == "" {
		errs = append(errs, errors.New("blob.bucket is required for s3"))
	}
	if !c.PID.Dummy && c.PID.BaseURL == "" {
		errs = append(errs, errors.New("pid.base_url is required unless pid.dummy is set"))
	}
	if c.V2.Enabled && c.V2.Host == "" {
		errs = append(errs, errors.New("v2.host is required when v2 sync is enabled"))
	}
	if c.REMS.Enabled {
		if c.REMS.BaseURL == "" || c.REMS.APIKey == "" || c.REMS.UserID == "" {
			errs = append(errs, errors.New("rems.base_url, rems.api_key and rems.user_id are required when rems is enabled"))
		}
		if c.REMS.OrganizationID == "" {
			errs = append(errs, errors.New("rems.organization_id is required when rems is enabled"))
		}
	}
	if c.Tasks.Workers < 1 {
		errs = append(errs, errors.New("tasks.workers must be positive"))
	}
	if !strings.HasPrefix(c.HTTP.BaseURL, "http") {
		errs = append(errs, fmt.Errorf("http.base_url %q must be an absolute URL", c.HTTP.BaseURL))
	}
	return errors.Join(errs...)
}
