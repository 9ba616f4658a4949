package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

var validate = validator.New()

type Config struct {
	Output    Output    `yaml:"output"`
	Catalog   Catalog   `yaml:"catalog"`
	History   History   `yaml:"history"`
	Merge     Merge     `yaml:"merge"`
	Recommend Recommend `yaml:"recommend"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Cache     Cache     `yaml:"cache"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// Catalog configures the AniList catalog fetcher.
type Catalog struct {
	Endpoint       string        `yaml:"endpoint" validate:"required,url"`
	PerPage        int           `yaml:"per_page" validate:"gt=0,lte=50"`
	MaxPages       int           `yaml:"max_pages" validate:"gt=0"`
	PageDelay      time.Duration `yaml:"page_delay" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxAge         time.Duration `yaml:"max_age" validate:"gt=0"`
}

// History configures the MyAnimeList history importer. Endpoint carries a
// {user} placeholder.
type History struct {
	Endpoint       string        `yaml:"endpoint" validate:"required,contains={user}"`
	PageSize       int           `yaml:"page_size" validate:"gt=0"`
	PageDelay      time.Duration `yaml:"page_delay" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	UserAgent      string        `yaml:"user_agent" validate:"required"`
}

type Merge struct {
	MinRows int `yaml:"min_rows" validate:"gte=0"`
}

type Recommend struct {
	TopN              int     `yaml:"top_n" validate:"gt=0,lte=100"`
	MinQuality        float64 `yaml:"min_quality" validate:"gte=0,lte=100"`
	MaxComponents     int     `yaml:"max_components" validate:"gt=0"`
	MinComponents     int     `yaml:"min_components" validate:"gt=0"`
	FavoriteThreshold int     `yaml:"favorite_threshold" validate:"gte=0,lte=10"`
	DescriptionLimit  int     `yaml:"description_limit" validate:"gt=0"`
}

type Pipeline struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type Cache struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port" validate:"gt=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// ConfigDir returns the XDG config directory for animerec.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "animerec")
}

// DataDir returns the XDG data directory for animerec.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "animerec")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/animerec/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'animerec init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		return defaults()
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Catalog: Catalog{
			Endpoint:       "https://graphql.anilist.co",
			PerPage:        50,
			MaxPages:       20,
			PageDelay:      time.Second,
			RequestTimeout: 30 * time.Second,
			MaxAge:         7 * 24 * time.Hour,
		},
		History: History{
			Endpoint:       "https://myanimelist.net/animelist/{user}/load.json",
			PageSize:       300,
			PageDelay:      500 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
			UserAgent:      "animerec/1.0 (+https://github.com/TobiSchelling/animerec)",
		},
		Merge: Merge{MinRows: 500},
		Recommend: Recommend{
			TopN:              10,
			MinQuality:        80,
			MaxComponents:     200,
			MinComponents:     2,
			FavoriteThreshold: 8,
			DescriptionLimit:  300,
		},
		Pipeline: Pipeline{Timeout: 5 * time.Minute},
		Cache:    Cache{TTL: time.Hour},
		Server:   Server{Host: "127.0.0.1", Port: 8000, CORSOrigins: []string{"*"}},
		Logging:  Logging{Level: "info", Format: "console"},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// CatalogPath is where the normalized catalog table lives.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.GetDataDir(), "catalog.csv")
}

// UserDir holds the per-user ratings and merged tables.
func (c *Config) UserDir(username string) string {
	return filepath.Join(c.GetDataDir(), "users", username)
}

func (c *Config) RatingsPath(username string) string {
	return filepath.Join(c.UserDir(username), "ratings.csv")
}

func (c *Config) MergedPath(username string) string {
	return filepath.Join(c.UserDir(username), "merged.csv")
}

func (c *Config) BlacklistPath() string {
	return filepath.Join(c.GetDataDir(), "blacklist.json")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "animerec.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
