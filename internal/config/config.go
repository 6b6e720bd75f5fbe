package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// ErrUnacceptedLocale is returned by Validate for a language outside AcceptedLanguages.
var ErrUnacceptedLocale = errors.New("unaccepted locale")

// AcceptedLanguages lists the locales the listing page is known to render reviews for.
var AcceptedLanguages = []string{"en", "fr", "de", "es", "it", "nl", "ja", "pt", "ru", "zh-CN"}

const (
	DriverChromedp = "chromedp"
	DriverSelenium = "selenium"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

type Config struct {
	Maps       MapsConfig       `yaml:"maps"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Output     OutputConfig     `yaml:"output"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type MapsConfig struct {
	BaseURL  string `yaml:"base_url"`
	URL      string `yaml:"url"`
	Language string `yaml:"language"`
	Timeout  int    `yaml:"timeout"` // seconds, per wait
}

type ScraperConfig struct {
	Driver        string         `yaml:"driver"`
	Headless      bool           `yaml:"headless"`
	KeepOriginal  bool           `yaml:"keep_original"`
	ConcatExtra   bool           `yaml:"concat_extra"`
	RetryAttempts int            `yaml:"retry_attempts"`
	RetryDelay    int            `yaml:"retry_delay"`   // milliseconds
	PollInterval  int            `yaml:"poll_interval"` // milliseconds
	ClickDelay    int            `yaml:"click_delay"`   // milliseconds
	UserAgent     string         `yaml:"user_agent"`
	WaitForExit   bool           `yaml:"wait_for_exit"`
	Selenium      SeleniumConfig `yaml:"selenium"`
}

type SeleniumConfig struct {
	Browser    string `yaml:"browser"` // chrome or firefox
	DriverPath string `yaml:"driver_path"`
	Port       int    `yaml:"port"`
}

type OutputConfig struct {
	Format    string `yaml:"format"`
	Path      string `yaml:"path"`
	Name      string `yaml:"name"`
	Timestamp bool   `yaml:"timestamp"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Dir   string `yaml:"dir"`
}

type MonitoringConfig struct {
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the configuration used when a key is missing from the file.
func Default() *Config {
	return &Config{
		Maps: MapsConfig{
			BaseURL:  "https://maps.google.com/",
			Language: "en",
			Timeout:  10,
		},
		Scraper: ScraperConfig{
			Driver:        DriverChromedp,
			Headless:      true,
			KeepOriginal:  true,
			RetryAttempts: 3,
			RetryDelay:    2000,
			PollInterval:  250,
			ClickDelay:    300,
			UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Selenium: SeleniumConfig{
				Browser:    "chrome",
				DriverPath: "chromedriver",
				Port:       4444,
			},
		},
		Output: OutputConfig{
			Format:    FormatJSON,
			Path:      "data",
			Name:      "reviews",
			Timestamp: true,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "reviews",
			User:    "postgres",
			SSLMode: "disable",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load reads configFile on top of Default and applies environment overrides.
// An empty configFile yields the defaults plus the environment.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if configFile == "" {
		config := Default()
		config.applyEnv()
		return config, nil
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configFile)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MAPS_LANGUAGE"); v != "" {
		c.Maps.Language = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.Database.SSLMode = v
	}
}

// Validate checks everything that must hold before a browser is started.
func (c *Config) Validate() error {
	if !IsAcceptedLanguage(c.Maps.Language) {
		return fmt.Errorf("%w: %q (accepted: %v)", ErrUnacceptedLocale, c.Maps.Language, AcceptedLanguages)
	}
	switch c.Scraper.Driver {
	case DriverChromedp, DriverSelenium:
	default:
		return fmt.Errorf("unknown driver %q", c.Scraper.Driver)
	}
	switch c.Output.Format {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	if c.Maps.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.Maps.Timeout)
	}
	if c.Scraper.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.Scraper.RetryAttempts)
	}
	if c.Output.Name == "" {
		return errors.New("output name must not be empty")
	}
	return nil
}

func IsAcceptedLanguage(lang string) bool {
	for _, l := range AcceptedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Maps.Timeout) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Scraper.RetryDelay) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scraper.PollInterval) * time.Millisecond
}

func (c *Config) ClickDelay() time.Duration {
	return time.Duration(c.Scraper.ClickDelay) * time.Millisecond
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}
