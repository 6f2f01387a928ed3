package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	SMTP    SMTPConfig
	Search  SearchConfig
	Admin   AdminConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	TLS         string
	Timeout     time.Duration
}

type SearchConfig struct {
	BaseURL  string
	EngineID string
	APIKey   string
	Language string
	Timeout  time.Duration
}

type AdminConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4000,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Chatbot",
			TLS:      "starttls",
			Timeout:  10 * time.Second,
		},
		Search: SearchConfig{
			BaseURL:  "https://www.googleapis.com/customsearch/v1",
			Language: "fr",
			Timeout:  10 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file backend, environment
// variables, and the secrets file.
//
// The backend is $XDG_CONFIG_HOME/parlebot/config.yaml. Environment
// variables (PARLEBOT_*) override file values. Secrets (SMTP password,
// search API key, admin token) are never read from the YAML file: they
// come from the environment or from $XDG_DATA_HOME/parlebot/secrets.json.
//
// Missing mail or search settings are not an error; those features simply
// report themselves as unconfigured.
func Load() (Config, error) {
	return loadWith(newFileBackend(defaultConfigPath()), secretsFile{path: defaultSecretsPath()})
}

// secretReader abstracts secret lookup for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, sr secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sr)

	return cfg, nil
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "parlebot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "parlebot")
}

func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parlebot", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "parlebot", "config.yaml")
}

func defaultSecretsPath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}
