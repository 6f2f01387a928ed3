package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PARLEBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.allowed_origins", typ: kList, env: "PARLEBOT_SERVER_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.AllowedOrigins = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Server.AllowedOrigins, ",") },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PARLEBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PARLEBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "smtp.host", typ: kString, env: "PARLEBOT_SMTP_HOST",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Host },
	},
	{
		key: "smtp.port", typ: kInt, env: "PARLEBOT_SMTP_PORT",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.SMTP.Port },
	},
	{
		key: "smtp.username", typ: kString, env: "PARLEBOT_SMTP_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Username },
	},
	{
		key: "smtp.password", typ: kString, env: "PARLEBOT_SMTP_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.SMTP.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Password },
	},
	{
		key: "smtp.from_address", typ: kString, env: "PARLEBOT_SMTP_FROM_ADDRESS",
		apply:   func(cfg *Config, v any) { cfg.SMTP.FromAddress = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.FromAddress },
	},
	{
		key: "smtp.from_name", typ: kString, env: "PARLEBOT_SMTP_FROM_NAME",
		apply:   func(cfg *Config, v any) { cfg.SMTP.FromName = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.FromName },
	},
	{
		key: "smtp.tls", typ: kString, env: "PARLEBOT_SMTP_TLS",
		apply:   func(cfg *Config, v any) { cfg.SMTP.TLS = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.TLS },
	},
	{
		key: "smtp.timeout", typ: kDuration, env: "PARLEBOT_SMTP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.SMTP.Timeout },
	},
	{
		key: "search.base_url", typ: kString, env: "PARLEBOT_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.engine_id", typ: kString, env: "PARLEBOT_SEARCH_ENGINE_ID",
		apply:   func(cfg *Config, v any) { cfg.Search.EngineID = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.EngineID },
	},
	{
		key: "search.api_key", typ: kString, env: "PARLEBOT_SEARCH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "search.language", typ: kString, env: "PARLEBOT_SEARCH_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Search.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Language },
	},
	{
		key: "search.timeout", typ: kDuration, env: "PARLEBOT_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "admin.token", typ: kString, env: "PARLEBOT_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Token },
	},
}

// parseValue converts a raw string into the Go type expected by typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("could not parse config key, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("could not parse env var, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets the environment left empty from the secrets file.
func applySecrets(cfg *Config, sr secretReader) {
	if sr == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		v, err := sr.Get(s.key)
		if err != nil || v == "" {
			continue
		}
		s.apply(cfg, v)
	}
}
