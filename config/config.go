// config реализует конфигурацию annotation-подсистемы: загрузка из YAML/ENV
// с предсказуемым приоритетом.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация подсистемы.
// Приоритет источников:
//  1. явный путь, переданный в MustLoad/Load;
//  2. переменная окружения CONFIG_PATH;
//  3. файл ./local.yaml из рабочей директории;
//  4. переменные окружения.
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	API      APIConfig      `yaml:"api"`
	Stream   StreamConfig   `yaml:"stream"`
	Notify   NotifyConfig   `yaml:"notify"`
	Mentions MentionsConfig `yaml:"mentions"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

// APIConfig — HTTP API хранилища комментариев.
type APIConfig struct {
	URL   string `yaml:"url"   env:"API_URL" env-required:"true"`
	Token string `yaml:"token" env:"API_TOKEN"`
}

// StreamConfig — websocket-поток серверных событий.
// Пустой URL отключает поток: реконсиляция остаётся только через Refresh.
type StreamConfig struct {
	URL string `yaml:"url" env:"STREAM_URL"`
}

// NotifyConfig — сервис доставки уведомлений об упоминаниях.
// Пустой URL отключает уведомления.
type NotifyConfig struct {
	URL string `yaml:"url" env:"NOTIFY_URL"`
}

// MentionsConfig — параметры поиска подсказок упоминаний.
type MentionsConfig struct {
	// Дебаунс между вводом и сетевым запросом подсказок.
	Debounce time.Duration `yaml:"debounce"  env:"MENTION_DEBOUNCE"  env-default:"300ms"`
	// Минимальная длина запроса, с которой начинается поиск.
	MinQuery int `yaml:"min_query" env:"MENTION_MIN_QUERY" env-default:"2"`
	// Максимум подсказок в выдаче.
	Limit int32 `yaml:"limit"     env:"MENTION_LIMIT"     env-default:"10"`
	// Время жизни кэша подсказок по запросу.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"MENTION_CACHE_TTL" env-default:"30s"`
}

// TimeoutConfig — сетевые таймауты клиентов.
type TimeoutConfig struct {
	API    time.Duration `yaml:"api"    env:"API_TIMEOUT"    env-default:"10s"`
	Notify time.Duration `yaml:"notify" env:"NOTIFY_TIMEOUT" env-default:"5s"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		c, err := tryRead(path)
		if err != nil {
			return nil, err
		}

		if err := c.validate(); err != nil {
			return nil, err
		}

		return c, nil
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		c, err := tryRead(envPath)
		if err != nil {
			return nil, err
		}

		if err := c.validate(); err != nil {
			return nil, err
		}

		return c, nil
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := cfg.validate(); err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide path, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate — базовая валидация значений.
func (c *Config) validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}

	if c.Mentions.Debounce < 50*time.Millisecond {
		return fmt.Errorf("mentions.debounce must be at least 50ms")
	}

	if c.Mentions.MinQuery <= 0 {
		return fmt.Errorf("mentions.min_query must be > 0")
	}

	if c.Mentions.Limit <= 0 {
		return fmt.Errorf("mentions.limit must be > 0")
	}

	if c.Mentions.Limit > 50 {
		return fmt.Errorf("mentions.limit is too large (<= 50)")
	}

	if c.Mentions.CacheTTL < 0 {
		return fmt.Errorf("mentions.cache_ttl must be >= 0")
	}

	if c.Timeouts.API <= 0 {
		return fmt.Errorf("timeouts.api must be > 0")
	}

	if c.Timeouts.Notify <= 0 {
		return fmt.Errorf("timeouts.notify must be > 0")
	}

	return nil
}
