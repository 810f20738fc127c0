package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации control plane.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Health    HealthConfig    `mapstructure:"health"`
	Seeder    SeederConfig    `mapstructure:"seeder"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (история алертов, silences).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналов и handoff алертов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к RSA публичному ключу для проверки токенов.
// Приватного ключа у observer нет: токены здесь только проверяются.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// RegistryConfig — источник реестра агентов и интервал горячей перезагрузки.
type RegistryConfig struct {
	SourcePath     string        `mapstructure:"source_path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// HealthConfig — параметры циклов опроса флота.
type HealthConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// SeederConfig — параметры адаптивного сидера синтетического трафика.
type SeederConfig struct {
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	RpsThreshold      float64       `mapstructure:"rps_threshold"`
	MaxAgentsPerCycle int           `mapstructure:"max_agents_per_cycle"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"` // Лимит исходящих синтетических запросов
	DryRun            bool          `mapstructure:"dry_run"`
}

// EvaluatorConfig — параметры burn-rate оценки.
// Множители настраиваемы: флотовый порог сознательно не захардкожен.
type EvaluatorConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	FastMultiplier  float64       `mapstructure:"fast_multiplier"`  // critical-пара 5m/1h
	SlowMultiplier  float64       `mapstructure:"slow_multiplier"`  // warning-пара 30m/6h
	FleetMultiplier float64       `mapstructure:"fleet_multiplier"` // системный (флотовый) порог
	FleetBudget     float64       `mapstructure:"fleet_budget"`
}

// MetricsConfig — адрес внешнего metrics store (Prometheus HTTP API).
type MetricsConfig struct {
	QueryURL     string        `mapstructure:"query_url"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	// Настройки Circuit Breaker вокруг query-клиента
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Публичный ключ: либо PEM напрямую в ENV (Docker/K8s), либо файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("registry.source_path", "configs/agents.yaml")
	v.SetDefault("registry.reload_interval", 60*time.Second)

	v.SetDefault("health.cycle_interval", 15*time.Second)
	v.SetDefault("health.probe_timeout", 3*time.Second)

	v.SetDefault("seeder.cycle_interval", 60*time.Second)
	v.SetDefault("seeder.rps_threshold", 0.1)
	v.SetDefault("seeder.max_agents_per_cycle", 10)
	v.SetDefault("seeder.request_timeout", 3*time.Second)
	v.SetDefault("seeder.rate_per_second", 5)
	v.SetDefault("seeder.dry_run", false)

	v.SetDefault("evaluator.tick_interval", 60*time.Second)
	v.SetDefault("evaluator.fast_multiplier", 14)
	v.SetDefault("evaluator.slow_multiplier", 6)
	v.SetDefault("evaluator.fleet_multiplier", 14)
	v.SetDefault("evaluator.fleet_budget", 0.01)

	v.SetDefault("metrics.query_url", "http://localhost:9090")
	v.SetDefault("metrics.query_timeout", 10*time.Second)
	v.SetDefault("metrics.cb_max_requests", 3)
	v.SetDefault("metrics.cb_interval", 5*time.Second)
	v.SetDefault("metrics.cb_timeout", 30*time.Second)
}

// loadKeyResource — универсальный хелпер: сначала ENV, потом файл.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
