package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// StorageDriverMemory хранит заказы в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит заказы в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	GRPCHealthAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Если ProductServiceURL пустой, используется встроенный демо-каталог.
	ProductServiceURL    string
	GatewayTimeout       time.Duration
	GatewayRetryAttempts int

	SagaMaxParallel     int
	CompensationTimeout time.Duration

	AllowAnonymous bool
	JWTSecret      string
	JWTIssuer      string

	KafkaBrokers string

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает dev-профиль: память, демо-каталог, анонимные покупки разрешены.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8080",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		GatewayTimeout:       5 * time.Second,
		GatewayRetryAttempts: 1,
		SagaMaxParallel:      8,
		CompensationTimeout:  10 * time.Second,
		AllowAnonymous:       true,
		ShutdownTimeout:      5 * time.Second,
	}
}

// Validate отклоняет противоречивые настройки до старта серверов.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver: %q", c.StorageDriver))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("gateway timeout must be > 0"))
	}
	if c.GatewayRetryAttempts < 1 {
		errs = append(errs, errors.New("gateway retry attempts must be >= 1"))
	}
	if c.SagaMaxParallel < 1 {
		errs = append(errs, errors.New("saga max parallel must be >= 1"))
	}
	if c.CompensationTimeout <= 0 {
		errs = append(errs, errors.New("compensation timeout must be > 0"))
	}
	if !c.AllowAnonymous && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required when anonymous access is disabled"))
	}

	return errors.Join(errs...)
}

// KafkaBrokerList разбирает KafkaBrokers через запятую, отбрасывая пустые элементы.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
