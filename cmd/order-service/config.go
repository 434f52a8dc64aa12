package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/purchase-saga/internal/app"
)

const (
	envHTTPAddr             = "OMS_HTTP_ADDR"
	envMetricsAddr          = "OMS_METRICS_ADDR"
	envGRPCHealthAddr       = "OMS_GRPC_HEALTH_ADDR"
	envStorageDriver        = "OMS_STORAGE_DRIVER"
	envPostgresDSN          = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate  = "OMS_POSTGRES_AUTO_MIGRATE"
	envProductServiceURL    = "OMS_PRODUCT_SERVICE_URL"
	envGatewayTimeout       = "OMS_GATEWAY_TIMEOUT"
	envGatewayRetryAttempts = "OMS_GATEWAY_RETRY_ATTEMPTS"
	envSagaMaxParallel      = "OMS_SAGA_MAX_PARALLEL"
	envCompensationTimeout  = "OMS_COMPENSATION_TIMEOUT"
	envAllowAnonymous       = "OMS_ALLOW_ANONYMOUS"
	envJWTSecret            = "OMS_JWT_SECRET"
	envJWTIssuer            = "OMS_JWT_ISSUER"
	envKafkaBrokers         = "KAFKA_BROKERS"
	envLogLevel             = "OMS_LOG_LEVEL"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

// readConfig формирует конфигурацию из переменных окружения процесса.
func readConfig() (app.Config, []string) {
	return readConfigFromEnv(os.LookupEnv)
}

// readConfigFromEnv накладывает переопределения на app.DefaultConfig().
// Некорректные значения не роняют запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	setString := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setInt := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setDuration := func(key string, target *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setString(envGRPCHealthAddr, &cfg.GRPCHealthAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setString(envProductServiceURL, &cfg.ProductServiceURL)
	setDuration(envGatewayTimeout, &cfg.GatewayTimeout)
	setInt(envGatewayRetryAttempts, &cfg.GatewayRetryAttempts, func(v int) bool { return v >= 1 }, "must be >= 1")
	setInt(envSagaMaxParallel, &cfg.SagaMaxParallel, func(v int) bool { return v >= 1 }, "must be >= 1")
	setDuration(envCompensationTimeout, &cfg.CompensationTimeout)
	setBool(envAllowAnonymous, &cfg.AllowAnonymous)
	if v, ok := lookup(envJWTSecret); ok {
		cfg.JWTSecret = v
	}
	setString(envJWTIssuer, &cfg.JWTIssuer)
	setString(envKafkaBrokers, &cfg.KafkaBrokers)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}
