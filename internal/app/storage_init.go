package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/purchase-saga/internal/health"
	"github.com/vladislavdragonenkov/purchase-saga/internal/storage/memory"
	"github.com/vladislavdragonenkov/purchase-saga/internal/storage/postgres"
)

// storageDependencies: хранилище заказов и его проверка готовности.
type storageDependencies struct {
	orders         domain.OrderRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies поднимает хранилище согласно cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*storageDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("storage driver: memory")
		return &storageDependencies{
			orders: memory.NewOrderRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			state, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{
					"version": state.Version,
					"applied": state.Applied,
				}).Info("postgres schema is up to date")
			}
		}
		logger.Info("storage driver: postgres")
		return &storageDependencies{
			orders:         postgres.NewOrderRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}
