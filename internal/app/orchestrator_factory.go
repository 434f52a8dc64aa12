package app

import (
	"github.com/vladislavdragonenkov/purchase-saga/internal/service/saga"
)

// createOrchestrator собирает сагу покупки; события уходят в Kafka через relay,
// только если producer создан.
func createOrchestrator(deps *Dependencies, cfg Config) *saga.Orchestrator {
	options := []saga.Option{
		saga.WithMaxParallelItems(cfg.SagaMaxParallel),
		saga.WithCompensationTimeout(cfg.CompensationTimeout),
		saga.WithLogger(deps.Logger.WithField("component", "saga")),
		saga.WithMetrics(deps.Metrics),
	}
	if deps.Events != nil {
		options = append(options, saga.WithPublisher(deps.Events))
	}
	return saga.NewOrchestrator(deps.Catalog, deps.Orders, options...)
}
