package saga

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/purchase-saga/internal/metrics"
)

// CompensationReport: итог компенсирующих возвратов одной саги.
type CompensationReport struct {
	Attempted int
	Succeeded int
	Failed    int
}

// reservationsToRelease отбирает позиции, резерв которых склад подтвердил или мог
// применить без ответа. Отказ со статусом (404, 409, 5xx) в список не попадает.
func reservationsToRelease(outcomes []itemOutcome) []domain.PurchaseItem {
	var reserved []domain.PurchaseItem
	for _, outcome := range outcomes {
		if outcome.reserved || outcome.uncertain {
			reserved = append(reserved, outcome.item)
		}
	}
	return reserved
}

// compensate возвращает на склад каждую переданную позицию ровно один раз.
// Работает на отвязанном от вызывающего контексте: отмена запроса не должна
// оставить резервы висеть. Ошибки возврата только логируются.
func (o *Orchestrator) compensate(
	ctx context.Context,
	logger *log.Entry,
	callerID string,
	call domain.CallContext,
	reserved []domain.PurchaseItem,
) CompensationReport {
	report := CompensationReport{Attempted: len(reserved)}
	if len(reserved) == 0 {
		return report
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordCompensationAttempted()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CompensationTimeout)
	defer cancel()

	var succeeded, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallelItems)

	for _, item := range reserved {
		g.Go(func() error {
			stepStart := time.Now()
			err := o.gateway.Release(ctx, item.ProductID, item.Quantity, call)
			o.observeStep(domain.SagaStepRelease, stepStart)
			if err != nil {
				failed.Add(1)
				logger.WithError(err).WithFields(log.Fields{
					"product_id": item.ProductID,
					"quantity":   item.Quantity,
				}).Error("compensating release failed")
				if o.opts.Metrics != nil {
					o.opts.Metrics.RecordCompensationRelease(metrics.CompensationFailed)
				}
				return nil
			}
			succeeded.Add(1)
			if o.opts.Metrics != nil {
				o.opts.Metrics.RecordCompensationRelease(metrics.CompensationSucceeded)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())

	logger.WithFields(log.Fields{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("purchase saga compensated")
	o.publish(logger, kafka.NewPurchaseEvent(kafka.EventTypePurchaseCompensated, call.CorrelationID, callerID, map[string]interface{}{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}))
	return report
}
