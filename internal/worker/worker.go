package worker

import (
	"context"
	"errors"
	"time"

	"basket-shop/internal/broker"
	"basket-shop/internal/models"
	"basket-shop/internal/notify"
	"basket-shop/internal/util"

	"go.uber.org/zap"
)

// maxDrainRuns bounds how many batches one wake-up processes
const maxDrainRuns = 20

// Dispatcher runs one notification batch
type Dispatcher interface {
	Run(ctx context.Context) (notify.Result, error)
}

// NotificationWorker runs the dispatcher whenever an order changes status,
// and on a fixed interval for anything a wake-up missed
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dispatcher   Dispatcher
	batchSize    int
	interval     time.Duration
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. A zero interval
// disables the periodic sweep.
func NewNotificationWorker(consumer *broker.Consumer, dispatcher Dispatcher, batchSize int, interval time.Duration) *NotificationWorker {
	w := &NotificationWorker{
		consumer:   consumer,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		interval:   interval,
		logger:     util.Component("worker"),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChanged)

	return w
}

// Start starts the worker and blocks until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")

	if w.interval > 0 {
		go w.sweep(ctx)
	}
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Debug("Order status changed",
		zap.String("order_id", event.OrderID),
		zap.String("status", string(event.Status)))
	return w.Drain(ctx)
}

func (w *NotificationWorker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Notification sweep failed", zap.Error(err))
			}
		}
	}
}

// Drain runs batches until the queue holds less than a full batch or a run
// makes no progress. A run already in progress elsewhere is not an error.
func (w *NotificationWorker) Drain(ctx context.Context) error {
	for i := 0; i < maxDrainRuns; i++ {
		res, err := w.dispatcher.Run(ctx)
		if errors.Is(err, notify.ErrAlreadyRunning) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.Fetched < w.batchSize || res.Delivered+res.DeadLettered == 0 {
			return nil
		}
	}
	return nil
}
