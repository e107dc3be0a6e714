// Package notify drains the notification queue filled by order status changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"basket-shop/internal/models"
	"basket-shop/internal/redisclient"
	"basket-shop/internal/util"

	"go.uber.org/zap"
)

const lockName = "notification-dispatcher"

var (
	// ErrAlreadyRunning is returned when another run holds the dispatch lock
	ErrAlreadyRunning = errors.New("notification dispatch already running")

	errNoDestination = errors.New("no destination")
	errNoSMSSender   = errors.New("no sms sender configured")
)

// Store is the queue side of the store
type Store interface {
	FetchPendingNotifications(ctx context.Context, limit int) ([]models.NotificationQueueEntry, error)
	MarkNotificationProcessed(ctx context.Context, id string) error
	RecordNotificationFailure(ctx context.Context, id, reason string, maxAttempts int) (bool, error)
	DeadLetterNotification(ctx context.Context, id, reason string) error
}

// Locker excludes overlapping runs
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, bool, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

// SMSSender delivers text messages. No provider is wired by default.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	LockTTL     time.Duration
}

// Result counts what one run did with the entries it fetched
type Result struct {
	Fetched      int `json:"fetched"`
	Delivered    int `json:"delivered"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// Dispatcher delivers pending queue entries
type Dispatcher struct {
	store  Store
	locker Locker
	email  EmailSender
	sms    SMSSender
	cfg    Config
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. locker and sms may be nil.
func NewDispatcher(store Store, locker Locker, email EmailSender, sms SMSSender, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Dispatcher{
		store:  store,
		locker: locker,
		email:  email,
		sms:    sms,
		cfg:    cfg,
		logger: util.Component("dispatcher"),
	}
}

// Run delivers one batch of pending entries, oldest first. A failing entry is
// recorded and skipped; only a failed fetch fails the run.
func (d *Dispatcher) Run(ctx context.Context) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		util.DispatchRunLatency.Observe(time.Since(start).Seconds())
	}()

	var result Result

	if d.locker != nil {
		lock, ok, err := d.locker.AcquireLock(ctx, lockName, d.cfg.LockTTL)
		if err != nil {
			return result, fmt.Errorf("failed to acquire dispatch lock: %w", err)
		}
		if !ok {
			return result, ErrAlreadyRunning
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := d.locker.ReleaseLock(releaseCtx, lock); err != nil {
				d.logger.Warn("Failed to release dispatch lock", zap.Error(err))
			}
		}()
	}

	entries, err := d.store.FetchPendingNotifications(ctx, d.cfg.BatchSize)
	if err != nil {
		return result, util.SpanError(span, fmt.Errorf("failed to fetch notifications: %w", err))
	}
	result.Fetched = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d.process(ctx, entry, &result)
	}

	if result.Fetched > 0 {
		d.logger.Info("Notification batch processed",
			zap.Int("fetched", result.Fetched),
			zap.Int("delivered", result.Delivered),
			zap.Int("failed", result.Failed),
			zap.Int("dead_lettered", result.DeadLettered))
	}
	return result, nil
}

func (d *Dispatcher) process(ctx context.Context, entry models.NotificationQueueEntry, result *Result) {
	log := d.logger.With(
		zap.String("notification_id", entry.ID),
		zap.String("order_id", entry.OrderID),
		zap.String("type", string(entry.NotificationType)))

	err := d.deliver(ctx, entry)
	switch {
	case err == nil:
		if err := d.store.MarkNotificationProcessed(ctx, entry.ID); err != nil {
			// delivered but still pending: the next run sends it again
			log.Error("Failed to mark notification processed", zap.Error(err))
			result.Failed++
			return
		}
		util.NotificationsDeliveredTotal.WithLabelValues(string(entry.NotificationType)).Inc()
		result.Delivered++

	case errors.Is(err, errNoDestination), errors.Is(err, errNoSMSSender):
		if err := d.store.DeadLetterNotification(ctx, entry.ID, err.Error()); err != nil {
			log.Error("Failed to dead-letter notification", zap.Error(err))
			result.Failed++
			return
		}
		log.Warn("Notification dead-lettered", zap.Error(err))
		util.NotificationsDeadLetteredTotal.Inc()
		result.DeadLettered++

	default:
		util.NotificationsFailedTotal.WithLabelValues(string(entry.NotificationType), failureReason(err)).Inc()
		deadLettered, recErr := d.store.RecordNotificationFailure(ctx, entry.ID, err.Error(), d.cfg.MaxAttempts)
		if recErr != nil {
			log.Error("Failed to record notification failure", zap.Error(recErr))
		}
		if deadLettered {
			log.Warn("Notification dead-lettered after repeated failures",
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			util.NotificationsDeadLetteredTotal.Inc()
			result.DeadLettered++
			return
		}
		log.Error("Failed to deliver notification", zap.Error(err))
		result.Failed++
	}
}

func (d *Dispatcher) deliver(ctx context.Context, entry models.NotificationQueueEntry) error {
	to := entry.Destination()
	if to == "" {
		return errNoDestination
	}

	switch entry.NotificationType {
	case models.NotificationEmail:
		msg, err := StatusEmail(to, entry.OrderID, entry.Status)
		if err != nil {
			return err
		}
		return d.email.SendEmail(ctx, msg)

	case models.NotificationSMS:
		if d.sms == nil {
			return errNoSMSSender
		}
		return d.sms.SendSMS(ctx, to, StatusSMS(entry.OrderID, entry.Status))
	}
	return fmt.Errorf("%w for type %q", errNoDestination, entry.NotificationType)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
