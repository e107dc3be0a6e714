package store

import (
	"context"

	"basket-shop/internal/models"
)

// FetchPendingNotifications retrieves unprocessed entries, oldest first
func (s *Store) FetchPendingNotifications(ctx context.Context, limit int) ([]models.NotificationQueueEntry, error) {
	entries := []models.NotificationQueueEntry{}
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM notification_queue
		 WHERE processed = FALSE
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	return entries, err
}

// MarkNotificationProcessed records a confirmed delivery
func (s *Store) MarkNotificationProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET processed = TRUE, processed_at = NOW(), attempts = attempts + 1, last_error = NULL
		 WHERE id = $1`, id)
	return err
}

// RecordNotificationFailure counts a failed attempt. Once maxAttempts is reached the
// entry is dead-lettered: marked processed and failed so it leaves the queue.
func (s *Store) RecordNotificationFailure(ctx context.Context, id, reason string, maxAttempts int) (bool, error) {
	var deadLettered bool
	err := s.db.GetContext(ctx, &deadLettered,
		`UPDATE notification_queue
		 SET attempts = attempts + 1,
			 last_error = $2,
			 failed = (attempts + 1 >= $3),
			 processed = (attempts + 1 >= $3),
			 processed_at = CASE WHEN attempts + 1 >= $3 THEN NOW() ELSE NULL END
		 WHERE id = $1
		 RETURNING failed`, id, reason, maxAttempts)
	return deadLettered, err
}

// DeadLetterNotification removes an entry from the queue without delivering it
func (s *Store) DeadLetterNotification(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_queue
		 SET processed = TRUE, failed = TRUE, processed_at = NOW(), last_error = $2
		 WHERE id = $1`, id, reason)
	return err
}
