package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"basket-shop/internal/models"
	"basket-shop/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockQueueStore is an in-memory notification queue
type MockQueueStore struct {
	mu       sync.Mutex
	entries  map[string]*models.NotificationQueueEntry
	fetchErr error
}

func newQueue(entries ...models.NotificationQueueEntry) *MockQueueStore {
	m := &MockQueueStore{entries: map[string]*models.NotificationQueueEntry{}}
	for i := range entries {
		e := entries[i]
		m.entries[e.ID] = &e
	}
	return m
}

func (m *MockQueueStore) FetchPendingNotifications(_ context.Context, limit int) ([]models.NotificationQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []models.NotificationQueueEntry
	for _, e := range m.entries {
		if !e.Processed {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockQueueStore) MarkNotificationProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	e := m.entries[id]
	e.Processed = true
	e.ProcessedAt = &now
	e.Attempts++
	return nil
}

func (m *MockQueueStore) RecordNotificationFailure(_ context.Context, id, reason string, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Attempts++
	e.LastError = &reason
	if e.Attempts >= maxAttempts {
		e.Processed = true
		e.Failed = true
	}
	return e.Failed, nil
}

func (m *MockQueueStore) DeadLetterNotification(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Processed = true
	e.Failed = true
	e.LastError = &reason
	return nil
}

func (m *MockQueueStore) get(id string) models.NotificationQueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.entries[id]
}

type fakeEmail struct {
	sent   []Email
	failTo map[string]bool
}

func (f *fakeEmail) SendEmail(_ context.Context, msg Email) error {
	if f.failTo[msg.To] {
		return errors.New("smtp 550")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, to, body string) error {
	f.sent = append(f.sent, to+": "+body)
	return nil
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func emailEntry(id, to string, offset int) models.NotificationQueueEntry {
	return models.NotificationQueueEntry{
		ID:               id,
		OrderID:          "order-" + id,
		NotificationType: models.NotificationEmail,
		Email:            &to,
		Status:           "confirmed",
		CreatedAt:        base.Add(time.Duration(offset) * time.Minute),
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	q := newQueue(
		emailEntry("n1", "a@example.com", 0),
		emailEntry("n2", "broken@example.com", 1),
		emailEntry("n3", "c@example.com", 2),
	)
	email := &fakeEmail{failTo: map[string]bool{"broken@example.com": true}}
	d := NewDispatcher(q, nil, email, nil, Config{BatchSize: 10, MaxAttempts: 3})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 3, Delivered: 2, Failed: 1}, res)

	assert.True(t, q.get("n1").Processed)
	assert.NotNil(t, q.get("n1").ProcessedAt)
	assert.False(t, q.get("n2").Processed)
	assert.Equal(t, 1, q.get("n2").Attempts)
	assert.True(t, q.get("n3").Processed)

	require.Len(t, email.sent, 2)
	assert.Equal(t, "a@example.com", email.sent[0].To)
	assert.Equal(t, "Mise à jour de votre commande - confirmed", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].HTML, "order-n1")
}

func TestRunDeadLettersAfterMaxAttempts(t *testing.T) {
	q := newQueue(emailEntry("n1", "broken@example.com", 0))
	email := &fakeEmail{failTo: map[string]bool{"broken@example.com": true}}
	d := NewDispatcher(q, nil, email, nil, Config{MaxAttempts: 2})
	ctx := context.Background()

	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.True(t, q.get("n1").Failed)

	res, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
}

func TestRunTakesOldestBatch(t *testing.T) {
	var entries []models.NotificationQueueEntry
	for i := 12; i > 0; i-- {
		entries = append(entries, emailEntry(string(rune('a'+i)), "x@example.com", i))
	}
	q := newQueue(entries...)
	email := &fakeEmail{}
	d := NewDispatcher(q, nil, email, nil, Config{})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Fetched)
	assert.Equal(t, "order-"+string(rune('a'+1)), extractOrder(email.sent[0]))
	assert.False(t, q.get(string(rune('a'+12))).Processed)
}

func extractOrder(e Email) string {
	start := len(`<p>Votre commande #`)
	end := start
	for end < len(e.HTML) && e.HTML[end] != ' ' {
		end++
	}
	return e.HTML[start:end]
}

func TestRunDeadLettersUndeliverable(t *testing.T) {
	phone := "0700000000"
	q := newQueue(
		models.NotificationQueueEntry{ID: "n1", NotificationType: models.NotificationEmail, CreatedAt: base},
		models.NotificationQueueEntry{ID: "n2", NotificationType: models.NotificationSMS, PhoneNumber: &phone, CreatedAt: base.Add(time.Minute)},
	)
	d := NewDispatcher(q, nil, &fakeEmail{}, nil, Config{})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeadLettered)
	assert.Equal(t, "no destination", *q.get("n1").LastError)
	assert.Equal(t, "no sms sender configured", *q.get("n2").LastError)
}

func TestRunSendsSMSWhenConfigured(t *testing.T) {
	phone := "0700000000"
	q := newQueue(models.NotificationQueueEntry{
		ID: "n1", OrderID: "o1", NotificationType: models.NotificationSMS,
		PhoneNumber: &phone, Status: "delivering", CreatedAt: base,
	})
	sms := &fakeSMS{}
	d := NewDispatcher(q, nil, &fakeEmail{}, sms, Config{})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0], "delivering")
}

func TestRunFailsWhenFetchFails(t *testing.T) {
	q := newQueue()
	q.fetchErr = errors.New("relation does not exist")
	d := NewDispatcher(q, nil, &fakeEmail{}, nil, Config{})

	_, err := d.Run(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestRunRefusesOverlap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer client.Close()
	ctx := context.Background()

	lock, ok, err := client.AcquireLock(ctx, lockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	q := newQueue(emailEntry("n1", "a@example.com", 0))
	d := NewDispatcher(q, client, &fakeEmail{}, nil, Config{})

	_, err = d.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, q.get("n1").Processed)

	require.NoError(t, client.ReleaseLock(ctx, lock))
	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.False(t, mr.Exists("lock:"+lockName))
}
