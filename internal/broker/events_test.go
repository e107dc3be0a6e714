package broker

import (
	"context"
	"encoding/json"
	"testing"

	"basket-shop/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (r *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func TestPublishOrderPlaced(t *testing.T) {
	rec := &recordingPublisher{}
	ep := NewEventPublisher(rec)
	basketID := "b1"

	order := &models.Order{
		ID:         "o1",
		UserID:     "u1",
		TotalPrice: 7000,
		Items: []models.OrderItem{
			{BasketID: &basketID, ItemName: "Panier Fraîcheur", Quantity: 1, UnitPrice: 5000},
			{ItemName: "Tomates", Quantity: 2, UnitPrice: 1000},
		},
	}
	require.NoError(t, ep.PublishOrderPlaced(context.Background(), order))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "order-o1", rec.keys[0])

	event := rec.events[0].(*models.OrderPlacedEvent)
	assert.Equal(t, models.EventTypeOrderPlaced, event.EventType)
	assert.NotEmpty(t, event.EventID)
	require.Len(t, event.Items, 2)
	assert.Equal(t, "b1", event.Items[0].BasketID)
	assert.Empty(t, event.Items[1].BasketID)
}

func TestHandleMessageRoutesStatusChanges(t *testing.T) {
	rec := &recordingPublisher{}
	require.NoError(t, NewEventPublisher(rec).PublishOrderStatusChanged(
		context.Background(), "o1", models.OrderStatusPending, models.OrderStatusConfirmed))

	raw, err := json.Marshal(rec.events[0])
	require.NoError(t, err)

	var got *models.OrderStatusChangedEvent
	eh := NewEventHandler()
	eh.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		got = e
		return nil
	})

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: raw}))
	require.NotNil(t, got)
	assert.Equal(t, "o1", got.OrderID)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)

	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"OTHER"}`)}))
}
