package stream

import (
	"encoding/json"
	"testing"

	"warung/internal/models"
	"warung/internal/repositories"
	"warung/internal/services"
	"warung/pkg/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventEnvelope(t *testing.T) {
	event := models.OrderEvent{OrderID: "O1", NewState: models.StateConfirmed, Version: 2}

	key, msg, err := encodeEvent("merchant-1", event)
	require.NoError(t, err)

	// The key must match the queue binding order.*.<actorID>.
	assert.Equal(t, "order.confirmed.merchant-1", key)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	_, err = uuid.Parse(msg.MessageId)
	assert.NoError(t, err, "message id must be a valid uuid")

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, event, decoded)
}

// A published event, decoded the way the consumer decodes it, must merge
// into the store.
func TestPublishedEventMergesOnConsume(t *testing.T) {
	payload := models.OrderRecord{
		ID:      "O1",
		State:   models.StateConfirmed,
		Actors:  models.OrderActors{ClientID: "client-1", MerchantID: "merchant-1"},
		Version: 2,
	}
	event := models.OrderEvent{OrderID: "O1", NewState: models.StateConfirmed, Version: 2, Payload: &payload}

	_, msg, err := encodeEvent("merchant-1", event)
	require.NoError(t, err)

	store := repositories.NewOrderStore(models.RoleMerchant)
	m := metrics.NewReconcilerMetrics(prometheus.NewRegistry())
	engine := services.NewReconcilerService(store, nil, nil, m, models.RoleMerchant, "merchant-1", false)

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	require.NoError(t, engine.HandleEvent(decoded))

	got, err := store.Get("O1")
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestPublishWithoutChannel(t *testing.T) {
	c := &Client{}
	err := c.Publish("merchant-1", models.OrderEvent{OrderID: "O1", NewState: models.StatePending})
	assert.Error(t, err)
}
