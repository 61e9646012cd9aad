//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupBrokers(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("crmflow-test"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	return brokers
}

func createTopic(t *testing.T, brokers []string, topic string) {
	t.Helper()

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0

	admin, err := sarama.NewClusterAdmin(brokers, config)
	require.NoError(t, err)

	defer admin.Close()

	require.NoError(t, admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false))
}

func TestIntegration_CreateChannel_RoundTrip(t *testing.T) {
	brokers := setupBrokers(t)
	createTopic(t, brokers, "workflow.saved")

	publisher, subscriber, err := CreateChannel(watermill.NopLogger{}, "crmflow-test", brokers)
	require.NoError(t, err)

	defer publisher.Close()
	defer subscriber.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	messages, err := subscriber.Subscribe(ctx, "workflow.saved")
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"id":"wf-1"}`))
	require.NoError(t, publisher.Publish("workflow.saved", msg))

	select {
	case received := <-messages:
		received.Ack()
		assert.Equal(t, msg.UUID, received.UUID)
		assert.JSONEq(t, `{"id":"wf-1"}`, string(received.Payload))
	case <-ctx.Done():
		t.Fatal("timed out waiting for the message")
	}
}
