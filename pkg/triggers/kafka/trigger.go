// Package kafka provides the Kafka topic front door.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

const (
	sessionTimeout    = 10 * time.Second
	heartbeatInterval = 3 * time.Second
	retryInterval     = 5 * time.Second
)

type Trigger struct {
	Topic         string
	ConsumerGroup string
	Brokers       []string
	WorkflowID    string
	consumer      sarama.ConsumerGroup
	callback      protocol.TriggerCallback
	logger        *slog.Logger
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	topic, _ := config["topic"].(string)
	workflowID, _ := config["workflow_id"].(string)

	consumerGroup, _ := config["consumer_group"].(string)
	if consumerGroup == "" {
		consumerGroup = "synthralos-triggers"
	}

	brokersStr, _ := config["brokers"].(string)
	if brokersStr == "" {
		brokersStr = os.Getenv("KAFKA_BROKERS")
		if brokersStr == "" {
			brokersStr = "localhost:9092"
		}
	}

	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	trigger := &Trigger{
		Topic:         topic,
		ConsumerGroup: consumerGroup,
		Brokers:       brokers,
		WorkflowID:    workflowID,
		logger: logger.With(
			"module", "kafka_trigger",
			"topic", topic,
			"consumer_group", consumerGroup,
			"workflow_id", workflowID,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.Topic == "" {
		return errors.New("kafka trigger topic is required")
	}

	if t.WorkflowID == "" {
		return errors.New("kafka trigger workflow_id is required")
	}

	if len(t.Brokers) == 0 {
		return errors.New("kafka trigger brokers are required")
	}

	return nil
}

// Start joins the consumer group and blocks until the context is cancelled.
func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	t.logger.InfoContext(ctx, "Starting Kafka trigger")
	t.callback = callback

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = sessionTimeout
	config.Consumer.Group.Heartbeat.Interval = heartbeatInterval
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(t.Brokers, t.ConsumerGroup, config)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	t.consumer = consumer

	go t.monitorErrors(ctx)

	handler := &consumerGroupHandler{trigger: t}

	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Kafka trigger context cancelled")

			return t.Stop(context.Background())
		default:
			if err := t.consumer.Consume(ctx, []string{t.Topic}, handler); err != nil {
				t.logger.ErrorContext(ctx, "Kafka consumer error", "error", err)
				time.Sleep(retryInterval)
			}
		}
	}
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping Kafka trigger")

	if t.consumer != nil {
		if err := t.consumer.Close(); err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return err
		}
	}

	return nil
}

func (t *Trigger) monitorErrors(ctx context.Context) {
	for {
		select {
		case err := <-t.consumer.Errors():
			if err != nil {
				t.logger.ErrorContext(ctx, "Kafka consumer group error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

type consumerGroupHandler struct {
	trigger *Trigger
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.trigger.logger.InfoContext(session.Context(), "Kafka consumer group session started")

	return nil
}

func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.trigger.logger.InfoContext(session.Context(), "Kafka consumer group session ended")

	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	ctx := session.Context()

	for message := range claim.Messages() {
		h.trigger.logger.DebugContext(ctx, "Received Kafka message",
			"topic", message.Topic,
			"partition", message.Partition,
			"offset", message.Offset,
		)

		var messageData any

		if len(message.Value) > 0 {
			if err := json.Unmarshal(message.Value, &messageData); err != nil {
				messageData = map[string]any{"raw_message": string(message.Value)}
			}
		}

		headers := make(map[string]string)
		for _, header := range message.Headers {
			headers[string(header.Key)] = string(header.Value)
		}

		triggerData := map[string]any{
			"topic":     message.Topic,
			"partition": message.Partition,
			"offset":    message.Offset,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"key":       string(message.Key),
			"message":   messageData,
			"headers":   headers,
		}

		executionID, err := h.trigger.callback(ctx, h.trigger.WorkflowID, models.TriggerTypeKafka, triggerData)
		if err != nil {
			h.trigger.logger.ErrorContext(ctx, "Failed to start execution for Kafka message", "error", err)
		} else {
			h.trigger.logger.InfoContext(ctx, "Kafka message started execution", "execution_id", executionID)
		}

		session.MarkMessage(message, "")
	}

	return nil
}
