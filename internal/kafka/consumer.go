package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/IBM/sarama"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/detector"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

// clientMessage is the payload carried on the client-messages topic.
type clientMessage struct {
	MessageID   string `json:"messageId"`
	ClientID    string `json:"clientId"`
	CounselorID string `json:"counselorId"`
	Text        string `json:"text"`
}

// Consumer reads platform topics and feeds the in-process bus. Client
// messages are run through the safety detector before anything is published;
// domain topics are republished verbatim under their mapped event type.
type Consumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	cfg      config.KafkaConfig
	detector *detector.LayeredDetector
	bus      *event.Bus
	logger   *slog.Logger
	metrics  *metrics.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a Kafka consumer group over the configured topics.
func NewConsumer(
	cfg config.KafkaConfig,
	safetyDetector *detector.LayeredDetector,
	bus *event.Bus,
	logger *slog.Logger,
	collector *metrics.Collector,
) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topics := make([]string, 0, len(cfg.Topics.Domain)+1)
	if cfg.Topics.ClientMessages != "" {
		topics = append(topics, cfg.Topics.ClientMessages)
	}
	for topic := range cfg.Topics.Domain {
		topics = append(topics, topic)
	}

	return &Consumer{
		group:    group,
		topics:   topics,
		cfg:      cfg,
		detector: safetyDetector,
		bus:      bus,
		logger:   logger,
		metrics:  collector,
	}, nil
}

// Start begins consuming in the background until Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.topics) == 0 {
		return fmt.Errorf("no kafka topics configured")
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.Error("Kafka consume error", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer group error", "error", err)
		}
	}()

	c.logger.Info("Kafka consumer started", "topics", c.topics, "group_id", c.cfg.GroupID)
	return nil
}

// Stop shuts the consumer down and waits for in-flight work.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	c.logger.Info("Kafka consumer stopped")
	return err
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages from one partition claim. Malformed
// messages are logged and committed so a bad record cannot wedge the
// partition.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if message.Topic == c.cfg.Topics.ClientMessages {
			c.handleClientMessage(session.Context(), message)
		} else {
			c.handleDomainMessage(message)
		}
		session.MarkMessage(message, "")
	}
	return nil
}

// handleClientMessage runs a client message through the safety detector and
// publishes crisis.detected when the crisis category fires. The grief pass
// runs for observability only; there is no grief event type.
func (c *Consumer) handleClientMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var msg clientMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		c.logger.Warn("Dropping malformed client message",
			"topic", message.Topic,
			"offset", message.Offset,
			"error", err)
		return
	}

	for _, category := range []detector.Category{detector.CategoryCrisis, detector.CategoryGrief} {
		result := c.detector.Detect(ctx, msg.Text, category)
		if result.Confidence == detector.ConfidenceLow {
			// Low confidence only arises from a classifier fallback.
			c.metrics.ClassifierFailures.Inc()
		}
		c.metrics.DetectionsTotal.WithLabelValues(
			string(category),
			string(result.Method),
			string(result.Confidence),
			strconv.FormatBool(result.IsDetected),
		).Inc()

		if category == detector.CategoryCrisis && result.IsDetected {
			c.metrics.EventsPublished.WithLabelValues(event.TypeCrisisDetected).Inc()
			c.bus.Publish(event.TypeCrisisDetected, map[string]interface{}{
				"clientId":    msg.ClientID,
				"messageId":   msg.MessageID,
				"counselorId": msg.CounselorID,
				"method":      string(result.Method),
				"confidence":  string(result.Confidence),
			})
		}
	}
}

// handleDomainMessage republishes a platform topic message as its mapped bus
// event.
func (c *Consumer) handleDomainMessage(message *sarama.ConsumerMessage) {
	eventType, ok := c.cfg.Topics.Domain[message.Topic]
	if !ok {
		c.logger.Warn("Message from unmapped topic", "topic", message.Topic)
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		c.logger.Warn("Dropping malformed domain message",
			"topic", message.Topic,
			"offset", message.Offset,
			"error", err)
		return
	}

	c.metrics.EventsPublished.WithLabelValues(eventType).Inc()
	c.bus.Publish(eventType, payload)
}
