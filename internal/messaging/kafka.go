package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/pkg/models"
)

const (
	EventPriceUpdate   = "price_update"
	EventProductUpsert = "product_upsert"
)

// CatalogEvent is one change from the catalog feed.
type CatalogEvent struct {
	EventID    uuid.UUID                   `json:"event_id"`
	Type       string                      `json:"type"`
	Update     models.CatalogUpdateRequest `json:"update"`
	Timestamp  time.Time                   `json:"timestamp"`
	RetryCount int                         `json:"retry_count"`
}

// NewCatalogEvent wraps an update, deriving the event type from its content.
func NewCatalogEvent(update models.CatalogUpdateRequest) CatalogEvent {
	eventType := EventPriceUpdate
	if update.Product != nil {
		eventType = EventProductUpsert
	}
	return CatalogEvent{
		EventID:   uuid.New(),
		Type:      eventType,
		Update:    update,
		Timestamp: time.Now(),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageBus publishes and consumes catalog events.
type MessageBus struct {
	writer     messageWriter
	reader     messageReader
	dlqWriter  messageWriter
	topic      string
	dlqTopic   string
	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	topic := cfg.Kafka.Topics.CatalogUpdates

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Key by product id to keep per-product ordering
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.DeadLetter,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newMessageBus(writer, reader, dlqWriter, topic, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.MaxRetries, logger), nil
}

func newMessageBus(writer messageWriter, reader messageReader, dlqWriter messageWriter, topic, dlqTopic string, maxRetries int, logger *logrus.Logger) *MessageBus {
	return &MessageBus{
		writer:     writer,
		reader:     reader,
		dlqWriter:  dlqWriter,
		topic:      topic,
		dlqTopic:   dlqTopic,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// PublishCatalogUpdate writes an update to the catalog topic.
func (mb *MessageBus) PublishCatalogUpdate(ctx context.Context, update models.CatalogUpdateRequest) (uuid.UUID, error) {
	event := NewCatalogEvent(update)

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(update.ProductID),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to publish catalog event")
		return uuid.Nil, fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"product_id": update.ProductID,
		"topic":      mb.topic,
	}).Info("Catalog event published")

	return event.EventID, nil
}

// ConsumeCatalogUpdates reads events until ctx is cancelled. Events that keep
// failing are moved to the dead letter topic.
func (mb *MessageBus) ConsumeCatalogUpdates(ctx context.Context, handler func(context.Context, CatalogEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := mb.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		if err := mb.handleMessage(ctx, message, handler); err != nil {
			mb.logger.WithError(err).Error("Failed to handle catalog message")
		}
	}
}

func (mb *MessageBus) handleMessage(ctx context.Context, message kafka.Message, handler func(context.Context, CatalogEvent) error) error {
	var event CatalogEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		mb.logger.WithError(err).Error("Failed to unmarshal catalog event")
		return mb.sendToDLQ(ctx, message.Value, string(message.Key), err)
	}

	if err := mb.processWithRetry(ctx, event, handler); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		mb.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to process catalog event after retries")
		return mb.sendToDLQ(ctx, message.Value, event.EventID.String(), err)
	}
	return nil
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event CatalogEvent, handler func(context.Context, CatalogEvent) error) error {
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying catalog event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		err := handler(ctx, event)
		if err == nil {
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
			}).Debug("Catalog event processed")
			return nil
		}

		if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("permanent failure: %w", err)
		}

		mb.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": event.EventID,
			"attempt":  attempt,
		}).Warn("Catalog event processing failed")

		if attempt == mb.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, payload []byte, key string, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(payloadOrNull(payload)),
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(key),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"key":   key,
		"topic": mb.dlqTopic,
		"error": originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

// payloadOrNull keeps malformed payloads embeddable as JSON.
func payloadOrNull(payload []byte) []byte {
	if json.Valid(payload) {
		return payload
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}
