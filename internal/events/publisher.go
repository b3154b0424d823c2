// Package events publishes OCR and transcript change events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability/metrics"
	"ai-stream-fusion-service/internal/schema"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes change events to one Kafka topic per event type.
// When disabled it only logs the payloads.
type Publisher struct {
	writerOCR     messageWriter
	writerPartial messageWriter
	writerFinal   messageWriter
	principal     string
	topicOCR      string
	topicPartial  string
	topicFinal    string
	enabled       bool
	validator     *schema.Validator
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicOCR     string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list selects log-only mode.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicOCR = cfg.TopicOCR
	p.topicPartial = cfg.TopicPartial
	p.topicFinal = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	p.writerOCR = newWriter(cfg.TopicOCR)
	p.writerPartial = newWriter(cfg.TopicPartial)
	p.writerFinal = newWriter(cfg.TopicFinal)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicOCR", cfg.TopicOCR).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// PublishOCR publishes an OCR change keyed by session ID.
func (p *Publisher) PublishOCR(ctx context.Context, ev models.OCRUpdate) error {
	return p.publish(ctx, p.writerOCR, p.topicOCR, ev.EventType, ev.SessionID, ev)
}

// PublishTranscript publishes a transcript change to the partial or final
// topic, keyed by segment ID so revisions of one utterance stay ordered.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptUpdate) error {
	if ev.Final {
		return p.publish(ctx, p.writerFinal, p.topicFinal, ev.EventType, ev.SegmentID, ev)
	}
	return p.publish(ctx, p.writerPartial, p.topicPartial, ev.EventType, ev.SegmentID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Dropping invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("invalid %s event: %w", eventType, err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes every Kafka writer and returns all close errors.
func (p *Publisher) Close() error {
	var result *multierror.Error
	for name, w := range map[string]messageWriter{"ocr": p.writerOCR, "partial": p.writerPartial, "final": p.writerFinal} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("writer", name).Msg("Error closing Kafka writer")
			result = multierror.Append(result, fmt.Errorf("close %s writer: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
