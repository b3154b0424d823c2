package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability/logging"
)

// ConsumerConfig selects the topics to follow.
type ConsumerConfig struct {
	Brokers  []string
	Topics   []string
	Lookback time.Duration // Replay window on start
	Clock    clock.Clock
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	SetOffsetAt(ctx context.Context, t time.Time) error
	Close() error
}

// Consumer reads change events from Kafka and hands them to a sink.
type Consumer struct {
	cfg       ConsumerConfig
	newReader func(topic string) messageReader
	log       zerolog.Logger
}

// NewConsumer creates a consumer reading partition 0 of each topic without a
// consumer group, so every viewer sees every event.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	return &Consumer{
		cfg: cfg,
		newReader: func(topic string) messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		log: logging.WithComponent("viewer"),
	}
}

// Run consumes every topic until ctx is done, passing decoded events to sink.
// sink may be called from several goroutines.
func (c *Consumer) Run(ctx context.Context, sink func(Event)) error {
	if len(c.cfg.Topics) == 0 {
		return errors.New("no topics to consume")
	}
	done := make(chan struct{}, len(c.cfg.Topics))
	for _, topic := range c.cfg.Topics {
		go func(topic string) {
			defer func() { done <- struct{}{} }()
			c.consume(ctx, topic, sink)
		}(topic)
	}
	for range c.cfg.Topics {
		<-done
	}
	return ctx.Err()
}

func (c *Consumer) consume(ctx context.Context, topic string, sink func(Event)) {
	reader := c.newReader(topic)
	defer reader.Close()

	log := c.log.With().Str("topic", topic).Logger()
	if err := reader.SetOffsetAt(ctx, c.cfg.Clock.Now().Add(-c.cfg.Lookback)); err != nil {
		log.Warn().Err(err).Msg("Failed to seek, reading from current offset")
	}
	log.Info().Dur("lookback", c.cfg.Lookback).Msg("Consuming topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-c.cfg.Clock.After(time.Second):
			}
			continue
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		log.Debug().Str("eventType", ev.EventType).Str("segmentId", ev.SegmentID).Msg("Received event")
		sink(ev)
	}
}

// Decode parses a published change event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.EventType {
	case models.EventTypeOCRUpdated, models.EventTypeTranscriptPartial, models.EventTypeTranscriptFinal:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.EventType)
	}
}
