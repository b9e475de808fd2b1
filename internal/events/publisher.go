// Package events publishes transcript updates to Kafka, with partial and
// final updates on separate topics so downstream consumers can subscribe to
// just the finalized stream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

// Config holds Kafka publisher configuration. Empty Brokers disables
// publishing; events are then logged only.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	SessionID    string
}

// Publisher routes transcript entries to the partial or final topic.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	topicPartial  string
	topicFinal    string
	sessionID     string
	enabled       bool
	m             *metrics.Metrics
}

// New creates a publisher. With no brokers configured it runs in log-only
// mode so the rest of the pipeline is unaffected.
func New(cfg Config) *Publisher {
	p := &Publisher{
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		sessionID:    cfg.SessionID,
		m:            metrics.Default,
	}
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, transcript events are log-only")
		return p
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.writerPartial = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicPartial,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	p.writerFinal = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Msg("Kafka publisher initialized")
	return p
}

// Publish routes one transcript entry. Partial speech turns go to the
// partial topic; completed turns and tool invocations to the final topic.
// Wire it as the timing controller's notifier.
func (p *Publisher) Publish(entry transcript.Entry) {
	topic := p.topicFinal
	writer := p.writerFinal
	if t, ok := entry.(*transcript.SpeechTurn); ok && t.Partial {
		topic = p.topicPartial
		writer = p.writerPartial
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to marshal transcript event")
		return
	}

	log.Debug().Str("topic", topic).RawJSON("payload", payload).Msg("transcript event")

	if !p.enabled || writer == nil {
		return
	}

	msg := kafka.Message{
		Key:   []byte(p.sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "sessionId", Value: []byte(p.sessionID)},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to write to Kafka")
		p.m.KafkaPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	p.m.KafkaPublishTotal.WithLabelValues(topic).Inc()
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			err = e
		}
	}
	return err
}
