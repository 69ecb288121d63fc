package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"loginrelay/internal/config"
	"loginrelay/internal/model"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish keys messages by user id so one user's logins stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var key []byte
	var ev model.LoginEvent
	if json.Unmarshal(env.Payload, &ev) == nil && ev.UserID != 0 {
		key = []byte(strconv.FormatInt(ev.UserID, 10))
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func StartKafka(ctx context.Context, cfg config.KafkaConfig, out chan<- model.Envelope, logger *slog.Logger) {
	if logger != nil {
		logger.Info("kafka broadcast listener enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			env, err := decodeEnvelope(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka message is not an envelope", "offset", m.Offset, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, env, logger)
		}
	}()
}
