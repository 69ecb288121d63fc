package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"loginrelay/internal/model"
)

type RedisPublisher struct {
	client  *redis.Client
	channel string
	owned   bool
}

func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: redis.NewClient(opts), channel: channel, owned: true}, nil
}

func NewRedisPublisherFromClient(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

func (p *RedisPublisher) Publish(ctx context.Context, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

func (p *RedisPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

// StartRedis subscribes to channel and forwards every decodable envelope.
func StartRedis(ctx context.Context, client *redis.Client, channel string, out chan<- model.Envelope, logger *slog.Logger) {
	if logger != nil {
		logger.Info("redis broadcast listener enabled", "channel", channel)
	}
	sub := client.Subscribe(ctx, channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := decodeEnvelope([]byte(msg.Payload))
				if err != nil {
					if logger != nil {
						logger.Warn("redis message is not an envelope", "err", err)
					}
					continue
				}
				SendNonBlocking(ctx, out, env, logger)
			}
		}
	}()
}
