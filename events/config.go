package events

import (
	"errors"
	"fmt"

	"sarkari-pulse/config"
)

// ErrTelegramNotConfigured is returned when the telegram transport is
// selected without a bot token or chat id
var ErrTelegramNotConfigured = errors.New("telegram transport needs telegram.bot_token and telegram.chat_id")

// FromConfig builds the publisher for the configured transports. broker,
// when not nil, is always included so in-process subscribers see events.
// The caller keeps ownership of broker.
func FromConfig(cfg *config.Config, broker *Broker) (Publisher, error) {
	var created Multi
	fail := func(err error) (Publisher, error) {
		created.Close()
		return nil, err
	}

	for _, transport := range cfg.Broadcast.Transports {
		switch transport {
		case "log":
			created = append(created, NewLogPublisher())
		case "redis":
			p, err := NewRedisPublisher(cfg.Redis)
			if err != nil {
				return fail(fmt.Errorf("redis transport: %w", err))
			}
			created = append(created, p)
		case "kafka":
			created = append(created, NewKafkaPublisher(cfg.Kafka))
		case "telegram":
			if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
				return fail(ErrTelegramNotConfigured)
			}
			p, err := NewTelegramPublisher(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
			if err != nil {
				return fail(fmt.Errorf("telegram transport: %w", err))
			}
			created = append(created, p)
		default:
			return fail(fmt.Errorf("%w: %q", config.ErrInvalidTransport, transport))
		}
	}

	if broker == nil {
		return created, nil
	}
	return append(Multi{brokerRef{broker}}, created...), nil
}

// brokerRef publishes to a broker without taking ownership of it
type brokerRef struct{ *Broker }

func (brokerRef) Close() error { return nil }
