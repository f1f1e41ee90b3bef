package events

import (
	"context"
	"fmt"
	"log/slog"

	"sarkari-pulse/logger"
	"sarkari-pulse/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// messageSender is the part of *tgbotapi.BotAPI the publisher uses
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPublisher posts run start and completion messages to a chat.
// Progress events are only logged to keep the chat readable.
type TelegramPublisher struct {
	bot    messageSender
	chatID int64
	logger *slog.Logger
}

// NewTelegramPublisher creates a bot client for token and posts to chatID
func NewTelegramPublisher(token string, chatID int64) (*TelegramPublisher, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramPublisher(bot, chatID), nil
}

func newTelegramPublisher(bot messageSender, chatID int64) *TelegramPublisher {
	return &TelegramPublisher{
		bot:    bot,
		chatID: chatID,
		logger: logger.WithComponent("telegram-events"),
	}
}

// Publish implements Publisher
func (p *TelegramPublisher) Publish(ctx context.Context, e Event) error {
	text := formatMessage(e)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(p.chatID, text)
	msg.ParseMode = "HTML"
	if _, err := p.bot.Send(msg); err != nil {
		p.logger.Warn("failed to send status update", "type", e.Type, "error", err)
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// Close implements Publisher
func (p *TelegramPublisher) Close() error { return nil }

func formatMessage(e Event) string {
	switch e.Type {
	case RunStarted:
		n := 0
		if d, ok := e.Data.(StartedData); ok {
			n = len(d.Strategies)
		}
		return fmt.Sprintf("🔄 Scheme scrape <code>%s</code> started with %d strategies...", e.RunID, n)
	case RunCompleted:
		r, ok := e.Data.(*models.RunReport)
		if !ok {
			return ""
		}
		return fmt.Sprintf(
			"✅ Scheme scrape <code>%s</code> finished\n\n"+
				"Found: %d\n"+
				"New: %d\n"+
				"Updated: %d\n"+
				"Errors: %d\n"+
				"Rejected: %d\n"+
				"Pages fetched: %d",
			r.RunID, r.FoundCount, r.SavedCount, r.UpdatedCount, r.ErrorCount, r.RejectedCount, r.PagesFetched)
	}
	return ""
}
