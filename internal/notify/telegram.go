package notify

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram delivers reminders through a Telegram bot. The member's contact
// address is their numeric chat id.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(botToken string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Send(contactAddress, message string) error {
	chatID, err := strconv.ParseInt(contactAddress, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: contact address %q is not a chat id", contactAddress)
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
