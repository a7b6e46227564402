package models

// TelegramConfig holds the bot credentials and the destination chat.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}
