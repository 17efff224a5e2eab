package notify

import "github.com/alanyoungcy/bandbot/internal/domain"

// NewSenderFactory returns a SenderFactory that maps subscribers to concrete
// channel senders. Telegram subscribers share the configured bot token;
// Discord subscribers carry their webhook URL in Address.
func NewSenderFactory(telegramToken string) SenderFactory {
	return func(sub domain.Subscriber) Sender {
		switch sub.Channel {
		case "telegram":
			if telegramToken == "" {
				return nil
			}
			return NewTelegramSender(telegramToken, sub.Address)
		case "discord":
			return NewDiscordSender(sub.Address)
		default:
			return nil
		}
	}
}
