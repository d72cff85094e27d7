package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// NewBot creates a new Telegram bot
func NewBot(token string, deps Deps, allowedUserIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	b := newBot(api, deps, allowedUserIDs, logger)
	b.api = api
	return b, nil
}

func newBot(sender messenger, deps Deps, allowedUserIDs []int64, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range allowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		sender:       sender,
		registry:     deps.Registry,
		engine:       deps.Engine,
		catalog:      deps.Catalog,
		limiter:      deps.Limiter,
		allowedUsers: allowedUsers,
		states:       make(map[int64]*ConversationState),
		logger:       logger,
	}
}

// Token returns the bot token used to verify Mini App sign-ins
func (b *Bot) Token() string {
	if b.api == nil {
		return ""
	}
	return b.api.Token
}

// IsAllowed reports whether a Telegram user may use the bot
func (b *Bot) IsAllowed(telegramID int64) bool {
	return b.allowedUsers[telegramID]
}
