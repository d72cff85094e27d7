package bot

import (
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	"bookshelf/internal/filter"
	"bookshelf/internal/ratelimit"
	"bookshelf/internal/session"
)

// messenger is the part of the Telegram API the handlers talk to
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the services the bot works with
type Deps struct {
	Registry *session.Registry
	Engine   *filter.Engine
	Catalog  *catalog.Catalog
	Limiter  *ratelimit.KeyedLimiter
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI
	sender       messenger
	registry     *session.Registry
	engine       *filter.Engine
	catalog      *catalog.Catalog
	limiter      *ratelimit.KeyedLimiter
	allowedUsers map[int64]bool
	states       map[int64]*ConversationState
	statesMu     sync.Mutex
	logger       *zap.Logger
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}

// stepDone marks a finished conversation
const stepDone = -1

// UserUID is the library owner id of a Telegram user
func UserUID(telegramID int64) string {
	return "tg:" + strconv.FormatInt(telegramID, 10)
}
