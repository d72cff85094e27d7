package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.sendText(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID
	ctx := context.Background()

	if state := b.state(userID); state != nil {
		if state.Step == stepDone || message.IsCommand() {
			// Any command interrupts an ongoing conversation
			b.clearState(userID)
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		b.sendText(message.Chat.ID, "Use /help to see available commands.")
		return
	}

	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "books":
		b.handleBooks(ctx, message)
	case "add":
		b.handleAddStart(message)
	case "stats":
		b.handleStats(ctx, message)
	case "suggest":
		b.handleSuggest(ctx, message)
	case "delete":
		b.handleDeleteStart(ctx, message)
	case "refresh":
		b.handleRefresh(ctx, message)
	case "logout":
		b.handleLogout(message)
	default:
		b.sendText(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	ctx := context.Background()

	// Answer the callback query to remove loading state
	if _, err := b.sender.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Debug("Failed to answer callback query", zap.Error(err))
	}
	if query.Message == nil {
		return
	}

	data := query.Data
	switch {
	case strings.HasPrefix(data, prefixBooksPage):
		b.handleBooksPageCallback(ctx, query)
	case strings.HasPrefix(data, prefixPick):
		b.handlePickCallback(ctx, query)
	case strings.HasPrefix(data, prefixStatus):
		b.handleStatusCallback(ctx, query)
	case strings.HasPrefix(data, prefixDelete):
		b.handleDeleteCallback(ctx, query)
	case strings.HasPrefix(data, prefixSuggestPage):
		b.handleSuggestPageCallback(ctx, query)
	case strings.HasPrefix(data, prefixSuggestAdd):
		b.handleSuggestAddCallback(ctx, query)
	}
}

func (b *Bot) state(userID int64) *ConversationState {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	return b.states[userID]
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
