package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes, which
// fits a prefix and a record id.
const (
	prefixBooksPage   = "bpage:"
	prefixPick        = "pick:"
	prefixStatus      = "status:"
	prefixDelete      = "del:"
	prefixSuggestPage = "spage:"
	prefixSuggestAdd  = "sadd:"
)

func (b *Bot) handleBooksPageCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	page, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixBooksPage))
	if err != nil {
		return
	}
	b.sendBooksPage(ctx, query.Message.Chat.ID, query.From.ID, page)
}

func (b *Bot) handleSuggestPageCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	page, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixSuggestPage))
	if err != nil {
		return
	}
	b.sendSuggestPage(ctx, query.Message.Chat.ID, page)
}

// handlePickCallback shows a book with its status and delete buttons
func (b *Bot) handlePickCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	bookID := strings.TrimPrefix(query.Data, prefixPick)

	lib, err := b.library(ctx, query.From.ID)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	book, ok := lib.Book(bookID)
	if !ok {
		b.sendError(chatID, domainerrors.NotFound("book not found"))
		return
	}

	var statusRow []tgbotapi.InlineKeyboardButton
	for _, status := range models.Statuses {
		if status == book.Status {
			continue
		}
		statusRow = append(statusRow, tgbotapi.NewInlineKeyboardButtonData(
			statusLabel(status),
			prefixStatus+string(status)+":"+book.ID,
		))
	}

	msg := tgbotapi.NewMessage(chatID, formatBookDetails(book))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		statusRow,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🗑 Remove", prefixDelete+book.ID)),
	)
	b.sendMessage(msg)
}

// handleStatusCallback changes the status of a book. Completing a book first
// asks for a rating.
func (b *Bot) handleStatusCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	status, bookID, ok := strings.Cut(strings.TrimPrefix(query.Data, prefixStatus), ":")
	if !ok || !models.Status(status).Valid() {
		return
	}

	if models.Status(status) == models.StatusCompleted {
		b.setState(query.From.ID, &ConversationState{
			Command: "rate",
			Step:    1,
			Data:    map[string]interface{}{"book_id": bookID},
		})
		b.sendText(chatID, "⭐ How would you rate it? Send a number from 1 to 5.")
		return
	}

	b.applyPatch(ctx, chatID, query.From.ID, bookID, models.Patch{Status: models.Ptr(models.Status(status))})
}

func (b *Bot) handleDeleteCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	bookID := strings.TrimPrefix(query.Data, prefixDelete)

	lib, err := b.library(ctx, query.From.ID)
	if err != nil {
		b.sendError(chatID, err)
		return
	}

	title := bookID
	if book, ok := lib.Book(bookID); ok {
		title = book.Title
	}
	if err := lib.Remove(ctx, bookID); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("🗑 Removed: %s", title))
}

// handleSuggestAddCallback copies a catalog entry into the user's library
func (b *Bot) handleSuggestAddCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID

	id, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixSuggestAdd))
	if err != nil {
		return
	}
	entry, ok := b.catalog.Entry(id)
	if !ok {
		b.sendError(chatID, domainerrors.NotFound("catalog entry not found"))
		return
	}

	book, err := b.addDraft(ctx, query.From.ID, entry.Draft(models.StatusPlanned))
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("✅ Added to your library!\n\n%s", formatBookDetails(book)))
}

func (b *Bot) applyPatch(ctx context.Context, chatID, userID int64, bookID string, patch models.Patch) {
	lib, err := b.library(ctx, userID)
	if err != nil {
		b.sendError(chatID, err)
		return
	}

	book, err := lib.Update(ctx, bookID, patch)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("✏️ Updated!\n\n%s", formatBookDetails(book)))
}
