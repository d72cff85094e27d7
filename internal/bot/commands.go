package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/filter"
	"bookshelf/internal/library"
	"bookshelf/internal/models"
)

const helpText = `Available commands:
/books [page] - Your library, newest first
/add - Add a book
/stats - Reading statistics
/suggest [page] - Suggested books from the catalog
/delete - Remove a book
/refresh - Reload your library
/logout - Sign out`

// handleStart signs the user in and loads their library
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	lib, err := b.library(ctx, message.From.ID)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}

	text := fmt.Sprintf("Welcome to your home library! 📚\nYou have %d book(s).\n\n%s", len(lib.Books()), helpText)
	b.sendText(message.Chat.ID, text)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	b.sendText(message.Chat.ID, helpText)
}

// handleBooks shows one page of the user's library
func (b *Bot) handleBooks(ctx context.Context, message *tgbotapi.Message) {
	b.sendBooksPage(ctx, message.Chat.ID, message.From.ID, pageArgument(message))
}

// handleAddStart initiates the add book conversation
func (b *Bot) handleAddStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{
		Command: "add",
		Step:    1,
		Data:    make(map[string]interface{}),
	})
	b.sendText(message.Chat.ID, "Please enter the book title:")
}

// handleStats shows the statistics of the user's library
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	lib, err := b.library(ctx, message.From.ID)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}

	stats := lib.Statistics()
	var text strings.Builder
	text.WriteString("📊 Reading Statistics\n\n")
	text.WriteString(fmt.Sprintf("📚 Books: %d\n", stats.Total))
	text.WriteString(fmt.Sprintf("✅ Completed: %d\n", stats.Completed))
	text.WriteString(fmt.Sprintf("📖 Reading: %d\n", stats.Reading))
	text.WriteString(fmt.Sprintf("🗓 Planned: %d\n", stats.Planned))
	text.WriteString(fmt.Sprintf("📄 Pages read: %d\n", stats.TotalPages))
	if stats.AverageRating > 0 {
		text.WriteString(fmt.Sprintf("⭐ Average rating: %.1f\n", stats.AverageRating))
	}
	b.sendText(message.Chat.ID, text.String())
}

// handleSuggest shows one page of the catalog
func (b *Bot) handleSuggest(ctx context.Context, message *tgbotapi.Message) {
	b.sendSuggestPage(ctx, message.Chat.ID, pageArgument(message))
}

// handleDeleteStart lists the user's books as delete buttons
func (b *Bot) handleDeleteStart(ctx context.Context, message *tgbotapi.Message) {
	lib, err := b.library(ctx, message.From.ID)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}

	books := lib.Books()
	if len(books) == 0 {
		b.sendText(message.Chat.ID, "Your library is empty.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, book := range books {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 "+book.Title, prefixDelete+book.ID),
		))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, "Select a book to remove:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.sendMessage(msg)
}

// handleRefresh reloads the user's library from the store
func (b *Bot) handleRefresh(ctx context.Context, message *tgbotapi.Message) {
	lib, err := b.library(ctx, message.From.ID)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}

	if err := lib.Refresh(ctx); err != nil && !domainerrors.Is(err, library.ErrLoadSuperseded) {
		b.sendError(message.Chat.ID, err)
		return
	}
	b.sendText(message.Chat.ID, fmt.Sprintf("Library reloaded: %d book(s).", len(lib.Books())))
}

// handleLogout ends the user's session
func (b *Bot) handleLogout(message *tgbotapi.Message) {
	b.registry.SignOut(UserUID(message.From.ID))
	b.sendText(message.Chat.ID, "Signed out. Use /start to sign in again.")
}

func (b *Bot) sendBooksPage(ctx context.Context, chatID, userID int64, page int) {
	lib, err := b.library(ctx, userID)
	if err != nil {
		b.sendError(chatID, err)
		return
	}

	view, err := b.engine.Books(lib.Books(), filter.Spec{}, page)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	if view.Total == 0 {
		b.sendText(chatID, "Your library is empty. Add a book with /add or pick one from /suggest.")
		return
	}
	if len(view.Items) == 0 {
		b.sendText(chatID, fmt.Sprintf("There are only %d page(s).", view.TotalPages))
		return
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("📚 Your library (page %d of %d)\n\n", view.Page, view.TotalPages))
	offset := (view.Page - 1) * view.PageSize

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, book := range view.Items {
		text.WriteString(fmt.Sprintf("%d. %s\n", offset+i+1, formatBookLine(book)))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(book.Title, prefixPick+book.ID),
		))
	}
	if nav := pageRow(prefixBooksPage, view.Page, view.TotalPages); len(nav) > 0 {
		rows = append(rows, nav)
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.sendMessage(msg)
}

func (b *Bot) sendSuggestPage(_ context.Context, chatID int64, page int) {
	view, err := b.engine.Catalog(b.catalog.Entries(), filter.Spec{SortBy: filter.SortLatest}, page)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	if len(view.Items) == 0 {
		b.sendText(chatID, "No suggestions on this page.")
		return
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("💡 Suggested books (page %d of %d)\n\n", view.Page, view.TotalPages))

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, entry := range view.Items {
		text.WriteString(fmt.Sprintf("• %s - %s (%d pages)\n", entry.Title, entry.Author, entry.Pages))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ "+entry.Title, fmt.Sprintf("%s%d", prefixSuggestAdd, entry.ID)),
		))
	}
	if nav := pageRow(prefixSuggestPage, view.Page, view.TotalPages); len(nav) > 0 {
		rows = append(rows, nav)
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.sendMessage(msg)
}

// library returns the collection of a Telegram user, signing them in on first use
func (b *Bot) library(ctx context.Context, userID int64) (*library.Synchronizer, error) {
	lib, err := b.registry.Acquire(ctx, UserUID(userID))
	if err != nil {
		b.logger.Warn("Library unavailable", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return lib, nil
}

// addDraft adds draft to the user's library. Rejected drafts do not count
// against the create limit.
func (b *Bot) addDraft(ctx context.Context, userID int64, draft models.Draft) (models.Book, error) {
	uid := UserUID(userID)
	reservation, err := b.limiter.Reserve(uid)
	if err != nil {
		return models.Book{}, err
	}

	lib, err := b.library(ctx, userID)
	if err != nil {
		reservation.Cancel()
		return models.Book{}, err
	}

	book, err := lib.Add(ctx, draft)
	if err != nil {
		reservation.Cancel()
		return models.Book{}, err
	}
	b.logger.Info("Book added", zap.String("uid", uid), zap.String("book_id", book.ID))
	return book, nil
}
