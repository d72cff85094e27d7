package bot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
	"bookshelf/internal/models"
)

func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// sendError tells the user what went wrong in plain words
func (b *Bot) sendError(chatID int64, err error) {
	b.sendText(chatID, "❌ "+errorText(err))
}

func errorText(err error) string {
	var domainErr *domainerrors.Error
	if !domainerrors.As(err, &domainErr) {
		return "Something went wrong. Please try again."
	}

	switch domainErr.Code {
	case domainerrors.CodeDuplicateRecord:
		return "This book is already in your library."
	case domainerrors.CodeRateLimited:
		return "You are adding books too quickly. Please wait a minute."
	case domainerrors.CodeNotFound:
		return "That book is no longer in your library."
	case domainerrors.CodeBusy:
		return "That book is still being saved. Please try again."
	case domainerrors.CodeStoreUnavailable, domainerrors.CodeNotReady:
		return "Your library is unavailable right now. Please try /refresh later."
	case domainerrors.CodeValidation:
		if details, ok := domainErr.Details.(map[string]string); ok && len(details) > 0 {
			fields := make([]string, 0, len(details))
			for field := range details {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			lines := make([]string, 0, len(fields))
			for _, field := range fields {
				lines = append(lines, fmt.Sprintf("%s %s", field, details[field]))
			}
			return "Invalid book: " + strings.Join(lines, "; ")
		}
		return domainErr.Message
	default:
		return "Something went wrong. Please try again."
	}
}

func statusLabel(status models.Status) string {
	switch status {
	case models.StatusPlanned:
		return "🗓 Planned"
	case models.StatusReading:
		return "📖 Reading"
	case models.StatusCompleted:
		return "✅ Completed"
	default:
		return string(status)
	}
}

func formatBookLine(book models.Book) string {
	line := fmt.Sprintf("%s - %s [%s]", book.Title, book.Author, statusLabel(book.Status))
	if book.Rating > 0 {
		line += " " + strings.Repeat("⭐", book.Rating)
	}
	return line
}

func formatBookDetails(book models.Book) string {
	var text strings.Builder
	text.WriteString(fmt.Sprintf("📕 %s\n", book.Title))
	text.WriteString(fmt.Sprintf("✍️ %s\n", book.Author))
	if book.Pages > 0 {
		text.WriteString(fmt.Sprintf("📄 %d pages\n", book.Pages))
	}
	if book.Category != "" {
		text.WriteString(fmt.Sprintf("🏷 %s\n", book.Category))
	}
	text.WriteString(fmt.Sprintf("Status: %s", statusLabel(book.Status)))
	if book.Status == models.StatusCompleted && book.Rating > 0 {
		text.WriteString(fmt.Sprintf("\nRating: %s", strings.Repeat("⭐", book.Rating)))
		if book.FinishedAt != "" {
			text.WriteString(fmt.Sprintf("\nFinished: %s", book.FinishedAt))
		}
	}
	return text.String()
}

// pageRow returns previous/next buttons, or nil for a single page
func pageRow(prefix string, page, totalPages int) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if page > 1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Previous", prefix+strconv.Itoa(page-1)))
	}
	if page < totalPages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", prefix+strconv.Itoa(page+1)))
	}
	return row
}

// pageArgument reads an optional page number after a command
func pageArgument(message *tgbotapi.Message) int {
	page, err := strconv.Atoi(strings.TrimSpace(message.CommandArguments()))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
