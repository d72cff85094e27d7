package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bookshelf/internal/models"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	userID := message.From.ID

	switch state.Command {
	case "add":
		b.handleAddConversation(ctx, message, state)
	case "rate":
		b.handleRateConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == stepDone {
		b.clearState(userID)
	}
}

// handleAddConversation asks for title, author and page count, then adds the book
func (b *Bot) handleAddConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)

	switch state.Step {
	case 1: // Waiting for title
		if text == "" {
			b.sendText(message.Chat.ID, "The title cannot be empty. Please enter the book title:")
			return
		}
		state.Data["title"] = text
		state.Step = 2
		b.sendText(message.Chat.ID, "Who is the author?")

	case 2: // Waiting for author
		if text == "" {
			b.sendText(message.Chat.ID, "The author cannot be empty. Who is the author?")
			return
		}
		state.Data["author"] = text
		state.Step = 3
		b.sendText(message.Chat.ID, "How many pages does it have? (send 0 if unknown)")

	case 3: // Waiting for page count
		draft := models.Draft{
			Title:  state.Data["title"].(string),
			Author: state.Data["author"].(string),
			Pages:  models.ParsePages(text),
			Status: models.StatusPlanned,
		}

		book, err := b.addDraft(ctx, message.From.ID, draft)
		if err != nil {
			b.sendError(message.Chat.ID, err)
		} else {
			b.sendText(message.Chat.ID, fmt.Sprintf("✅ Book added!\n\n%s", formatBookDetails(book)))
		}

		state.Step = stepDone
	}
}

// handleRateConversation completes a book once the user sends a rating
func (b *Bot) handleRateConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	rating, err := strconv.Atoi(strings.TrimSpace(message.Text))
	if err != nil || rating < 1 || rating > 5 {
		b.sendText(message.Chat.ID, "❌ Please send a rating from 1 to 5.")
		return
	}

	bookID := state.Data["book_id"].(string)
	patch := models.Patch{
		Status:     models.Ptr(models.StatusCompleted),
		Rating:     models.Ptr(rating),
		FinishedAt: models.Ptr(time.Now().Format("2006-01-02")),
	}
	b.applyPatch(ctx, message.Chat.ID, message.From.ID, bookID, patch)

	state.Step = stepDone
}
