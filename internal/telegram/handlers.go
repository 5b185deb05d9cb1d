package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-relay/internal/engine"
	"chat-relay/internal/stats"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "help", "start":
		b.replyText(msg, b.opts.HelpText)
	case "stats":
		b.cmdStats(msg)
	case "purge":
		b.cmdPurge(msg)
	case "fullpurge":
		b.cmdFullPurge(msg)
	case "users":
		b.cmdUsers(msg)
	case "regenerate":
		b.cmdRegenerate(ctx, msg)
	case "dump":
		b.cmdDump(msg)
	}
}

func (b *Bot) cmdStats(msg *tgbotapi.Message) {
	target := msg.From.ID
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if msg.From.ID != b.opts.OwnerID {
			b.replyText(msg, "Only the owner can inspect other users.")
			return
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			b.replyText(msg, "That doesn't look like a user id.")
			return
		}
		target = id
	}

	month := stats.MonthKey(time.Now())
	var sb strings.Builder
	fmt.Fprintf(&sb, "All time:\n%s\nThis month (%s):\n%s",
		b.formatTotals(b.stats.Global(), b.stats.Actor(target)),
		month,
		b.formatTotals(b.stats.Month(month), b.stats.MonthActor(month, target)))
	if n, err := b.eng.SavedCount(target); err == nil {
		fmt.Fprintf(&sb, "Saved interactions: %d", n)
	}
	b.replyText(msg, sb.String())
}

func (b *Bot) formatTotals(global, actor stats.Totals) string {
	return fmt.Sprintf(
		"  everyone: %d interactions, %d tokens ($%.4f)\n  you: %d interactions, %d tokens ($%.4f)\n",
		global.Interactions, global.Tokens, float64(global.Tokens)*b.opts.UsdPerToken,
		actor.Interactions, actor.Tokens, float64(actor.Tokens)*b.opts.UsdPerToken)
}

func (b *Bot) cmdPurge(msg *tgbotapi.Message) {
	n, err := b.eng.PurgeActor(msg.From.ID)
	if err != nil {
		log.Printf("purge for %d failed: %v", msg.From.ID, err)
		b.replyText(msg, "Something went wrong while purging.")
		return
	}
	b.replyText(msg, fmt.Sprintf("Removed %d of your saved interactions.", n))
}

func (b *Bot) cmdFullPurge(msg *tgbotapi.Message) {
	if msg.From.ID != b.opts.OwnerID {
		b.replyText(msg, "Only the owner can do that.")
		return
	}
	n, err := b.eng.PurgeAll()
	if err != nil {
		log.Printf("full purge failed: %v", err)
		b.replyText(msg, "Something went wrong while purging.")
		return
	}
	b.replyText(msg, fmt.Sprintf("Removed all %d saved interactions.", n))
}

func (b *Bot) cmdUsers(msg *tgbotapi.Message) {
	if msg.From.ID != b.opts.OwnerID {
		b.replyText(msg, "Only the owner can manage users.")
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		b.replyText(msg, "Usage: /users allow|block|unset|wipe|list [id]")
		return
	}
	sub := args[0]
	if sub == "list" {
		l := b.access.List()
		b.replyText(msg, fmt.Sprintf("Allowed: %s\nBlocked: %s", formatIDs(l.Allowed), formatIDs(l.Blocked)))
		return
	}
	if sub == "wipe" {
		if err := b.access.Wipe(); err != nil {
			log.Printf("user wipe failed: %v", err)
			b.replyText(msg, "Something went wrong, check the logs.")
			return
		}
		b.replyText(msg, "All user lists cleared.")
		return
	}
	if len(args) < 2 {
		b.replyText(msg, "That subcommand needs a user id.")
		return
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.replyText(msg, "That doesn't look like a user id.")
		return
	}
	switch sub {
	case "allow":
		err = b.access.Allow(id)
	case "block":
		err = b.access.Block(id)
	case "unset":
		err = b.access.Unset(id)
	default:
		b.replyText(msg, "Usage: /users allow|block|unset|wipe|list [id]")
		return
	}
	if err != nil {
		log.Printf("user %s for %d failed: %v", sub, id, err)
		b.replyText(msg, "Something went wrong, check the logs.")
		return
	}
	if err := b.pending.Remove(id); err != nil {
		log.Printf("failed to clear pending entry for %d: %v", id, err)
	}
	b.replyText(msg, fmt.Sprintf("Done, applied %q to %d.", sub, id))
}

func (b *Bot) cmdRegenerate(ctx context.Context, msg *tgbotapi.Message) {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil ||
		msg.ReplyToMessage.From.ID != b.selfID {
		b.replyText(msg, "Reply to one of my responses with /regenerate.")
		return
	}
	outputID := encodeMessageID(msg.Chat.ID, msg.ReplyToMessage.MessageID)
	err := b.eng.Regenerate(ctx, outputID, msg.From.ID)
	switch {
	case errors.Is(err, engine.ErrBusy):
		b.replyText(msg, "Wait for the current response to finish first!")
	case errors.Is(err, engine.ErrNoRecord):
		b.replyText(msg, "I don't have a record of that response.")
	case errors.Is(err, engine.ErrInputGone):
		b.replyText(msg, "The source message no longer exists!")
	case err != nil:
		log.Printf("regenerate of %s failed: %v", outputID, err)
		b.replyText(msg, "Something went wrong, check the logs.")
	}
}

func (b *Bot) cmdDump(msg *tgbotapi.Message) {
	if msg.ReplyToMessage == nil {
		b.replyText(msg, "Reply to a message with /dump.")
		return
	}
	rec, err := b.eng.Dump(encodeMessageID(msg.Chat.ID, msg.ReplyToMessage.MessageID))
	if err != nil {
		b.replyText(msg, "I don't have a record of that message.")
		return
	}
	dump := struct {
		InputID   string  `json:"inputId"`
		OutputID  string  `json:"outputId"`
		Channel   string  `json:"channel"`
		User      int64   `json:"user"`
		Created   string  `json:"created"`
		Input     string  `json:"input"`
		Output    string  `json:"output"`
		Messages  string  `json:"messages"`
		Tokens    int64   `json:"tokens"`
		CostInUSD float64 `json:"costInUSD"`
	}{
		InputID:   rec.InputID,
		OutputID:  rec.OutputID,
		Channel:   rec.ConversationID,
		User:      rec.ActorID,
		Created:   rec.CreatedAt.Format(time.RFC3339),
		Input:     rec.Input,
		Output:    rec.Output,
		Messages:  rec.ContextJSON,
		Tokens:    int64(rec.TokenCount),
		CostInUSD: float64(rec.TokenCount) * b.opts.UsdPerToken,
	}
	body, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		log.Printf("failed to marshal dump: %v", err)
		return
	}
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("dump-%s.json", rec.InputID),
		Bytes: body,
	})
	doc.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(doc); err != nil {
		log.Printf("failed to send dump: %v", err)
	}
}

func (b *Bot) replyText(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		log.Printf("failed to reply in %d: %v", msg.Chat.ID, err)
	}
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
