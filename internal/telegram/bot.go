package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-relay/internal/access"
	"chat-relay/internal/engine"
	"chat-relay/internal/pending"
	"chat-relay/internal/stats"
	"chat-relay/internal/store"
	"chat-relay/internal/transport"
)

// relay is the slice of the engine the bot drives.
type relay interface {
	HandleMessage(ctx context.Context, ev transport.Event, existing *engine.ExistingReply)
	HandleEdit(ctx context.Context, ev transport.Event)
	MarkActivity(conversationID string)
	Busy(actorID int64) bool
	Regenerate(ctx context.Context, outputID string, actorID int64) error
	Dump(messageID string) (store.Interaction, error)
	SavedCount(actorID int64) (int64, error)
	PurgeActor(actorID int64) (int64, error)
	PurgeAll() (int64, error)
}

type Options struct {
	OwnerID     int64
	UsdPerToken float64
	HelpText    string
	PublicUsage bool
}

// Bot drives the Telegram update loop, translating updates into engine
// calls.
type Bot struct {
	api     *tgbotapi.BotAPI
	tr      *Transport
	eng     relay
	access  *access.Service
	pending pending.Repository
	stats   *stats.Book
	opts    Options

	selfID   int64
	selfName string
}

func NewBot(
	api *tgbotapi.BotAPI,
	tr *Transport,
	eng *engine.Engine,
	acc *access.Service,
	pend pending.Repository,
	book *stats.Book,
	opts Options,
) *Bot {
	return &Bot{
		api:      api,
		tr:       tr,
		eng:      eng,
		access:   acc,
		pending:  pend,
		stats:    book,
		opts:     opts,
		selfID:   api.Self.ID,
		selfName: api.Self.UserName,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	log.Printf("bot started as @%s", b.selfName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.EditedMessage != nil:
		b.handleEdited(ctx, update.EditedMessage)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.ID == b.selfID {
		return
	}
	// Every new message counts as conversation activity, addressed to
	// the bot or not; it decides plain-send vs reply-with-quote.
	b.eng.MarkActivity(encodeChatID(msg.Chat.ID))
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	ev, ok := b.eventFromMessage(msg)
	if !ok {
		return
	}
	b.tr.cache.put(ev)
	go b.eng.HandleMessage(ctx, ev, nil)
}

func (b *Bot) handleEdited(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.ID == b.selfID {
		return
	}
	ev, ok := b.eventFromMessage(msg)
	if !ok {
		return
	}
	b.tr.cache.put(ev)
	go b.eng.HandleEdit(ctx, ev)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action := transport.DecodeAction(cb.Data)
	if action == nil || cb.Message == nil || cb.From == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	switch a := action.(type) {
	case transport.RegenerateAction:
		b.regenerateFromCallback(ctx, cb, a)
	case transport.AllowActorAction:
		b.moderateFromCallback(ctx, cb, a.ActorID, true)
	case transport.BlockActorAction:
		b.moderateFromCallback(ctx, cb, a.ActorID, false)
	}
}

func (b *Bot) regenerateFromCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, a transport.RegenerateAction) {
	if b.eng.Busy(cb.From.ID) {
		b.answerCallback(cb.ID, "Wait for the current response to finish first!")
		return
	}
	src, _ := b.tr.Fetch(ctx, a.InputID)
	if src == nil {
		b.answerCallback(cb.ID, "The source message no longer exists!")
		return
	}
	b.answerCallback(cb.ID, "On it!")
	outputID := encodeMessageID(cb.Message.Chat.ID, cb.Message.MessageID)
	go b.eng.HandleMessage(ctx, *src, &engine.ExistingReply{OutputID: outputID})
}

func (b *Bot) moderateFromCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, actorID int64, allow bool) {
	if cb.From.ID != b.opts.OwnerID {
		b.answerCallback(cb.ID, "Only the owner can do that.")
		return
	}
	var verdict, note string
	var err error
	if allow {
		err = b.access.Allow(actorID)
		verdict = "allowed"
		note = "You've been granted access. Say hi!"
	} else {
		err = b.access.Block(actorID)
		verdict = "blocked"
		note = "Your access request was declined."
	}
	if err != nil {
		log.Printf("moderation for %d failed: %v", actorID, err)
		b.answerCallback(cb.ID, "Something went wrong, check the logs.")
		return
	}
	if err := b.pending.Remove(actorID); err != nil {
		log.Printf("failed to clear pending entry for %d: %v", actorID, err)
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(actorID, note)); err != nil {
		log.Printf("failed to notify %d: %v", actorID, err)
	}
	b.answerCallback(cb.ID, "Done!")
	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf("%s\n\nVerdict: %s", cb.Message.Text, verdict))
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("failed to update moderation message: %v", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("failed to answer callback: %v", err)
	}
}

// eventFromMessage converts a Telegram message into an engine event.
// In group chats the bot only reacts when mentioned or when the message
// replies to one of its own; the mention itself is stripped from the
// text.
func (b *Bot) eventFromMessage(msg *tgbotapi.Message) (transport.Event, bool) {
	direct := msg.Chat.IsPrivate()
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	mention := "@" + b.selfName
	mentioned := strings.Contains(text, mention)
	repliedToSelf := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == b.selfID
	if !direct && !mentioned && !repliedToSelf {
		return transport.Event{}, false
	}
	if mentioned {
		text = strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
	}

	ev := transport.Event{
		MessageID:      encodeMessageID(msg.Chat.ID, msg.MessageID),
		ConversationID: encodeChatID(msg.Chat.ID),
		ActorID:        msg.From.ID,
		ActorName:      msg.From.UserName,
		ActorIsBot:     msg.From.IsBot,
		Direct:         direct,
		Text:           text,
	}
	if r := msg.ReplyToMessage; r != nil {
		replyText := r.Text
		if replyText == "" {
			replyText = r.Caption
		}
		ev.ReplyTo = &transport.ReplyRef{
			MessageID: encodeMessageID(msg.Chat.ID, r.MessageID),
			Text:      replyText,
			FromSelf:  repliedToSelf,
		}
	}
	return ev, true
}
