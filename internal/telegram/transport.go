package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-relay/internal/transport"
)

// messageLimit is Telegram's maximum message length; anything longer is
// delivered as a text-file attachment instead of being truncated.
const messageLimit = 4096

const cacheSize = 512

// Transport adapts the Telegram bot API to the engine's transport
// contract.
type Transport struct {
	s             sender
	ownerID       int64
	viewerBaseURL string
	cache         *messageCache
}

func NewTransport(api *tgbotapi.BotAPI, ownerID int64, viewerBaseURL string) *Transport {
	return &Transport{
		s:             botAPISender{api: api},
		ownerID:       ownerID,
		viewerBaseURL: viewerBaseURL,
		cache:         newMessageCache(cacheSize),
	}
}

func (t *Transport) Send(_ context.Context, conversationID string, out transport.Outgoing) (string, error) {
	chatID, err := decodeChatID(conversationID)
	if err != nil {
		return "", err
	}
	return t.sendTo(chatID, 0, out)
}

func (t *Transport) Reply(_ context.Context, conversationID, quotedID string, out transport.Outgoing) (string, error) {
	chatID, err := decodeChatID(conversationID)
	if err != nil {
		return "", err
	}
	_, quotedMsgID, err := decodeMessageID(quotedID)
	if err != nil {
		return "", err
	}
	return t.sendTo(chatID, quotedMsgID, out)
}

func (t *Transport) Edit(_ context.Context, messageID string, out transport.Outgoing) (string, error) {
	chatID, msgID, err := decodeMessageID(messageID)
	if err != nil {
		return "", err
	}
	if len(out.Text) > messageLimit {
		// Telegram can't turn an existing message into a document, so
		// replace it: drop the old message and attach the text fresh.
		_, _ = t.s.Request(tgbotapi.NewDeleteMessage(chatID, msgID))
		return t.sendTo(chatID, 0, out)
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, out.Text)
	if kb, ok := keyboardFor(out.Buttons); ok {
		edit.ReplyMarkup = &kb
	}
	if _, err := t.s.Send(edit); err != nil {
		return "", fmt.Errorf("edit message: %w", err)
	}
	return messageID, nil
}

func (t *Transport) Delete(_ context.Context, messageID string) error {
	chatID, msgID, err := decodeMessageID(messageID)
	if err != nil {
		return err
	}
	if _, err := t.s.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Transport) SendHeartbeat(_ context.Context, conversationID string) error {
	chatID, err := decodeChatID(conversationID)
	if err != nil {
		return err
	}
	if _, err := t.s.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// Fetch serves from the inbound message cache; Telegram's bot API has
// no way to read back an arbitrary message.
func (t *Transport) Fetch(_ context.Context, messageID string) (*transport.Event, error) {
	if ev, ok := t.cache.get(messageID); ok {
		return &ev, nil
	}
	return nil, nil
}

func (t *Transport) NotifyAccessRequest(_ context.Context, actorID int64, actorName string) error {
	name := actorName
	if name == "" {
		name = fmt.Sprintf("user %d", actorID)
	}
	msg := tgbotapi.NewMessage(t.ownerID,
		fmt.Sprintf("%s (%d) tried using the bot but they aren't allowed to.", name, actorID))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				"Allow "+name, transport.EncodeAction(transport.AllowActorAction{ActorID: actorID})),
			tgbotapi.NewInlineKeyboardButtonData(
				"Block "+name, transport.EncodeAction(transport.BlockActorAction{ActorID: actorID})),
		),
	)
	if _, err := t.s.Send(msg); err != nil {
		return fmt.Errorf("notify owner: %w", err)
	}
	return nil
}

// sendTo delivers to a chat, optionally quoting a message, switching to
// a document attachment when the text exceeds the platform limit.
func (t *Transport) sendTo(chatID int64, quotedMsgID int, out transport.Outgoing) (string, error) {
	if len(out.Text) > messageLimit {
		return t.sendDocument(chatID, quotedMsgID, out)
	}
	msg := tgbotapi.NewMessage(chatID, out.Text)
	if quotedMsgID != 0 {
		msg.ReplyToMessageID = quotedMsgID
	}
	if kb, ok := keyboardFor(out.Buttons); ok {
		msg.ReplyMarkup = kb
	}
	sent, err := t.s.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return encodeMessageID(chatID, sent.MessageID), nil
}

func (t *Transport) sendDocument(chatID int64, quotedMsgID int, out transport.Outgoing) (string, error) {
	stem := out.FileStem
	if stem == "" {
		stem = "response"
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("response-%s.txt", stem),
		Bytes: []byte(out.Text),
	})
	if quotedMsgID != 0 {
		doc.ReplyToMessageID = quotedMsgID
	}
	if t.viewerBaseURL != "" && out.FileStem != "" {
		doc.Caption = fmt.Sprintf("%s/convo/%s", t.viewerBaseURL, out.FileStem)
	}
	if kb, ok := keyboardFor(out.Buttons); ok {
		doc.ReplyMarkup = kb
	}
	sent, err := t.s.Send(doc)
	if err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	return encodeMessageID(chatID, sent.MessageID), nil
}

func keyboardFor(buttons []transport.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, transport.EncodeAction(b.Action)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}
