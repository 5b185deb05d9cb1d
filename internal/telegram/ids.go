package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// Telegram message ids are only unique per chat, so the engine-facing
// message id is "chatID:messageID". Conversation ids are the bare chat
// id.

func encodeMessageID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func decodeMessageID(s string) (int64, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed message id %q", s)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chat id in %q: %w", s, err)
	}
	messageID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id in %q: %w", s, err)
	}
	return chatID, messageID, nil
}

func encodeChatID(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func decodeChatID(s string) (int64, error) {
	chatID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed conversation id %q: %w", s, err)
	}
	return chatID, nil
}
