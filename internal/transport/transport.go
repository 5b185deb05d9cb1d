// Package transport defines the platform-neutral surface the engine
// talks through. Concrete adapters (Telegram today) translate their
// platform's updates into these types at the boundary.
package transport

import "context"

// Event is one inbound chat message, already sanitized by the adapter.
type Event struct {
	MessageID      string
	ConversationID string
	ActorID        int64
	ActorName      string
	ActorIsBot     bool
	// Direct marks a private one-to-one conversation.
	Direct bool
	Text   string
	// ReplyTo carries the replied-to message when the event is a reply.
	ReplyTo *ReplyRef
}

// ReplyRef is the live state of a replied-to message as seen at event
// time. FromSelf marks messages the engine itself sent.
type ReplyRef struct {
	MessageID string
	Text      string
	FromSelf  bool
}

// Button is a user-visible affordance attached to an outgoing message.
type Button struct {
	Label  string
	Action Action
}

// Outgoing is a message the engine wants delivered.
type Outgoing struct {
	Text string
	// SuppressMentions disables mention resolution so quoted text
	// cannot ping anyone.
	SuppressMentions bool
	Buttons          []Button
	// FileStem names the attachment when the adapter has to deliver
	// the text as a file because it exceeds the platform's message
	// size limit.
	FileStem string
}

// Transport is the messaging-platform seam. Send and Reply return the
// delivered message's id; Edit returns the id that now carries the
// content, which may differ from messageID when the adapter had to
// re-deliver (e.g. an oversized edit becoming a file attachment).
type Transport interface {
	Send(ctx context.Context, conversationID string, out Outgoing) (string, error)
	Reply(ctx context.Context, conversationID, quotedID string, out Outgoing) (string, error)
	Edit(ctx context.Context, messageID string, out Outgoing) (string, error)
	Delete(ctx context.Context, messageID string) error
	SendHeartbeat(ctx context.Context, conversationID string) error
	Fetch(ctx context.Context, messageID string) (*Event, error)
	// NotifyAccessRequest tells the owner a denied actor wants in,
	// with actionable allow/block buttons.
	NotifyAccessRequest(ctx context.Context, actorID int64, actorName string) error
}
