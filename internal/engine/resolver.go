package engine

import (
	"log"
	"regexp"
	"time"

	"chat-relay/internal/llm"
	"chat-relay/internal/transport"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// resolveContext builds the ordered message list for a new input. All
// lookups are best effort: a missing or stale reference degrades to "no
// extra context" rather than aborting the interaction.
func (e *Engine) resolveContext(ev transport.Event, input string) []llm.Message {
	tag := "[" + ev.MessageID + "]"
	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}

	switch {
	case ev.ReplyTo != nil:
		// Replying to a recorded output recovers the exact original
		// exchange; the live message may have been edited or deleted.
		if rec, err := e.store.ByOutputID(ev.ReplyTo.MessageID); err == nil {
			messages = append([]llm.Message{
				{Role: llm.RoleUser, Content: rec.Input},
				{Role: llm.RoleAssistant, Content: rec.Output},
			}, messages...)
			log.Printf("%s using replied-to saved input and output as context", tag)
		} else {
			role := llm.RoleUser
			if ev.ReplyTo.FromSelf {
				role = llm.RoleAssistant
			}
			messages = append([]llm.Message{{Role: role, Content: ev.ReplyTo.Text}}, messages...)
			log.Printf("%s using replied-to live message as context", tag)
		}
	case ev.Direct:
		// In a one-to-one conversation the previous exchange is the
		// implicit context. Group conversations get none: there is no
		// way to know which thread to continue.
		if rec, err := e.store.LatestByConversation(ev.ConversationID); err == nil {
			messages = append([]llm.Message{
				{Role: llm.RoleUser, Content: rec.Input},
				{Role: llm.RoleAssistant, Content: rec.Output},
			}, messages...)
			log.Printf("%s using previous input and output as context", tag)
		}
	}

	return append(e.primingTurns(ev), messages...)
}

// primingTurns renders the configured persona turns with placeholders
// substituted for the current actor, bot, and time.
func (e *Engine) primingTurns(ev transport.Event) []llm.Message {
	if len(e.opts.Persona) == 0 {
		return nil
	}
	now := time.Now()
	values := map[string]string{
		"user_username": ev.ActorName,
		"user_nickname": ev.ActorName,
		"bot_username":  e.opts.BotName,
		"time":          now.Format("3:04 PM"),
		"date":          now.Format("Monday, January 2, 2006"),
		"timezone":      now.Format("MST"),
	}
	out := make([]llm.Message, 0, len(e.opts.Persona))
	for _, turn := range e.opts.Persona {
		content := placeholderPattern.ReplaceAllStringFunc(turn.Content, func(m string) string {
			key := m[1 : len(m)-1]
			if v, ok := values[key]; ok {
				return v
			}
			return m
		})
		out = append(out, llm.Message{Role: turn.Role, Content: content})
	}
	return out
}
