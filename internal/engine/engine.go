// Package engine drives the reply lifecycle for inbound chat events:
// access gating, per-actor single flight, context resolution, the model
// request, persistence, and delivery, plus reconciliation when inputs
// are edited or deleted afterwards.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"chat-relay/internal/access"
	"chat-relay/internal/config"
	"chat-relay/internal/guard"
	"chat-relay/internal/llm"
	"chat-relay/internal/pending"
	"chat-relay/internal/store"
	"chat-relay/internal/transport"
)

const (
	noticeBlocked = "You're blocked from using me!"
	noticeDenied  = "Only certain users are allowed to talk to me right now. " +
		"A message has been sent to the owner so they can add you if they want."
	noticeBusy    = "One message at a time!"
	noticeEmpty   = "Hi! Ping me again with a message and I'll try my best to answer it!"
	noticeTooLong = "That message is too long for me to handle! Can you make it shorter?"
	noticeFailed  = "Sorry, something went wrong while replying!"

	// placeholderText replaces an output message while it is being
	// regenerated.
	placeholderText = "..."

	defaultHeartbeatInterval = 3 * time.Second
)

// Store is the slice of the interaction store the engine needs.
type Store interface {
	Create(rec store.Interaction) error
	SetOutputID(inputID, outputID string) error
	ByInputID(inputID string) (store.Interaction, error)
	ByOutputID(outputID string) (store.Interaction, error)
	ByMessageID(messageID string) (store.Interaction, error)
	LatestByConversation(conversationID string) (store.Interaction, error)
	CountByActor(actorID int64) (int64, error)
	DeleteByInputID(inputID string) error
	DeleteByActor(actorID int64) (int64, error)
	DeleteAll() (int64, error)
}

// Stats receives one increment per completed interaction.
type Stats interface {
	Record(actorID int64, tokens int64, at time.Time) error
}

type Options struct {
	BotName              string
	Persona              []config.PersonaTurn
	MaxInputTokens       int
	IgnorePrefixes       []string
	AllowedBots          []int64
	ShowRegenerateButton bool
	HeartbeatInterval    time.Duration
}

// ExistingReply targets delivery at a known prior output message,
// forcing edit-mode delivery and delete-then-reinsert persistence. It
// is how edit reconciliation and regeneration re-enter the pipeline.
type ExistingReply struct {
	OutputID string
}

type Engine struct {
	transport transport.Transport
	llm       llm.Client
	store     Store
	stats     Stats
	access    *access.Service
	pending   pending.Repository
	guard     *guard.Guard
	est       *llm.Estimator
	opts      Options

	allowedBots map[int64]bool
	activity    *activityLog
}

func New(
	t transport.Transport,
	client llm.Client,
	st Store,
	stats Stats,
	acc *access.Service,
	pend pending.Repository,
	g *guard.Guard,
	est *llm.Estimator,
	opts Options,
) *Engine {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	bots := make(map[int64]bool, len(opts.AllowedBots))
	for _, id := range opts.AllowedBots {
		bots[id] = true
	}
	return &Engine{
		transport:   t,
		llm:         client,
		store:       st,
		stats:       stats,
		access:      acc,
		pending:     pend,
		guard:       g,
		est:         est,
		opts:        opts,
		allowedBots: bots,
		activity:    newActivityLog(),
	}
}

// HandleMessage runs the full pipeline for one inbound event. existing
// is nil for fresh inputs and set when regenerating a known output.
func (e *Engine) HandleMessage(ctx context.Context, ev transport.Event, existing *ExistingReply) {
	start := time.Now()
	arrival := e.activity.mark(ev.ConversationID)
	tag := "[" + ev.MessageID + "]"

	if ev.ActorIsBot && !e.allowedBots[ev.ActorID] {
		return
	}

	if d := e.access.Decide(ev.ActorID); !d.Allowed {
		switch d.Reason {
		case access.ReasonBlocked:
			log.Printf("%s actor %d is blocked", tag, ev.ActorID)
			e.notify(ctx, ev, existing, noticeBlocked, nil)
		case access.ReasonNotAllowlisted:
			log.Printf("%s actor %d isn't allowed", tag, ev.ActorID)
			e.requestAccess(ctx, ev)
			e.notify(ctx, ev, existing, noticeDenied, nil)
		}
		return
	}

	input := normalizeInput(ev.Text)
	if input == "" {
		log.Printf("%s actor %d sent an empty message", tag, ev.ActorID)
		e.notify(ctx, ev, existing, noticeEmpty, nil)
		return
	}
	for _, prefix := range e.opts.IgnorePrefixes {
		if strings.HasPrefix(input, prefix) {
			log.Printf("%s actor %d used an ignored prefix", tag, ev.ActorID)
			return
		}
	}
	if e.opts.MaxInputTokens > 0 && e.est.Count(input) > e.opts.MaxInputTokens {
		log.Printf("%s actor %d exceeded the input token budget", tag, ev.ActorID)
		e.notify(ctx, ev, existing, noticeTooLong, nil)
		return
	}

	if !e.guard.TryAcquire(ev.ActorID) {
		log.Printf("%s actor %d tried to generate while generating", tag, ev.ActorID)
		e.notify(ctx, ev, existing, noticeBusy, nil)
		return
	}
	defer e.guard.Release(ev.ActorID)

	// Regeneration replaces the stored interaction. Drop it before
	// resolving context, otherwise its own stale exchange comes back as
	// the conversation's previous turn.
	if existing != nil {
		if err := e.store.DeleteByInputID(ev.MessageID); err != nil {
			log.Printf("%s failed to drop prior record: %v", tag, err)
		}
	}

	messages := e.resolveContext(ev, input)

	stopHeartbeat := func() {}
	if existing == nil {
		stopHeartbeat = e.startHeartbeat(ctx, ev.ConversationID)
	}
	if raw, err := json.Marshal(messages); err == nil {
		log.Printf("%s requesting completion of approx. %d tokens", tag, e.est.Count(string(raw)))
	}
	resp, err := e.llm.Complete(ctx, messages)
	stopHeartbeat()
	if err != nil {
		log.Printf("%s completion failed: %v", tag, err)
		e.notify(ctx, ev, existing, noticeFailed+"\n```\n"+err.Error()+"\n```",
			[]transport.Button{{Label: "Try again", Action: transport.RegenerateAction{InputID: ev.MessageID}}})
		return
	}
	reply := llm.SanitizeReply(resp.Content)
	log.Printf("%s received completion of %d tokens", tag, resp.TotalTokens)

	full := append(append([]llm.Message{}, messages...), llm.Message{Role: llm.RoleAssistant, Content: reply})
	ctxJSON, err := json.Marshal(full)
	if err != nil {
		ctxJSON = []byte("[]")
	}
	now := time.Now().UTC()
	rec := store.Interaction{
		InputID:        ev.MessageID,
		ConversationID: ev.ConversationID,
		ActorID:        ev.ActorID,
		CreatedAt:      now,
		Input:          input,
		Output:         reply,
		ContextJSON:    string(ctxJSON),
		TokenCount:     resp.TotalTokens,
	}
	if err := e.store.Create(rec); err != nil {
		log.Printf("%s failed to persist interaction: %v", tag, err)
		e.notify(ctx, ev, existing, noticeFailed,
			[]transport.Button{{Label: "Try again", Action: transport.RegenerateAction{InputID: ev.MessageID}}})
		return
	}
	if err := e.stats.Record(ev.ActorID, int64(resp.TotalTokens), now); err != nil {
		log.Printf("%s failed to record stats: %v", tag, err)
	}

	out := transport.Outgoing{Text: reply, SuppressMentions: true, FileStem: ev.MessageID}
	if e.opts.ShowRegenerateButton {
		out.Buttons = []transport.Button{{Label: "Regenerate", Action: transport.RegenerateAction{InputID: ev.MessageID}}}
	}
	outputID, err := e.deliver(ctx, ev, existing, arrival, out)
	if err != nil {
		// Record stays without an output id; context resolution will
		// treat it as abandoned.
		log.Printf("%s delivery failed: %v", tag, err)
		return
	}
	log.Printf("%s response message %s sent", tag, outputID)
	if err := e.store.SetOutputID(ev.MessageID, outputID); err != nil {
		log.Printf("%s failed to attach output id: %v", tag, err)
	}
	log.Printf("%s interaction took %.2f seconds", tag, time.Since(start).Seconds())
}

// deliver picks the delivery mode: edit an existing output when
// regenerating, reply-with-quote when the conversation moved on since
// the input arrived, plain send otherwise.
func (e *Engine) deliver(ctx context.Context, ev transport.Event, existing *ExistingReply, arrival time.Time, out transport.Outgoing) (string, error) {
	if existing != nil {
		return e.transport.Edit(ctx, existing.OutputID, out)
	}
	if e.activity.movedSince(ev.ConversationID, arrival) {
		return e.transport.Reply(ctx, ev.ConversationID, ev.MessageID, out)
	}
	return e.transport.Send(ctx, ev.ConversationID, out)
}

// notify delivers a user-visible notice on the same path a reply would
// have taken. Failures are logged and swallowed.
func (e *Engine) notify(ctx context.Context, ev transport.Event, existing *ExistingReply, text string, buttons []transport.Button) {
	out := transport.Outgoing{Text: text, SuppressMentions: true, Buttons: buttons}
	var err error
	if existing != nil {
		_, err = e.transport.Edit(ctx, existing.OutputID, out)
	} else {
		_, err = e.transport.Reply(ctx, ev.ConversationID, ev.MessageID, out)
	}
	if err != nil {
		log.Printf("[%s] failed to send notice: %v", ev.MessageID, err)
	}
}

// requestAccess pings the owner with allow/block buttons, once per
// denied actor.
func (e *Engine) requestAccess(ctx context.Context, ev transport.Event) {
	if e.pending != nil {
		actors, err := e.pending.LoadAll()
		if err == nil {
			for _, a := range actors {
				if a.ID == ev.ActorID {
					return
				}
			}
		}
	}
	if err := e.transport.NotifyAccessRequest(ctx, ev.ActorID, ev.ActorName); err != nil {
		log.Printf("[%s] failed to notify owner: %v", ev.MessageID, err)
		return
	}
	if e.pending != nil {
		if err := e.pending.Upsert(pending.Actor{ID: ev.ActorID, Name: ev.ActorName}); err != nil {
			log.Printf("[%s] failed to remember pending actor: %v", ev.MessageID, err)
		}
	}
}

func normalizeInput(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
