package engine

import (
	"context"
	"errors"
	"log"

	"chat-relay/internal/store"
	"chat-relay/internal/transport"
)

var (
	// ErrBusy means the actor already has a generation in flight.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrNoRecord means the message is not a recorded interaction.
	ErrNoRecord = errors.New("message is not a recorded interaction")
	// ErrInputGone means the original input message no longer exists.
	ErrInputGone = errors.New("input message no longer exists")
)

// Busy reports whether the actor has a generation in flight.
func (e *Engine) Busy(actorID int64) bool {
	return e.guard.Held(actorID)
}

// HandleEdit reconciles an edited input: the delivered output is
// replaced with a placeholder and the pipeline re-runs against the
// edited text, targeting the existing output message.
func (e *Engine) HandleEdit(ctx context.Context, ev transport.Event) {
	rec, err := e.store.ByInputID(ev.MessageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[%s] edit lookup failed: %v", ev.MessageID, err)
		}
		return
	}
	if rec.OutputID == "" {
		return
	}
	log.Printf("[%s] input was edited, regenerating", ev.MessageID)
	outputID, err := e.transport.Edit(ctx, rec.OutputID, transport.Outgoing{Text: placeholderText})
	if err != nil {
		log.Printf("[%s] failed to place regeneration placeholder: %v", ev.MessageID, err)
		outputID = rec.OutputID
	}
	e.HandleMessage(ctx, ev, &ExistingReply{OutputID: outputID})
}

// HandleDelete reconciles a deleted input: the delivered output message
// is removed and the record dropped. No-op when nothing is recorded.
func (e *Engine) HandleDelete(ctx context.Context, inputID string) {
	rec, err := e.store.ByInputID(inputID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[%s] delete lookup failed: %v", inputID, err)
		}
		return
	}
	if rec.OutputID != "" {
		if err := e.transport.Delete(ctx, rec.OutputID); err != nil {
			log.Printf("[%s] failed to delete response message %s: %v", inputID, rec.OutputID, err)
		} else {
			log.Printf("deleted response message %s because input message %s was deleted", rec.OutputID, inputID)
		}
	}
	if err := e.store.DeleteByInputID(inputID); err != nil {
		log.Printf("[%s] failed to delete record: %v", inputID, err)
	}
}

// Regenerate re-runs the pipeline for the interaction whose delivered
// output is outputID, sourced from the live input message. actorID is
// the requester, checked against the single-flight latch up front so
// the caller can tell the user to wait.
func (e *Engine) Regenerate(ctx context.Context, outputID string, actorID int64) error {
	if e.guard.Held(actorID) {
		return ErrBusy
	}
	rec, err := e.store.ByOutputID(outputID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoRecord
		}
		return err
	}
	ev, err := e.transport.Fetch(ctx, rec.InputID)
	if err != nil || ev == nil {
		return ErrInputGone
	}
	log.Printf("[%s] regeneration requested for response %s", rec.InputID, outputID)
	target := outputID
	if newID, err := e.transport.Edit(ctx, outputID, transport.Outgoing{Text: placeholderText}); err == nil {
		target = newID
	}
	e.HandleMessage(ctx, *ev, &ExistingReply{OutputID: target})
	return nil
}

// Dump returns the stored record matching either side of an
// interaction.
func (e *Engine) Dump(messageID string) (store.Interaction, error) {
	rec, err := e.store.ByMessageID(messageID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Interaction{}, ErrNoRecord
	}
	return rec, err
}

// SavedCount reports how many records the actor currently has stored.
func (e *Engine) SavedCount(actorID int64) (int64, error) {
	return e.store.CountByActor(actorID)
}

// PurgeActor deletes every record belonging to the actor. Statistics
// are untouched.
func (e *Engine) PurgeActor(actorID int64) (int64, error) {
	return e.store.DeleteByActor(actorID)
}

// PurgeAll deletes every record.
func (e *Engine) PurgeAll() (int64, error) {
	return e.store.DeleteAll()
}
