package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/access"
	"chat-relay/internal/config"
	"chat-relay/internal/guard"
	"chat-relay/internal/llm"
	"chat-relay/internal/pending"
	"chat-relay/internal/store"
	"chat-relay/internal/transport"
)

type sentMsg struct {
	kind      string // send, reply, edit
	conv      string
	quoted    string
	messageID string
	out       transport.Outgoing
}

type fakeTransport struct {
	mu           sync.Mutex
	sent         []sentMsg
	deleted      []string
	heartbeats   int
	accessReqs   []int64
	fetchable    map[string]*transport.Event
	nextID       int
	failDelivery bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fetchable: make(map[string]*transport.Event)}
}

func (f *fakeTransport) newID() string {
	f.nextID++
	return fmt.Sprintf("out-%d", f.nextID)
}

func (f *fakeTransport) Send(_ context.Context, conv string, out transport.Outgoing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelivery {
		return "", errors.New("delivery refused")
	}
	id := f.newID()
	f.sent = append(f.sent, sentMsg{kind: "send", conv: conv, messageID: id, out: out})
	return id, nil
}

func (f *fakeTransport) Reply(_ context.Context, conv, quoted string, out transport.Outgoing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelivery {
		return "", errors.New("delivery refused")
	}
	id := f.newID()
	f.sent = append(f.sent, sentMsg{kind: "reply", conv: conv, quoted: quoted, messageID: id, out: out})
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, messageID string, out transport.Outgoing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelivery {
		return "", errors.New("delivery refused")
	}
	f.sent = append(f.sent, sentMsg{kind: "edit", messageID: messageID, out: out})
	return messageID, nil
}

func (f *fakeTransport) Delete(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) SendHeartbeat(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeTransport) Fetch(_ context.Context, messageID string) (*transport.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchable[messageID], nil
}

func (f *fakeTransport) NotifyAccessRequest(_ context.Context, actorID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessReqs = append(f.accessReqs, actorID)
	return nil
}

func (f *fakeTransport) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg{}, f.sent...)
}

func (f *fakeTransport) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

type fakeStore struct {
	mu   sync.Mutex
	recs map[string]store.Interaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]store.Interaction)}
}

func (f *fakeStore) Create(rec store.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.InputID] = rec
	return nil
}

func (f *fakeStore) SetOutputID(inputID, outputID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[inputID]
	if !ok {
		return store.ErrNotFound
	}
	rec.OutputID = outputID
	f.recs[inputID] = rec
	return nil
}

func (f *fakeStore) ByInputID(inputID string) (store.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[inputID]; ok {
		return rec, nil
	}
	return store.Interaction{}, store.ErrNotFound
}

func (f *fakeStore) ByOutputID(outputID string) (store.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.recs {
		if rec.OutputID == outputID && outputID != "" {
			return rec, nil
		}
	}
	return store.Interaction{}, store.ErrNotFound
}

func (f *fakeStore) ByMessageID(messageID string) (store.Interaction, error) {
	if rec, err := f.ByInputID(messageID); err == nil {
		return rec, nil
	}
	return f.ByOutputID(messageID)
}

func (f *fakeStore) LatestByConversation(conversationID string) (store.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		best  store.Interaction
		found bool
	)
	for _, rec := range f.recs {
		if rec.ConversationID != conversationID || rec.OutputID == "" {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	if !found {
		return store.Interaction{}, store.ErrNotFound
	}
	return best, nil
}

func (f *fakeStore) CountByActor(actorID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.recs {
		if rec.ActorID == actorID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteByInputID(inputID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, inputID)
	return nil
}

func (f *fakeStore) DeleteByActor(actorID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.recs {
		if rec.ActorID == actorID {
			delete(f.recs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteAll() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.recs))
	f.recs = make(map[string]store.Interaction)
	return n, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

type statRecord struct {
	actorID int64
	tokens  int64
}

type fakeStats struct {
	mu      sync.Mutex
	records []statRecord
}

func (f *fakeStats) Record(actorID int64, tokens int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, statRecord{actorID, tokens})
	return nil
}

type fakeClient struct {
	mu         sync.Mutex
	calls      [][]llm.Message
	resp       llm.Response
	err        error
	onComplete func()
}

func (f *fakeClient) Complete(_ context.Context, messages []llm.Message) (llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]llm.Message{}, messages...))
	cb := f.onComplete
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.resp, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memPending struct {
	mu     sync.Mutex
	actors []pending.Actor
}

func (m *memPending) LoadAll() ([]pending.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pending.Actor{}, m.actors...), nil
}

func (m *memPending) Upsert(a pending.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.actors {
		if x.ID == a.ID {
			m.actors[i] = a
			return nil
		}
	}
	m.actors = append(m.actors, a)
	return nil
}

func (m *memPending) Remove(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.actors[:0]
	for _, x := range m.actors {
		if x.ID != id {
			out = append(out, x)
		}
	}
	m.actors = out
	return nil
}

type fixture struct {
	engine    *Engine
	transport *fakeTransport
	store     *fakeStore
	stats     *fakeStats
	client    *fakeClient
	access    *access.Service
	guard     *guard.Guard
	pending   *memPending
}

func newFixture(t *testing.T, public bool, opts Options) *fixture {
	t.Helper()
	acc, err := access.NewService(nil, 1, public)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	f := &fixture{
		transport: newFakeTransport(),
		store:     newFakeStore(),
		stats:     &fakeStats{},
		client:    &fakeClient{resp: llm.Response{Content: "reply", TotalTokens: 42}},
		access:    acc,
		guard:     guard.New(),
		pending:   &memPending{},
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	f.engine = New(f.transport, f.client, f.store, f.stats, acc, f.pending, f.guard, &llm.Estimator{}, opts)
	return f
}

func event(msgID string, actorID int64, text string) transport.Event {
	return transport.Event{
		MessageID:      msgID,
		ConversationID: "c1",
		ActorID:        actorID,
		ActorName:      "alice",
		Text:           text,
	}
}

func TestSuccessfulInteraction(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("want 1 completion call, got %d", got)
	}
	if got := f.client.calls[0]; len(got) != 1 || got[0].Role != llm.RoleUser || got[0].Content != "hello" {
		t.Fatalf("unexpected resolved context: %+v", got)
	}

	rec, err := f.store.ByInputID("i1")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if rec.Input != "hello" || rec.Output != "reply" || rec.TokenCount != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.OutputID == "" {
		t.Fatalf("output id not attached after delivery")
	}

	msgs := f.transport.messages()
	if len(msgs) != 1 || msgs[0].kind != "send" {
		t.Fatalf("want one plain send, got %+v", msgs)
	}
	if len(f.stats.records) != 1 || f.stats.records[0] != (statRecord{10, 42}) {
		t.Fatalf("stats not recorded: %+v", f.stats.records)
	}
	if f.guard.Held(10) {
		t.Fatalf("guard leaked after success")
	}
}

func TestBlockedActorDenied(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.access.Block(10); err != nil {
		t.Fatalf("block: %v", err)
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	if f.client.callCount() != 0 {
		t.Fatalf("completion reached for blocked actor")
	}
	if f.store.count() != 0 {
		t.Fatalf("record created for blocked actor")
	}
	msgs := f.transport.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].out.Text, "blocked") {
		t.Fatalf("expected blocked notice, got %+v", msgs)
	}
	if f.guard.Held(10) {
		t.Fatalf("guard acquired for denied actor")
	}
}

func TestNotAllowlistedNotifiesOwnerOnce(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)
	f.engine.HandleMessage(context.Background(), event("i2", 10, "hello again"), nil)

	if len(f.transport.accessReqs) != 1 || f.transport.accessReqs[0] != 10 {
		t.Fatalf("owner must be notified exactly once: %+v", f.transport.accessReqs)
	}
	msgs := f.transport.messages()
	if len(msgs) != 2 {
		t.Fatalf("actor must be informed on every attempt: %+v", msgs)
	}
	if f.client.callCount() != 0 {
		t.Fatalf("completion reached for denied actor")
	}
}

func TestOwnerBypassesAllowlist(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.engine.HandleMessage(context.Background(), event("i1", 1, "hello"), nil)
	if f.client.callCount() != 1 {
		t.Fatalf("owner must always be permitted")
	}
}

func TestBusyActorRejected(t *testing.T) {
	f := newFixture(t, true, Options{})
	if !f.guard.TryAcquire(10) {
		t.Fatalf("setup acquire failed")
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	if f.client.callCount() != 0 {
		t.Fatalf("busy actor must not reach the completion client")
	}
	msgs := f.transport.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].out.Text, "One message at a time") {
		t.Fatalf("expected busy notice, got %+v", msgs)
	}
	if !f.guard.Held(10) {
		t.Fatalf("failed acquire must not release the held latch")
	}
}

func TestEmptyAndOversizedInput(t *testing.T) {
	f := newFixture(t, true, Options{MaxInputTokens: 1})
	f.engine.HandleMessage(context.Background(), event("i1", 10, "   "), nil)
	f.engine.HandleMessage(context.Background(), event("i2", 10, "long enough to exceed one token"), nil)

	if f.client.callCount() != 0 {
		t.Fatalf("invalid input must not reach the completion client")
	}
	msgs := f.transport.messages()
	if len(msgs) != 2 {
		t.Fatalf("want two notices, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].out.Text, "Ping me again") {
		t.Fatalf("expected empty-input notice, got %q", msgs[0].out.Text)
	}
	if !strings.Contains(msgs[1].out.Text, "too long") {
		t.Fatalf("expected oversize notice, got %q", msgs[1].out.Text)
	}
}

func TestIgnoredPrefixIsSilent(t *testing.T) {
	f := newFixture(t, true, Options{IgnorePrefixes: []string{"!"}})
	f.engine.HandleMessage(context.Background(), event("i1", 10, "!command"), nil)
	if f.client.callCount() != 0 || len(f.transport.messages()) != 0 {
		t.Fatalf("ignored prefix must produce no traffic")
	}
}

func TestReplyToRecordedOutputRecoversExchange(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "old-i", OutputID: "old-o", ConversationID: "c1",
		ActorID: 10, Input: "2+2?", Output: "4", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ev := event("i1", 10, "what about 3+3?")
	ev.ReplyTo = &transport.ReplyRef{MessageID: "old-o", Text: "4 (edited live)", FromSelf: true}
	f.engine.HandleMessage(context.Background(), ev, nil)

	got := f.client.calls[0]
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "2+2?"},
		{Role: llm.RoleAssistant, Content: "4"},
		{Role: llm.RoleUser, Content: "what about 3+3?"},
	}
	if len(got) != len(want) {
		t.Fatalf("context length: got %d, want %d (%+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("context[%d]: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReplyToUnrecordedMessageUsesLiveText(t *testing.T) {
	f := newFixture(t, true, Options{})
	ev := event("i1", 10, "and this?")
	ev.ReplyTo = &transport.ReplyRef{MessageID: "m9", Text: "someone said this", FromSelf: false}
	f.engine.HandleMessage(context.Background(), ev, nil)

	got := f.client.calls[0]
	if len(got) != 2 || got[0].Role != llm.RoleUser || got[0].Content != "someone said this" {
		t.Fatalf("unexpected context: %+v", got)
	}
}

func TestDirectConversationImplicitContext(t *testing.T) {
	f := newFixture(t, true, Options{})
	now := time.Now().UTC()
	seed := []store.Interaction{
		{InputID: "a", OutputID: "oa", ConversationID: "c1", ActorID: 10, Input: "first", Output: "one", CreatedAt: now.Add(-2 * time.Minute)},
		{InputID: "b", OutputID: "ob", ConversationID: "c1", ActorID: 10, Input: "second", Output: "two", CreatedAt: now.Add(-time.Minute)},
		// abandoned: never delivered, must not be picked up
		{InputID: "c", OutputID: "", ConversationID: "c1", ActorID: 10, Input: "third", Output: "three", CreatedAt: now},
	}
	for _, r := range seed {
		if err := f.store.Create(r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	ev := event("i1", 10, "next")
	ev.Direct = true
	f.engine.HandleMessage(context.Background(), ev, nil)

	got := f.client.calls[0]
	if len(got) != 3 || got[0].Content != "second" || got[1].Content != "two" {
		t.Fatalf("unexpected context: %+v", got)
	}
}

func TestGroupConversationNoImplicitContext(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "a", OutputID: "oa", ConversationID: "c1", ActorID: 10,
		Input: "first", Output: "one", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "next"), nil)

	if got := f.client.calls[0]; len(got) != 1 {
		t.Fatalf("group conversation must not inherit context: %+v", got)
	}
}

func TestPersonaPlaceholders(t *testing.T) {
	f := newFixture(t, true, Options{
		BotName: "relay",
		Persona: []config.PersonaTurn{
			{Role: "system", Content: "You are {bot_username} talking to {user_username}. Keep {unknown} as is."},
		},
	})
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	got := f.client.calls[0]
	if len(got) != 2 {
		t.Fatalf("persona turn missing: %+v", got)
	}
	if got[0].Role != llm.RoleSystem ||
		got[0].Content != "You are relay talking to alice. Keep {unknown} as is." {
		t.Fatalf("placeholder substitution: %q", got[0].Content)
	}
}

func TestUpstreamFailureNoticeWithRetryAffordance(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.client.err = errors.New("service melted")
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	if f.store.count() != 0 {
		t.Fatalf("failed generation must not persist a record")
	}
	msgs := f.transport.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].out.Text, "something went wrong") {
		t.Fatalf("expected failure notice, got %+v", msgs)
	}
	if len(msgs[0].out.Buttons) != 1 || msgs[0].out.Buttons[0].Label != "Try again" {
		t.Fatalf("failure notice must carry a retry affordance: %+v", msgs[0].out.Buttons)
	}
	if f.guard.Held(10) {
		t.Fatalf("guard leaked after failure")
	}
}

func TestDeliveryFailureKeepsAbandonedRecord(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.transport.failDelivery = true
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	rec, err := f.store.ByInputID("i1")
	if err != nil {
		t.Fatalf("record must survive delivery failure: %v", err)
	}
	if rec.OutputID != "" {
		t.Fatalf("output id must stay empty on delivery failure: %+v", rec)
	}
	if f.guard.Held(10) {
		t.Fatalf("guard leaked after delivery failure")
	}
}

func TestReplyWithQuoteAfterActivity(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.client.onComplete = func() {
		// another event lands in the conversation mid-generation
		f.engine.activity.mark("c1")
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	msgs := f.transport.messages()
	if len(msgs) != 1 || msgs[0].kind != "reply" || msgs[0].quoted != "i1" {
		t.Fatalf("want reply-with-quote, got %+v", msgs)
	}
}

func TestForeignTrafficTriggersQuote(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.client.onComplete = func() {
		// the adapter saw an unrelated message in the conversation
		f.engine.MarkActivity("c1")
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	msgs := f.transport.messages()
	if len(msgs) != 1 || msgs[0].kind != "reply" || msgs[0].quoted != "i1" {
		t.Fatalf("want reply-with-quote, got %+v", msgs)
	}
}

func TestEditReconciliationRegenerates(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		Input: "original", Output: "old reply", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.client.resp = llm.Response{Content: "new reply", TotalTokens: 5}

	f.engine.HandleEdit(context.Background(), event("i1", 10, "edited text"))

	msgs := f.transport.messages()
	if len(msgs) != 2 || msgs[0].kind != "edit" || msgs[0].out.Text != placeholderText {
		t.Fatalf("placeholder edit missing: %+v", msgs)
	}
	if msgs[1].kind != "edit" || msgs[1].messageID != "o1" {
		t.Fatalf("regeneration must edit the existing output: %+v", msgs[1])
	}

	if f.store.count() != 1 {
		t.Fatalf("exactly one record must exist after edit, got %d", f.store.count())
	}
	rec, err := f.store.ByInputID("i1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Input != "edited text" || rec.Output != "new reply" || rec.OutputID != "o1" {
		t.Fatalf("record not rebuilt from edited input: %+v", rec)
	}
}

func TestEditInDirectChatDropsOwnExchangeFromContext(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		Input: "original question", Output: "old reply", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ev := event("i1", 10, "edited text")
	ev.Direct = true
	f.engine.HandleEdit(context.Background(), ev)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("want 1 completion, got %d", got)
	}
	msgs := f.client.calls[0]
	if len(msgs) != 1 || msgs[0].Content != "edited text" {
		t.Fatalf("edited interaction must not see its own prior exchange: %+v", msgs)
	}
}

func TestEditOfUnrecordedInputIsNoop(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.engine.HandleEdit(context.Background(), event("i1", 10, "edited"))
	if f.client.callCount() != 0 || len(f.transport.messages()) != 0 {
		t.Fatalf("edit of unknown input must be a no-op")
	}
}

func TestDeleteReconciliation(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.engine.HandleDelete(context.Background(), "i1")

	if len(f.transport.deleted) != 1 || f.transport.deleted[0] != "o1" {
		t.Fatalf("output message must be deleted: %+v", f.transport.deleted)
	}
	if f.store.count() != 0 {
		t.Fatalf("record must be deleted")
	}

	// no-op when nothing is recorded
	f.engine.HandleDelete(context.Background(), "i1")
	if len(f.transport.deleted) != 1 {
		t.Fatalf("second delete must be a no-op")
	}
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		Input: "hello", Output: "old", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ev := event("i1", 10, "hello")
	f.transport.fetchable["i1"] = &ev
	f.client.resp = llm.Response{Content: "fresh", TotalTokens: 3}

	if err := f.engine.Regenerate(context.Background(), "o1", 10); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	rec, err := f.store.ByInputID("i1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Output != "fresh" || rec.OutputID != "o1" {
		t.Fatalf("regenerated record: %+v", rec)
	}
}

func TestRegenerateErrors(t *testing.T) {
	f := newFixture(t, true, Options{})
	if err := f.engine.Regenerate(context.Background(), "o1", 10); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("want ErrNoRecord, got %v", err)
	}

	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.engine.Regenerate(context.Background(), "o1", 10); !errors.Is(err, ErrInputGone) {
		t.Fatalf("want ErrInputGone, got %v", err)
	}

	f.guard.TryAcquire(10)
	if err := f.engine.Regenerate(context.Background(), "o1", 10); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestPurgeActorLeavesOthers(t *testing.T) {
	f := newFixture(t, true, Options{})
	now := time.Now().UTC()
	for _, r := range []store.Interaction{
		{InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10, CreatedAt: now},
		{InputID: "i2", OutputID: "o2", ConversationID: "c1", ActorID: 10, CreatedAt: now},
		{InputID: "i3", OutputID: "o3", ConversationID: "c2", ActorID: 20, CreatedAt: now},
	} {
		if err := f.store.Create(r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	n, err := f.engine.PurgeActor(10)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 || f.store.count() != 1 {
		t.Fatalf("purge must remove only the actor's records: n=%d left=%d", n, f.store.count())
	}
	if len(f.stats.records) != 0 {
		t.Fatalf("purge must not touch statistics")
	}
}

func TestIgnoresForeignBots(t *testing.T) {
	f := newFixture(t, true, Options{AllowedBots: []int64{77}})
	ev := event("i1", 66, "hi")
	ev.ActorIsBot = true
	f.engine.HandleMessage(context.Background(), ev, nil)
	if f.client.callCount() != 0 || len(f.transport.messages()) != 0 {
		t.Fatalf("foreign bot must be ignored")
	}

	ev2 := event("i2", 77, "hi")
	ev2.ActorIsBot = true
	f.engine.HandleMessage(context.Background(), ev2, nil)
	if f.client.callCount() != 1 {
		t.Fatalf("allowlisted bot must be processed")
	}
}

func TestHeartbeatRunsDuringGenerationOnly(t *testing.T) {
	f := newFixture(t, true, Options{HeartbeatInterval: 5 * time.Millisecond})
	f.client.onComplete = func() { time.Sleep(30 * time.Millisecond) }
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), nil)

	after := f.transport.heartbeatCount()
	if after < 2 {
		t.Fatalf("expected repeated heartbeats during generation, got %d", after)
	}
	time.Sleep(20 * time.Millisecond)
	if got := f.transport.heartbeatCount(); got != after {
		t.Fatalf("heartbeat outlived the pipeline: %d -> %d", after, got)
	}
}

func TestRegenerationSkipsHeartbeat(t *testing.T) {
	f := newFixture(t, true, Options{HeartbeatInterval: time.Millisecond})
	if err := f.store.Create(store.Interaction{
		InputID: "i1", OutputID: "o1", ConversationID: "c1", ActorID: 10,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.engine.HandleMessage(context.Background(), event("i1", 10, "hello"), &ExistingReply{OutputID: "o1"})
	if got := f.transport.heartbeatCount(); got != 0 {
		t.Fatalf("regeneration must not send heartbeats, got %d", got)
	}
}
