package engine

import (
	"sync"
	"time"
)

// activityLog tracks the last inbound event per conversation so the
// engine can tell whether anything happened between an input arriving
// and its reply going out.
type activityLog struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newActivityLog() *activityLog {
	return &activityLog{last: make(map[string]time.Time)}
}

// mark stamps the conversation and returns the stamp, which the caller
// keeps as its arrival token.
func (a *activityLog) mark(conversationID string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	a.last[conversationID] = now
	return now
}

// MarkActivity stamps the conversation as active. Adapters call it for
// every inbound message they see, addressed to the bot or not, so the
// reply-with-quote heuristic notices unrelated traffic too.
func (e *Engine) MarkActivity(conversationID string) {
	e.activity.mark(conversationID)
}

// movedSince reports whether another event stamped the conversation
// after the given arrival token.
func (a *activityLog) movedSince(conversationID string, arrival time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.last[conversationID].Equal(arrival)
}
