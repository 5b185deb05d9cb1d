// Package stats tracks usage totals: all-time and per calendar month,
// globally and per actor. The whole document is rewritten to disk after
// every successful interaction.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// PlaceholderTokens is charged for interactions that have no real token
// cost, so cost displays stay non-degenerate.
const PlaceholderTokens = 10000

// MonthKey formats a timestamp into the month-bucket key.
func MonthKey(t time.Time) string { return t.Format("2006-01") }

type Totals struct {
	Interactions int64 `json:"interactions"`
	Tokens       int64 `json:"tokens"`
}

type bucket struct {
	TotalInteractions int64              `json:"totalInteractions"`
	TotalTokens       int64              `json:"totalTokens"`
	Users             map[string]*Totals `json:"users"`
}

func (b *bucket) add(actorKey string, tokens int64) {
	if b.Users == nil {
		b.Users = make(map[string]*Totals)
	}
	u := b.Users[actorKey]
	if u == nil {
		u = &Totals{}
		b.Users[actorKey] = u
	}
	b.TotalInteractions++
	b.TotalTokens += tokens
	u.Interactions++
	u.Tokens += tokens
}

type document struct {
	bucket
	Months map[string]*bucket `json:"months"`
}

// Book is the owned in-memory aggregate with write-through persistence.
type Book struct {
	mu   sync.Mutex
	path string
	doc  document
}

func Load(path string) (*Book, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	b := &Book{path: path}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("open stats: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	dec := json.NewDecoder(f)
	if err := dec.Decode(&b.doc); err != nil && err != io.EOF {
		// malformed -> start fresh rather than refuse to boot
		b.doc = document{}
	}
	return b, nil
}

// Record increments the all-time and month aggregates together and
// flushes the document. Interactions that report no token usage are
// charged PlaceholderTokens.
func (b *Book) Record(actorID int64, tokens int64, at time.Time) error {
	if tokens <= 0 {
		tokens = PlaceholderTokens
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := actorKey(actorID)
	b.doc.add(key, tokens)
	if b.doc.Months == nil {
		b.doc.Months = make(map[string]*bucket)
	}
	month := MonthKey(at)
	mb := b.doc.Months[month]
	if mb == nil {
		mb = &bucket{}
		b.doc.Months[month] = mb
	}
	mb.add(key, tokens)
	return b.flushLocked()
}

// Reset zeroes every counter.
func (b *Book) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = document{}
	return b.flushLocked()
}

func (b *Book) Global() Totals {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Totals{Interactions: b.doc.TotalInteractions, Tokens: b.doc.TotalTokens}
}

func (b *Book) Actor(actorID int64) Totals {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u := b.doc.Users[actorKey(actorID)]; u != nil {
		return *u
	}
	return Totals{}
}

func (b *Book) Month(month string) Totals {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb := b.doc.Months[month]; mb != nil {
		return Totals{Interactions: mb.TotalInteractions, Tokens: mb.TotalTokens}
	}
	return Totals{}
}

func (b *Book) MonthActor(month string, actorID int64) Totals {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb := b.doc.Months[month]; mb != nil {
		if u := mb.Users[actorKey(actorID)]; u != nil {
			return *u
		}
	}
	return Totals{}
}

func (b *Book) flushLocked() error {
	f, err := os.OpenFile(b.path, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open write: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	if err := enc.Encode(&b.doc); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}

func actorKey(id int64) string { return strconv.FormatInt(id, 10) }
