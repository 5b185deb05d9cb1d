package access

import (
	"fmt"
	"sort"
	"sync"
)

type DenyReason string

const (
	ReasonBlocked        DenyReason = "blocked"
	ReasonNotAllowlisted DenyReason = "not-allowlisted"
)

// Decision is the outcome of evaluating an actor against the access lists.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Lists holds the two disjoint actor sets as persisted on disk.
type Lists struct {
	Allowed []int64 `json:"allowed"`
	Blocked []int64 `json:"blocked"`
}

type Repository interface {
	Load() (Lists, error)
	Save(Lists) error
}

// Service evaluates and mutates the allow/block lists. An actor id is a
// member of at most one of the two sets at any time.
type Service struct {
	mu      sync.Mutex
	repo    Repository
	ownerID int64
	public  bool
	allowed map[int64]bool
	blocked map[int64]bool
}

func NewService(repo Repository, ownerID int64, public bool) (*Service, error) {
	s := &Service{
		repo:    repo,
		ownerID: ownerID,
		public:  public,
		allowed: make(map[int64]bool),
		blocked: make(map[int64]bool),
	}
	if repo != nil {
		lists, err := repo.Load()
		if err != nil {
			return nil, fmt.Errorf("load access lists: %w", err)
		}
		for _, id := range lists.Allowed {
			s.allowed[id] = true
		}
		for _, id := range lists.Blocked {
			delete(s.allowed, id)
			s.blocked[id] = true
		}
	}
	return s, nil
}

// Decide applies the gate rules in order: owner, blocked, allowlist, public
// default. It never mutates state.
func (s *Service) Decide(actorID int64) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actorID == s.ownerID {
		return Decision{Allowed: true}
	}
	if s.blocked[actorID] {
		return Decision{Reason: ReasonBlocked}
	}
	if !s.public && !s.allowed[actorID] {
		return Decision{Reason: ReasonNotAllowlisted}
	}
	return Decision{Allowed: true}
}

func (s *Service) Allow(actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, actorID)
	s.allowed[actorID] = true
	return s.flushLocked()
}

func (s *Service) Block(actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, actorID)
	s.blocked[actorID] = true
	return s.flushLocked()
}

// Unset removes the actor from both sets, leaving the public-usage
// default to apply.
func (s *Service) Unset(actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, actorID)
	delete(s.blocked, actorID)
	return s.flushLocked()
}

// Wipe clears both sets.
func (s *Service) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = make(map[int64]bool)
	s.blocked = make(map[int64]bool)
	return s.flushLocked()
}

func (s *Service) List() Lists {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listsLocked()
}

func (s *Service) listsLocked() Lists {
	out := Lists{
		Allowed: make([]int64, 0, len(s.allowed)),
		Blocked: make([]int64, 0, len(s.blocked)),
	}
	for id := range s.allowed {
		out.Allowed = append(out.Allowed, id)
	}
	for id := range s.blocked {
		out.Blocked = append(out.Blocked, id)
	}
	sort.Slice(out.Allowed, func(i, j int) bool { return out.Allowed[i] < out.Allowed[j] })
	sort.Slice(out.Blocked, func(i, j int) bool { return out.Blocked[i] < out.Blocked[j] })
	return out
}

func (s *Service) flushLocked() error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Save(s.listsLocked())
}
