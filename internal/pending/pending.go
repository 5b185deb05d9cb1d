// Package pending remembers actors whose access request has already been
// forwarded to the owner, so a denied actor pings the owner at most once.
package pending

// Actor is a denied actor awaiting an allow/block decision.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Repository interface {
	LoadAll() ([]Actor, error)
	Upsert(actor Actor) error
	Remove(actorID int64) error
}
