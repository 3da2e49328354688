package workflow

import "context"

// Repository is the persistence backend behind the session store. It has
// key-value semantics over whole sessions and must survive process restarts.
//
// Get returns an error with code SessionNotFound for a missing id. Set is an
// atomic per-session upsert: a failed Set leaves every stored session intact.
// Delete of a missing id is not an error. List returns sessions ordered by
// CreatedAt descending, most recently inserted first on ties.
type Repository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Set(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
