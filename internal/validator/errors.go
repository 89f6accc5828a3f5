package validator

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotWhitelisted rejects a resource missing from the actor's allow-list.
	ErrNotWhitelisted = errors.New("resource is not whitelisted")
	// ErrRateLimited rejects an actor that exceeded its action rate.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNoActor rejects a gated action without an actor to scope it.
	ErrNoActor = errors.New("actor id is required")
)

// InvalidResourceError reports a resource that cannot be normalized.
type InvalidResourceError struct {
	Resource string
	Reason   string
}

func (e *InvalidResourceError) Error() string {
	return fmt.Sprintf("invalid resource %q: %s", e.Resource, e.Reason)
}
