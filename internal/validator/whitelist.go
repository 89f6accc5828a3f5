package validator

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// RateConfig limits how often one actor may pass the validator.
// A zero Limit disables rate limiting.
type RateConfig struct {
	Limit rate.Limit // events per second
	Burst int
}

// WhitelistValidator allows a resource when its normalized form is in the
// actor's allow-list or equals the actor's own normalized identifier.
type WhitelistValidator struct {
	normalizer Normalizer
	list       AllowList
	rate       RateConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewWhitelistValidator creates a validator. A nil normalizer uses
// IdentityNormalizer.
func NewWhitelistValidator(normalizer Normalizer, list AllowList, rc RateConfig) *WhitelistValidator {
	if normalizer == nil {
		normalizer = IdentityNormalizer
	}
	if rc.Limit > 0 && rc.Burst <= 0 {
		rc.Burst = 1
	}
	return &WhitelistValidator{
		normalizer: normalizer,
		list:       list,
		rate:       rc,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Validate implements Validator.
func (w *WhitelistValidator) Validate(ctx context.Context, resource string, vctx Context) Result {
	if vctx.ActorID == "" {
		return Rejected(ErrNoActor)
	}

	canonical, err := w.normalizer.Normalize(resource)
	if err != nil {
		return Rejected(err)
	}

	allowed, err := w.allowed(ctx, vctx.ActorID, canonical)
	if err != nil {
		return Rejected(err)
	}
	if !allowed {
		return Rejected(errors.WithHintf(
			errors.Wrapf(ErrNotWhitelisted, "%s for actor %s", canonical, vctx.ActorID),
			"add %s to the whitelist of %s", canonical, vctx.ActorID))
	}

	if !w.takeToken(vctx.ActorID, vctx.DryRun) {
		return Rejected(errors.Wrapf(ErrRateLimited, "actor %s", vctx.ActorID))
	}
	return Allowed
}

func (w *WhitelistValidator) allowed(ctx context.Context, actorID, canonical string) (bool, error) {
	// Self-whitelisting: an actor may always target itself.
	if self, err := w.normalizer.Normalize(actorID); err == nil && self == canonical {
		return true, nil
	}
	ok, err := w.list.Contains(ctx, actorID, canonical)
	if err != nil {
		return false, errors.Wrap(err, "whitelist lookup")
	}
	return ok, nil
}

// takeToken consumes a token for actorID. A dry run only checks that one is
// available.
func (w *WhitelistValidator) takeToken(actorID string, dryRun bool) bool {
	if w.rate.Limit <= 0 {
		return true
	}

	w.mu.Lock()
	lim, ok := w.limiters[actorID]
	if !ok {
		if dryRun {
			w.mu.Unlock()
			return true
		}
		lim = rate.NewLimiter(w.rate.Limit, w.rate.Burst)
		w.limiters[actorID] = lim
	}
	w.mu.Unlock()

	if dryRun {
		return lim.Tokens() >= 1
	}
	return lim.Allow()
}

// Allow normalizes resources and adds them to the allow-list of actorID.
func (w *WhitelistValidator) Allow(ctx context.Context, actorID string, resources ...string) error {
	canonical, err := w.normalizeAll(resources)
	if err != nil {
		return err
	}
	return w.list.Add(ctx, actorID, canonical...)
}

// Revoke normalizes resources and removes them from the allow-list of actorID.
func (w *WhitelistValidator) Revoke(ctx context.Context, actorID string, resources ...string) error {
	canonical, err := w.normalizeAll(resources)
	if err != nil {
		return err
	}
	return w.list.Remove(ctx, actorID, canonical...)
}

func (w *WhitelistValidator) normalizeAll(resources []string) ([]string, error) {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		c, err := w.normalizer.Normalize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

var _ Validator = (*WhitelistValidator)(nil)
