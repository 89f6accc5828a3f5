// Package validator gates side-effecting actions on sensitive resources.
//
// A Gate maps action names to Validators. An action with no registered
// validator is allowed. Gating is opt-in per action: registering a validator
// switches that action to deny-unless-allowed.
package validator

import (
	"context"
	"sync"

	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
)

// Context carries who is acting and whether the call may have side effects.
type Context struct {
	ActorID string
	// DryRun performs the same checks without consuming rate-limit tokens
	// or recording decisions.
	DryRun bool
}

// Result is the outcome of a validation. Err explains a rejection.
type Result struct {
	Valid bool
	Err   error
}

// Allowed is the result for a permitted action.
var Allowed = Result{Valid: true}

// Rejected wraps err as a negative result.
func Rejected(err error) Result {
	return Result{Valid: false, Err: err}
}

// Validator checks one resource for one action.
type Validator interface {
	Validate(ctx context.Context, resource string, vctx Context) Result
}

// Gate dispatches validation by action name. It is safe for concurrent use.
type Gate struct {
	mu         sync.RWMutex
	validators map[string]Validator
	logger     *logger.Logger
	metrics    metrics.Sink
}

// NewGate creates an empty gate. log and sink may be nil.
func NewGate(log *logger.Logger, sink metrics.Sink) *Gate {
	if log == nil {
		log = logger.Discard()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Gate{
		validators: make(map[string]Validator),
		logger:     log.Component("validator"),
		metrics:    sink,
	}
}

// Register installs v for action, replacing any previous validator.
func (g *Gate) Register(action string, v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validators[action] = v
}

// Unregister removes the validator for action, making it allowed again.
func (g *Gate) Unregister(action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.validators, action)
}

// Has reports whether action is gated.
func (g *Gate) Has(action string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.validators[action]
	return ok
}

// Validate checks resource for action on behalf of vctx.ActorID.
func (g *Gate) Validate(ctx context.Context, action, resource string, vctx Context) Result {
	g.mu.RLock()
	v, ok := g.validators[action]
	g.mu.RUnlock()

	if !ok {
		return Allowed
	}

	res := v.Validate(ctx, resource, vctx)

	if !vctx.DryRun {
		g.metrics.ValidationDecision(action, res.Valid)
		if !res.Valid {
			g.logger.Warn("action rejected",
				logger.Field{Key: "action", Value: action},
				logger.Field{Key: "actor_id", Value: vctx.ActorID},
				logger.Field{Key: "reason", Value: errString(res.Err)})
		}
	}
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
