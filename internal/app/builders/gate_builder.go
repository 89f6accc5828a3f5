package builders

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/aatumaykin/jobrelay/internal/config"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/validator"
)

// BuildGate creates the validator gate. When the whitelist is enabled the
// send_message action is gated and the configured whitelists are loaded into
// the allow-list store.
func BuildGate(ctx context.Context, cfg *config.Config, infra *Infra, log *logger.Logger, sink metrics.Sink) (*validator.Gate, error) {
	gate := validator.NewGate(log, sink)
	if !cfg.Validator.Enabled {
		log.Warn("validator disabled, outbound messages are not gated")
		return gate, nil
	}

	var list validator.AllowList
	switch cfg.Validator.Store {
	case config.StoreRedis:
		list = validator.NewRedisAllowList(infra.Client)
	case config.StoreMemory:
		list = validator.NewMemoryAllowList()
	default:
		return nil, fmt.Errorf("unsupported validator store: %s", cfg.Validator.Store)
	}

	rc := validator.RateConfig{Burst: cfg.Validator.Burst}
	if cfg.Validator.RatePerMinute > 0 {
		rc.Limit = rate.Limit(cfg.Validator.RatePerMinute / 60)
	}

	wl := validator.NewWhitelistValidator(
		validator.PhoneNormalizer{DefaultCountryCode: cfg.Validator.DefaultCountryCode}, list, rc)

	for actor, resources := range cfg.Validator.Whitelists {
		if err := wl.Allow(ctx, actor, resources...); err != nil {
			return nil, fmt.Errorf("load whitelist of %s: %w", actor, err)
		}
	}

	gate.Register(constants.ActionSendMessage, wl)
	log.Info("validator enabled",
		logger.Field{Key: "store", Value: cfg.Validator.Store},
		logger.Field{Key: "actors", Value: len(cfg.Validator.Whitelists)})
	return gate, nil
}
