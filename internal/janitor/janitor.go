// Package janitor runs periodic retention sweeps over live recipients:
// auto-archive, stored-count pruning, and expired-notification cleanup.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/engine"
	"github.com/projectpulse/beacon/internal/metrics"
)

// Engine is the slice of the notification engine the janitor sweeps.
type Engine interface {
	RecipientIDs() []string
	ApplyRetention(ctx context.Context, recipientID string) (engine.RetentionResult, error)
}

type Janitor struct {
	engine Engine
	config Config
	logger *zap.Logger
}

type Config struct {
	SweepInterval time.Duration
}

func New(eng Engine, cfg Config, logger *zap.Logger) *Janitor {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	return &Janitor{
		engine: eng,
		config: cfg,
		logger: logger,
	}
}

// Start runs sweeps until the context is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep applies retention for every recipient with a live shard. Each
// recipient is independent; one failure never aborts the pass.
func (j *Janitor) Sweep(ctx context.Context) {
	recipients := j.engine.RecipientIDs()
	if len(recipients) == 0 {
		return
	}

	var archived, pruned, expired int
	for _, recipientID := range recipients {
		if ctx.Err() != nil {
			return
		}
		res, err := j.engine.ApplyRetention(ctx, recipientID)
		if err != nil {
			j.logger.Error("retention failed for recipient",
				zap.Error(err),
				zap.String("recipient_id", recipientID),
			)
			continue
		}
		archived += res.AutoArchived
		pruned += res.Pruned
		expired += res.Expired
	}

	metrics.RecordJanitorAction("auto_archive", archived)
	metrics.RecordJanitorAction("prune", pruned)
	metrics.RecordJanitorAction("expire", expired)

	if archived+pruned+expired > 0 {
		j.logger.Info("janitor sweep complete",
			zap.Int("recipients", len(recipients)),
			zap.Int("auto_archived", archived),
			zap.Int("pruned", pruned),
			zap.Int("expired_removed", expired),
		)
	}
}
