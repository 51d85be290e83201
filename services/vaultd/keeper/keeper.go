package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"yieldvault/native/vault"
	"yieldvault/observability/metrics"
)

// Engine is the slice of the vault engine the keeper drives.
type Engine interface {
	Address() common.Address
	Summary() (vault.Summary, error)
	Strategies() ([]common.Address, error)
	ProcessReport(actor, strategy common.Address) (vault.ReportInfo, error)
}

// Keeper periodically reports every strategy of a vault.
type Keeper struct {
	engine   Engine
	actor    common.Address
	schedule string
	logger   *slog.Logger
	metrics  *metrics.VaultMetrics
	cron     *cron.Cron
}

func New(engine Engine, actor common.Address, schedule string, logger *slog.Logger) (*Keeper, error) {
	if engine == nil {
		return nil, errors.New("keeper: engine required")
	}
	schedule = strings.TrimSpace(schedule)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("keeper: schedule: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		engine:   engine,
		actor:    actor,
		schedule: schedule,
		logger:   logger.With("component", "keeper"),
		metrics:  metrics.Vault(),
	}, nil
}

// Start registers the report job and returns once the scheduler runs. The
// scheduler stops when ctx is cancelled.
func (k *Keeper) Start(ctx context.Context) error {
	k.cron = cron.New()
	if _, err := k.cron.AddFunc(k.schedule, func() {
		k.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("keeper: register job: %w", err)
	}
	k.cron.Start()
	k.logger.Info("keeper started", "schedule", k.schedule, "actor", k.actor.Hex())
	go func() {
		<-ctx.Done()
		<-k.cron.Stop().Done()
		k.logger.Info("keeper stopped")
	}()
	return nil
}

// Result summarises one keeper pass.
type Result struct {
	Reported []common.Address
	Failed   map[common.Address]error
}

// RunOnce reports the default queue, or every active strategy when the queue
// is empty. Failures are logged and counted, never returned.
func (k *Keeper) RunOnce(ctx context.Context) Result {
	result := Result{Failed: make(map[common.Address]error)}
	label := strings.ToLower(k.engine.Address().Hex())
	targets, err := k.targets()
	if err != nil {
		k.logger.Error("keeper: list strategies", "error", err)
		k.metrics.ObserveKeeperRun(label, err)
		return result
	}
	for _, strat := range targets {
		if ctx.Err() != nil {
			break
		}
		info, err := k.engine.ProcessReport(k.actor, strat)
		k.metrics.ObserveKeeperRun(label, err)
		if err != nil {
			k.logger.Warn("keeper: report failed", "strategy", strat.Hex(), "category", vault.CategoryOf(err).String(), "error", err)
			result.Failed[strat] = err
			continue
		}
		k.logger.Debug("keeper: strategy reported",
			"strategy", strat.Hex(),
			"gain", info.Gain.Dec(),
			"loss", info.Loss.Dec(),
			"currentDebt", info.CurrentDebt.Dec())
		result.Reported = append(result.Reported, strat)
	}
	return result
}

func (k *Keeper) targets() ([]common.Address, error) {
	summary, err := k.engine.Summary()
	if err != nil {
		return nil, err
	}
	if len(summary.DefaultQueue) > 0 {
		return summary.DefaultQueue, nil
	}
	return k.engine.Strategies()
}
