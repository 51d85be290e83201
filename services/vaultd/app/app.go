package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"yieldvault/core/events"
	"yieldvault/core/state"
	"yieldvault/native/accountant"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/factory"
	"yieldvault/native/strategy"
	"yieldvault/native/token"
	"yieldvault/native/vault"
	"yieldvault/observability"
	"yieldvault/observability/metrics"
	"yieldvault/services/vaultd/config"
	"yieldvault/services/vaultd/journal"
	"yieldvault/services/vaultd/keeper"
	vaultmw "yieldvault/services/vaultd/middleware"
	"yieldvault/services/vaultd/server"
	"yieldvault/storage"
)

// App holds the wired vault daemon.
type App struct {
	Engine     *vault.Engine
	Asset      *token.Ledger
	Factory    *factory.Factory
	Accountant *accountant.Flat
	Strategies map[common.Address]*strategy.Passthrough
	Roles      *vault.RoleSet
	Pauses     *nativecommon.Pauses
	Journal    *journal.Journal
	Keeper     *keeper.Keeper
	Server     *server.Server

	db     *storage.LevelDB
	logger *slog.Logger
}

// DeriveAddress returns a deterministic address for label.
func DeriveAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("yieldvault/" + label)))
}

// New opens storage, restores or creates the vault ledger and applies the
// configured parameters.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Strategies: make(map[common.Address]*strategy.Passthrough),
		Roles:      vault.NewRoleSet(),
		Pauses:     nativecommon.NewPauses(),
		logger:     logger,
	}
	if err := a.build(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg config.Config) error {
	vaultAddr, err := config.ParseAddress(cfg.Vault.Address)
	if err != nil {
		return err
	}
	if vaultAddr == (common.Address{}) {
		vaultAddr = DeriveAddress("vault/" + cfg.Vault.AssetSymbol)
	}
	assetAddr, err := config.ParseAddress(cfg.Vault.AssetAddress)
	if err != nil {
		return err
	}
	if assetAddr == (common.Address{}) {
		assetAddr = DeriveAddress("asset/" + cfg.Vault.AssetSymbol)
	}
	a.Asset = token.NewLedger(assetAddr, cfg.Vault.AssetSymbol, cfg.Vault.Decimals)

	feeRecipient, err := config.ParseAddress(cfg.Vault.ProtocolFeeRecipient)
	if err != nil {
		return err
	}
	a.Factory, err = factory.New(factory.Config{DefaultFeeBps: cfg.Vault.ProtocolFeeBps, Recipient: feeRecipient})
	if err != nil {
		return err
	}

	if cfg.Accountant.Address != "" {
		addr, err := config.ParseAddress(cfg.Accountant.Address)
		if err != nil {
			return err
		}
		a.Accountant, err = accountant.NewFlat(addr, accountant.Config{
			PerformanceFeeBps: cfg.Accountant.PerformanceFeeBps,
			RefundBps:         cfg.Accountant.RefundBps,
		})
		if err != nil {
			return err
		}
	}

	for _, sc := range cfg.Strategies {
		strat, err := newStrategy(sc, a.Asset)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Address, err)
		}
		a.Strategies[strat.Address()] = strat
	}

	for _, op := range cfg.Operators {
		addr, roles, err := op.Parse()
		if err != nil {
			return err
		}
		a.Roles.Grant(addr, roles)
	}
	var keeperAddr common.Address
	if cfg.Keeper.Schedule != "" {
		keeperAddr, err = config.ParseAddress(cfg.Keeper.Address)
		if err != nil {
			return err
		}
		a.Roles.Grant(keeperAddr, vault.RoleReportingManager)
	}

	a.db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	a.Journal, err = journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}

	a.Engine = vault.NewEngine(vaultAddr, a.Asset, a.Factory)
	a.Engine.SetState(state.NewVaultStore(a.db, vaultAddr))
	a.Engine.SetRoles(a.Roles)
	a.Engine.SetPauses(a.Pauses)
	a.Engine.SetEmitter(events.MultiEmitter{a.Journal, observability.Events()})
	a.Engine.SetMetrics(metrics.Vault())

	existing, err := a.Engine.Ledger()
	fresh := errors.Is(err, vault.ErrNotInitialised)
	if err != nil && !fresh {
		return err
	}
	if err := a.Engine.Initialize(cfg.Vault.Decimals, cfg.Vault.ProfitMaxUnlockSeconds); err != nil {
		return err
	}
	if fresh {
		if err := a.seedGenesis(cfg.Genesis); err != nil {
			return err
		}
	} else if err := a.reseed(existing); err != nil {
		return err
	}
	if err := a.apply(cfg); err != nil {
		return err
	}

	if cfg.Keeper.Schedule != "" {
		a.Keeper, err = keeper.New(a.Engine, keeperAddr, cfg.Keeper.Schedule, a.logger)
		if err != nil {
			return err
		}
	}

	maxAssets, err := config.ParseAmount(cfg.Quota.MaxAssetsPerEpoch)
	if err != nil {
		return err
	}
	a.Server, err = server.New(server.Config{
		Engine: a.Engine,
		Asset:  a.Asset,
		Auth: vaultmw.NewAuthenticator(vaultmw.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			RolesClaim: cfg.Auth.RolesClaim,
		}),
		Limiter: vaultmw.NewRateLimiter(vaultmw.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
		Quota: nativecommon.NewQuotaTracker(nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quota.MaxRequestsPerEpoch,
			MaxAssetsPerEpoch:   maxAssets,
			EpochSeconds:        cfg.Quota.EpochSeconds,
		}),
		Pauses: a.Pauses,
		Events: a.Journal,
		Strategies: func(addr common.Address) (vault.Strategy, bool) {
			strat, ok := a.Strategies[addr]
			return strat, ok
		},
		Logger: a.logger,
	})
	return err
}

func newStrategy(sc config.StrategyConfig, asset *token.Ledger) (*strategy.Passthrough, error) {
	addr, err := config.ParseAddress(sc.Address)
	if err != nil {
		return nil, err
	}
	depositCap, err := config.ParseAmount(sc.DepositCap)
	if err != nil {
		return nil, err
	}
	liquidity, err := config.ParseAmount(sc.Liquidity)
	if err != nil {
		return nil, err
	}
	sink, err := config.ParseAddress(sc.Sink)
	if err != nil {
		return nil, err
	}
	return strategy.NewPassthrough(addr, asset, strategy.Config{
		DepositCap: depositCap,
		Liquidity:  liquidity,
		HaircutBps: sc.HaircutBps,
		Sink:       sink,
	})
}

func (a *App) seedGenesis(balances []config.BalanceConfig) error {
	for _, bal := range balances {
		addr, amount, err := bal.Parse()
		if err != nil {
			return err
		}
		if err := a.Asset.Mint(addr, amount); err != nil {
			return fmt.Errorf("genesis %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

// reseed rebuilds the simulated asset holdings behind a persisted ledger:
// idle funds sit with the vault and each strategy holds its recorded debt.
func (a *App) reseed(l *vault.Ledger) error {
	vaultAddr := a.Engine.Address()
	if err := a.Asset.Mint(vaultAddr, l.TotalIdle); err != nil {
		return fmt.Errorf("reseed idle: %w", err)
	}
	for addr, params := range l.Strategies {
		strat, ok := a.Strategies[addr]
		if !ok {
			a.logger.Warn("vaultd: persisted strategy missing from config", "strategy", addr.Hex())
			continue
		}
		if params.CurrentDebt == nil || params.CurrentDebt.IsZero() {
			continue
		}
		if err := a.Asset.Mint(vaultAddr, params.CurrentDebt); err != nil {
			return err
		}
		if err := a.Asset.Approve(vaultAddr, addr, params.CurrentDebt); err != nil {
			return err
		}
		if _, err := strat.Deposit(vaultAddr, params.CurrentDebt, vaultAddr); err != nil {
			return fmt.Errorf("reseed strategy %s: %w", addr.Hex(), err)
		}
	}
	a.logger.Info("vaultd: restored vault holdings",
		"idle", l.TotalIdle.Dec(),
		"debt", l.TotalDebt.Dec(),
		"strategies", len(l.Strategies))
	return nil
}

// apply brings the ledger in line with the configuration through the
// regular managed entry points, acting as the vault itself.
func (a *App) apply(cfg config.Config) error {
	bootstrap := a.Engine.Address()
	a.Roles.Grant(bootstrap, vault.RoleAll)
	defer a.Roles.Revoke(bootstrap, vault.RoleAll)

	l, err := a.Engine.Ledger()
	if err != nil {
		return err
	}

	if a.Accountant != nil {
		if l.Accountant == a.Accountant.Address() {
			err = a.Engine.BindAccountant(a.Accountant)
		} else {
			err = a.Engine.SetAccountant(bootstrap, a.Accountant)
		}
		if err != nil {
			return fmt.Errorf("accountant: %w", err)
		}
	} else if l.Accountant != (common.Address{}) {
		if err := a.Engine.SetAccountant(bootstrap, nil); err != nil {
			return fmt.Errorf("accountant: %w", err)
		}
	}
	if l.ProfitMaxUnlockTime != cfg.Vault.ProfitMaxUnlockSeconds {
		if err := a.Engine.SetProfitMaxUnlockTime(bootstrap, cfg.Vault.ProfitMaxUnlockSeconds); err != nil {
			return fmt.Errorf("profit unlock: %w", err)
		}
	}
	minIdle, err := config.ParseAmount(cfg.Vault.MinimumTotalIdle)
	if err != nil {
		return err
	}
	if minIdle != nil && !minIdle.Eq(l.MinimumTotalIdle) {
		if err := a.Engine.SetMinimumTotalIdle(bootstrap, minIdle); err != nil {
			return fmt.Errorf("minimum idle: %w", err)
		}
	}
	depositLimit, err := config.ParseAmount(cfg.Vault.DepositLimit)
	if err != nil {
		return err
	}
	if depositLimit != nil && !l.Shutdown && !depositLimit.Eq(l.DepositLimit) {
		if err := a.Engine.SetDepositLimit(bootstrap, depositLimit); err != nil {
			return fmt.Errorf("deposit limit: %w", err)
		}
	}

	for _, sc := range cfg.Strategies {
		addr, _ := config.ParseAddress(sc.Address)
		strat := a.Strategies[addr]
		if params, ok := l.Strategies[addr]; ok && params.Active() {
			if err := a.Engine.BindStrategy(strat); err != nil {
				return err
			}
		} else if err := a.Engine.AddStrategy(bootstrap, strat); err != nil {
			return fmt.Errorf("add strategy %s: %w", addr.Hex(), err)
		}
		maxDebt, err := config.ParseAmount(sc.MaxDebt)
		if err != nil {
			return err
		}
		if maxDebt == nil {
			continue
		}
		current, err := a.Engine.Strategy(addr)
		if err != nil {
			return err
		}
		if !maxDebt.Eq(current.MaxDebt) {
			if err := a.Engine.UpdateMaxDebt(bootstrap, addr, maxDebt); err != nil {
				return fmt.Errorf("max debt %s: %w", addr.Hex(), err)
			}
		}
	}
	return nil
}

// Start launches background jobs.
func (a *App) Start(ctx context.Context) error {
	if a.Keeper == nil {
		return nil
	}
	return a.Keeper.Start(ctx)
}

// LogSummary logs the vault state once at startup.
func (a *App) LogSummary() {
	summary, err := a.Engine.Summary()
	if err != nil {
		a.logger.Warn("vaultd: summary unavailable", "error", err)
		return
	}
	a.logger.Info("vaultd: vault ready",
		"vault", a.Engine.Address().Hex(),
		"asset", summary.Asset.Hex(),
		"totalAssets", summary.TotalAssets.Dec(),
		"totalSupply", summary.TotalSupply.Dec(),
		"strategies", summary.StrategyCount,
		"shutdown", summary.Shutdown,
		"startedAt", time.Now().UTC().Format(time.RFC3339))
}

// Close releases storage handles.
func (a *App) Close() error {
	var errs []error
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
