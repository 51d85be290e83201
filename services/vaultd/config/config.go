package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"yieldvault/native/factory"
	"yieldvault/native/vault"
)

const (
	defaultListen      = ":7080"
	defaultDataDir     = "data/vaultd"
	defaultRolesClaim  = "roles"
	defaultRatePerMin  = 120
	defaultRateBurst   = 20
	defaultLogMaxSize  = 100
	defaultEpochSecond = 60
)

// Config captures the runtime settings for the vault daemon.
type Config struct {
	ListenAddress string           `yaml:"listen" toml:"listen"`
	DataDir       string           `yaml:"data_dir" toml:"data_dir"`
	JournalPath   string           `yaml:"journal" toml:"journal"`
	Log           LogConfig        `yaml:"log" toml:"log"`
	Vault         VaultConfig      `yaml:"vault" toml:"vault"`
	Accountant    AccountantConfig `yaml:"accountant" toml:"accountant"`
	Strategies    []StrategyConfig `yaml:"strategies" toml:"strategies"`
	Operators     []OperatorConfig `yaml:"operators" toml:"operators"`
	Genesis       []BalanceConfig  `yaml:"genesis" toml:"genesis"`
	Keeper        KeeperConfig     `yaml:"keeper" toml:"keeper"`
	Auth          AuthConfig       `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Quota         QuotaConfig      `yaml:"quota" toml:"quota"`
}

// LogConfig selects the log level and an optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// VaultConfig describes the vault and its underlying asset. Amounts are
// decimal strings in base units.
type VaultConfig struct {
	Address                string `yaml:"address" toml:"address"`
	AssetSymbol            string `yaml:"asset_symbol" toml:"asset_symbol"`
	AssetAddress           string `yaml:"asset_address" toml:"asset_address"`
	Decimals               uint8  `yaml:"decimals" toml:"decimals"`
	MinimumTotalIdle       string `yaml:"minimum_total_idle" toml:"minimum_total_idle"`
	DepositLimit           string `yaml:"deposit_limit" toml:"deposit_limit"`
	ProfitMaxUnlockSeconds uint64 `yaml:"profit_max_unlock_seconds" toml:"profit_max_unlock_seconds"`
	ProtocolFeeBps         uint16 `yaml:"protocol_fee_bps" toml:"protocol_fee_bps"`
	ProtocolFeeRecipient   string `yaml:"protocol_fee_recipient" toml:"protocol_fee_recipient"`
}

// AccountantConfig enables the flat fee accountant when Address is set.
type AccountantConfig struct {
	Address           string `yaml:"address" toml:"address"`
	PerformanceFeeBps uint64 `yaml:"performance_fee_bps" toml:"performance_fee_bps"`
	RefundBps         uint64 `yaml:"refund_bps" toml:"refund_bps"`
}

// StrategyConfig registers one passthrough strategy at startup.
type StrategyConfig struct {
	Address    string `yaml:"address" toml:"address"`
	MaxDebt    string `yaml:"max_debt" toml:"max_debt"`
	DepositCap string `yaml:"deposit_cap" toml:"deposit_cap"`
	Liquidity  string `yaml:"liquidity" toml:"liquidity"`
	HaircutBps uint64 `yaml:"haircut_bps" toml:"haircut_bps"`
	Sink       string `yaml:"sink" toml:"sink"`
}

// OperatorConfig grants vault roles to an address.
type OperatorConfig struct {
	Address string   `yaml:"address" toml:"address"`
	Roles   []string `yaml:"roles" toml:"roles"`
}

// BalanceConfig seeds the simulated asset ledger when a vault is first
// created.
type BalanceConfig struct {
	Address string `yaml:"address" toml:"address"`
	Amount  string `yaml:"amount" toml:"amount"`
}

// KeeperConfig schedules automatic strategy reports. An empty schedule
// disables the keeper.
type KeeperConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"`
	Address  string `yaml:"address" toml:"address"`
}

// AuthConfig configures HMAC signed bearer tokens. The token subject is the
// calling address.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string `yaml:"issuer" toml:"issuer"`
	Audience   string `yaml:"audience" toml:"audience"`
	RolesClaim string `yaml:"roles_claim" toml:"roles_claim"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// QuotaConfig bounds inflows per caller and epoch. Zero values disable the
// corresponding limit.
type QuotaConfig struct {
	MaxRequestsPerEpoch uint32 `yaml:"max_requests_per_epoch" toml:"max_requests_per_epoch"`
	MaxAssetsPerEpoch   string `yaml:"max_assets_per_epoch" toml:"max_assets_per_epoch"`
	EpochSeconds        uint32 `yaml:"epoch_seconds" toml:"epoch_seconds"`
}

// Load reads a YAML or TOML configuration, chosen by file extension, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = defaultLogMaxSize
	}
	cfg.Vault.AssetSymbol = strings.ToUpper(strings.TrimSpace(cfg.Vault.AssetSymbol))
	cfg.Vault.Address = strings.TrimSpace(cfg.Vault.Address)
	cfg.Vault.AssetAddress = strings.TrimSpace(cfg.Vault.AssetAddress)
	cfg.Vault.ProtocolFeeRecipient = strings.TrimSpace(cfg.Vault.ProtocolFeeRecipient)
	cfg.Accountant.Address = strings.TrimSpace(cfg.Accountant.Address)
	for i := range cfg.Strategies {
		cfg.Strategies[i].Address = strings.TrimSpace(cfg.Strategies[i].Address)
		cfg.Strategies[i].Sink = strings.TrimSpace(cfg.Strategies[i].Sink)
	}
	for i := range cfg.Operators {
		cfg.Operators[i].Address = strings.TrimSpace(cfg.Operators[i].Address)
	}
	for i := range cfg.Genesis {
		cfg.Genesis[i].Address = strings.TrimSpace(cfg.Genesis[i].Address)
	}
	cfg.Keeper.Schedule = strings.TrimSpace(cfg.Keeper.Schedule)
	cfg.Keeper.Address = strings.TrimSpace(cfg.Keeper.Address)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.RolesClaim = strings.TrimSpace(cfg.Auth.RolesClaim)
	if cfg.Auth.RolesClaim == "" {
		cfg.Auth.RolesClaim = defaultRolesClaim
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRatePerMin
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = defaultEpochSecond
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Vault.validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := cfg.Accountant.validate(); err != nil {
		return fmt.Errorf("accountant: %w", err)
	}
	seen := make(map[common.Address]struct{}, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		addr, err := s.validate()
		if err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("strategies[%d]: duplicate address %s", i, s.Address)
		}
		seen[addr] = struct{}{}
	}
	for i, op := range cfg.Operators {
		if _, _, err := op.Parse(); err != nil {
			return fmt.Errorf("operators[%d]: %w", i, err)
		}
	}
	for i, bal := range cfg.Genesis {
		if _, _, err := bal.Parse(); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	if err := cfg.Keeper.validate(); err != nil {
		return fmt.Errorf("keeper: %w", err)
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required")
	}
	if _, err := ParseAmount(cfg.Quota.MaxAssetsPerEpoch); err != nil {
		return fmt.Errorf("quota: max_assets_per_epoch: %w", err)
	}
	return nil
}

func (cfg VaultConfig) validate() error {
	if cfg.AssetSymbol == "" {
		return fmt.Errorf("asset_symbol is required")
	}
	for name, value := range map[string]string{
		"address":                cfg.Address,
		"asset_address":          cfg.AssetAddress,
		"protocol_fee_recipient": cfg.ProtocolFeeRecipient,
	} {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := ParseAmount(cfg.MinimumTotalIdle); err != nil {
		return fmt.Errorf("minimum_total_idle: %w", err)
	}
	if _, err := ParseAmount(cfg.DepositLimit); err != nil {
		return fmt.Errorf("deposit_limit: %w", err)
	}
	if cfg.ProfitMaxUnlockSeconds > vault.MaxProfitUnlockTime {
		return fmt.Errorf("profit_max_unlock_seconds %d above %d", cfg.ProfitMaxUnlockSeconds, vault.MaxProfitUnlockTime)
	}
	if cfg.ProtocolFeeBps > factory.MaxProtocolFeeBps {
		return fmt.Errorf("protocol_fee_bps %d above %d", cfg.ProtocolFeeBps, factory.MaxProtocolFeeBps)
	}
	if cfg.ProtocolFeeBps > 0 && cfg.ProtocolFeeRecipient == "" {
		return fmt.Errorf("protocol_fee_recipient is required when protocol_fee_bps is set")
	}
	return nil
}

func (cfg AccountantConfig) validate() error {
	if cfg.Address == "" {
		if cfg.PerformanceFeeBps != 0 || cfg.RefundBps != 0 {
			return fmt.Errorf("fees configured without an address")
		}
		return nil
	}
	if _, err := ParseAddress(cfg.Address); err != nil {
		return err
	}
	if cfg.PerformanceFeeBps > vault.MaxBps || cfg.RefundBps > vault.MaxBps {
		return fmt.Errorf("fee rates must not exceed %d bps", vault.MaxBps)
	}
	return nil
}

func (cfg StrategyConfig) validate() (common.Address, error) {
	if cfg.Address == "" {
		return common.Address{}, fmt.Errorf("address is required")
	}
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		return common.Address{}, err
	}
	for name, value := range map[string]string{
		"max_debt":    cfg.MaxDebt,
		"deposit_cap": cfg.DepositCap,
		"liquidity":   cfg.Liquidity,
	} {
		if _, err := ParseAmount(value); err != nil {
			return common.Address{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.HaircutBps > vault.MaxBps {
		return common.Address{}, fmt.Errorf("haircut_bps %d above %d", cfg.HaircutBps, vault.MaxBps)
	}
	if _, err := ParseAddress(cfg.Sink); err != nil {
		return common.Address{}, fmt.Errorf("sink: %w", err)
	}
	if cfg.HaircutBps > 0 && cfg.Sink == "" {
		return common.Address{}, fmt.Errorf("sink is required with haircut_bps")
	}
	return addr, nil
}

// Parse resolves the operator address and the union of its roles.
func (cfg OperatorConfig) Parse() (common.Address, vault.Role, error) {
	if cfg.Address == "" {
		return common.Address{}, 0, fmt.Errorf("address is required")
	}
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		return common.Address{}, 0, err
	}
	if len(cfg.Roles) == 0 {
		return common.Address{}, 0, fmt.Errorf("at least one role is required")
	}
	var roles vault.Role
	for _, name := range cfg.Roles {
		role, err := vault.ParseRole(name)
		if err != nil {
			return common.Address{}, 0, err
		}
		roles |= role
	}
	return addr, roles, nil
}

// Parse resolves the recipient and amount of a genesis balance.
func (cfg BalanceConfig) Parse() (common.Address, *uint256.Int, error) {
	if cfg.Address == "" {
		return common.Address{}, nil, fmt.Errorf("address is required")
	}
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := ParseAmount(cfg.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	if amount == nil || amount.IsZero() || vault.IsMax(amount) {
		return common.Address{}, nil, fmt.Errorf("amount must be a positive decimal")
	}
	return addr, amount, nil
}

func (cfg KeeperConfig) validate() error {
	if cfg.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if cfg.Address == "" {
		return fmt.Errorf("address is required when a schedule is set")
	}
	_, err := ParseAddress(cfg.Address)
	return err
}

// ParseAddress parses a hex address. An empty value yields the zero address.
func ParseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

// ParseAmount parses a base-10 amount. An empty value yields nil, which
// callers treat as unset.
func ParseAmount(value string) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.EqualFold(value, "max") {
		return vault.MaxUint256(), nil
	}
	amount, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
