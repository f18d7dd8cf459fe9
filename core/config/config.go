package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Raw is the engine config as it sits on disk. Addresses are hex strings,
// durations are Go duration strings, and token exchange rates are decimal
// strings in native units per token unit.
type Raw struct {
	Environment sdklogging.LogLevel `yaml:"environment"`

	StoragePath          string `yaml:"storage_path" validate:"required"`
	MetricsIpPortAddress string `yaml:"metrics_ip_port_address"`
	VacuumInterval       string `yaml:"vacuum_interval"`
	FeeQuoteTTL          string `yaml:"fee_quote_ttl"`
	BackupDir            string `yaml:"backup_dir"`
	BackupInterval       string `yaml:"backup_interval"`

	Chain  ChainSection   `yaml:"chain"`
	Chains []ChainSection `yaml:"chains" validate:"dive"`

	EthSponsors []struct {
		Address    string `yaml:"address" validate:"required,eth_addr"`
		Owner      string `yaml:"owner" validate:"required,eth_addr"`
		MinDeposit string `yaml:"min_deposit"`
	} `yaml:"eth_sponsors" validate:"dive"`

	TokenSponsors []struct {
		Address string `yaml:"address" validate:"required,eth_addr"`
		Owner   string `yaml:"owner" validate:"required,eth_addr"`
		Tokens  []struct {
			Address      string `yaml:"address" validate:"required,eth_addr"`
			ExchangeRate string `yaml:"exchange_rate" validate:"required"`
		} `yaml:"tokens" validate:"dive"`
	} `yaml:"token_sponsors" validate:"dive"`
}

// ChainSection is one chain's settings as written in yaml. The entry point
// address may be omitted for chain ids the known-chain registry covers.
type ChainSection struct {
	ID                uint64 `yaml:"id" validate:"required"`
	RpcURL            string `yaml:"rpc_url" validate:"omitempty,url"`
	EntryPointAddress string `yaml:"entry_point_address" validate:"omitempty,eth_addr"`
	FactoryAddress    string `yaml:"factory_address" validate:"required,eth_addr"`
	Confirmations     uint64 `yaml:"confirmations"`
	BaseFee           string `yaml:"base_fee"`
	PriorityFee       string `yaml:"priority_fee"`
}

// ChainSpec is a resolved chain: yaml settings merged with the registry
// defaults for known ids.
type ChainSpec struct {
	ID            uint64
	Name          string
	Confirmations uint64
	RpcURL        string
	EntryPoint    common.Address
	Factory       common.Address
	BaseFee       *big.Int
	PriorityFee   *big.Int
}

type EthSponsorSpec struct {
	Address    common.Address
	Owner      common.Address
	MinDeposit *big.Int
}

type TokenSpec struct {
	Address common.Address
	// Rate is wei per token unit scaled by 1e18 fixed point.
	Rate *big.Int
}

type TokenSponsorSpec struct {
	Address common.Address
	Owner   common.Address
	Tokens  []TokenSpec
}

// Config is the parsed engine configuration.
type Config struct {
	Logger sdklogging.Logger

	StoragePath    string
	MetricsAddr    string
	VacuumInterval time.Duration
	FeeQuoteTTL    time.Duration
	BackupDir      string
	BackupInterval time.Duration

	// Chain is the chain the node runs against; Chains is the full registry,
	// active chain included, keyed by chain id.
	Chain  ChainSpec
	Chains map[uint64]ChainSpec

	ChainID     *big.Int
	RpcURL      string
	EntryPoint  common.Address
	Factory     common.Address
	BaseFee     *big.Int
	PriorityFee *big.Int

	EthSponsors   []EthSponsorSpec
	TokenSponsors []TokenSponsorSpec
}

// ChainSpec returns the registry entry for a chain id.
func (c *Config) ChainSpec(id uint64) (ChainSpec, bool) {
	spec, ok := c.Chains[id]
	return spec, ok
}

const (
	defaultVacuumInterval = time.Hour
	defaultFeeQuoteTTL    = 15 * time.Second
	defaultBackupInterval = 12 * time.Hour
)

// NewConfig loads, validates, and parses the yaml config at configFilePath.
func NewConfig(configFilePath string) (*Config, error) {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configFilePath, err)
	}
	var raw Raw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configFilePath, err)
	}
	return FromRaw(&raw)
}

// FromRaw validates and converts an already-decoded raw config.
func FromRaw(raw *Raw) (*Config, error) {
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := sdklogging.NewZapLogger(normalizeLevel(raw.Environment))
	if err != nil {
		return nil, err
	}

	active, err := resolveChain(raw.Chain)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Logger:         logger,
		StoragePath:    raw.StoragePath,
		MetricsAddr:    raw.MetricsIpPortAddress,
		VacuumInterval: defaultVacuumInterval,
		FeeQuoteTTL:    defaultFeeQuoteTTL,
		BackupDir:      raw.BackupDir,
		BackupInterval: defaultBackupInterval,
		Chain:          active,
		Chains:         map[uint64]ChainSpec{active.ID: active},
		ChainID:        new(big.Int).SetUint64(active.ID),
		RpcURL:         active.RpcURL,
		EntryPoint:     active.EntryPoint,
		Factory:        active.Factory,
		BaseFee:        active.BaseFee,
		PriorityFee:    active.PriorityFee,
	}

	for i, sec := range raw.Chains {
		spec, err := resolveChain(sec)
		if err != nil {
			return nil, fmt.Errorf("chains[%d]: %w", i, err)
		}
		if _, dup := cfg.Chains[spec.ID]; dup {
			return nil, fmt.Errorf("chains[%d]: duplicate chain id %d", i, spec.ID)
		}
		cfg.Chains[spec.ID] = spec
	}

	if raw.VacuumInterval != "" {
		if cfg.VacuumInterval, err = time.ParseDuration(raw.VacuumInterval); err != nil {
			return nil, fmt.Errorf("parse vacuum_interval: %w", err)
		}
	}
	if raw.FeeQuoteTTL != "" {
		if cfg.FeeQuoteTTL, err = time.ParseDuration(raw.FeeQuoteTTL); err != nil {
			return nil, fmt.Errorf("parse fee_quote_ttl: %w", err)
		}
	}
	if raw.BackupInterval != "" {
		if cfg.BackupInterval, err = time.ParseDuration(raw.BackupInterval); err != nil {
			return nil, fmt.Errorf("parse backup_interval: %w", err)
		}
	}
	for i, s := range raw.EthSponsors {
		minDeposit, err := parseWei(s.MinDeposit)
		if err != nil {
			return nil, fmt.Errorf("eth_sponsors[%d]: parse min_deposit: %w", i, err)
		}
		cfg.EthSponsors = append(cfg.EthSponsors, EthSponsorSpec{
			Address:    common.HexToAddress(s.Address),
			Owner:      common.HexToAddress(s.Owner),
			MinDeposit: minDeposit,
		})
	}

	for i, s := range raw.TokenSponsors {
		spec := TokenSponsorSpec{
			Address: common.HexToAddress(s.Address),
			Owner:   common.HexToAddress(s.Owner),
		}
		for j, tok := range s.Tokens {
			rate, err := ParseRate(tok.ExchangeRate)
			if err != nil {
				return nil, fmt.Errorf("token_sponsors[%d].tokens[%d]: %w", i, j, err)
			}
			spec.Tokens = append(spec.Tokens, TokenSpec{
				Address: common.HexToAddress(tok.Address),
				Rate:    rate,
			})
		}
		cfg.TokenSponsors = append(cfg.TokenSponsors, spec)
	}

	return cfg, nil
}

// resolveChain merges one chain section with the known-chain registry. A
// registered id inherits its name, confirmation count, and the canonical entry
// point; an unregistered id must spell the entry point out.
func resolveChain(sec ChainSection) (ChainSpec, error) {
	spec := ChainSpec{
		ID:            sec.ID,
		RpcURL:        sec.RpcURL,
		Confirmations: sec.Confirmations,
		Factory:       common.HexToAddress(sec.FactoryAddress),
	}

	defaults, known := LookupChainDefaults(sec.ID)
	if known {
		spec.Name = defaults.Name
		spec.EntryPoint = defaults.EntryPoint
		if spec.Confirmations == 0 {
			spec.Confirmations = defaults.Confirmations
		}
	}
	if sec.EntryPointAddress != "" {
		spec.EntryPoint = common.HexToAddress(sec.EntryPointAddress)
	} else if !known {
		return ChainSpec{}, fmt.Errorf("chain %d: entry_point_address is required for unregistered chain ids", sec.ID)
	}

	var err error
	if spec.BaseFee, err = parseWei(sec.BaseFee); err != nil {
		return ChainSpec{}, fmt.Errorf("chain %d: parse base_fee: %w", sec.ID, err)
	}
	if spec.PriorityFee, err = parseWei(sec.PriorityFee); err != nil {
		return ChainSpec{}, fmt.Errorf("chain %d: parse priority_fee: %w", sec.ID, err)
	}
	return spec, nil
}

// ParseRate converts a decimal exchange rate, in native units per token unit,
// into the engine's 1e18 fixed-point representation. "0.5" becomes 5e17.
func ParseRate(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse exchange rate %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("exchange rate %q must be positive", s)
	}
	return d.Shift(18).BigInt(), nil
}

func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

func normalizeLevel(level sdklogging.LogLevel) sdklogging.LogLevel {
	if level == "" {
		return sdklogging.Production
	}
	return level
}
