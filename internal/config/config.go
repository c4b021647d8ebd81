// Package config loads process configuration: environment variables (with
// .env support) for process-wide settings, and a JSON account-config file
// (or an enumerated single-account environment-variable form) for the set
// of accounts to monitor.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/aristath/propcompliance/internal/audit"
	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/rules"
)

// MT5Connection holds MT5 bridge connection details for one account.
type MT5Connection struct {
	BaseURL string `json:"base_url"`
	Login   uint64 `json:"login"`
}

// CTraderConnection holds cTrader Open API connection details for one
// account.
type CTraderConnection struct {
	WSURL     string `json:"ws_url"`
	CTIDLogin int64  `json:"ctid_login"`
	AuthToken string `json:"auth_token"`
}

// AccountConfig is one monitored account. Exactly one of Firm+ProgramID
// (database/preset lookup via the resolver) or InlineRules should be
// meaningful; both may be set, in which case InlineRules is only used as a
// fallback if the database and preset tiers both miss.
type AccountConfig struct {
	Label                string           `json:"label"`
	Firm                 string           `json:"firm"`
	ProgramID            string           `json:"program_id,omitempty"`
	Platform             domain.Platform  `json:"platform"`
	AccountID            string           `json:"account_id"`
	StartingBalance      float64          `json:"starting_balance"`
	CheckIntervalSeconds int              `json:"check_interval_seconds"`
	Enabled              bool             `json:"enabled"`
	InlineRules          *rules.Rules     `json:"inline_rules,omitempty"`

	MT5     *MT5Connection     `json:"mt5,omitempty"`
	CTrader *CTraderConnection `json:"ctrader,omitempty"`
}

// Validate checks the fields every AccountConfig needs regardless of
// platform, plus the platform-specific connection block.
func (a AccountConfig) Validate() error {
	if a.Label == "" {
		return domain.ConfigError{Field: "label", Message: "is required"}
	}
	if a.AccountID == "" {
		return domain.ConfigError{Field: "account_id", Message: fmt.Sprintf("is required for account %q", a.Label)}
	}
	if a.Firm == "" && a.InlineRules == nil {
		return domain.ConfigError{Field: "firm", Message: fmt.Sprintf("account %q needs either firm or inline_rules", a.Label)}
	}
	if a.StartingBalance <= 0 {
		return domain.ConfigError{Field: "starting_balance", Message: fmt.Sprintf("account %q starting_balance must be positive", a.Label)}
	}

	switch a.Platform {
	case domain.PlatformMT5:
		if a.MT5 == nil || a.MT5.BaseURL == "" {
			return domain.ConfigError{Field: "mt5", Message: fmt.Sprintf("account %q is platform mt5 but has no mt5 connection block", a.Label)}
		}
	case domain.PlatformCTrader:
		if a.CTrader == nil || a.CTrader.WSURL == "" {
			return domain.ConfigError{Field: "ctrader", Message: fmt.Sprintf("account %q is platform ctrader but has no ctrader connection block", a.Label)}
		}
	default:
		return domain.ConfigError{Field: "platform", Message: fmt.Sprintf("account %q has unknown platform %q", a.Label, a.Platform)}
	}

	if a.InlineRules != nil {
		if _, err := rules.New(*a.InlineRules); err != nil {
			return fmt.Errorf("config: account %q inline_rules invalid: %w", a.Label, err)
		}
	}

	return nil
}

// accountsFile is the on-disk shape of the JSON account-config file.
type accountsFile struct {
	Accounts []AccountConfig `json:"accounts"`
}

// LoadAccounts reads and validates the JSON account-config file at path.
func LoadAccounts(path string) ([]AccountConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read accounts file: %w", err)
	}

	var file accountsFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("config: parse accounts file: %w", err)
	}

	for i, acct := range file.Accounts {
		if err := acct.Validate(); err != nil {
			return nil, fmt.Errorf("config: accounts[%d]: %w", i, err)
		}
	}
	return file.Accounts, nil
}

// SingleAccountFromEnv builds one AccountConfig from the enumerated
// single-account environment-variable form. ok is false
// when ACCOUNT_ID is unset, meaning the caller should fall back to the
// -config accounts file instead.
func SingleAccountFromEnv() (AccountConfig, bool) {
	accountID := getEnv("ACCOUNT_ID", "")
	if accountID == "" {
		return AccountConfig{}, false
	}

	acct := AccountConfig{
		Label:                getEnv("ACCOUNT_LABEL", accountID),
		Firm:                 getEnv("ACCOUNT_FIRM", ""),
		ProgramID:            getEnv("ACCOUNT_PROGRAM_ID", ""),
		Platform:             domain.Platform(getEnv("ACCOUNT_PLATFORM", "")),
		AccountID:            accountID,
		StartingBalance:      getEnvAsFloat("ACCOUNT_STARTING_BALANCE", 0),
		CheckIntervalSeconds: getEnvAsInt("ACCOUNT_CHECK_INTERVAL_SECONDS", 30),
		Enabled:              getEnvAsBool("ACCOUNT_ENABLED", true),
	}

	switch acct.Platform {
	case domain.PlatformMT5:
		acct.MT5 = &MT5Connection{
			BaseURL: getEnv("MT5_BRIDGE_URL", ""),
			Login:   uint64(getEnvAsInt("MT5_LOGIN", 0)),
		}
	case domain.PlatformCTrader:
		acct.CTrader = &CTraderConnection{
			WSURL:     getEnv("CTRADER_WS_URL", ""),
			CTIDLogin: int64(getEnvAsInt("CTRADER_CTID_LOGIN", 0)),
			AuthToken: getEnv("CTRADER_AUTH_TOKEN", ""),
		}
	}

	return acct, true
}

// Config holds process-wide configuration outside the monitored account
// set: server binding, the rule store's database path, logging, and the
// optional audit archiver.
type Config struct {
	Port    int
	DevMode bool

	DatabasePath string

	LogLevel string

	AnchorStatePath string // optional; empty disables on-disk anchor persistence

	GracePeriodSeconds int

	Audit audit.UploaderConfig
}

// Load reads process-wide configuration from the environment (after
// loading a .env file, if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8080),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/propcompliance.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AnchorStatePath:    getEnv("ANCHOR_STATE_PATH", ""),
		GracePeriodSeconds: getEnvAsInt("GRACE_PERIOD_SECONDS", 5),
		Audit: audit.UploaderConfig{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", false),
			Bucket:          getEnv("AUDIT_S3_BUCKET", ""),
			KeyPrefix:       getEnv("AUDIT_S3_PREFIX", "breach-digests"),
			Endpoint:        getEnv("AUDIT_S3_ENDPOINT", ""),
			Region:          getEnv("AUDIT_S3_REGION", "auto"),
			AccessKeyID:     getEnv("AUDIT_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AUDIT_S3_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required process-wide configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return domain.ConfigError{Field: "DATABASE_PATH", Message: "is required"}
	}
	if c.Audit.Enabled && c.Audit.Bucket == "" {
		return domain.ConfigError{Field: "AUDIT_S3_BUCKET", Message: "is required when AUDIT_ENABLED=true"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
