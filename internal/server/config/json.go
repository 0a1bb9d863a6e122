package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/akazakov/vpnmanager/internal/flagx"
	"github.com/akazakov/vpnmanager/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "24h" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	AdminAddr             string         `json:"admin_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	AdminPasswordHash     string         `json:"admin_password_hash"`
	EncryptionKey         string         `json:"encryption_key"`
	BotToken              string         `json:"bot_token"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	PerConfigCost         string         `json:"per_config_cost"`
	ConfigCreationCost    string         `json:"config_creation_cost"`
	BillingInterval       timex.Duration `json:"billing_interval"`
	GatewayTimeout        timex.Duration `json:"gateway_timeout"`
	GatewayRetries        int            `json:"gateway_retries"`
	GatewayBackoff        timex.Duration `json:"gateway_backoff"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics: a broken config file should
// stop startup, not silently fall back to defaults.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.AdminAddr = c.AdminAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AdminPasswordHash = c.AdminPasswordHash
	config.EncryptionKey = c.EncryptionKey
	config.BotToken = c.BotToken
	config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	config.PerConfigCost = c.PerConfigCost
	config.ConfigCreationCost = c.ConfigCreationCost
	config.BillingInterval = time.Duration(c.BillingInterval.Duration)
	config.GatewayTimeout = time.Duration(c.GatewayTimeout.Duration)
	config.GatewayRetries = c.GatewayRetries
	config.GatewayBackoff = time.Duration(c.GatewayBackoff.Duration)
}
