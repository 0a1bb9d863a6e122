package config

import (
	"flag"
	"os"
	"time"

	"github.com/akazakov/vpnmanager/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   admin API bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-p string   bcrypt hash of the admin password
//	-k string   hex-encoded AES key for credentials at rest
//	-b string   Telegram bot token
//	-t int      admin token validity, minutes
//	-i int      billing interval, minutes
//	-m string   per-config charge per sweep, decimal (e.g., "5.00")
//	-n string   config creation cost, decimal
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-p", "-k", "-b", "-t", "-i", "-m", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.AdminAddr, "a", config.AdminAddr, "address and port for the admin API")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.AdminPasswordHash, "p", config.AdminPasswordHash, "admin password bcrypt hash")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "credential encryption key (hex)")
	fs.StringVar(&config.BotToken, "b", config.BotToken, "telegram bot token")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token validity (in minutes)")
	billingInterval := fs.Int("i", int(config.BillingInterval.Minutes()), "billing interval (in minutes)")

	fs.StringVar(&config.PerConfigCost, "m", config.PerConfigCost, "per-config charge per sweep")
	fs.StringVar(&config.ConfigCreationCost, "n", config.ConfigCreationCost, "config creation cost")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.BillingInterval = time.Duration(*billingInterval) * time.Minute
}
