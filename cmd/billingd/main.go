// Command billingd runs a single charge sweep and exits. It is intended for
// external scheduling (cron, systemd timers) as an alternative to the
// in-process scheduler of cmd/server.
package main

import (
	"context"
	"log"

	"github.com/akazakov/vpnmanager/internal/server"
	"github.com/akazakov/vpnmanager/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.RunSweep(ctx); err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
}
