// Package main is the entrypoint for the rpc-dispatch server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/morezero/rpc-dispatch/internal/config"
	"github.com/morezero/rpc-dispatch/internal/server"
	"github.com/morezero/rpc-dispatch/pkg/db"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const usage = `Usage: rpc-dispatch [command]

Commands:
  (default)   Start the dispatch server (HTTP, optional COMMS and audit log).
  migrate     Run dispatch-log migrations only (does not start the server).

Environment: COMMS_URL, DATABASE_URL, SUBSCRIPTION_TIMEOUT, HTTP_PORT, ENVIRONMENT. See internal/config for the full list.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if err := runMigrate(); err != nil {
			log.Fatalf("rpc-dispatch migrate: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "":
		// fall through to server
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	reg, err := buildRegistry()
	if err != nil {
		log.Fatalf("rpc-dispatch: registry setup failed: %v", err)
	}
	if err := server.Run(reg); err != nil {
		log.Fatalf("rpc-dispatch: fatal error: %v", err)
	}
}

// buildRegistry assembles the built-in system procedures. Services embedding
// this module compose their own trees the same way.
func buildRegistry() (*registry.Registry, error) {
	sys, err := registry.New().Register(procedure.CategoryQuery, "status",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			return map[string]any{
				"status": "ok",
				"time":   time.Now().UTC().Format(time.RFC3339),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	sys, err = sys.Register(procedure.CategoryMutation, "echo",
		func(_ context.Context, call *procedure.Call) (any, error) {
			return call.Input, nil
		})
	if err != nil {
		return nil, err
	}

	sys, err = sys.Register(procedure.CategorySubscription, "heartbeat",
		func(ctx context.Context, _ *procedure.Call) (any, error) {
			stop := make(chan struct{})
			sub := procedure.NewSubscription(func(procedure.StopReason) { close(stop) })
			go func() {
				select {
				case <-time.After(time.Second):
					sub.Resolve(map[string]any{"alive": true})
				case <-stop:
				case <-ctx.Done():
				}
			}()
			return sub, nil
		})
	if err != nil {
		return nil, err
	}

	return registry.New().Compose("system", sys)
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
