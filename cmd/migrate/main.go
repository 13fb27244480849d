package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/migrations"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

const usage = "usage: migrate [up | down <steps> | force <version> | version]"

type command struct {
	name string
	arg  int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "up"}, nil
	}
	switch args[0] {
	case "up", "version":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", args[0])
		}
		return command{name: args[0]}, nil
	case "down", "force":
		if len(args) != 2 {
			return command{}, fmt.Errorf("%s needs one numeric argument", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: invalid number %q", args[0], args[1])
		}
		if args[0] == "down" && n <= 0 {
			return command{}, fmt.Errorf("down: steps must be positive")
		}
		return command{name: args[0], arg: n}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func run(ctx context.Context, r *migrations.Runner, cmd command) error {
	switch cmd.name {
	case "up":
		return r.Up(ctx)
	case "down":
		return r.Down(cmd.arg)
	case "force":
		return r.Force(cmd.arg)
	}
	return nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := migrations.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open migrator", "error", err)
		os.Exit(1)
	}
	defer func() { _ = runner.Close() }()

	if err := run(ctx, runner, cmd); err != nil {
		logger.Error("migration failed", "command", cmd.name, "error", err)
		_ = runner.Close()
		os.Exit(1)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		logger.Error("failed to read schema version", "error", err)
		_ = runner.Close()
		os.Exit(1)
	}
	logger.Info("schema migrations done", "command", cmd.name, "schema_version", version, "dirty", dirty)
}
