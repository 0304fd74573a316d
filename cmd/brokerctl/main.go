package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/spec-kit/brokerauth/internal/cli"
	"github.com/spec-kit/brokerauth/internal/config"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/observability"
	"github.com/spec-kit/brokerauth/internal/service"
	"github.com/spec-kit/brokerauth/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Logger.Format = "console"
	cfg.Logger.Output = "stderr"
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Logger.Level = "warn"
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(dispatcher, worker.NewAuditWorker(logger, nil))

	runner := &cli.Runner{
		Options: func(context.Context) (service.SessionOptions, error) {
			return service.SessionOptionsFromConfig(*cfg, dispatcher, logger)
		},
		DefaultUsername: cfg.Broker.Username,
		Out:             os.Stdout,
		Err:             os.Stderr,
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range runner.Commands() {
		commander.Register(c, "session")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
