package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/atlasworks/convoy/pkg/cmd"
	"github.com/atlasworks/convoy/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "convoy-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the background engine that expires approvals and observes lifecycle events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the execution snapshot cache",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "expiry-schedule",
				Usage:   "Cron schedule for the approval expiry sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("EXPIRY_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("convoy-engine").With("engineId", engineID)

			logger.InfoContext(ctx, "Initializing Convoy Engine")

			stack, err := cmd.NewStack(ctx, logger, cmd.StackConfig{
				ServiceName:      "convoy-engine",
				DatabaseURL:      command.String("database-url"),
				RedisURL:         command.String("redis-url"),
				EventBusProvider: command.String("event-bus"),
			})
			if err != nil {
				return err
			}

			defer stack.Close(ctx)

			engine := NewEngineManager(engineID, stack, command.String("expiry-schedule"), logger)

			return engine.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
