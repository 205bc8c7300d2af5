package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-party/internal/backend"
	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/sweeper"
	"github.com/isqad/livelook-party/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:        "livelook-sweeper",
		Usage:       "Presence sweeper",
		Description: "Removes participants whose heartbeat went stale, and their mailboxes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.ProductionEnv),
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file; LIVELOOK_* variables override it",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "sweep once and exit",
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func start(c *cli.Context) error {
	telemetry.InitLogger(core.Environment(c.String("env")))

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := backend.Open(ctx, conf.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	daemon := sweeper.New(st, conf.Session.SweepInterval, conf.Session.StaleAfter)
	if c.Bool("once") {
		daemon.Sweep(ctx)
		return nil
	}

	return daemon.Run(ctx)
}
