package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-party/internal/api"
	"github.com/isqad/livelook-party/internal/backend"
	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/party"
	"github.com/isqad/livelook-party/internal/remote"
	"github.com/isqad/livelook-party/internal/rtc"
	"github.com/isqad/livelook-party/internal/telemetry"
)

const joinTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:        "livelook-participant",
		Usage:       "Watch party participant",
		Description: "Joins a session, talks to the other participants and follows the host's playback",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
		},
		Before: func(c *cli.Context) error {
			telemetry.InitLogger(core.Environment(c.String("env")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "join",
				Usage: "join a session and serve the presentation API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "path to a config file; LIVELOOK_* variables override it",
					},
					&cli.StringFlag{
						Name:     "session",
						Usage:    "session id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "participant id, random if empty",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "display name",
					},
					&cli.StringFlag{
						Name:  "address",
						Usage: "listen IP and port of the presentation API, overrides http.address",
					},
					&cli.StringFlag{
						Name:  "audio",
						Usage: "Ogg/Opus file sent to the other participants; receive only if empty",
					},
				},
				Action: join,
			},
			{
				Name:  "watch",
				Usage: "print the events of a running participant",
				Flags: []cli.Flag{addressFlag()},
				Action: func(c *cli.Context) error {
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.Watch(ctx, func(e party.Event) {
							log.Info().Str("type", string(e.Type)).Interface("data", e.Data).Msg("event")
						})
					})
				},
			},
			{
				Name:      "source",
				Usage:     "switch the video of a running host",
				ArgsUsage: "URL",
				Flags:     []cli.Flag{addressFlag()},
				Action: func(c *cli.Context) error {
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.SetVideoSource(c.Args().First())
					})
				},
			},
			{
				Name:  "play",
				Usage: "resume playback on a running host",
				Flags: []cli.Flag{addressFlag()},
				Action: func(c *cli.Context) error {
					playing := true
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.SetPlaybackState(core.PlaybackPatch{IsPlaying: &playing})
					})
				},
			},
			{
				Name:  "pause",
				Usage: "pause playback on a running host",
				Flags: []cli.Flag{addressFlag()},
				Action: func(c *cli.Context) error {
					playing := false
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.SetPlaybackState(core.PlaybackPatch{IsPlaying: &playing})
					})
				},
			},
			{
				Name:  "seek",
				Usage: "move the playback position of a running host",
				Flags: []cli.Flag{
					addressFlag(),
					&cli.Float64Flag{
						Name:     "to",
						Usage:    "position in seconds",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					position := c.Float64("to")
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.SetPlaybackState(core.PlaybackPatch{CurrentTime: &position})
					})
				},
			},
			{
				Name:  "scrub",
				Usage: "hold off playback corrections of a running participant while its user scrubs",
				Flags: []cli.Flag{
					addressFlag(),
					&cli.BoolFlag{
						Name:  "done",
						Usage: "release the hold and catch up with the shared state",
					},
				},
				Action: func(c *cli.Context) error {
					seeking := !c.Bool("done")
					return withRemote(c, func(ctx context.Context, r *remote.Remote) error {
						return r.SetSeeking(seeking)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func addressFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "address",
		Usage: "address of the running participant",
		Value: "localhost:8080",
	}
}

func withRemote(c *cli.Context, f func(ctx context.Context, r *remote.Remote) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := remote.Dial(ctx, c.String("address"))
	if err != nil {
		return err
	}
	defer r.Close()

	return f(ctx, r)
}

func join(c *cli.Context) error {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if address := c.String("address"); address != "" {
		conf.HTTP.Address = address
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	st, err := backend.Open(ctx, conf.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	rtcConf, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return err
	}

	var local *rtc.LocalAudio
	if path := c.String("audio"); path != "" {
		local, err = rtc.OpenLocalAudio(path)
		if err != nil {
			log.Error().Err(err).Str("service", "party").Str("audio", path).Msg("can't open audio, receive only")
			local = nil
		} else {
			defer local.Close()
		}
	}

	transport := rtc.NewMediaTransport(rtc.TransportParams{Config: rtcConf, Local: local})
	lobby := party.NewLobby(st, party.NewOptions(conf, transport))
	defer lobby.Close()

	id := core.ParticipantID(c.String("id"))
	if id == "" {
		id = core.NewParticipantID()
	}
	self := core.NewParticipant(id, c.String("name"))

	client, err := lobby.Join(ctx, core.SessionID(c.String("session")), self)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("store did not answer in %s: %w", joinTimeout, err)
		}
		return err
	}

	app := api.New(api.AppOptions{
		Address: conf.HTTP.Address,
		Party:   client,
		OnShutdown: func() {
			lobby.Leave(client)
		},
	})

	log.Info().
		Str("service", "party").
		Str("participantID", self.ID.String()).
		Str("name", self.Name).
		Str("address", conf.HTTP.Address).
		Msg("serving")

	return app.Start()
}
