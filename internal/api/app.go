// Package api presents one joined participant over HTTP and a websocket.
package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/telemetry"
)

// AppOptions is options of the application
type AppOptions struct {
	Address string
	Party   Party
	// OnShutdown runs once the server stopped accepting requests.
	OnShutdown func()

	websocket *melody.Melody
}

// App is the presentation application of a participant
type App struct {
	AppOptions
}

func New(options AppOptions) *App {
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = 4 * 1024

	return &App{
		options,
	}
}

// Start serves until SIGINT or SIGTERM.
func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	stopBroadcast, err := Broadcast(app.Party, app.websocket)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              app.Address,
		Handler:           app.Router(),
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Str("service", "api").Msg("received signal to terminate the server")
		stopBroadcast()
		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("close websockets")
		}
		if app.OnShutdown != nil {
			app.OnShutdown()
		}
		log.Info().Str("service", "api").Msg("all services are stopped")
		close(done)
	})

	go func() {
		<-quit
		log.Warn().Str("service", "api").Msg("the server is going shutting down")

		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Str("service", "api").Msg("can't gracefully shutdown the server")
		}
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("service", "api").Msg("server has been closed immediately")
		return err
	}

	<-done
	log.Info().Str("service", "api").Msg("server stopped")

	return nil
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	app.websocket.HandleConnect(ConnectHandler(app.Party))
	app.websocket.HandleDisconnect(DisconnectHandler())
	app.websocket.HandleMessage(HandleMessage(app.Party))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "api").Msg("error in websocket session")
	})

	r.Get("/ws", WebsocketsHandler(app.websocket))
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequestLogger)
		r.Get("/self", SelfHandler(app.Party))
		r.Get("/roster", RosterHandler(app.Party))
		r.Get("/streams", StreamsHandler(app.Party))
		r.Get("/peers", PeersHandler(app.Party))
		r.Get("/host", HostHandler(app.Party))
		r.Get("/playback", PlaybackHandler(app.Party))
		r.Put("/playback/source", PlaybackSourceHandler(app.Party))
		r.Put("/playback/seeking", PlaybackSeekingHandler(app.Party))
		r.Patch("/playback", PlaybackUpdateHandler(app.Party))
	})

	return r
}
