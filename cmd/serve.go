package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skillgate/roomkit/internal/adapter/driven/backend"
	"github.com/skillgate/roomkit/internal/adapter/driven/persistence/memory"
	redisstore "github.com/skillgate/roomkit/internal/adapter/driven/persistence/redis"
	handler "github.com/skillgate/roomkit/internal/adapter/driving/http"
	"github.com/skillgate/roomkit/internal/config"
	"github.com/skillgate/roomkit/internal/core/port"
	"github.com/skillgate/roomkit/internal/core/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the signaling relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	var (
		rooms    port.RoomStore
		presence port.PresenceStore
	)
	if cfg.Redis.Enabled {
		store, err := redisstore.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		rooms, presence = store, store
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis room directory")
	} else {
		store := memory.NewRoomStore()
		rooms, presence = store, store
		log.Info().Msg("Using in-memory room directory")
	}

	transcripts := memory.NewTranscriptRepository()

	var challenges port.ChallengeSink
	if cfg.Backend.URL != "" {
		challenges = backend.New(cfg.Backend.URL, cfg.Backend.Token)
	}

	monitorCfg := service.MonitorConfig{
		RapidInjectionChars: cfg.Proctor.RapidInjectionChars,
		IdleThreshold:       cfg.Proctor.IdleThreshold(),
		IdleCheckInterval:   cfg.Proctor.IdleCheckInterval(),
		KeyboardRhythmCap:   cfg.Proctor.KeyboardRhythmCap,
	}

	relay := service.NewRelay(rooms, presence, transcripts, challenges, monitorCfg, port.SystemClock{})
	h := handler.NewHandler(relay, rooms, transcripts, cfg.Server.JWTSecret, cfg.Server.MessageRate, cfg.Server.MessageBurst)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting relay server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	relay.Stop()
	log.Info().Msg("Server exited")
	return nil
}
