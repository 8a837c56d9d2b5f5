package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skillgate/roomkit/internal/adapter/driven/backend"
	"github.com/skillgate/roomkit/internal/adapter/driven/gateway/ws"
	"github.com/skillgate/roomkit/internal/adapter/driven/media/pion"
	"github.com/skillgate/roomkit/internal/config"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
	"github.com/skillgate/roomkit/internal/core/service"
)

var (
	joinRoom   string
	joinRelay  string
	joinName   string
	joinRole   string
	joinToken  string
	joinRecord bool
)

// joinCmd runs a headless participant: the same negotiation path a
// browser client takes, usable for recorder bots and co-interviewer
// agents.
var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "join a room as a headless participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg)
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinRoom, "room", "", "room code to join")
	joinCmd.Flags().StringVar(&joinRelay, "relay", "ws://localhost:8080", "relay base URL")
	joinCmd.Flags().StringVar(&joinName, "name", "roomkit-bot", "display name")
	joinCmd.Flags().StringVar(&joinRole, "role", string(domain.RolePanelist), "participant role")
	joinCmd.Flags().StringVar(&joinToken, "token", "", "access token")
	joinCmd.Flags().BoolVar(&joinRecord, "record", false, "record the outbound stream")
	joinCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(ctx context.Context, cfg *config.Config) error {
	engine, err := pion.NewEngine(cfg.Media.STUNServers)
	if err != nil {
		return err
	}
	dialer := ws.NewDialer(joinRelay)

	var (
		directory port.RoomDirectory
		recSink   port.RecordingSink
	)
	if cfg.Backend.URL != "" {
		client := backend.New(cfg.Backend.URL, cfg.Backend.Token)
		directory = client
		recSink = client
	}

	events := service.SessionEvents{
		OnParticipantJoined: func(p domain.Participant) {
			log.Info().Str("name", p.Name).Str("role", string(p.Role)).Msg("Participant joined")
		},
		OnParticipantLeft: func(id domain.SocketID, name string) {
			log.Info().Str("name", name).Msg("Participant left")
		},
		OnChat: func(msg domain.ChatMessage) {
			log.Info().Str("from", msg.SenderName).Str("text", msg.Message).Msg("Chat")
		},
		OnCallEnded: func(endedBy string) {
			log.Info().Str("ended_by", endedBy).Msg("Call ended")
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("Session error")
		},
	}

	session := service.NewRoomSession(engine, dialer, directory, recSink, events)

	identity := domain.Identity{
		UserID:      domain.NewUserID(),
		Role:        domain.Role(joinRole),
		Name:        joinName,
		AccessToken: joinToken,
	}
	if err := session.Join(ctx, domain.RoomCode(joinRoom), identity); err != nil {
		return err
	}
	log.Info().Str("room", joinRoom).Msg("Joined room")

	if joinRecord {
		if err := session.ToggleRecording(ctx); err != nil {
			log.Warn().Err(err).Msg("Recording start failed")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	if joinRecord {
		if err := session.ToggleRecording(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Recording stop failed")
		}
	}
	session.Leave()
	log.Info().Msg("Left room")
	return nil
}
