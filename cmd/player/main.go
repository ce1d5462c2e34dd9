package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/syncclient"
	"github.com/watchroom/server/internal/syncclient/engine"
	"github.com/watchroom/server/internal/syncclient/player/mpv"
	"github.com/watchroom/server/pkg/ctxlogger"
	"github.com/watchroom/server/pkg/randstr"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	serverURL = configVar[string]{
		envKey:       "PLAYER_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "ws://localhost:8080",
	}
	roomId = configVar[string]{
		envKey:       "PLAYER_ROOM_ID",
		flagKey:      "room-id",
		defaultValue: "",
	}
	videoId = configVar[string]{
		envKey:       "PLAYER_VIDEO_ID",
		flagKey:      "video-id",
		defaultValue: "",
	}
	username = configVar[string]{
		envKey:       "PLAYER_USERNAME",
		flagKey:      "username",
		defaultValue: "anonymous",
	}
	memberId = configVar[string]{
		envKey:       "PLAYER_MEMBER_ID",
		flagKey:      "member-id",
		defaultValue: "",
	}
	controller = configVar[bool]{
		envKey:       "PLAYER_CONTROLLER",
		flagKey:      "controller",
		defaultValue: false,
	}
	mpvSocket = configVar[string]{
		envKey:       "PLAYER_MPV_SOCKET",
		flagKey:      "mpv-socket",
		defaultValue: "/tmp/mpv-socket",
	}
	logLevel = configVar[string]{
		envKey:       "PLAYER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

type playerConfig struct {
	ServerURL  string
	RoomId     string
	VideoId    string
	Username   string
	MemberId   string
	Controller bool
	MPVSocket  string
	LogLevel   string
}

func loadPlayerConfig() *playerConfig {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Sync server websocket url")
	pflag.String(roomId.flagKey, roomId.defaultValue, "Room to join")
	pflag.String(videoId.flagKey, videoId.defaultValue, "Video being watched")
	pflag.String(username.flagKey, username.defaultValue, "Display name")
	pflag.String(memberId.flagKey, memberId.defaultValue, "Member id to resume a previous session")
	pflag.Bool(controller.flagKey, controller.defaultValue, "Drive the room's playback instead of following it")
	pflag.String(mpvSocket.flagKey, mpvSocket.defaultValue, "mpv IPC socket path")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(serverURL.flagKey, serverURL.envKey)
	viper.BindEnv(roomId.flagKey, roomId.envKey)
	viper.BindEnv(videoId.flagKey, videoId.envKey)
	viper.BindEnv(username.flagKey, username.envKey)
	viper.BindEnv(memberId.flagKey, memberId.envKey)
	viper.BindEnv(controller.flagKey, controller.envKey)
	viper.BindEnv(mpvSocket.flagKey, mpvSocket.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	return &playerConfig{
		ServerURL:  viper.GetString(serverURL.flagKey),
		RoomId:     viper.GetString(roomId.flagKey),
		VideoId:    viper.GetString(videoId.flagKey),
		Username:   viper.GetString(username.flagKey),
		MemberId:   viper.GetString(memberId.flagKey),
		Controller: viper.GetBool(controller.flagKey),
		MPVSocket:  viper.GetString(mpvSocket.flagKey),
		LogLevel:   viper.GetString(logLevel.flagKey),
	}
}

const roomIdAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func run(ctx context.Context, cfg *playerConfig) error {
	if cfg.VideoId == "" {
		return fmt.Errorf("video-id is required")
	}
	if cfg.RoomId == "" {
		if !cfg.Controller {
			return fmt.Errorf("room-id is required to follow a room")
		}
		cfg.RoomId = randstr.New([]byte(roomIdAlphabet)).GenerateRandomString(8)
		fmt.Printf("created room %s\n", cfg.RoomId)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}
	logger := slog.New(&h)

	p, err := mpv.NewPlayer(cfg.MPVSocket)
	if err != nil {
		return fmt.Errorf("failed to attach to mpv: %w", err)
	}
	defer p.Close()

	clock := clockwork.NewRealClock()

	role := engine.RoleFollower
	if cfg.Controller {
		role = engine.RoleController
	}

	var client *syncclient.Client
	emit := func(ctx context.Context, action domain.ActionType, seconds float64) {
		client.SendControlAction(ctx, action, seconds)
	}

	eng := engine.New(p, role, emit, clock, logger, nil)
	client = syncclient.NewClient(&syncclient.Config{
		URL:       fmt.Sprintf("%s/ws/%s", cfg.ServerURL, cfg.RoomId),
		VideoId:   cfg.VideoId,
		Username:  cfg.Username,
		MemberId:  cfg.MemberId,
		IsCreator: cfg.Controller,
	}, eng, clock, logger)
	defer client.Close()

	if err := client.JoinRoom(ctx); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	logger.InfoContext(ctx, "joined room",
		"room_id", cfg.RoomId,
		"member_id", client.MemberId(),
		"controller", client.IsCreator(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go eng.Run(runCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	return nil
}

func main() {
	if err := run(context.Background(), loadPlayerConfig()); err != nil {
		log.Fatal(err)
	}
}
