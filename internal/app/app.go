package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/controller"
	conninmemory "github.com/watchroom/server/internal/repository/connection/inmemory"
	memberRedis "github.com/watchroom/server/internal/repository/member/redis"
	videostateinmemory "github.com/watchroom/server/internal/repository/videostate/inmemory"
	"github.com/watchroom/server/internal/repository/wssender"
	"github.com/watchroom/server/internal/service/room"
	"github.com/watchroom/server/pkg/ctxlogger"
	"github.com/watchroom/server/pkg/redisclient"
)

type AppConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	LogLevel         string `json:"log_level"`
	DebounceWindowMs int    `json:"debounce_window_ms"`
	MemberTTLHours   int    `json:"member_ttl_hours"`
	RedisHost        string `json:"redis_host"`
	RedisPort        int    `json:"redis_port"`
	RedisPassword    string `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.DebounceWindowMs < 100 || cfg.DebounceWindowMs > 1000 {
		return fmt.Errorf("debounce window must be between 100 and 1000 ms")
	}
	if cfg.MemberTTLHours < 1 {
		return fmt.Errorf("member ttl must be at least 1 hour")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}
	logger := slog.New(&h)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	clock := clockwork.NewRealClock()
	sender := wssender.NewSender()

	roomService := room.NewService(
		videostateinmemory.NewRepo(clock),
		memberRedis.NewRepo(rc, time.Duration(cfg.MemberTTLHours)*time.Hour),
		conninmemory.NewRepo(),
		sender,
		clock,
		logger,
		&room.Config{DebounceWindow: time.Duration(cfg.DebounceWindowMs) * time.Millisecond},
	)
	defer roomService.Close()

	ctrl := controller.NewController(roomService, sender, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: ctrl.GetMux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
