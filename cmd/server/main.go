package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qingyuz/avalon-backend/internal/config"
	"github.com/qingyuz/avalon-backend/internal/credits"
	"github.com/qingyuz/avalon-backend/internal/httpapi"
	"github.com/qingyuz/avalon-backend/internal/hub"
	"github.com/qingyuz/avalon-backend/internal/room"
	"github.com/qingyuz/avalon-backend/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	var logger *zap.Logger
	var err error
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gate credits.Gate
	if cfg.CreditsDSN != "" {
		pg, err := credits.OpenPostgres(cfg.CreditsDSN, cfg.AICredits)
		if err != nil {
			logger.Fatal("open credit ledger", zap.Error(err))
		}
		gate = pg
		logger.Info("using postgres credit ledger")
	} else {
		gate = credits.NewMemoryGate(cfg.AICredits)
		logger.Info("using in-memory credit ledger", zap.Int("default_credits", cfg.AICredits))
	}

	manager := ws.NewManager(logger)
	h := hub.NewHub(ctx, logger, manager, gate)

	wsOpts := ws.Options{OriginPatterns: originPatterns(cfg.AllowOrigin)}
	api := &httpapi.API{Hub: h, Log: logger}
	handler := httpapi.Routes(api, cfg.AllowOrigin,
		ws.Handler(h, manager, logger, room.ChannelRoom, wsOpts),
		ws.Handler(h, manager, logger, room.ChannelGame, wsOpts),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		h.Inbox() <- hub.ShutdownHub{}
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// originPatterns maps the configured origin to websocket handshake host
// patterns; the handshake matches hosts, not full origins.
func originPatterns(allowOrigin string) []string {
	if allowOrigin == "" || allowOrigin == "*" {
		return []string{"*"}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(allowOrigin, "https://"), "http://")
	return []string{host}
}
