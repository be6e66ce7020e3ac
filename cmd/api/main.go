package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/warrenwl/chatrelay/internal/config"
	"github.com/warrenwl/chatrelay/internal/handler"
	chatservice "github.com/warrenwl/chatrelay/internal/service/chat"
	"github.com/warrenwl/chatrelay/internal/service/responder"
	"github.com/warrenwl/chatrelay/internal/service/sweep"
	"github.com/warrenwl/chatrelay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, cleanup, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer cleanup()

	chatSvc := chatservice.NewService(st, cfg.History.PageSize)
	rsp := newResponder(ctx, cfg)
	router := handler.NewRouter(chatSvc, rsp)

	sweeper, err := sweep.New(st, sweep.Config{
		Interval:   cfg.Sweep.Interval,
		IdleAfter:  cfg.Sweep.IdleAfter,
		CloseAfter: cfg.Sweep.CloseAfter,
	})
	if err != nil {
		log.Printf("warning: sweeper misconfigured, sessions will not age out: %v", err)
		sweeper = nil
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("chatrelay listening on %s", cfg.Server.Addr)
		return runServer(ctx, srv)
	})
	if sweeper != nil {
		g.Go(func() error {
			sweeper.Run(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newStore(cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.RedisAddr == "" {
		log.Println("REDIS_ADDR not set, using in-memory session store")
		return store.NewMemory(), func() {}, nil
	}

	rdb, err := store.NewRedis(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Printf("using Redis session store at %s", cfg.RedisAddr)
	return rdb, func() { _ = rdb.Close() }, nil
}

// newResponder prefers the external brain endpoint, then the in-process Ark
// model. With neither configured every reply is the apology fallback, which
// keeps the protocol alive but useless, so it is worth a loud warning.
func newResponder(ctx context.Context, cfg *config.Config) responder.Responder {
	if cfg.Brain.Enabled() {
		log.Printf("using brain endpoint %s", cfg.Brain.URL)
		return responder.NewHTTP(cfg.Brain.URL, cfg.Brain.Timeout)
	}

	if cfg.AI.Enabled() {
		model, err := responder.NewModel(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize ark model responder: %v", err)
		} else {
			log.Println("using in-process ark model responder")
			return model
		}
	}

	log.Println("warning: no responder configured, replies will be fallback text only")
	return responder.NewHTTP("", cfg.Brain.Timeout)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
