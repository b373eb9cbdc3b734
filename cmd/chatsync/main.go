package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/stayfinder/chatsync/internal/config"
	"github.com/stayfinder/chatsync/internal/engine"
	"github.com/stayfinder/chatsync/internal/presence"
	"github.com/stayfinder/chatsync/internal/transport"
	"github.com/stayfinder/chatsync/pkg/backend"
	"github.com/stayfinder/chatsync/pkg/idgen"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "config loaded: user=%s backend=%s", cfg.User.Id, cfg.Backend.BaseURL)

	api, err := backend.NewClient(cfg.Backend.BaseURL, backend.WithToken(cfg.User.Token))
	if err != nil {
		log.CtxError(ctx, "failed to create backend client: %v", err)
		panic(err)
	}

	opId, err := idgen.NewSonyflakeGenerator(1)
	if err != nil {
		log.CtxError(ctx, "failed to create id generator: %v", err)
		panic(err)
	}

	ts := transport.NewClient(cfg.Transport, cfg.User.Id, cfg.User.Token, opId)

	var crosstab *presence.CrossTab
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		crosstab = presence.NewCrossTab(rdb, cfg.Redis.KeyPrefix)
	}

	var broadcaster engine.Broadcaster
	if crosstab != nil {
		broadcaster = crosstab
	}

	eng := engine.New(ctx, cfg.User.Id, cfg.Engine, api, ts, broadcaster)
	ts.OnEvent(eng.Dispatch)

	if crosstab != nil {
		go crosstab.Run(ctx, eng.HandleCrossTab)
	}

	if err := ts.Connect(ctx); err != nil {
		log.CtxError(ctx, "transport connect failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "transport connected")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down")
	cancel()
	if err := ts.Disconnect(); err != nil {
		log.CtxWarn(context.Background(), "transport disconnect: %v", err)
	}
}
