package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lotbuy/internal/blob"
	"lotbuy/internal/config"
	"lotbuy/internal/http/handlers"
	"lotbuy/internal/notify"
	"lotbuy/internal/repos"
	"lotbuy/internal/services"
	"lotbuy/web"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repos.OpenDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repos.NewStore(db)
	if cfg.SeedDemo {
		if err := repos.SeedDemo(ctx, store, services.HashPassword); err != nil {
			return err
		}
	}

	engine := services.NewEngine(store, cfg.Engine.PaymentWindow.Duration)

	// ---------- Uploads ----------
	var uploads blob.Store
	mediaDir := ""
	if cfg.S3.Bucket != "" {
		s3, err := blob.NewS3(ctx, blob.S3Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
			Prefix:         "uploads",
		})
		if err != nil {
			return err
		}
		if err := s3.Health(ctx); err != nil {
			log.Printf("[warn] %v", err)
		}
		uploads = s3
		log.Printf("[uploads] s3 bucket %s", cfg.S3.Bucket)
	} else {
		local, err := blob.NewLocal(cfg.MediaDir, "/media")
		if err != nil {
			return err
		}
		uploads = local
		mediaDir = local.Dir()
		log.Printf("[uploads] /media -> %s", mediaDir)
	}

	// ---------- Event sinks ----------
	sinks := []notify.Sink{
		notify.NewInboxSink(store.Notifications, store.Lots),
		services.NewProjector(store.Stats),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := notify.NewRedisClient(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		sinks = append(sinks, notify.NewStreamSink(rdb, cfg.Redis.Stream))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Timeout.Duration))
	}
	dispatcher := notify.NewDispatcher(store.Events, sinks, cfg.Dispatcher.PollInterval.Duration, cfg.Dispatcher.BatchSize)
	sweeper := services.NewSweeper(engine, store.Users, cfg.Sweeper.Interval.Duration, cfg.Sweeper.SessionTTL.Duration)

	deps := handlers.NewDeps(store, cfg, engine, uploads)
	app := handlers.NewApp(deps, cfg, web.Views(), mediaDir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[http] listening on :%s", cfg.Server.Port)
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("[shutdown] done")
	return nil
}
