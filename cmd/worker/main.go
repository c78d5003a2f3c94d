package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"checkqr/internal/attendance"
	"checkqr/internal/cloudinary"
	"checkqr/internal/config"
	"checkqr/internal/importer"
	"checkqr/internal/qr"
	"checkqr/internal/queue"
	"checkqr/internal/roster"
	"checkqr/internal/store"
)

// Worker consumes queued spreadsheet imports and records their reports.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.InProcessJobs() {
		log.Fatal("worker needs QUEUE_BACKEND=redis and STORE_BACKEND=postgres; memory backends are served by the api process")
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	redis := store.NewRedis(cfg.RedisAddr)
	defer redis.Close()
	if !redis.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, consumer will keep retrying", cfg.RedisAddr)
	}

	qrOpts := qr.Options{Size: cfg.QRSize, DateScoped: cfg.QRDateScoped}
	if cfg.CloudinaryConfigured() {
		qrOpts.Publisher = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}

	im := importer.New(
		attendance.NewService(roster.NewRepository(db.Client)),
		qr.NewService(qr.NewRepository(db.Client), qrOpts),
	)
	jobs := importer.NewJobs(im,
		importer.NewRedisJobStore(redis.Client, cfg.ImportJobTTL),
		queue.NewRedisQueue(redis.Client, store.Key("queue", queue.TypeImport)),
	)

	log.Println("worker started, waiting for imports...")
	if err := jobs.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}
