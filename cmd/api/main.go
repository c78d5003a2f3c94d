package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkqr/internal/attendance"
	"checkqr/internal/auth"
	"checkqr/internal/cloudinary"
	"checkqr/internal/config"
	"checkqr/internal/files"
	"checkqr/internal/handler"
	"checkqr/internal/httpmiddleware"
	"checkqr/internal/importer"
	"checkqr/internal/metrics"
	"checkqr/internal/qr"
	"checkqr/internal/queue"
	"checkqr/internal/roster"
	"checkqr/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

type repositories struct {
	users    auth.UserRepository
	roster   roster.Repository
	qr       qr.Store
	files    files.Repository
	jobStore importer.JobStore
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		db    *store.DB
		redis *store.Redis
		repos repositories
	)

	if !cfg.InProcessJobs() {
		redis = store.NewRedis(cfg.RedisAddr)
		defer redis.Close()
	}

	switch cfg.StoreBackend {
	case "memory":
		log.Println("using in-memory store")
		repos = repositories{
			users:  auth.NewMemoryRepository(),
			roster: roster.NewMemoryRepository(),
			qr:     qr.NewMemoryStore(),
			files:  files.NewMemoryRepository(),
		}
	default:
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		migrateCtx, cancelMigrate := context.WithTimeout(ctx, 30*time.Second)
		err = db.Migrate(migrateCtx)
		cancelMigrate()
		if err != nil {
			return err
		}
		repos = repositories{
			users:  auth.NewRepository(db.Client),
			roster: roster.NewRepository(db.Client),
			qr:     qr.NewRepository(db.Client),
			files:  files.NewRepository(db.Client),
		}
	}

	var q queue.Queue
	if cfg.InProcessJobs() {
		q = queue.NewInMemory(64)
		repos.jobStore = importer.NewMemoryJobStore()
	} else {
		q = queue.NewRedisQueue(redis.Client, store.Key("queue", queue.TypeImport))
		repos.jobStore = importer.NewRedisJobStore(redis.Client, cfg.ImportJobTTL)
	}

	qrOpts := qr.Options{Size: cfg.QRSize, DateScoped: cfg.QRDateScoped}
	if cfg.CloudinaryConfigured() {
		qrOpts.Publisher = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, QR images are stored inline")
	}

	att := attendance.NewService(repos.roster)
	codes := qr.NewService(repos.qr, qrOpts)
	im := importer.New(att, codes)
	jobs := importer.NewJobs(im, repos.jobStore, q)

	// Without a shared queue and store there is no separate worker process.
	if cfg.InProcessJobs() {
		if cfg.QueueBackend != "memory" {
			log.Printf("STORE_BACKEND=memory: ignoring QUEUE_BACKEND=%s, import jobs run in-process", cfg.QueueBackend)
		}
		go func() {
			if err := jobs.Serve(ctx); err != nil && ctx.Err() == nil {
				log.Printf("import worker stopped: %v", err)
			}
		}()
	}

	h := handler.New(handler.Deps{
		Auth:           auth.NewService(repos.users, auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL)),
		Cookies:        auth.Cookies{Secure: cfg.CookieSecure},
		Attendance:     att,
		QR:             codes,
		Files:          files.NewService(repos.files, cfg.MaxUploadBytes),
		Importer:       im,
		Jobs:           jobs,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Health: func(ctx context.Context) map[string]bool {
			out := map[string]bool{}
			if db != nil {
				out["db"] = db.Healthy(ctx)
			}
			if redis != nil {
				out["redis"] = redis.Healthy(ctx)
			}
			return out
		},
	})

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	signInLimiter := httpmiddleware.NewTokenBucket(cfg.SignInLimitPerMin, cfg.SignInLimitPerMin)
	go housekeeping(ctx, q, limiter, signInLimiter)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())
	r.Use(limiter.GinMiddleware(httpmiddleware.ByClientIP))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, signInLimiter.GinMiddleware(httpmiddleware.ByRouteAndIP))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// housekeeping drops idle rate-limit buckets and samples the queue depth.
func housekeeping(ctx context.Context, q queue.Queue, limiters ...*httpmiddleware.TokenBucket) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if n, err := q.Len(ctx); err == nil {
			metrics.QueueDepth.Set(float64(n))
		}
		if i%5 == 0 {
			for _, l := range limiters {
				l.Sweep()
			}
		}
	}
}
