package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/depscan/internal/application"
	appscans "github.com/bryanwahyu/depscan/internal/application/scans"
	"github.com/bryanwahyu/depscan/internal/config"
	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
	mysqldb "github.com/bryanwahyu/depscan/internal/infra/db/mysql"
	postgresdb "github.com/bryanwahyu/depscan/internal/infra/db/postgres"
	"github.com/bryanwahyu/depscan/internal/infra/executor/depcheck"
	"github.com/bryanwahyu/depscan/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/depscan/internal/infra/storage"
	"github.com/bryanwahyu/depscan/internal/middleware"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("config dirs error: %v", err)
	}

	ctx := context.Background()

	// connect database, driver per config
	var (
		db   *sql.DB
		repo domain.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresdb.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		repo = postgresdb.NewScanRepository(db)
	case "mysql":
		db, err = mysqldb.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		repo = mysqldb.NewScanRepository(db)
	default:
		log.Fatalf("unsupported database driver: %q", cfg.Database.Driver)
	}
	defer db.Close()

	// init runner, env overlay resolved once up front
	runner := depcheck.NewRunner(depcheck.Options{
		ToolPath:  cfg.Scanner.ToolPath,
		DataDir:   cfg.Scanner.DataDir,
		NVDAPIKey: cfg.Scanner.NVDAPIKey,
		JavaHome:  cfg.Scanner.JavaHome,
	})

	// optional report archive
	var archive domain.ArtifactStore
	if cfg.Archive.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Archive.Endpoint,
			cfg.Archive.Region,
			cfg.Archive.BucketName,
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			cfg.Archive.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		archive = store
	}

	// init service
	svc := &appscans.Service{
		Repo:       repo,
		Runner:     runner,
		Archive:    archive,
		Clock:      application.SystemClock{},
		Workers:    appscans.NewRegistry(log),
		Log:        log,
		ReportsDir: cfg.Scanner.ReportsDir,
	}

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	mux := chi.NewRouter()
	mux.Mount("/", httpserver.NewRouter(svc, checkers, httpserver.Config{
		UploadDir:      cfg.Scanner.UploadDir,
		MaxUploadBytes: cfg.Scanner.MaxUploadMB << 20,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, log))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown; running scans are not cancellable and keep going
	// until process exit
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
}
