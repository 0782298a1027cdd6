// Package main provides the entry point for WorldLog Companion.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graaaaa/worldlog-companion/internal/api"
	"github.com/graaaaa/worldlog-companion/internal/api/streamauth"
	"github.com/graaaaa/worldlog-companion/internal/app"
	"github.com/graaaaa/worldlog-companion/internal/appinfo"
	"github.com/graaaaa/worldlog-companion/internal/config"
	"github.com/graaaaa/worldlog-companion/internal/poll"
	"github.com/graaaaa/worldlog-companion/internal/reconcile"
	"github.com/graaaaa/worldlog-companion/internal/remote"
	"github.com/graaaaa/worldlog-companion/internal/session"
	"github.com/graaaaa/worldlog-companion/internal/singleinstance"
	"github.com/graaaaa/worldlog-companion/internal/store"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
	"github.com/graaaaa/worldlog-companion/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// 1. Single instance check
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	release, ok, err := singleinstance.AcquireLock(dataDir)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another instance is already running")
	}
	defer release()

	// 2. Configuration: defaults < file < environment < flags
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	secretsPath, err := config.SecretsPath()
	if err != nil {
		return err
	}
	cfg, _ := config.LoadConfigFrom(configPath)
	cfg, err = config.ApplyEnvOverrides(cfg)
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	owner := flag.String("owner", cfg.OwnerID, "owner id to follow")
	flag.Parse()

	secrets, err := loadSecrets(secretsPath, cfg.LanEnabled)
	if err != nil {
		return err
	}

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Store
	db, err := store.Open(filepath.Join(dataDir, appinfo.DatabaseFileName), store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if vacuumed, err := db.VacuumIfNeeded(ctx); err != nil {
		log.Printf("Warning: vacuum failed: %v", err)
	} else if vacuumed {
		log.Println("Database vacuumed")
	}

	// 4. Telemetry
	shutdownTracing, err := telemetry.Setup(ctx, appinfo.ServiceName, version.String(), cfg.OtelEndpoint)
	if err != nil {
		log.Printf("Warning: tracing disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()
	metrics := telemetry.NewMetrics()

	// 5. Engine: writer <- session <- poller, snapshots fan out through the hub
	writer := reconcile.NewWriter(db,
		reconcile.WithWriterLogger(logger),
		reconcile.WithWriterMetrics(metrics),
	)
	mgr := session.New(db, cfg.ContractAddress,
		session.WithPersister(writer),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithBlockInterval(cfg.BlockInterval()),
		session.WithOptimisticTTL(cfg.OptimisticTTL()),
		session.WithOwner(*owner),
	)
	hub := api.NewHub(api.WithHubLogger(logger))
	mgr.OnUpdate(hub.Publish)

	source := remote.NewHTTPSource(cfg.RemoteURL,
		remote.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout()}),
		remote.WithLogger(logger),
	)
	poller := poll.New(source, mgr,
		poll.WithInterval(cfg.PollInterval()),
		poll.WithLookback(uint64(cfg.LookbackBlocks)),
		poll.WithTimeout(cfg.FetchTimeout()),
		poll.WithLogger(logger),
		poll.WithTracer(telemetry.Tracer()),
		poll.WithMetrics(metrics),
		poll.WithOwner(*owner),
	)
	sweeper := &store.Sweeper{
		Store:    db,
		TTL:      cfg.CacheTTL(),
		Interval: cfg.SweepInterval(),
		Logger:   logger,
	}

	// 6. HTTP server
	host := "127.0.0.1"
	if cfg.LanEnabled {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, *port)

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithWorldUsecase(&app.WorldService{Session: mgr, Poller: poller, ConfigPath: configPath}),
		api.WithEventsUsecase(&app.EventsService{Store: db, Scopes: mgr}),
		api.WithStatsUsecase(app.NewStatsService(db, mgr)),
		api.WithConfigUsecase(app.ConfigService{ConfigPath: configPath, SecretsPath: secretsPath}),
		api.WithHub(hub),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithChatRateLimit(cfg.ChatRatePerSec, cfg.ChatBurst),
	}
	if cfg.LanEnabled {
		issuer, err := newStreamIssuer()
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts,
			api.WithBasicAuth(secrets.BasicAuthUsername, secrets.BasicAuthPassword.Value()),
			api.WithStreamTokens(issuer),
		)
		log.Println("Basic Auth enabled for LAN mode")
	}
	server := api.NewServer(addr, app.HealthService{Version: version.String(), Session: mgr}, serverOpts...)

	if *owner == "" {
		log.Println("No owner configured; set one with PUT /api/v1/owner")
	}
	log.Printf("Starting %s v%s on %s", appinfo.AppName, version.String(), addr)

	// 7. Run everything until a signal or the first fatal error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error { return ignoreCanceled(writer.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(poller.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(sweeper.Run(gctx)) })
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		// Push handlers return once the hub closes their subscriptions.
		hub.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Println("Server stopped")
	return err
}

// loadSecrets loads secrets and, in LAN mode, generates Basic Auth
// credentials on first start.
func loadSecrets(path string, lanEnabled bool) (config.Secrets, error) {
	secrets, status, err := config.LoadSecretsFrom(path)
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	updated, generatedPw, err := config.EnsureLanAuth(&secrets, lanEnabled)
	if err != nil {
		return secrets, fmt.Errorf("ensure LAN auth: %w", err)
	}
	if !updated {
		return secrets, nil
	}

	// Never overwrite a secrets file that failed to parse.
	if status == config.SecretsFallback {
		log.Println("WARNING: Secrets file has errors; new credentials not saved to avoid data loss")
		log.Println("Please fix or delete secrets.json and restart")
		return secrets, nil
	}
	if err := config.SaveSecretsTo(secrets, path); err != nil {
		return secrets, fmt.Errorf("save secrets: %w", err)
	}
	if generatedPw != "" {
		pwPath, err := config.WritePasswordFile(filepath.Dir(path), secrets.BasicAuthUsername, generatedPw)
		if err != nil {
			log.Printf("Warning: failed to write password file: %v", err)
			log.Println("=== GENERATED BASIC AUTH CREDENTIALS ===")
			log.Printf("Username: %s", secrets.BasicAuthUsername)
			log.Printf("Password: %s", generatedPw)
			log.Println("=========================================")
		} else {
			log.Println("=== BASIC AUTH CREDENTIALS GENERATED ===")
			log.Printf("Credentials saved to: %s", pwPath)
			log.Println("Delete this file after saving the credentials!")
			log.Println("=========================================")
		}
	}
	return secrets, nil
}

// newStreamIssuer returns a token issuer with a per-process secret, so
// tokens die with the process.
func newStreamIssuer() (*streamauth.Issuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate stream secret: %w", err)
	}
	return streamauth.NewIssuer(secret)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
