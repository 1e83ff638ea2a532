package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nikodwicahyo/helpdesk/internal/authn"
	"github.com/nikodwicahyo/helpdesk/internal/config"
	"github.com/nikodwicahyo/helpdesk/internal/httpapi"
	"github.com/nikodwicahyo/helpdesk/internal/identity"
	"github.com/nikodwicahyo/helpdesk/internal/obs"
	"github.com/nikodwicahyo/helpdesk/internal/ratelimit"
	"github.com/nikodwicahyo/helpdesk/internal/session"
)

var version = "0.3.1"

const (
	sweepInterval    = 1 * time.Minute
	purgeInterval    = 1 * time.Hour
	sessionRetention = 24 * time.Hour
)

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.TokenSecret == "" {
		log.Fatal("config: HELPDESK_AUTH_SECRET is required")
	}

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Identity resolution: the four role stores in precedence order, behind a
	// short-lived cache. Without a DSN the service runs on in-memory stores,
	// which is only useful for local development.
	resolver := identity.NewResolver()
	if db != nil {
		if err := identity.RegisterPGStores(resolver, db); err != nil {
			log.Fatalf("identity stores: %v", err)
		}
	} else {
		log.Println("no HELPDESK_PG_DSN set, using in-memory identity stores")
		for _, kind := range identity.Precedence {
			if err := resolver.Register(kind, identity.NewMemoryStore()); err != nil {
				log.Fatalf("identity stores: %v", err)
			}
		}
	}
	cached := identity.NewCachedResolver(resolver)

	// Failure counters are ephemeral by design; a restart forgives
	// outstanding lockouts.
	counters := ratelimit.NewMemoryStore()
	gate := ratelimit.New(counters,
		ratelimit.WithThreshold(cfg.FailureThreshold),
		ratelimit.WithWindow(cfg.FailureDecayWindow),
		ratelimit.WithSalt(cfg.RateLimitSalt),
	)

	var sessionStore session.Store
	if db != nil {
		sessionStore = session.NewPGStore(db)
	} else {
		sessionStore = session.NewMemoryStore()
	}
	ledger := session.New(sessionStore,
		session.WithMaxActive(cfg.MaxActiveSessions),
		session.WithLifetime(cfg.SessionLifetime),
		session.WithIdleWarning(cfg.IdleWarning),
	)

	transport, err := authn.NewTransport(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	orch := authn.NewOrchestrator(cached, gate, ledger, transport)

	api := httpapi.New(orch, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	go runMaintenance(rootCtx, ledger, counters)

	log.Printf("Starting helpdesk-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// runMaintenance drives the periodic expiry sweep, the retention purge and
// the failure-counter cleanup until the context is cancelled.
func runMaintenance(ctx context.Context, ledger *session.Ledger, counters *ratelimit.MemoryStore) {
	sweep := time.NewTicker(sweepInterval)
	purge := time.NewTicker(purgeInterval)
	defer sweep.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n, err := ledger.SweepExpired(ctx); err != nil {
				obs.Warn("session sweep failed", map[string]any{"error": err.Error()})
			} else if n > 0 {
				obs.Info("sessions swept", map[string]any{"count": n})
			}
			counters.Sweep(time.Now())
		case <-purge.C:
			if n, err := ledger.PurgeTerminated(ctx, sessionRetention); err != nil {
				obs.Warn("session purge failed", map[string]any{"error": err.Error()})
			} else if n > 0 {
				obs.Info("sessions purged", map[string]any{"count": n})
			}
		}
	}
}
