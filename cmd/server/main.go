// Command server wires the GNS core service: the attestation ledger, epoch
// aggregator, payment intent protocol, geoauth sessions and settlement
// batching behind one HTTP API. Business logic lives in the internal
// services; main only builds dependencies and owns the process lifecycle.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gns/internal/attestation"
	attestationhandler "gns/internal/attestation/handler"
	"gns/internal/attestation/ratelimit"
	"gns/internal/epoch"
	epochhandler "gns/internal/epoch/handler"
	"gns/internal/geoauth"
	geoauthhandler "gns/internal/geoauth/handler"
	geoauthmem "gns/internal/geoauth/store/memory"
	geoauthpg "gns/internal/geoauth/store/postgres"
	"gns/internal/identity"
	identityhandler "gns/internal/identity/handler"
	"gns/internal/merchant"
	merchanthandler "gns/internal/merchant/handler"
	merchantmem "gns/internal/merchant/store/memory"
	merchantpg "gns/internal/merchant/store/postgres"
	"gns/internal/payment"
	paymenthandler "gns/internal/payment/handler"
	paymentmem "gns/internal/payment/store/memory"
	paymentpg "gns/internal/payment/store/postgres"
	"gns/internal/platform/config"
	"gns/internal/platform/httpserver"
	kafkaproducer "gns/internal/platform/kafka/producer"
	"gns/internal/platform/logger"
	"gns/internal/platform/metrics"
	platformredis "gns/internal/platform/redis"
	"gns/internal/settlement"
	settlementhandler "gns/internal/settlement/handler"
	settlementmem "gns/internal/settlement/store/memory"
	settlementpg "gns/internal/settlement/store/postgres"
	storagemem "gns/internal/storage/memory"
	storagepg "gns/internal/storage/postgres"
	"gns/pkg/platform/audit"
	auditpublisher "gns/pkg/platform/audit/publisher"
	auditmem "gns/pkg/platform/audit/store/memory"
	auditpg "gns/pkg/platform/audit/store/postgres"
	auditworker "gns/pkg/platform/audit/worker"
	"gns/pkg/requestcontext"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	ledger interface {
		identity.Store
		attestation.Store
		epoch.Store
		geoauth.AttestationReader
	}
	payments    payment.Store
	sessions    geoauth.Store
	settlements settlement.Store
	merchants   merchant.Store
	audit       audit.Store
	outbox      auditworker.OutboxSource
	db          *sql.DB
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	m := metrics.New()
	pub := auditpublisher.New(1024, log)

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient.Client, cfg.Attestation.MinInterval)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.Attestation.MinInterval)
	}

	epochKey, err := loadOrGenerateKey(cfg.Epoch.SigningKeySeed, "epoch signing", log)
	if err != nil {
		return err
	}
	envelopeKey, err := loadOrGenerateKey(cfg.GeoAuth.EnvelopeKeySeed, "geoauth envelope", log)
	if err != nil {
		return err
	}

	identitySvc := identity.NewService(st.ledger,
		identity.WithLogger(log),
		identity.WithAuditPublisher(pub),
		identity.WithPaymentMinTrust(cfg.Payment.MinTrustScore),
	)
	guard := attestation.NewGuard(cfg.Attestation.MaxSpeedKmh, cfg.Attestation.HighSeverityMultiple)
	attestationSvc := attestation.NewService(st.ledger, limiter, guard,
		attestation.WithLogger(log),
		attestation.WithAuditPublisher(pub),
		attestation.WithMetrics(m),
	)
	aggregator := epoch.NewAggregator(st.ledger, cfg.Epoch.Interval, epochKey,
		epoch.WithLogger(log),
		epoch.WithAuditPublisher(pub),
		epoch.WithMetrics(m),
	)
	paymentSvc := payment.NewService(st.payments, identitySvc, cfg.Payment.DefaultTTL,
		payment.WithLogger(log),
		payment.WithAuditPublisher(pub),
		payment.WithMetrics(m),
	)
	merchantSvc := merchant.NewService(st.merchants,
		merchant.WithLogger(log),
		merchant.WithAuditPublisher(pub),
	)
	geoauthSvc := geoauth.NewService(st.sessions, st.ledger, st.settlements, st.merchants, envelopeKey, cfg.GeoAuth.DefaultTTL,
		geoauth.WithLogger(log),
		geoauth.WithAuditPublisher(pub),
		geoauth.WithMetrics(m),
	)
	network := settlement.NewHorizonClient(cfg.Settlement.HorizonURL, cfg.Settlement.NetworkPassphrase, cfg.Settlement.RequestTimeout)
	settlementSvc := settlement.NewService(st.settlements, st.merchants, network,
		settlement.Asset{Code: cfg.Settlement.AssetCode, Issuer: cfg.Settlement.AssetIssuer},
		cfg.Settlement.FeePercent, cfg.Settlement.MaxAttempts, cfg.Settlement.BackoffBase,
		settlement.WithLogger(log),
		settlement.WithAuditPublisher(pub),
		settlement.WithMetrics(m),
	)

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(requestIDContext)
	router.Use(chimiddleware.Recoverer)

	identityhandler.New(identitySvc, log).Register(router)
	attestationhandler.New(attestationSvc, log).Register(router)
	epochhandler.New(aggregator, log).Register(router)
	paymenthandler.New(paymentSvc, log).Register(router)
	geoauthhandler.New(geoauthSvc, merchantSvc, log).Register(router)
	settlementhandler.New(settlementSvc, merchantSvc, log).Register(router)
	merchanthandler.New(merchantSvc, cfg.Server.AdminToken, log).Register(router)

	router.Get("/healthz", healthHandler(st.db, redisClient))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auditworker.New(st.audit, pub.Inbox(), log).Run(gctx)
	})
	if st.outbox != nil {
		producer, err := kafkaproducer.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		if producer != nil {
			defer producer.Close()
			relay := auditworker.NewOutboxRelay(st.outbox, producer, 5*time.Second, log)
			g.Go(func() error { return relay.Run(gctx) })
		}
	}
	g.Go(func() error { return aggregator.Run(gctx) })
	g.Go(func() error { return paymentSvc.RunSweeper(gctx, cfg.Payment.SweepInterval) })
	g.Go(func() error { return geoauthSvc.RunSweeper(gctx, cfg.GeoAuth.SweepInterval) })
	g.Go(func() error {
		log.Info("gns core listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildStores(cfg config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Postgres.URL == "" {
		log.Warn("no postgres configured, using in-memory stores")
		return &stores{
			ledger:      storagemem.NewLedger(),
			payments:    paymentmem.New(),
			sessions:    geoauthmem.New(),
			settlements: settlementmem.New(),
			merchants:   merchantmem.New(),
			audit:       auditmem.New(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	auditStore := auditpg.New(db)
	return &stores{
		ledger:      storagepg.NewLedger(db),
		payments:    paymentpg.New(db),
		sessions:    geoauthpg.New(db),
		settlements: settlementpg.New(db),
		merchants:   merchantpg.New(db),
		audit:       auditStore,
		outbox:      auditStore,
		db:          db,
	}, nil
}

// loadOrGenerateKey decodes a hex Ed25519 seed, or mints an ephemeral key for
// development when no seed is configured.
func loadOrGenerateKey(seedHex, purpose string, log *slog.Logger) (ed25519.PrivateKey, error) {
	if seedHex == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate %s key: %w", purpose, err)
		}
		log.Warn("using ephemeral key, configure a seed for production", "purpose", purpose)
		return key, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%s seed must be %d hex-encoded bytes", purpose, ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func healthHandler(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, `{"status":"degraded","postgres":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, `{"status":"degraded","redis":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	}
}
