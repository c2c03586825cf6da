// smider broker-service
//
// Home-repair job broker. Exposes a REST API and a gRPC API used by the
// Gateway to implement:
//   - submitTurn(messages)         : intake conversation, priced on completion
//   - createJob(payload)           : server-side pricing, payment hold or manual review
//   - confirmPayment(jobId)        : verify hold, dispatch offers to nearby contractors
//   - acceptOffer / declineOffer   : contractor responses, first accept wins
//   - redispatch / cancel / complete
//
// Publishes EVENT_JOB_STATUS, EVENT_OFFERS_CREATED and EVENT_OFFER_RESOLVED to
// Redis for Gateway SSE forward. A cron sweep expires unanswered offers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"smider/broker-service/internal/config"
	"smider/broker-service/internal/db"
	"smider/broker-service/internal/dispatch"
	"smider/broker-service/internal/events"
	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/grpcserver"
	"smider/broker-service/internal/intake"
	"smider/broker-service/internal/logger"
	"smider/broker-service/internal/matching"
	"smider/broker-service/internal/model"
	"smider/broker-service/internal/payment"
	"smider/broker-service/internal/pricing"
	"smider/broker-service/internal/scheduler"
	"smider/broker-service/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[broker-service] Config error: %v", err)
	}
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ───────────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[broker-service] Store: %v", err)
	}
	defer closeStore()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("[broker-service] Migrate: %v", err)
	}
	if cfg.ContractorsSeedPath != "" {
		n, err := store.SeedContractors(ctx, st, cfg.ContractorsSeedPath)
		if err != nil {
			log.Fatalf("[broker-service] Contractor seed: %v", err)
		}
		log.Printf("[broker-service] Seeded %d contractors from %s", n, cfg.ContractorsSeedPath)
	}

	// ── Redis ────────────────────────────────────────────────────────────────
	var publisher events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		log.Println("[broker-service] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("[broker-service] Redis: %v", err)
		}
		defer rdb.Close()
		publisher = events.NewRedis(rdb)
		log.Println("[broker-service] Redis connected ✓")
	} else {
		log.Println("[broker-service] REDIS_URL not set, events disabled")
	}

	// ── Payments ─────────────────────────────────────────────────────────────
	var payments payment.Authorizer
	if cfg.StripeSecretKey != "" {
		payments = payment.NewStripe(cfg.StripeSecretKey)
	} else {
		log.Println("[broker-service] Demo mode without Stripe, holds are simulated")
		payments = payment.NewDemo()
	}

	// ── Domain services ──────────────────────────────────────────────────────
	card := pricing.DefaultRateCard()
	if cfg.RateCardPath != "" {
		if card, err = pricing.LoadRateCard(cfg.RateCardPath); err != nil {
			log.Fatalf("[broker-service] Rate card: %v", err)
		}
	}
	engine := pricing.NewEngine(card)

	matcher := matching.NewEngine(st)
	matcher.FallbackToAll = cfg.MatchFallbackAll || cfg.DemoMode

	extractor := extract.NewOpenAIClient(extract.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, nil)
	intakeSvc := intake.NewService(extractor, intake.NewController(), engine)

	svc := dispatch.NewService(dispatch.Deps{
		Store:    st,
		Matcher:  matcher,
		Intake:   intakeSvc.Controller(),
		Pricing:  engine,
		Payments: payments,
		Events:   publisher,
	}, dispatch.Settings{
		OfferWindow:        cfg.OfferWindow,
		HighValueThreshold: cfg.HighValueThreshold,
		Currency:           cfg.PaymentCurrency,
		DefaultLocation:    model.Location{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng},
		DemoMode:           cfg.DemoMode,
	})

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	dispatch.NewHandler(svc, intakeSvc).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 45 * time.Second, // intake waits on the extraction service
	}

	// ── gRPC server ──────────────────────────────────────────────────────────
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(svc, intakeSvc))

	// ── Expiry sweep ─────────────────────────────────────────────────────────
	sched := scheduler.New(svc, cfg.ExpirySweepSpec)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[broker-service] Scheduler: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[broker-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.Printf("[broker-service] gRPC listening on :%s", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[broker-service] Shutting down…")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[broker-service] Shutdown error: %v", err)
		}
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("[broker-service] Server error: %v", err)
	}
	log.Println("[broker-service] Stopped.")
}

// openStore connects the configured backend. Postgres wins when both are set.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		log.Println("[broker-service] Connecting to PostgreSQL…")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Println("[broker-service] PostgreSQL connected ✓")
		return store.NewPostgres(pool), pool.Close, nil
	}

	log.Printf("[broker-service] Opening SQLite at %s…", cfg.SQLitePath)
	sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: %w", err)
	}
	return store.NewSQLite(sqlDB), func() { _ = sqlDB.Close() }, nil
}
