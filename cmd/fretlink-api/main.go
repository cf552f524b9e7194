// README: Entry point; loads config, wires stores, services and the realtime coordinator, then serves HTTP and websockets.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"

	"fretlink/internal/config"
	httptransport "fretlink/internal/http"
	"fretlink/internal/infra"
	"fretlink/internal/logging"
	"fretlink/internal/metrics"
	"fretlink/internal/modules/location"
	"fretlink/internal/modules/order"
	"fretlink/internal/modules/payment"
	"fretlink/internal/modules/pricing"
	"fretlink/internal/modules/session"
	"fretlink/internal/modules/user"
	"fretlink/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, os.Stdout)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fretlink-api exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	uow := infra.NewUnitOfWork(dbPool)

	var outbox realtime.Outbox = realtime.NopOutbox{}
	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			// offline parties lose queued events but live delivery still works
			log.Warn("realtime outbox disabled", logging.Err(err))
		} else {
			defer redisClient.Close()
			outbox = realtime.NewRedisOutbox(redisClient, cfg.Realtime.OutboxTTL)
		}
	}

	var (
		verifier infra.TokenVerifier
		pusher   infra.Pusher
		blobs    infra.BlobStore
	)
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.Bucket, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		pusher = optionalPusher(ctx, app, log)
		blobs = optionalBlobs(ctx, app, cfg.Firebase.Bucket, log)
	}
	if cfg.Auth.JWTSecret != "" {
		// an explicit secret wins so local runs need no Firebase project
		verifier = infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	}
	if verifier == nil {
		return errors.New("no token verifier: set FRETLINK_FIREBASE_PROJECT_ID or FRETLINK_JWT_SECRET")
	}

	var events infra.EventPublisher = infra.NopPublisher{}
	if cfg.AMQP.URL != "" {
		pub, err := infra.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		events = pub
	}

	userStore := user.NewStore(dbPool)
	pricingSvc := pricing.NewService(pricing.NewStore(dbPool))

	orderSvc := order.NewService(order.Deps{
		Store:   order.NewStore(dbPool),
		Pricing: pricingSvc,
		Users:   userStore,
		UoW:     uow,
		Events:  events,
		Blobs:   blobs,
		Log:     log.With("component", "order"),
	})
	paymentSvc := payment.NewService(payment.Deps{
		Store:   payment.NewStore(dbPool),
		Wallets: userStore,
		UoW:     uow,
		Events:  events,
		Blobs:   blobs,
		Log:     log.With("component", "payment"),
	})

	registry := location.NewRegistry()
	sessions := session.NewTable()
	hub := realtime.NewHub(log.With("component", "hub"))
	router := realtime.NewRouter(realtime.Deps{
		Registry:       registry,
		Sessions:       sessions,
		Hub:            hub,
		Users:          userStore,
		Orders:         orderSvc,
		Outbox:         outbox,
		Pusher:         pusher,
		SampleRate:     cfg.Realtime.LocationSampleRate,
		DurableTimeout: cfg.Realtime.DurableTimeout,
		Log:            log.With("component", "realtime"),
	})
	orderSvc.SetNotifier(router)
	paymentSvc.SetNotifier(router)

	go sessions.RunEvictor(ctx, cfg.Realtime.SessionEvictTick, cfg.Realtime.SessionTTL, cfg.Realtime.SessionIdleTTL, log.With("component", "sessions"))

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier: verifier,
		Orders:   orderSvc,
		Payments: paymentSvc,
		Registry: registry,
		Hub:      hub,
		Realtime: router,
		Log:      log.With("component", "http"),
	})
	return httptransport.NewServer(cfg.HTTP.Addr, handler, log, hub.CloseAll).Run(ctx)
}

// optionalPusher degrades to websocket-only delivery when FCM is unavailable.
func optionalPusher(ctx context.Context, app *firebase.App, log *slog.Logger) infra.Pusher {
	p, err := infra.NewFCMPusher(ctx, app)
	if err != nil {
		log.Warn("push notifications disabled", logging.Err(err))
		return nil
	}
	return p
}

func optionalBlobs(ctx context.Context, app *firebase.App, bucket string, log *slog.Logger) infra.BlobStore {
	if bucket == "" {
		return nil
	}
	b, err := infra.NewFirebaseBlobStore(ctx, app, bucket)
	if err != nil {
		log.Warn("file uploads disabled", logging.Err(err))
		return nil
	}
	return b
}
