package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/api"
	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/checkout"
	"github.com/openbuilders/loyalty-checkout/internal/env"
	"github.com/openbuilders/loyalty-checkout/internal/health"
	"github.com/openbuilders/loyalty-checkout/internal/ledger"
	"github.com/openbuilders/loyalty-checkout/internal/log"
	"github.com/openbuilders/loyalty-checkout/internal/metrics"
	"github.com/openbuilders/loyalty-checkout/internal/notifier"
	"github.com/openbuilders/loyalty-checkout/internal/payment"
	"github.com/openbuilders/loyalty-checkout/internal/queue"
	"github.com/openbuilders/loyalty-checkout/internal/repository/postgres"
	redisstore "github.com/openbuilders/loyalty-checkout/internal/repository/redis"
	"github.com/openbuilders/loyalty-checkout/internal/shop"
	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("loyalty checkout exited with an error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logLevel := env.GetString("LOG_LEVEL", "INFO")
	log.Setup(logLevel)

	listenPort := env.GetInt("LISTEN_PORT", 8090)
	probesPort := env.GetInt("PROBES_PORT", 8081)
	metricsPort := env.GetInt("METRICS_PORT", 9091)
	rpcURL := env.GetString("RPC_URL", "https://api.devnet.solana.com")
	redisURL := env.GetString("REDIS_URL", "redis://redis:6379/0")
	postgresURL := env.GetString("POSTGRES_URL", "")
	rabbitURL := env.GetString("RABBIT_URL", "")
	paymentMint := env.GetString("PAYMENT_MINT", "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr")
	couponMint := env.GetString("COUPON_MINT", "")
	catalogPath := env.GetString("CATALOG_PATH", "")
	checkoutTTL := env.GetDuration("CHECKOUT_TTL", 10*time.Minute)
	pollInterval := env.GetDuration("POLL_INTERVAL", 500*time.Millisecond)
	provisionTimeout := env.GetDuration("PROVISION_TIMEOUT", 30*time.Second)
	watchInBackground := env.GetBool("WATCH_IN_BACKGROUND", postgresURL != "")
	label := env.GetString("SHOP_LABEL", "Bakery Co.")
	icon := env.GetString("SHOP_ICON", "https://freesvg.org/img/1370962427.png")

	// create the context and register signals that could cause its cancellation
	// and graceful shutdown
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	merchant, err := loadMerchant()
	if err != nil {
		return err
	}

	payMint, err := solana.PublicKeyFromBase58(paymentMint)
	if err != nil {
		return fmt.Errorf("invalid PAYMENT_MINT: %w", err)
	}
	cpnMint, err := solana.PublicKeyFromBase58(couponMint)
	if err != nil {
		return fmt.Errorf("invalid COUPON_MINT: %w", err)
	}

	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}

	instanceID := getInstanceID()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	slog.Info("Connecting to the ledger...", "url", rpcURL)

	ledgerClient, err := ledger.Dial(ctx, &ledger.Config{
		URL:        rpcURL,
		Commitment: ledger.CommitmentConfirmed,
		Timeout:    10 * time.Second,
	}, m)
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	slog.Info("Connecting to Redis...")

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store := redisstore.New(&redisstore.Config{Retention: 24 * time.Hour}, redisClient)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("check Redis connection: %w", err)
	}

	healthChecker := health.NewChecker(&health.Config{
		CheckInterval: 10 * time.Second,
		CheckTimeout:  3 * time.Second,
		ID:            instanceID,
	})
	healthChecker.Register(health.ComponentRedis, store.Ping)
	healthChecker.Register(health.ComponentLedger, ledgerClient.Health)

	errGroup, ctx := errgroup.WithContext(ctx)

	var journal shop.Journal
	if postgresURL != "" {
		slog.Info("Connecting to Postgres...")

		pg, err := pgxpool.New(ctx, postgresURL)
		if err != nil {
			return fmt.Errorf("connect to Postgres: %w", err)
		}
		defer pg.Close()

		pgClient := postgres.New(pg, time.Second)
		if err := pgClient.Ping(ctx); err != nil {
			return fmt.Errorf("check Postgres connection: %w", err)
		}
		if err := pgClient.Migrate(ctx); err != nil {
			return err
		}

		journal = pgClient
		healthChecker.Register(health.ComponentDB, pgClient.IsUpAndRunning)

		if rabbitURL != "" {
			q := queue.New(&queue.Config{
				URL:               rabbitURL,
				ReconnectInterval: 5 * time.Second,
				ConnectTimeout:    5 * time.Second,
			})
			n := notifier.New(&notifier.Config{
				BatchSize:    100,
				PollInterval: time.Second,
				DBTimeout:    3 * time.Second,
			}, q, pgClient)

			errGroup.Go(func() error {
				return ignoreCancel(q.Start(ctx))
			})
			errGroup.Go(func() error {
				return ignoreCancel(n.Start(ctx))
			})
		}
	}

	builder := checkout.New(&checkout.Config{
		Merchant:         merchant,
		PaymentMint:      payMint,
		CouponMint:       cpnMint,
		Catalog:          cat,
		ProvisionTimeout: provisionTimeout,
	}, ledgerClient, m)

	verifier := payment.New(&payment.Config{
		PollInterval: pollInterval,
	}, ledgerClient, m)

	service := shop.New(&shop.Config{
		Label:             label,
		Icon:              icon,
		CheckoutTTL:       checkoutTTL,
		WatchInBackground: watchInBackground,
	}, cat, builder, verifier, store, journal)

	server := api.NewServer(&api.Config{
		ListenAddr:   "",
		ListenPort:   listenPort,
		MetricsPort:  metricsPort,
		ProbesPort:   probesPort,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
		ID:           instanceID,
	}, service, healthChecker, registry)

	errGroup.Go(func() error {
		healthChecker.Run(ctx)
		return nil
	})

	errGroup.Go(func() error {
		return service.Start(ctx)
	})

	errGroup.Go(func() error {
		return server.Start(ctx)
	})

	errGroup.Go(func() error {
		waitForShutdown(ctx)
		return nil
	})

	return errGroup.Wait()
}

// loadMerchant reads the merchant key from the environment. Without one the
// service still starts, and checkouts fail with a credential error.
//
//	MERCHANT_SECRET_KEY           base58 64 byte secret, as solana-keygen exports it
//	MERCHANT_MNEMONIC             BIP39 phrase; the key is the first account on
//	                              m/44'/501'/0'/0', the one Phantom shows
//	MERCHANT_MNEMONIC_PASSPHRASE  optional BIP39 passphrase
//	MERCHANT_MNEMONIC_FORMAT      "bip39" (default) or "ton" for a 24 word phrase
//	                              from a TON wallet app
func loadMerchant() (*solana.Keypair, error) {
	if secret := env.GetSecret("MERCHANT_SECRET_KEY"); secret != "" {
		kp, err := solana.KeypairFromBase58(secret)
		if err != nil {
			return nil, fmt.Errorf("invalid MERCHANT_SECRET_KEY: %w", err)
		}
		return kp, nil
	}

	passphrase := env.GetSecret("MERCHANT_MNEMONIC_PASSPHRASE")
	if mnemonic := env.GetSecret("MERCHANT_MNEMONIC"); mnemonic != "" {
		var (
			kp  *solana.Keypair
			err error
		)
		switch format := env.GetString("MERCHANT_MNEMONIC_FORMAT", "bip39"); format {
		case "bip39":
			kp, err = solana.KeypairFromMnemonic(mnemonic, passphrase)
		case "ton":
			kp, err = solana.KeypairFromTONMnemonic(mnemonic)
		default:
			return nil, fmt.Errorf("unknown MERCHANT_MNEMONIC_FORMAT %q", format)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid MERCHANT_MNEMONIC: %w", err)
		}
		return kp, nil
	}

	slog.Warn("No merchant key configured, checkouts will be refused")
	return nil, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func waitForShutdown(ctx context.Context) {
	<-ctx.Done()
	slog.Debug("Received a graceful shutdown request")
}

func getInstanceID() string {
	instanceID := env.GetString("POD_NAME", "")

	if instanceID == "" {
		instanceID = fmt.Sprint(rand.IntN(math.MaxUint32))
	}

	return instanceID
}
