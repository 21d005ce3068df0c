package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shawn/chat-relay/internal/api"
	"github.com/shawn/chat-relay/internal/auth"
	"github.com/shawn/chat-relay/internal/config"
	"github.com/shawn/chat-relay/internal/delivery"
	"github.com/shawn/chat-relay/internal/leader"
	"github.com/shawn/chat-relay/internal/lifecycle"
	"github.com/shawn/chat-relay/internal/lock"
	"github.com/shawn/chat-relay/internal/protocol/bridge"
	"github.com/shawn/chat-relay/internal/reconciler"
	"github.com/shawn/chat-relay/internal/registry"
	"github.com/shawn/chat-relay/internal/store"
	"github.com/shawn/chat-relay/internal/telemetry"
	"github.com/shawn/chat-relay/internal/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getenv("RELAY_CONFIG_FILE", "relay.yaml"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, os.Stderr)
		if err != nil {
			slog.Error("init tracer", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Error("tracer shutdown", "err", err)
			}
		}()
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Redis shares the initializing flags across replicas; without it they
	// live in process memory.
	var locker lock.Locker = lock.NewMemory()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		locker = lock.NewRedis(rdb)
	}
	reg := registry.New(locker, registry.WithInitTTL(cfg.Registry.InitTTL))

	dialer, err := bridge.New(cfg.Bridge.URL, cfg.Bridge.DataDir)
	if err != nil {
		slog.Error("bridge dialer", "err", err)
		os.Exit(1)
	}
	hooks := webhook.NewWithHTTPClient(&http.Client{
		Timeout:   cfg.Webhook.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	mgr := lifecycle.New(st, reg, dialer, hooks, lifecycle.Config{RestoreWait: cfg.Restore.Wait})
	del := delivery.New(reg, st, cfg.Humanize.Policy())
	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.AdminToken)

	if err := seedTenant(ctx, st, cfg.Seed); err != nil {
		slog.Error("seed tenant", "err", err)
	}

	rec := reconciler.New(st, reg, mgr, cfg.Reconcile.Interval)
	if err := rec.CleanUpStale(ctx); err != nil {
		slog.Error("boot cleanup failed", "err", err)
	}

	h := api.New(st, mgr, del, authn, api.Config{StartedAt: time.Now()})
	port := strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(h.Router(), cfg.Telemetry.ServiceName),
	}

	go func() {
		slog.Info("relay listening", "port", port, "store", cfg.Store.Driver, "leader_election", cfg.Leader.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	if cfg.Leader.Enabled {
		go runWithLeader(ctx, cfg.Leader, cfg.Restore.Delay, rec, mgr)
	} else {
		go rec.Serve(ctx, cfg.Restore.Delay)
	}

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	mgr.Shutdown(shutdownCtx)
	slog.Info("shutdown complete")
}

func setupLogging(c config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	if c.Driver == "sqlite" {
		ss, err := store.NewSQLite(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return ss, nil
	}

	var awsOptFns []func(*awsconfig.LoadOptions) error
	if c.DynamoDBEndpoint != "" {
		// Use static credentials for local DynamoDB
		awsOptFns = append(awsOptFns,
			awsconfig.WithRegion(getenv("AWS_REGION", "us-east-1")),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				getenv("AWS_ACCESS_KEY_ID", "test"),
				getenv("AWS_SECRET_ACCESS_KEY", "test"),
				"",
			)),
		)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptFns...)
	if err != nil {
		return nil, err
	}
	var dynamoOpts []func(*dynamodb.Options)
	if c.DynamoDBEndpoint != "" {
		dynamoOpts = append(dynamoOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(c.DynamoDBEndpoint)
		})
	}
	ds := store.NewDynamo(dynamodb.NewFromConfig(awsCfg, dynamoOpts...), c.TenantsTable, c.SessionsTable)
	if c.DynamoDBEndpoint != "" {
		if err := ds.CreateTables(ctx); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func seedTenant(ctx context.Context, st store.Store, c config.SeedConfig) error {
	if c.User == "" {
		return nil
	}
	if c.Password == "" {
		return errors.New("seed.password is required with seed.user")
	}
	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return err
	}
	created, err := store.EnsureSeedTenant(ctx, st, &store.TenantRecord{
		TenantID:     c.TenantID,
		Name:         c.Name,
		Username:     c.User,
		PasswordHash: hash,
		WebhookURL:   c.WebhookURL,
	})
	if err != nil {
		return err
	}
	if created {
		slog.Info("seed tenant created", "tenant", c.TenantID, "username", c.User)
	}
	return nil
}

// runWithLeader hosts sessions only while this replica holds the lease.
func runWithLeader(ctx context.Context, c config.LeaderConfig, restoreDelay time.Duration, rec *reconciler.Reconciler, mgr *lifecycle.Manager) {
	cs, err := kubeClient()
	if err != nil {
		slog.Error("leader election disabled: no kubernetes client", "err", err)
		rec.Serve(ctx, restoreDelay)
		return
	}
	id := c.ID
	if id == "" {
		id = "chat-relay-" + getenv("POD_NAME", getenv("HOSTNAME", strconv.Itoa(os.Getpid())))
	}
	err = leader.Run(ctx, cs, leader.Config{Namespace: c.Namespace, Identity: id}, leader.Callbacks{
		Lead: func(leadCtx context.Context) { rec.Serve(leadCtx, restoreDelay) },
		Lost: func() { mgr.Shutdown(context.Background()) },
	})
	if err != nil {
		slog.Error("leader election stopped", "err", err)
	}
}

func kubeClient() (kubernetes.Interface, error) {
	k8sCfg, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		k8sCfg, err = clientcmd.BuildConfigFromFlags("", rules.GetDefaultFilename())
		if err != nil {
			return nil, err
		}
	}
	return kubernetes.NewForConfig(k8sCfg)
}
