// Command server starts the streamgate controller HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamgate/internal/adapter"
	"streamgate/internal/api"
	"streamgate/internal/config"
	"streamgate/internal/observability/logging"
	"streamgate/internal/observability/metrics"
	"streamgate/internal/policy"
	"streamgate/internal/reconciler"
	"streamgate/internal/server"
	"streamgate/internal/sessions"
	"streamgate/internal/signer"
	"streamgate/internal/store"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected kid=value", value)
	}
	kid := strings.TrimSpace(parts[0])
	if kid == "" {
		return fmt.Errorf("key id is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[kid] = parts[1]
	return nil
}

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	configDir := flag.String("config-dir", "", "directory of YAML declarations to seed the store")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	redisAddr := flag.String("redis-addr", "", "Redis address for session tracking")
	redisPassword := flag.String("redis-password", "", "Redis password for session tracking")
	redisDB := flag.Int("redis-db", 0, "Redis database for session tracking")
	cdnBaseURL := flag.String("cdn-base-url", "", "base URL prepended to signed playback paths")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	signLimit := flag.Int("rate-sign-limit", 0, "maximum sign requests per window for a single IP")
	signWindow := flag.Duration("rate-sign-window", 0, "window for counting sign requests")
	reconcileOnStart := flag.Bool("reconcile-on-start", false, "reconcile every declared stream at boot")
	var signingKeys keyValueFlag
	var signingPassphrases keyValueFlag
	flag.Var(&signingKeys, "signing-key", "signing key material (kid=secret)")
	flag.Var(&signingPassphrases, "signing-passphrase", "derive a signing key from a passphrase (kid=passphrase)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMGATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMGATE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("STREAMGATE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STREAMGATE_ADDR"))

	keys, err := resolveSigningKeys(signingKeys, signingPassphrases)
	if err != nil {
		logger.Error("failed to resolve signing keys", "error", err)
		os.Exit(1)
	}

	var signerOpts []signer.Option
	if base := firstNonEmpty(*cdnBaseURL, os.Getenv("STREAMGATE_CDN_BASE_URL")); base != "" {
		signerOpts = append(signerOpts, signer.WithBaseURL(base))
	}
	urlSigner, err := signer.New(keys, signerOpts...)
	if err != nil {
		logger.Error("failed to initialise signer", "error", err)
		os.Exit(1)
	}
	recorder.SetActiveKID(urlSigner.CurrentKID())

	driver := resolveStorageDriver(*storageDriver, os.Getenv("STREAMGATE_STORAGE_DRIVER"), firstNonEmpty(*postgresDSN, os.Getenv("STREAMGATE_POSTGRES_DSN")))
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	var repo store.Repository
	switch driver {
	case "memory":
		repo = store.NewMemory()
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("STREAMGATE_POSTGRES_DSN"))
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pg, err := store.NewPostgres(bootCtx, store.PostgresConfig{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "STREAMGATE_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "STREAMGATE_POSTGRES_MIN_CONNS")),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("STREAMGATE_POSTGRES_APP_NAME")),
		})
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
		repo = pg
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}

	if dir := firstNonEmpty(*configDir, os.Getenv("STREAMGATE_CONFIG_DIR")); dir != "" {
		bundle, err := config.LoadDirectory(dir)
		if err != nil {
			logger.Error("failed to load configuration", "dir", dir, "error", err)
			os.Exit(1)
		}
		if err := bundle.Validate(); err != nil {
			logger.Error("configuration invalid", "dir", dir, "error", err)
			os.Exit(1)
		}
		if err := bundle.Seed(repo); err != nil {
			logger.Error("failed to seed datastore", "error", err)
			os.Exit(1)
		}
		logger.Info("configuration loaded",
			"dir", dir,
			"clients", len(bundle.Clients),
			"profiles", len(bundle.Profiles),
			"streams", len(bundle.Streams))
	}

	tracker := sessions.Tracker(sessions.Unlimited{})
	if addr := firstNonEmpty(*redisAddr, os.Getenv("STREAMGATE_REDIS_ADDR")); addr != "" {
		redisTracker, err := sessions.NewRedis(bootCtx, sessions.Options{
			Addr:     addr,
			Password: firstNonEmpty(*redisPassword, os.Getenv("STREAMGATE_REDIS_PASSWORD")),
			DB:       resolveInt(*redisDB, "STREAMGATE_REDIS_DB"),
		})
		if err != nil {
			logger.Error("failed to connect session tracker", "error", err)
			os.Exit(1)
		}
		tracker = redisTracker
		logger.Info("session tracking enabled", "addr", addr)
	}

	registry := adapter.NewRegistry()
	buildOpts := adapter.Options{
		Logger:  logging.WithComponent(logger, "adapter"),
		Metrics: recorder,
	}
	adapters, err := registry.BuildSlots(repo.ListStreams(), buildOpts)
	if err != nil {
		logger.Error("failed to build adapters", "error", err)
		os.Exit(1)
	}

	engine := reconciler.New(repo, adapters, logging.WithComponent(logger, "reconciler"), recorder)
	engine.EnableDynamicBinding(registry, buildOpts)

	handler := api.NewHandler(repo, policy.NewEngine(repo), urlSigner, engine)
	handler.Sessions = tracker
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")

	if resolveBool(*reconcileOnStart, "STREAMGATE_RECONCILE_ON_START") {
		for _, stream := range repo.ListStreams() {
			if err := engine.Apply(bootCtx, stream.ID); err != nil {
				logger.Error("startup reconciliation failed", "stream_id", stream.ID, "error", err)
			}
		}
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMGATE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMGATE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   resolveFloat(*globalRPS, "STREAMGATE_RATE_GLOBAL_RPS"),
			GlobalBurst: resolveInt(*globalBurst, "STREAMGATE_RATE_GLOBAL_BURST"),
			SignLimit:   resolveInt(*signLimit, "STREAMGATE_RATE_SIGN_LIMIT"),
			SignWindow:  resolveDuration(*signWindow, "STREAMGATE_RATE_SIGN_WINDOW", time.Minute),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("streamgate listening", "addr", listenAddr, "mode", serverMode, "active_kid", urlSigner.CurrentKID())
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	engine.CloseAdapters()

	if err := tracker.Close(); err != nil {
		logger.Warn("failed to close session tracker", "error", err)
	}
	if err := repo.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

// resolveSigningKeys merges flag-provided keys with the STREAMGATE_SIGNING_KEYS
// and STREAMGATE_SIGNING_PASSPHRASES environment lists ("kid=value,kid2=value").
// Flags win over the environment for the same kid; raw secrets win over
// passphrase derivation.
func resolveSigningKeys(secrets, passphrases keyValueFlag) ([]signer.SigningKey, error) {
	merged := make(map[string]signer.SigningKey)

	for kid, passphrase := range parseKeyList(os.Getenv("STREAMGATE_SIGNING_PASSPHRASES")) {
		merged[kid] = signer.KeyFromPassphrase(kid, passphrase)
	}
	for kid, secret := range parseKeyList(os.Getenv("STREAMGATE_SIGNING_KEYS")) {
		merged[kid] = signer.SigningKey{KID: kid, Secret: []byte(secret)}
	}
	for kid, passphrase := range passphrases {
		merged[kid] = signer.KeyFromPassphrase(kid, passphrase)
	}
	for kid, secret := range secrets {
		merged[kid] = signer.SigningKey{KID: kid, Secret: []byte(secret)}
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("no signing keys configured; set -signing-key or STREAMGATE_SIGNING_KEYS")
	}
	keys := make([]signer.SigningKey, 0, len(merged))
	for _, key := range merged {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KID < keys[j].KID })
	return keys, nil
}

func parseKeyList(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 || strings.TrimSpace(pair[0]) == "" {
			continue
		}
		out[strings.TrimSpace(pair[0])] = pair[1]
	}
	return out
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "memory"
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
