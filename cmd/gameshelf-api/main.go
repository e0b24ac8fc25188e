package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/config"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/database"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/server"
	firestorestore "github.com/MarcoPoloResearchLab/gameshelf/backend/internal/storage/firestore"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/telemetry"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	shutdownTimeout     = 10 * time.Second
	catalogBurstFactor  = 2
	readHeaderTimeout   = 10 * time.Second
	serviceName         = "gameshelf-api"
	defaultCatalogBurst = 1
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "GameShelf backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every entry of the local cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearCache(cmd.Context(), cmd)
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "List store backend (sqlite, firestore)")
	cmd.PersistentFlags().String("firebase-project", defaults.GetString("firebase.project_id"), "Firebase project ID")
	cmd.PersistentFlags().String("firebase-credentials", defaults.GetString("firebase.credentials_file"), "Firebase service account file")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("catalog-api-key", "", "Game catalog API key")
	cmd.PersistentFlags().String("cache-dir", defaults.GetString("cache.dir"), "Local cache directory")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "firebase.project_id", "firebase-project")
	bindFlag(cmd, "firebase.credentials_file", "firebase-credentials")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "catalog.api_key", "catalog-api-key")
	bindFlag(cmd, "cache.dir", "cache-dir")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	reporter, err := telemetry.Init(telemetry.Config{
		DSN:         appConfig.Sentry.DSN,
		Environment: appConfig.Sentry.Environment,
		ServerName:  serviceName,
	}, logger)
	if err != nil {
		return err
	}
	defer reporter.Flush()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var firebaseApp *firebase.App
	if appConfig.FirebaseProject != "" {
		firebaseApp, err = newFirebaseApp(signalCtx, appConfig)
		if err != nil {
			return err
		}
	}

	var store lists.Store
	switch appConfig.StoreBackend {
	case config.StoreBackendFirestore:
		client, err := firebaseApp.Firestore(signalCtx)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		defer client.Close()
		store, err = firestorestore.NewStore(client, time.Now, logger)
		if err != nil {
			return err
		}
	default:
		store = lists.NewSQLStore(db, time.Now)
	}
	logger.Info("list store ready", zap.String("backend", appConfig.StoreBackend))

	dispatcher := realtime.NewDispatcher()
	listService, err := lists.NewService(lists.ServiceConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	userConfig := users.ServiceConfig{
		Database:   db,
		Tokens:     tokenIssuer,
		Lists:      listService,
		Dispatcher: dispatcher,
		Clock:      time.Now,
		Logger:     logger,
	}
	if firebaseApp != nil {
		authClient, err := firebaseApp.Auth(signalCtx)
		if err != nil {
			return fmt.Errorf("firebase auth client: %w", err)
		}
		verifier, err := auth.NewFirebaseVerifier(authClient)
		if err != nil {
			return err
		}
		userConfig.Verifier = verifier
	}
	accountService, err := users.NewService(userConfig)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	housekeeper, closeCheckpoint, err := newHousekeeper(fs, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeCheckpoint()
	logger.Info("cache housekeeper started",
		zap.String("dir", appConfig.Cache.Dir),
		zap.Duration("interval", housekeeper.Interval()))
	go housekeeper.Run(signalCtx)

	deps := server.Dependencies{
		Accounts:       accountService,
		Lists:          listService,
		Cache:          housekeeper,
		AdminToken:     appConfig.AdminToken,
		Reporter:       reporter,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}
	if !appConfig.AdminEnabled() {
		logger.Info("admin token not configured, admin routes disabled")
	}
	if appConfig.CatalogEnabled() {
		catalogClient, err := newCatalogClient(fs, appConfig, logger)
		if err != nil {
			return err
		}
		deps.Catalog = catalogClient
	} else {
		logger.Info("catalog api key not configured, catalog routes disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runClearCache(ctx context.Context, cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	housekeeper, closeCheckpoint, err := newHousekeeper(afero.NewOsFs(), appConfig, logger)
	if err != nil {
		return err
	}
	defer closeCheckpoint()

	removed, err := housekeeper.Clear(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("removed %d cache entries from %s\n", removed, appConfig.Cache.Dir)
	return nil
}

func newFirebaseApp(ctx context.Context, appConfig config.AppConfig) (*firebase.App, error) {
	var options []option.ClientOption
	if appConfig.FirebaseCredFile != "" {
		options = append(options, option.WithCredentialsFile(appConfig.FirebaseCredFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: appConfig.FirebaseProject}, options...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	return app, nil
}

func newHousekeeper(fs afero.Fs, appConfig config.AppConfig, logger *zap.Logger) (*cache.Housekeeper, func(), error) {
	if err := os.MkdirAll(appConfig.Cache.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache state dir: %w", err)
	}
	checkpoint, err := cache.OpenBadgerCheckpoint(appConfig.Cache.StateDir)
	if err != nil {
		return nil, nil, err
	}
	closeCheckpoint := func() {
		if err := checkpoint.Close(); err != nil {
			logger.Warn("close cache checkpoint", zap.Error(err))
		}
	}
	housekeeper, err := cache.NewHousekeeper(cache.Config{
		Fs:         fs,
		Dir:        appConfig.Cache.Dir,
		Checkpoint: checkpoint,
		Interval:   appConfig.Cache.ClearInterval,
		Logger:     logger,
	})
	if err != nil {
		closeCheckpoint()
		return nil, nil, err
	}
	return housekeeper, closeCheckpoint, nil
}

func newCatalogClient(fs afero.Fs, appConfig config.AppConfig, logger *zap.Logger) (*catalog.Client, error) {
	rps := appConfig.Catalog.RequestsPerSecond
	burst := int(rps) * catalogBurstFactor
	if burst < defaultCatalogBurst {
		burst = defaultCatalogBurst
	}
	clientConfig := catalog.Config{
		BaseURL: appConfig.Catalog.BaseURL,
		APIKey:  appConfig.Catalog.APIKey,
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
		Cache:   catalog.NewDiskCache(fs, appConfig.Cache.Dir, appConfig.Catalog.CacheTTL, time.Now),
		Logger:  logger,
	}
	if len(appConfig.Catalog.ExcludedTags) > 0 || len(appConfig.Catalog.ExcludedWords) > 0 {
		policy := catalog.NewContentPolicy(appConfig.Catalog.ExcludedTags, appConfig.Catalog.ExcludedWords)
		clientConfig.Policy = &policy
	}
	return catalog.NewClient(clientConfig)
}
