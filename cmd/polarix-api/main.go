package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/14vimal2/polarix/internal/config"
	"github.com/14vimal2/polarix/internal/database"
	"github.com/14vimal2/polarix/internal/logging"
	"github.com/14vimal2/polarix/internal/observability"
	"github.com/14vimal2/polarix/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "polarix-api",
		Short: "Account directory reconciling the identity store with the local store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("identity-driver", defaults.GetString("identity.driver"), "Identity store driver (keycloak, static)")
	cmd.PersistentFlags().String("identity-fixture", defaults.GetString("identity.fixture_path"), "JSON fixture for the static identity driver")
	cmd.PersistentFlags().String("keycloak-url", defaults.GetString("keycloak.base_url"), "Keycloak base URL")
	cmd.PersistentFlags().String("keycloak-realm", defaults.GetString("keycloak.realm"), "Keycloak realm")
	cmd.PersistentFlags().String("auth-mode", defaults.GetString("auth.mode"), "Bearer token verification (oidc, hs256)")
	cmd.PersistentFlags().String("admin-role", defaults.GetString("auth.admin_role"), "Realm role required for mutations")
	cmd.PersistentFlags().String("signing-secret", "", "HS256 signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "identity.driver", "identity-driver")
	bindFlag(cmd, "identity.fixture_path", "identity-fixture")
	bindFlag(cmd, "keycloak.base_url", "keycloak-url")
	bindFlag(cmd, "keycloak.realm", "keycloak-realm")
	bindFlag(cmd, "auth.mode", "auth-mode")
	bindFlag(cmd, "auth.admin_role", "admin-role")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	directory, err := newDirectory(appConfig, logger)
	if err != nil {
		return err
	}
	verifier, err := newVerifier(ctx, appConfig)
	if err != nil {
		return err
	}

	store, err := accounts.NewGormStore(db)
	if err != nil {
		return err
	}
	journal, err := accounts.NewGormJournal(db)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	events := server.NewEventDispatcher()

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Store:           store,
		Directory:       directory,
		Journal:         journal,
		Publisher:       events,
		Metrics:         metrics,
		IDProvider:      accounts.NewUUIDProvider(),
		Hasher:          accounts.BcryptHasher,
		Logger:          logger,
		Clock:           time.Now,
		DefaultPageSize: appConfig.SearchDefaultPageSize,
		MaxPageSize:     appConfig.SearchMaxPageSize,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:       accountService,
		Verifier:       verifier,
		Events:         events,
		Sagas:          journal,
		Metrics:        metrics,
		AdminRole:      appConfig.AuthAdminRole,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("identity_driver", appConfig.IdentityDriver),
			zap.String("auth_mode", appConfig.AuthMode))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
