package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
	"github.com/PolarisBioLab/stemtrack/internal/catalog"
	"github.com/PolarisBioLab/stemtrack/internal/config"
	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/database"
	"github.com/PolarisBioLab/stemtrack/internal/logging"
	"github.com/PolarisBioLab/stemtrack/internal/metrics"
	"github.com/PolarisBioLab/stemtrack/internal/operators"
	"github.com/PolarisBioLab/stemtrack/internal/schedule"
	"github.com/PolarisBioLab/stemtrack/internal/server"
	"github.com/PolarisBioLab/stemtrack/internal/templates"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stemtrack-api",
		Short: "StemTrack iPSC culture log backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("blob-driver", defaults.GetString("blob.driver"), "Attachment store driver (fs, s3, memory)")
	cmd.PersistentFlags().String("blob-fs-root", defaults.GetString("blob.fs_root"), "Attachment directory for the fs driver")
	cmd.PersistentFlags().String("s3-bucket", defaults.GetString("blob.s3_bucket"), "Attachment bucket for the s3 driver")
	cmd.PersistentFlags().String("s3-region", defaults.GetString("blob.s3_region"), "Attachment bucket region")
	cmd.PersistentFlags().String("backup-dir", defaults.GetString("backup.dir"), "Directory for snapshot backups")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "blob.driver", "blob-driver")
	bindFlag(cmd, "blob.fs_root", "blob-fs-root")
	bindFlag(cmd, "blob.s3_bucket", "s3-bucket")
	bindFlag(cmd, "blob.s3_region", "s3-region")
	bindFlag(cmd, "backup.dir", "backup-dir")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	blobStore, err := blob.Open(ctx, blob.Config{
		Driver:      appConfig.BlobDriver,
		FSRoot:      appConfig.BlobRoot,
		S3Bucket:    appConfig.S3Bucket,
		S3Region:    appConfig.S3Region,
		S3Endpoint:  appConfig.S3Endpoint,
		S3PathStyle: appConfig.S3PathStyle,
	})
	if err != nil {
		return err
	}

	collectors := metrics.NewCollectors(nil)

	scheduleService, err := schedule.NewService(schedule.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	cultureService, err := culture.NewService(culture.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: culture.NewUUIDProvider(),
		Logger:     logger,
		Duty:       scheduleService,
		Blobs:      blobStore,
		Metrics:    collectors,
	})
	if err != nil {
		return err
	}

	operatorsService, err := operators.NewService(operators.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	templatesService, err := templates.NewService(templates.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Culture:      cultureService,
		Operators:    operatorsService,
		Catalogs:     catalogService,
		Schedule:     scheduleService,
		Templates:    templatesService,
		Blobs:        blobStore,
		Metrics:      collectors,
		Dispatcher:   server.NewChangeDispatcher(),
		Logger:       logger,
		DatabasePath: appConfig.DatabasePath,
		BackupDir:    appConfig.BackupDir,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
