// Command fpauthd is the fingerprint authentication coordination daemon: it
// selects the sensor driver, serves the coordinator over D-Bus, and runs the
// optional admin diagnostics surface and audit log cleanup loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fpauthd/internal/admin"
	"fpauthd/internal/audit"
	"fpauthd/internal/config"
	"fpauthd/internal/coordinator"
	"fpauthd/internal/driver"
	"fpauthd/internal/logging"
	"fpauthd/internal/sensor"
	"fpauthd/internal/service"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "fpauthd",
	Short: "Fingerprint authentication coordination daemon",
	Long: `fpauthd arbitrates access to a single fingerprint sensor: it queues
enroll and match operations from multiple local callers, exposes them over
D-Bus, and keeps a durable audit trail of every operation's outcome.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./fpauthd.yaml or /etc/fpauthd/fpauthd.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Initialize(cfg.LogLevel)
	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		logging.LogServiceError(logger, err, "fpauthd", "setup_file_logging", true)
	}
	serviceLog := logging.NewServiceLogger(logger, "fpauthd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	drv, err := selectDriver(ctx, cfg, logger)
	if err != nil {
		logging.LogHardwareError(logger, err, "cros_fp", "select_driver", false)
		return fmt.Errorf("select driver: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditDatabasePath)
	if err != nil {
		logging.LogStorageError(logger, err, "open_audit_log", false)
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()
	go auditLog.RunCleanupLoop(ctx, cfg.AuditCleanupInterval(), cfg.AuditRetention(), func(err error) {
		logging.LogStorageError(logger, err, "audit_cleanup", true)
	})

	coord := coordinator.New(drv, serviceLog, auditLog)

	svc := service.New(coord, drv, serviceLog)
	conn, err := svc.Bind(cfg.BusName, cfg.BusPath)
	if err != nil {
		logging.LogServiceError(logger, err, "fpauthd", "bind_dbus", false)
		return fmt.Errorf("bind dbus: %w", err)
	}
	defer conn.Close()
	serviceLog.WithField("bus_name", cfg.BusName).Info("bound D-Bus service")

	if cfg.AdminListenAddr != "" {
		adminSrv := admin.New(drv, auditLog, logging.NewServiceLogger(logger, "admin"), cfg.AdminAuthToken)
		go func() {
			if err := adminSrv.Start(ctx, cfg.AdminListenAddr); err != nil {
				logging.LogServiceError(logger, err, "admin", "serve", true)
			}
		}()
		serviceLog.WithField("addr", cfg.AdminListenAddr).Info("admin diagnostics surface listening")
	}

	<-ctx.Done()
	serviceLog.Info("shutting down")
	return nil
}

func selectDriver(ctx context.Context, cfg *config.Config, logger interface {
	Info(args ...interface{})
}) (driver.Driver, error) {
	seed, err := cfg.Seed()
	if err != nil {
		return nil, err
	}
	fpContext, err := cfg.Context()
	if err != nil {
		return nil, err
	}

	factory := sensor.NewFactory(cfg.DevicePath, seed, fpContext, slog.Default())
	registry := driver.NewRegistry(factory)

	drv, _, err := registry.Select(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("driver selected")
	return drv, nil
}
