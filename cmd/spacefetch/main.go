// Package main provides the entry point for the spacefetch archive mirror.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/spacefetch/internal/app"
	"github.com/jobrunner/spacefetch/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spacefetch",
	Short: "spacefetch - space weather archive mirror",
	Long: `spacefetch mirrors public space weather archives into a local
directory tree and keeps them current.

Datasets:
  - Swarm EFI Langmuir probe files (HTTP)
  - ACE real-time solar wind lists (FTP)
  - WDC Kyoto Dst index, final, provisional and real-time (HTTP)
  - NOAA daily sunspot numbers (FTP)
  - UQRG global ionosphere maps resampled to a regional TEC grid (FTP)
  - Any S3 bucket or Azure container prefix

Without a subcommand spacefetch polls every dataset and serves its status API.`,
	SilenceUsage: true,
	RunE:         runPoll,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("spacefetch %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch every dataset periodically and serve the status API",
	RunE:  runPoll,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the configured datasets once and exit",
	RunE:  runOnce,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the configured datasets",
	RunE:  listDatasets,
}

var resampleCmd = &cobra.Command{
	Use:   "resample FILE...",
	Short: "Post-process local IONEX or DSD files into the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE:  resampleFiles,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Post-process raw products dropped into the watch paths",
	RunE:  runWatch,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("archive", "./data", "local archive root")
	rootCmd.PersistentFlags().StringSlice("dataset", nil, "datasets to fetch (default: all)")

	// Server flags
	for _, cmd := range []*cobra.Command{rootCmd, pollCmd} {
		cmd.Flags().String("host", "127.0.0.1", "status server host")
		cmd.Flags().Int("port", 8080, "status server port")
		cmd.Flags().Duration("interval", time.Hour, "poll interval")
		cmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	}

	// Window flags
	runCmd.Flags().String("start", "", "first day to fetch (YYYY-MM-DD)")
	runCmd.Flags().String("end", "", "last day to fetch (YYYY-MM-DD, default: today)")
	runCmd.Flags().Int("trailing-days", 31, "days to fetch when no start is given")
	runCmd.Flags().Bool("assume-sorted", false, "stop scanning listings at the first entry past the window")

	datasetsCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")

	watchCmd.Flags().StringSlice("path", nil, "directories to watch")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("archive.root", rootCmd.PersistentFlags().Lookup("archive"))
	_ = viper.BindPFlag("run.datasets", rootCmd.PersistentFlags().Lookup("dataset"))
	_ = viper.BindPFlag("run.start", runCmd.Flags().Lookup("start"))
	_ = viper.BindPFlag("run.end", runCmd.Flags().Lookup("end"))
	_ = viper.BindPFlag("run.trailing_days", runCmd.Flags().Lookup("trailing-days"))
	_ = viper.BindPFlag("run.assume_sorted", runCmd.Flags().Lookup("assume-sorted"))
	_ = viper.BindPFlag("watch.paths", watchCmd.Flags().Lookup("path"))

	rootCmd.AddCommand(versionCmd, pollCmd, runCmd, datasetsCmd, resampleCmd, watchCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// bindServerFlags binds the server flags of the command being run; root and
// poll share the keys.
func bindServerFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("poll.interval", cmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("server.cors.allowed_origins", cmd.Flags().Lookup("cors"))
}

// setup loads the configuration and wires the application.
func setup(ctx context.Context) (*app.App, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	bindServerFlags(cmd)

	ctx, cancel := signalContext()
	defer cancel()

	application, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	cfg := application.Config

	logger.Info("starting spacefetch",
		"version", version,
		"archive", cfg.Archive.Root,
		"datasets", application.Targets(),
		"interval", cfg.Poll.Interval,
	)

	// Start scheduler and server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("spacefetch stopped")
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	application, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	summaries, runErr := application.RunOnce(ctx)
	printSummaries(cmd.OutOrStdout(), summaries)
	return runErr
}

func listDatasets(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")

	application, _, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	states, err := application.Registry.ListDatasets(cmd.Context())
	if err != nil {
		return err
	}
	return printDatasets(cmd.OutOrStdout(), format, states)
}

func resampleFiles(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	application, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	var errs []error
	for _, path := range args {
		res, err := application.ProcessFile(ctx, path)
		if err != nil {
			logger.Error("post-processing failed", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\twritten=%d kept=%d samples=%d\n",
			path, res.Kind, res.Written, res.Kept, res.Samples)
	}
	return errors.Join(errs...)
}

func runWatch(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	application, logger, err := setup(ctx)
	if err != nil {
		return err
	}

	err = application.Watch(ctx)
	if application.Watcher != nil {
		_ = application.Watcher.Stop()
	}
	if closeErr := application.Close(); closeErr != nil {
		logger.Error("close error", "error", closeErr)
	}
	return err
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	// Logs go to stderr; stdout carries command output.
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
