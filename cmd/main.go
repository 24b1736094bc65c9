package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/database"
	"hetsched/internal/logging"
	"hetsched/internal/scheduler"
	"hetsched/internal/sim"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

type runOptions struct {
	configFile string
	scheduler  string
	seed       int64
	seedSet    bool
	noSpool    bool
	noDB       bool
}

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

// normalizeSchedulerImplementation accepts hyphenated spellings such as "big-small".
func normalizeSchedulerImplementation(name string) (string, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, impl := range scheduler.Implementations {
		if impl == normalized {
			return impl, nil
		}
	}
	return "", fmt.Errorf("unknown scheduler implementation %q (available: %s)", name, strings.Join(scheduler.Implementations, ", "))
}

func main() {
	// Initialize logging
	logger := logging.GetLogger()

	loadEnvironment()

	var opts runOptions
	var logLevel string
	var monitorInterval, monitorDuration time.Duration
	var monitorSpool string

	rootCmd := &cobra.Command{
		Use:   "hetsched",
		Short: "Big/small core thread scheduler",
		Long:  "Simulates and compares thread scheduling policies on machines with big and small cores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				if err := logging.SetSchedulerLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a simulation configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(opts.configFile)
		},
	}

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the same trace under every scheduler implementation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return compareSchedulers(cmd.Context(), opts.configFile)
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample per-core IPC of the host with perf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return monitorHost(cmd.Context(), monitorInterval, monitorDuration, monitorSpool)
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary <artifact>...",
		Short: "Summarize spool artifacts written by run or monitor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if _, err := summarizeSpool(path); err != nil {
					return err
				}
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	runCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to simulation configuration file")
	runCmd.Flags().StringVar(&opts.scheduler, "scheduler", "", "Override the scheduler implementation")
	runCmd.Flags().Int64Var(&opts.seed, "seed", config.DefaultSeed, "Override the scheduler seed")
	runCmd.Flags().BoolVar(&opts.noSpool, "no-spool", false, "Do not write a spool artifact")
	runCmd.Flags().BoolVar(&opts.noDB, "no-db", false, "Do not export to InfluxDB even if configured")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to simulation configuration file")
	validateCmd.MarkFlagRequired("config")

	compareCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to simulation configuration file")
	compareCmd.MarkFlagRequired("config")

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Sampling interval")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
	monitorCmd.Flags().StringVar(&monitorSpool, "spool-dir", "", "Write the samples to a spool artifact in this directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	if impl := cfg.Simulation.Scheduler.Implementation; impl != "" {
		if _, err := normalizeSchedulerImplementation(impl); err != nil {
			logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	checksum, err := config.TraceChecksum(cfg)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"config_file":    configFile,
		"threads":        len(cfg.Threads),
		"trace_checksum": checksum,
	}).Info("Configuration is valid")
	return nil
}

// loadSimulationConfig applies command line overrides on top of the file.
func loadSimulationConfig(opts runOptions) (*config.SimulationConfig, string, error) {
	cfg, content, err := config.LoadConfigWithContent(opts.configFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	impl := cfg.Simulation.Scheduler.Implementation
	if opts.scheduler != "" {
		impl = opts.scheduler
	}
	if impl != "" {
		normalized, err := normalizeSchedulerImplementation(impl)
		if err != nil {
			return nil, "", err
		}
		cfg.Simulation.Scheduler.Implementation = normalized
	}
	if opts.seedSet {
		seed := opts.seed
		cfg.Simulation.Scheduler.Seed = &seed
	}
	return cfg, content, nil
}

func applyConfigLogLevels(cfg *config.SimulationConfig) {
	logger := logging.GetLogger()
	level := cfg.Simulation.LogLevel
	if level == "" {
		return
	}
	if err := logging.SetLogLevel(level); err != nil {
		logger.WithField("log_level", level).WithError(err).Warn("Invalid log level in config, using INFO")
		logging.SetLogLevel("info")
		return
	}
	logging.SetSchedulerLogLevel(level)
	logger.WithField("log_level", level).Debug("Log level set from configuration")
}

func runSimulation(ctx context.Context, opts runOptions) error {
	logger := logging.GetLogger()

	cfg, content, err := loadSimulationConfig(opts)
	if err != nil {
		logger.WithField("config_file", opts.configFile).WithError(err).Error("Failed to load configuration")
		return err
	}
	applyConfigLogLevels(cfg)

	simulation, err := sim.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up simulation: %w", err)
	}

	var dbClient *database.InfluxDBClient
	runID := 0
	if cfg.Simulation.Data.DB != nil && !opts.noDB {
		dbClient, err = database.NewInfluxDBClient(*cfg.Simulation.Data.DB)
		if err != nil {
			return fmt.Errorf("failed to create database client: %w", err)
		}
		defer dbClient.Close()

		lastID, err := dbClient.GetLastRunID(ctx)
		if err != nil {
			return fmt.Errorf("failed to get last run ID: %w", err)
		}
		runID = lastID + 1
	}

	startTime := time.Now()
	result, err := simulation.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Simulation failed")
		return fmt.Errorf("simulation failed: %w", err)
	}
	endTime := time.Now()

	logSummary(result)

	metadata := database.CollectRunMetadata(runID, cfg, content, result, startTime, endTime, Version)

	if !opts.noSpool {
		artifact := database.BuildSpoolArtifact(runID, content, result, metadata, startTime, endTime)
		path, err := database.WriteSpoolArtifact(spoolDir(cfg), artifact)
		if err != nil {
			logger.WithError(err).Warn("Failed to write spool artifact")
		} else {
			logger.WithField("path", path).Info("Spool artifact written")
		}
	}

	if dbClient != nil {
		logger.WithField("run_id", runID).Info("Writing data to database")
		if err := dbClient.WriteResult(ctx, runID, result, startTime); err != nil {
			return fmt.Errorf("failed to export data: %w", err)
		}
		if err := dbClient.WriteMetadata(ctx, metadata); err != nil {
			return fmt.Errorf("failed to export metadata: %w", err)
		}
	}

	return nil
}

func spoolDir(cfg *config.SimulationConfig) string {
	if dir := strings.TrimSpace(cfg.Simulation.Data.SpoolDir); dir != "" {
		return dir
	}
	return database.DefaultSpoolDir()
}
