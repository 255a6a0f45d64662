// Command clinic-etl synchronizes the operational OpenDental database
// into the analytics warehouse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/engine"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/logger"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/observability"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/registry"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/source"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/target"
)

var version = "0.3.0"

// syncFlags holds the flags shared by the sync subcommands
type syncFlags struct {
	configFile string
	tables     []string
	importance []string
	dryRun     bool
	reportPath string
	logLevel   string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	viper.SetEnvPrefix("CLINIC_ETL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	root := &cobra.Command{
		Use:   "clinic-etl",
		Short: "Watermark-driven sync from OpenDental into the analytics warehouse",
		Long: `clinic-etl copies tables from the operational OpenDental database into
the analytics PostgreSQL warehouse. Tables sync either as full refreshes or
incrementally from their last recorded watermark; the source is only ever
touched through a read-only guard.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clinic-etl v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	flags := &syncFlags{}

	fullCmd := &cobra.Command{
		Use:   "full-sync",
		Short: "Fully refresh the selected tables",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSync(engine.ModeFull, flags))
		},
	}
	incrementalCmd := &cobra.Command{
		Use:   "incremental-sync",
		Short: "Sync rows changed since each table's last watermark",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSync(engine.ModeIncremental, flags))
		},
	}

	for _, cmd := range []*cobra.Command{fullCmd, incrementalCmd} {
		cmd.Flags().StringVarP(&flags.configFile, "config", "c", "configs/etl.yml", "Path to engine configuration file")
		cmd.Flags().StringSliceVar(&flags.tables, "tables", nil, "Only sync these tables")
		cmd.Flags().StringSliceVar(&flags.importance, "importance", nil, "Only sync tables of these importance classes (critical, important, audit, reference, standard)")
		cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Load into the isolated test schema instead of the real one")
		cmd.Flags().StringVar(&flags.reportPath, "report", "", "Write the run report as JSON to this file")
		cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
		_ = viper.BindPFlags(cmd.Flags())
		root.AddCommand(cmd)
	}

	listCmd := &cobra.Command{
		Use:   "list-tables",
		Short: "Show the configured table registry",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(listTables(flags.configFile))
		},
	}
	listCmd.Flags().StringVarP(&flags.configFile, "config", "c", "configs/etl.yml", "Path to engine configuration file")
	root.AddCommand(listCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.ExitEnvironment)
	}
}

// loadConfig builds the engine configuration from defaults, file, and flags
func loadConfig(flags *syncFlags) (*config.EngineConfig, error) {
	cfg := config.NewEngineConfig()
	if err := config.Load(flags.configFile, cfg); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to load engine config")
	}
	if flags.dryRun {
		cfg.Target.DryRun = true
	}
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid engine config")
	}
	return cfg, nil
}

// runSync executes one sync run and returns the process exit code.
// Environment validation failures (bad config, guard rejection, target
// unreachable) exit before any table is attempted.
func runSync(mode engine.Mode, flags *syncFlags) int {
	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitEnvironment
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: "json",
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitEnvironment
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := observability.Init("clinic-etl", version, cfg.Observability.EnableTracing); err != nil {
		log.Error("failed to initialize tracing", zap.Error(err))
		return engine.ExitEnvironment
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	importance, err := parseImportance(flags.importance)
	if err != nil {
		log.Error("invalid importance filter", zap.Error(err))
		return engine.ExitEnvironment
	}

	// Environment validation: registry, source guard, target, control
	// table. Nothing is extracted until all of it passes.
	reg, err := registry.Load(cfg.RegistryPath, cfg)
	if err != nil {
		log.Error("failed to load table registry", zap.Error(err))
		return engine.ExitEnvironment
	}

	guard := source.NewGuard(cfg, log)
	if err := guard.Open(ctx); err != nil {
		log.Error("source guard rejected the connection", zap.Error(err))
		return engine.ExitEnvironment
	}
	defer func() { _ = guard.Close() }()

	pool, err := target.Connect(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to target", zap.Error(err))
		return engine.ExitEnvironment
	}
	defer pool.Close()

	watermarks := target.NewStore(pool, cfg, log)
	if err := watermarks.EnsureSchema(ctx); err != nil {
		log.Error("failed to prepare sync status table", zap.Error(err))
		return engine.ExitEnvironment
	}

	var collector *metrics.Collector
	if cfg.Observability.EnableMetrics {
		collector = metrics.NewDefaultCollector()
	}

	orchestrator := engine.NewOrchestrator(cfg, reg,
		source.NewExtractor(guard, log),
		target.NewLoader(pool, cfg, log),
		watermarks, collector, log)

	report, err := orchestrator.Run(ctx, engine.Options{
		Mode:       mode,
		Tables:     flags.tables,
		Importance: importance,
	})
	if err != nil {
		log.Error("sync run aborted", zap.Error(err))
		return engine.ExitEnvironment
	}

	if flags.reportPath != "" {
		if data, jsonErr := report.JSON(); jsonErr == nil {
			if writeErr := os.WriteFile(flags.reportPath, data, 0644); writeErr != nil { //nolint:gosec
				log.Warn("failed to write run report", zap.Error(writeErr))
			}
		}
	}

	_ = observability.Shutdown(context.Background())
	printSummary(report)
	return report.ExitCode()
}

// listTables prints the registry grouped by importance
func listTables(configFile string) int {
	cfg := config.NewEngineConfig()
	if err := config.Load(configFile, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitEnvironment
	}
	reg, err := registry.Load(cfg.RegistryPath, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitEnvironment
	}

	fmt.Printf("Table registry v%d (%d tables)\n\n", reg.Version(), reg.Len())
	for _, tc := range registry.PriorityOrder(reg.All()) {
		wm := tc.WatermarkColumn
		if wm == "" {
			wm = "(discovered)"
		}
		fmt.Printf("  %-24s %-10s %-12s watermark=%s batch=%d\n",
			tc.Name, tc.Importance, tc.Strategy, wm, tc.BatchSize)
	}
	return engine.ExitOK
}

func parseImportance(values []string) ([]registry.Importance, error) {
	var out []registry.Importance
	for _, v := range values {
		imp := registry.Importance(strings.ToLower(strings.TrimSpace(v)))
		if !imp.Valid() {
			return nil, fmt.Errorf("unknown importance class %q", v)
		}
		out = append(out, imp)
	}
	return out, nil
}

func printSummary(report *engine.RunReport) {
	fmt.Printf("\nSync run (%s): %d succeeded, %d failed, %d rows, %s\n",
		report.Mode, report.Succeeded(), len(report.Failed()), report.TotalRows(),
		report.Duration().Round(time.Millisecond))
	for _, name := range report.Failed() {
		fmt.Printf("  FAILED %s: %s\n", name, report.Tables[name].Error)
	}
}
