package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/SofiaNechaeva/wal-analyzer/internal/config"
	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
	"github.com/SofiaNechaeva/wal-analyzer/internal/report"
	"github.com/SofiaNechaeva/wal-analyzer/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	command := newWorkerCommand()
	return command.Execute()
}

func newWorkerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "wal-analyzer-worker",
		Short:        "Run one analysis session for a saved slot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd)
		},
	}
	command.PersistentFlags().String("config", "", "path to config file")
	command.Flags().String("slot", "", "slot name of the saved session to run")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initWorkerConfig(cmd)
	}
	command.InitDefaultCompletionCmd()
	return command
}

func initWorkerConfig(cmd *cobra.Command) error {
	configFlags := cmd.Flags()
	if cmd.Root() != nil && cmd.Root().PersistentFlags().Lookup("config") != nil {
		configFlags = cmd.Root().PersistentFlags()
	}
	configPath, err := configFlags.GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}

	viper.Reset()
	viper.SetEnvPrefix("WALANALYZER_WORKER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else if envPath := os.Getenv("WALANALYZER_WORKER_CONFIG"); envPath != "" {
		viper.SetConfigFile(envPath)
	} else {
		viper.SetConfigName("wal-analyzer-worker")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func resolveStringFlag(cmd *cobra.Command, key string) string {
	value, err := cmd.Flags().GetString(key)
	if err != nil {
		return ""
	}
	if f := cmd.Flags().Lookup(key); f == nil || (!f.Changed && viper.IsSet(key)) {
		return viper.GetString(key)
	}
	return value
}

func runWorker(cmd *cobra.Command) error {
	configPath := resolveStringFlag(cmd, "config")
	slotName := resolveStringFlag(cmd, "slot")
	if slotName == "" {
		return errors.New("slot is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := metastore.Open(ctx, cfg.Metastore.Path)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer store.Close()

	dsn, slotCfg, err := store.LoadConfig(ctx, slotName)
	if err != nil {
		return fmt.Errorf("load session config for %s: %w", slotName, err)
	}

	fs := afero.NewOsFs()
	orch := &session.Orchestrator{
		Store:    store,
		Renderer: &report.FileRenderer{Fs: fs, Dir: cfg.Report.Dir},
		Fs:       fs,
		Interval: cfg.Poll.Interval,
		WorkDir:  cfg.Report.Dir,
		Tracer:   otel.Tracer(cfg.Telemetry.ServiceName),
	}

	log.Printf("running %s analysis on slot %s", slotCfg.AnalysisType, slotName)
	return orch.RunSession(ctx, dsn, slotCfg)
}
