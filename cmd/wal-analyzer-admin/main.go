package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	pgsource "github.com/SofiaNechaeva/wal-analyzer/connectors/sources/postgres"

	"github.com/SofiaNechaeva/wal-analyzer/internal/config"
	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
	"github.com/SofiaNechaeva/wal-analyzer/internal/report"
	"github.com/SofiaNechaeva/wal-analyzer/internal/session"
	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

const cliVersion = "0.0.0-dev"

var adminFileSystem = afero.NewOsFs()

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	command := newAdminCommand()
	parsedArgs := []string{}
	if len(args) > 1 {
		parsedArgs = args[1:]
	}
	command.SetArgs(parsedArgs)
	return command.Execute()
}

func newAdminCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "wal-analyzer-admin",
		Short:        "wal-analyzer admin CLI",
		Version:      cliVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	command.PersistentFlags().String("config", "", "path to wal-analyzer-admin config file")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initAdminConfig(cmd)
	}

	addLeaf := func(parent *cobra.Command, name, short string, addFlags func(*cobra.Command), runFn func(*cobra.Command, []string) error) {
		cmd := &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE:  runFn,
		}
		if addFlags != nil {
			addFlags(cmd)
		}
		parent.AddCommand(cmd)
	}

	addLeaf(command, "check", "check source database connectivity and slot capacity", addCheckFlags, runCheck)
	addLeaf(command, "tables", "list watchable tables on the source database", addTablesFlags, runTables)

	slotCommand := &cobra.Command{
		Use:   "slot",
		Short: "manage logical replication slots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	addLeaf(slotCommand, "list", "list logical replication slots", addSlotListFlags, slotList)
	addLeaf(slotCommand, "drop", "drop a replication slot", addSlotDropFlags, slotDrop)
	command.AddCommand(slotCommand)

	sessionCommand := &cobra.Command{
		Use:   "session",
		Short: "manage analysis sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	addLeaf(sessionCommand, "list", "list recorded analysis sessions", addSessionListFlags, sessionList)
	addLeaf(sessionCommand, "start", "start an analysis session from a config file", addSessionStartFlags, sessionStart)
	command.AddCommand(sessionCommand)

	command.InitDefaultCompletionCmd()
	return command
}

func initAdminConfig(cmd *cobra.Command) error {
	configFlags := cmd.Flags()
	if cmd.Root() != nil && cmd.Root().PersistentFlags().Lookup("config") != nil {
		configFlags = cmd.Root().PersistentFlags()
	}
	configPath, err := configFlags.GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}

	viper.Reset()
	viper.SetEnvPrefix("WALANALYZER_ADMIN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else if envPath := os.Getenv("WALANALYZER_ADMIN_CONFIG"); envPath != "" {
		viper.SetConfigFile(envPath)
	} else {
		viper.SetConfigName("wal-analyzer-admin")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "wal-analyzer"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func stringFlag(cmd *cobra.Command, name string) (*string, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil, fmt.Errorf("read %s flag: %w", name, err)
	}
	return &value, nil
}

func boolFlag(cmd *cobra.Command, name string) (*bool, error) {
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return nil, fmt.Errorf("read %s flag: %w", name, err)
	}
	return &value, nil
}

// resolveDSN prefers the flag, then the admin config file/env.
func resolveDSN(cmd *cobra.Command) (string, error) {
	dsn, err := stringFlag(cmd, "dsn")
	if err != nil {
		return "", err
	}
	if *dsn != "" {
		return *dsn, nil
	}
	if viper.IsSet("dsn") {
		return viper.GetString("dsn"), nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("postgres dsn is required (--dsn or WALANALYZER_POSTGRES_DSN)")
	}
	return cfg.Postgres.DSN, nil
}

func addDSNFlag(cmd *cobra.Command) {
	cmd.Flags().String("dsn", "", "postgres source dsn")
}

func addJSONOutputFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "output JSON for scripting")
}

func renderTextTable(headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := make(table.Row, len(headers))
	for i, value := range headers {
		header[i] = value
	}
	t.AppendHeader(header)
	for _, rowValues := range rows {
		row := make(table.Row, len(rowValues))
		for i, value := range rowValues {
			row[i] = value
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printJSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func addCheckFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	addJSONOutputFlag(cmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	jsonOutput, err := boolFlag(cmd, "json")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	count, err := pgsource.CheckConnection(ctx, dsn)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(map[string]any{
			"database":   pgsource.DatabaseName(dsn),
			"slot_count": count,
			"slot_limit": pgsource.MaxSlots,
		})
	}
	fmt.Printf("connection ok: database %s, %d of %d replication slots in use\n",
		pgsource.DatabaseName(dsn), count, pgsource.MaxSlots)
	return nil
}

func addTablesFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	addJSONOutputFlag(cmd)
}

func runTables(cmd *cobra.Command, _ []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	jsonOutput, err := boolFlag(cmd, "json")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	tables, err := pgsource.ListTables(ctx, dsn)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(tables)
	}
	rows := make([][]string, 0, len(tables))
	for _, name := range tables {
		rows = append(rows, []string{name})
	}
	renderTextTable([]string{"TABLE"}, rows)
	return nil
}

func addSlotListFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	addJSONOutputFlag(cmd)
}

func slotList(cmd *cobra.Command, _ []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	jsonOutput, err := boolFlag(cmd, "json")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	slots, err := pgsource.ListSlots(ctx, dsn)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(slots)
	}
	rows := make([][]string, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, []string{
			slot.SlotName,
			slot.Plugin,
			slot.Database,
			fmt.Sprintf("%t", slot.Active),
			slot.RestartLSN.String(),
			slot.ConfirmedLSN.String(),
		})
	}
	renderTextTable([]string{"SLOT", "PLUGIN", "DATABASE", "ACTIVE", "RESTART LSN", "CONFIRMED LSN"}, rows)
	return nil
}

func addSlotDropFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	cmd.Flags().String("slot", "", "slot name to drop")
}

func slotDrop(cmd *cobra.Command, _ []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	slot, err := stringFlag(cmd, "slot")
	if err != nil {
		return err
	}
	if *slot == "" {
		return errors.New("slot is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	handle := pgsource.NewSlotHandle(dsn, *slot, event.PluginWal2JSON)
	return handle.Drop(ctx)
}

func addSessionListFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	addJSONOutputFlag(cmd)
	cmd.Flags().String("metastore", "", "path to the metadata database")
}

func openMetastore(ctx context.Context, cmd *cobra.Command) (*metastore.Store, error) {
	path, err := stringFlag(cmd, "metastore")
	if err != nil {
		return nil, err
	}
	if *path == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		*path = cfg.Metastore.Path
	}
	return metastore.Open(ctx, *path)
}

func sessionList(cmd *cobra.Command, _ []string) error {
	jsonOutput, err := boolFlag(cmd, "json")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := openMetastore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	// Reconciliation against live slots needs the source database; without a
	// DSN the listing still works, records just keep their stored result.
	liveSlots := map[string]struct{}{}
	if dsn, err := resolveDSN(cmd); err == nil {
		if names, err := pgsource.LiveSlotNames(ctx, dsn); err == nil {
			liveSlots = names
		} else {
			log.Printf("live slot lookup failed, listing stored results: %v", err)
		}
	}

	sessions, err := store.ListSessions(ctx, liveSlots)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(sessions)
	}
	rows := make([][]string, 0, len(sessions))
	for _, rec := range sessions {
		rows = append(rows, []string{
			rec.SlotName,
			rec.DBName,
			string(rec.AnalysisType),
			string(rec.Plugin),
			rec.CreatedAt.Format(time.RFC3339),
			rec.Result,
		})
	}
	renderTextTable([]string{"SLOT", "DATABASE", "TYPE", "PLUGIN", "CREATED", "RESULT"}, rows)
	return nil
}

func addSessionStartFlags(cmd *cobra.Command) {
	addDSNFlag(cmd)
	cmd.Flags().String("file", "", "slot config YAML file")
	cmd.Flags().String("history-ids", "", "semicolon-separated identifiers, overrides the config file list")
	cmd.Flags().String("metastore", "", "path to the metadata database")
	cmd.Flags().String("report-dir", ".", "directory for rendered reports")
	cmd.Flags().Duration("interval", 30*time.Second, "poll interval")
}

func sessionStart(cmd *cobra.Command, _ []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	file, err := stringFlag(cmd, "file")
	if err != nil {
		return err
	}
	if *file == "" {
		return errors.New("file is required")
	}
	reportDir, err := stringFlag(cmd, "report-dir")
	if err != nil {
		return err
	}
	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return fmt.Errorf("read interval flag: %w", err)
	}

	raw, err := afero.ReadFile(adminFileSystem, *file)
	if err != nil {
		return fmt.Errorf("read slot config %s: %w", *file, err)
	}
	var slotCfg event.SlotConfig
	if err := yaml.Unmarshal(raw, &slotCfg); err != nil {
		return fmt.Errorf("parse slot config %s: %w", *file, err)
	}
	if ids, err := stringFlag(cmd, "history-ids"); err != nil {
		return err
	} else if *ids != "" {
		slotCfg.HistoryIDs = event.ParseIDList(*ids)
	}

	ctx := context.Background()
	store, err := openMetastore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	orch := &session.Orchestrator{
		Store:    store,
		Renderer: &report.FileRenderer{Fs: adminFileSystem, Dir: *reportDir},
		Fs:       adminFileSystem,
		Interval: interval,
		WorkDir:  *reportDir,
		Tracer:   otel.Tracer("wal-analyzer-admin"),
	}

	sess, err := orch.Start(ctx, dsn, slotCfg)
	if err != nil {
		return err
	}
	fmt.Printf("session %s started on slot %s\n", sess.ID, sess.SlotName)

	// The poll loop lives in this process; leaving before Done would abandon
	// the slot. Wait for the run to finish and show the recorded result.
	<-sess.Done

	liveSlots, err := pgsource.LiveSlotNames(ctx, dsn)
	if err != nil {
		liveSlots = map[string]struct{}{}
	}
	sessions, err := store.ListSessions(ctx, liveSlots)
	if err != nil {
		return err
	}
	for _, rec := range sessions {
		if rec.SlotName == sess.SlotName {
			fmt.Printf("result: %s\n", rec.Result)
			break
		}
	}
	return nil
}
