// Package main is the refinedb command line tool. It uses the cobra
// package for CLI plumbing, the same way the teacher's own command wires
// one rootCmd with a handful of RunE-backed subcommands.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"refinedb/codec"
	"refinedb/config"
	"refinedb/errs"
	"refinedb/kv"
	"refinedb/kv/memkv"
	"refinedb/kv/mysqlkv"
	"refinedb/lang"
	"refinedb/logging"
	"refinedb/plan"
	"refinedb/retry"
	"refinedb/schema"
	"refinedb/schema/check"
	"refinedb/telemetry"
	"refinedb/vm"
)

type checkFlags struct {
	configFile string
}

type planFlags struct {
	configFile string
	outFile    string
	pretty     bool
}

type migrateFlags struct {
	configFile string
	planFile   string
	outFile    string
}

type runFlags struct {
	configFile string
	planFile   string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "refinedb",
		Short: "RefineDB schema compiler and assembly VM runner",
	}

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	flags := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check <source.rdb>",
		Short: "Parse and type-check a schema/assembly source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCheck(args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a refinedb.toml config file")
	return cmd
}

func runCheck(sourcePath string, flags *checkFlags) error {
	log, err := newLogger(flags.configFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	_, checkedSchema, _, err := loadAndCheck(sourcePath)
	if err != nil {
		log.Error("check failed", zap.Error(err))
		return err
	}
	fmt.Printf("ok: %d export(s), %d table definition(s)\n", len(checkedSchema.Exports), len(checkedSchema.Defs))
	return nil
}

func planCmd() *cobra.Command {
	flags := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan <source.rdb>",
		Short: "Build the storage plan for a schema and print or save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPlan(args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a refinedb.toml config file")
	cmd.Flags().StringVarP(&flags.outFile, "output", "o", "", "Write the plan as TOML to this file instead of stdout")
	cmd.Flags().BoolVarP(&flags.pretty, "pretty", "p", false, "Print a human-readable dump instead of TOML")
	return cmd
}

func runPlan(sourcePath string, flags *planFlags) error {
	log, err := newLogger(flags.configFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	_, checkedSchema, _, err := loadAndCheck(sourcePath)
	if err != nil {
		log.Error("plan failed: check", zap.Error(err))
		return err
	}
	root, err := plan.NewBuilder(nil).Build(checkedSchema)
	if err != nil {
		log.Error("plan failed: build", zap.Error(err))
		return err
	}

	var out []byte
	if flags.pretty {
		out = []byte(plan.Pretty(root))
	} else {
		out, err = plan.MarshalTOML(root)
		if err != nil {
			return err
		}
	}
	return writeOutput(out, flags.outFile)
}

func migrateCmd() *cobra.Command {
	flags := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate <new-source.rdb>",
		Short: "Migrate an existing storage plan to a new schema, preserving keys",
		Long: `Migrate loads a previously built storage plan (--plan) and a new
schema/assembly source file, and produces the updated plan that keeps every
surviving field's key stable while assigning fresh keys to additions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runMigrate(args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a refinedb.toml config file")
	cmd.Flags().StringVar(&flags.planFile, "plan", "", "Path to the existing plan TOML file (required)")
	cmd.Flags().StringVarP(&flags.outFile, "output", "o", "", "Write the migrated plan as TOML to this file instead of stdout")
	return cmd
}

func runMigrate(sourcePath string, flags *migrateFlags) error {
	log, err := newLogger(flags.configFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if flags.planFile == "" {
		return errs.New(errs.BackendError, "migrate requires --plan <old-plan.toml>")
	}
	oldData, err := os.ReadFile(flags.planFile)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "reading plan file %s", flags.planFile)
	}
	oldRoot, err := plan.UnmarshalTOML(oldData)
	if err != nil {
		return errs.Wrap(errs.ParseError, err, "parsing plan file %s", flags.planFile)
	}

	_, checkedSchema, _, err := loadAndCheck(sourcePath)
	if err != nil {
		log.Error("migrate failed: check", zap.Error(err))
		return err
	}

	result, err := plan.Migrate(oldRoot, checkedSchema, nil)
	if err != nil {
		log.Error("migrate failed", zap.Error(err))
		return err
	}
	for _, note := range result.RemovedNotes {
		log.Warn("migration dropped a field", zap.String("note", note))
	}

	out, err := plan.MarshalTOML(result.Root)
	if err != nil {
		return err
	}
	return writeOutput(out, flags.outFile)
}

func runCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <source.rdb> <graph> [args...]",
		Short: "Execute one exported graph against a KV backend",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runGraph(args[0], args[1], args[2:], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a refinedb.toml config file")
	cmd.Flags().StringVar(&flags.planFile, "plan", "", "Path to an existing plan TOML file; built fresh from the schema if omitted")
	return cmd
}

func runGraph(sourcePath, graphName string, rawArgs []string, flags *runFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	meters, err := telemetry.New()
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer func() { _ = meters.Shutdown(ctx) }()

	program, checkedSchema, _, err := loadAndCheck(sourcePath)
	if err != nil {
		log.Error("run failed: check", zap.Error(err))
		return err
	}
	g := program.GraphByName(graphName)
	if g == nil {
		return errs.New(errs.TypeError, "unknown graph %q", graphName)
	}
	if len(rawArgs) != len(g.Params) {
		return errs.New(errs.TypeError, "graph %q takes %d argument(s), got %d", graphName, len(g.Params), len(rawArgs))
	}
	callArgs := make([]*codec.Value, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := parseArg(raw, g.Params[i].Type)
		if err != nil {
			return err
		}
		callArgs[i] = v
	}

	var root *plan.Root
	if flags.planFile != "" {
		data, err := os.ReadFile(flags.planFile)
		if err != nil {
			return errs.Wrap(errs.BackendError, err, "reading plan file %s", flags.planFile)
		}
		root, err = plan.UnmarshalTOML(data)
		if err != nil {
			return errs.Wrap(errs.ParseError, err, "parsing plan file %s", flags.planFile)
		}
	} else {
		root, err = plan.NewBuilder(nil).Build(checkedSchema)
		if err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	var result *codec.Value
	execErr := retry.Do(ctx, retry.DefaultOptions(), func(ctx context.Context) error {
		txn, err := store.Begin(ctx)
		if err != nil {
			return err
		}
		ev := vm.NewEvaluator(program, checkedSchema, root, txn)
		meters.GraphExecutions.Add(ctx, 1)
		out, runErr := ev.Run(ctx, graphName, callArgs)
		if runErr != nil {
			_ = txn.Abort(ctx)
			if errs.Is(runErr, errs.UserThrow) {
				meters.GraphThrows.Add(ctx, 1)
			}
			return runErr
		}
		status, commitErr := txn.Commit(ctx)
		if commitErr != nil {
			meters.TxnConflicts.Add(ctx, 1)
			return commitErr
		}
		if status != kv.CommitOK {
			meters.TxnConflicts.Add(ctx, 1)
			return kv.ErrConflict
		}
		meters.TxnCommits.Add(ctx, 1)
		result = out
		return nil
	})
	if execErr != nil {
		log.Error("run failed: execute", zap.Error(execErr))
		return execErr
	}

	if result != nil {
		fmt.Println(result.String_())
	}
	return nil
}

// loadAndCheck parses sourcePath and runs both the schema checker and the
// VM's static checker, returning the program, the checked schema and the
// raw (unchecked) schema; callers needing only the checked schema ignore
// the first and third results.
func loadAndCheck(sourcePath string) (*vm.Program, *schema.Schema, *schema.Schema, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.BackendError, err, "reading source file %s", sourcePath)
	}
	rawSchema, program, err := lang.ParseProgram(sourcePath, string(data))
	if err != nil {
		return nil, nil, nil, err
	}
	checkedSchema, err := check.Check(rawSchema)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := vm.NewChecker(program, checkedSchema).Check(); err != nil {
		return nil, nil, nil, err
	}
	return program, checkedSchema, rawSchema, nil
}

func openStore(ctx context.Context, cfg config.Config) (kv.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendMySQL:
		store, err := mysqlkv.Open(ctx, mysqlkv.Options{DSN: cfg.MySQL.DSN, Table: cfg.MySQL.Table})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store := memkv.New()
		return store, store.Close, nil
	}
}

func parseArg(raw string, t *schema.Type) (*codec.Value, error) {
	if t.Kind == schema.KindOptional {
		if raw == "null" {
			return codec.Null(t.Elem.String()), nil
		}
		return parseArg(raw, t.Elem)
	}
	if t.Kind != schema.KindPrimitive {
		return nil, errs.New(errs.TypeError, "argument type %s is not a primitive CLI argument can satisfy", t)
	}
	switch t.Primitive {
	case schema.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidLiteral, err, "parsing %q as int64", raw)
		}
		return codec.Int64(n), nil
	case schema.Double:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidLiteral, err, "parsing %q as double", raw)
		}
		return codec.Double(f), nil
	case schema.String:
		return codec.String(raw), nil
	case schema.Bytes:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidLiteral, err, "parsing %q as hex bytes", raw)
		}
		return codec.Bytes(b), nil
	case schema.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidLiteral, err, "parsing %q as bool", raw)
		}
		return codec.Bool_(b), nil
	default:
		return nil, errs.New(errs.TypeError, "unsupported primitive %s", t.Primitive)
	}
}

func writeOutput(data []byte, outFile string) error {
	if outFile == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return errs.Wrap(errs.BackendError, err, "writing output file %s", outFile)
	}
	return nil
}

func newLogger(configFile string) (*zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return logging.New(cfg.Log)
}
