package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepflow/pkg/compiler"
	"github.com/ormasoftchile/stepflow/pkg/config"
	"github.com/ormasoftchile/stepflow/pkg/logger"
	"github.com/ormasoftchile/stepflow/pkg/manifest"
	"github.com/ormasoftchile/stepflow/pkg/ops"
	"github.com/ormasoftchile/stepflow/pkg/providers"
	"github.com/ormasoftchile/stepflow/pkg/registry"
	"github.com/ormasoftchile/stepflow/pkg/runtime"
	"github.com/ormasoftchile/stepflow/pkg/template"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfg *config.Config
	log *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	cfgFile   string
	logFormat string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Manifest-driven workflow runner",
	Long:  "stepflow instantiates workflow templates into step manifests and runs them, resumable step by step.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return err
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		if debug {
			cfg.Debug = true
		}
		if log, err = logger.New(logger.Config{Debug: cfg.Debug, Format: cfg.LogFormat}); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// parseSetVars splits repeated --set key=value bindings.
func parseSetVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// instantiate expands the template/manifest selection shared by run, patch
// and validate.
func instantiate(templatePath, manifestPath, patchPath, patchModeStr string, setVars, jpath []string, outputDir string) ([]template.Instance, error) {
	if (templatePath == "") == (manifestPath == "") {
		return nil, fmt.Errorf("provide exactly one of --template or --manifest")
	}
	path := templatePath
	if path == "" {
		path = manifestPath
	}
	vars, err := parseSetVars(setVars)
	if err != nil {
		return nil, err
	}
	opts := template.Options{Jpath: jpath, Vars: vars, OutputDir: outputDir}

	if patchPath == "" {
		return template.InstantiateAll(path, opts, "", "")
	}
	mode, err := template.ParsePatchMode(patchModeStr)
	if err != nil {
		return nil, err
	}
	return template.InstantiateAll(path, opts, patchPath, mode)
}

// validateManifest runs schema validation and reports every error.
func validateManifest(name string, data []byte) error {
	errs := manifest.Validate(data)
	if len(errs) == 0 {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Validation failed for %s: %d error(s)\n\n", name, len(errs))
	for i, e := range errs {
		fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, e.Message)
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
		}
	}
	return fmt.Errorf("manifest %s failed validation with %d error(s)", name, len(errs))
}

// --- run ---

var (
	runTemplate    string
	runManifest    string
	runOutput      string
	runSetVars     []string
	runJpath       []string
	runPatch       string
	runPatchMode   string
	runStartAt     int64
	runResume      bool
	runSkipSteps   []int64
	runNoExecution bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Instantiate a workflow and execute its steps in order",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if runOutput == "" {
		return fmt.Errorf("--output is required")
	}
	if runResume && cmd.Flags().Changed("start-at") {
		return fmt.Errorf("--resume and --start-at are mutually exclusive")
	}

	instances, err := instantiate(runTemplate, runManifest, runPatch, runPatchMode, runSetVars, runJpath, runOutput)
	if err != nil {
		return err
	}

	ctx := context.Background()
	executor := &providers.RealExecutor{}
	toolchain := ops.NewCLIToolchain(executor, cfg.ToolBinaries(), log)
	toolchain.PermitListDir = cfg.PermitListDir()

	for _, inst := range instances {
		if len(instances) > 1 {
			fmt.Printf("\n=== Workflow %s ===\n", inst.Name)
		}
		if err := runOne(ctx, executor, toolchain, inst); err != nil {
			return err
		}
	}
	return nil
}

func runOne(ctx context.Context, executor providers.CommandExecutor, toolchain ops.Toolchain, inst template.Instance) error {
	if err := validateManifest(inst.Name, inst.Data); err != nil {
		return err
	}
	tree, err := manifest.Parse(inst.Data)
	if err != nil {
		return fmt.Errorf("parse manifest %s: %w", inst.Name, err)
	}

	// Compile against the log's clone so each record's trajectory reads
	// straight into the tree that gets mutated and persisted.
	wfLog := runtime.NewWorkflowLog(tree, runOutput, inst.Name+".json")
	queue, err := compiler.Compile(wfLog.Tree)
	if err != nil {
		return fmt.Errorf("compile manifest %s: %w", inst.Name, err)
	}

	plan, err := runtime.ResolvePlan(queue, runtime.PlanOptions{
		StartAt:   runStartAt,
		Resume:    runResume,
		SkipSteps: runSkipSteps,
	}, wfLog.Path())
	if err != nil {
		return err
	}
	if plan.Dropped > 0 {
		fmt.Printf("⊘ %d step(s) filtered out of the queue\n", plan.Dropped)
	}

	engine := &runtime.Engine{
		Executor:     executor,
		Toolchain:    toolchain,
		Log:          wfLog,
		Logger:       log,
		NoExecution:  runNoExecution,
		ManifestPath: inst.Name + ".json",
		OutputDir:    runOutput,
	}
	return engine.Run(ctx, plan)
}

// --- patch ---

var (
	patchTemplate string
	patchManifest string
	patchFile     string
	patchMode     string
	patchOutput   string
	patchSetVars  []string
	patchJpath    []string
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply a patch table to a template or manifest, writing one manifest per row",
	Args:  cobra.NoArgs,
	RunE:  runPatchCmd,
}

func runPatchCmd(cmd *cobra.Command, args []string) error {
	if patchFile == "" {
		return fmt.Errorf("--patch is required")
	}
	outDir := patchOutput
	if outDir == "" {
		src := patchTemplate
		if src == "" {
			src = patchManifest
		}
		outDir = filepath.Dir(src)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	instances, err := instantiate(patchTemplate, patchManifest, patchFile, patchMode, patchSetVars, patchJpath, outDir)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		path := filepath.Join(outDir, inst.Name+".json")
		if err := os.WriteFile(path, inst.Data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("✓ wrote %s\n", path)
	}
	return nil
}

// --- validate ---

var (
	validateSetVars []string
	validateJpath   []string
)

var validateCmd = &cobra.Command{
	Use:   "validate [template-or-manifest]",
	Short: "Instantiate and compile a workflow without executing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	vars, err := parseSetVars(validateSetVars)
	if err != nil {
		return err
	}
	data, err := template.Instantiate(args[0], template.Options{
		Jpath:     validateJpath,
		Vars:      vars,
		OutputDir: ".",
	})
	if err != nil {
		return err
	}
	if err := validateManifest(filepath.Base(args[0]), data); err != nil {
		return err
	}
	tree, err := manifest.Parse(data)
	if err != nil {
		return err
	}
	queue, err := compiler.Compile(tree)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s is valid (%d runnable steps)\n", filepath.Base(args[0]), queue.Len())
	return nil
}

// --- template ---

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Browse the workflow template library",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published templates and their versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := newRegistry().Ensure(cmd.Context())
		if err != nil {
			return err
		}
		infos, err := lib.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\n", info.Name, info.Version)
		}
		return w.Flush()
	},
}

var templateGetOutput string

var templateGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Copy a template's folder out of the library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := newRegistry().Ensure(cmd.Context())
		if err != nil {
			return err
		}
		dest, err := lib.Get(args[0], templateGetOutput)
		if err != nil {
			return err
		}
		fmt.Printf("✓ copied template %q to %s\n", args[0], dest)
		return nil
	},
}

var templateRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-download the template library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newRegistry().Refresh(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✓ template library refreshed")
		return nil
	},
}

func newRegistry() *registry.Registry {
	return registry.New(cfg.HomeDir, cfg.RegistryURL, log)
}

// --- index / quant ---

var (
	indexArgs ops.IndexCommand
	quantArgs ops.QuantCommand
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build a reference index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := indexArgs.Validate(); err != nil {
			return err
		}
		toolchain := ops.NewCLIToolchain(&providers.RealExecutor{}, cfg.ToolBinaries(), log)
		toolchain.PermitListDir = cfg.PermitListDir()
		return toolchain.RunIndex(cmd.Context(), &indexArgs)
	},
}

var quantCmd = &cobra.Command{
	Use:   "quant",
	Short: "Quantify reads against an index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := quantArgs.Validate(); err != nil {
			return err
		}
		toolchain := ops.NewCLIToolchain(&providers.RealExecutor{}, cfg.ToolBinaries(), log)
		toolchain.PermitListDir = cfg.PermitListDir()
		return toolchain.RunQuant(cmd.Context(), &quantArgs)
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stepflow %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (default: stepflow.yaml in the home dir)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	runCmd.Flags().StringVar(&runTemplate, "template", "", "Workflow template to instantiate (jsonnet)")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "Already-instantiated manifest (json)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output directory for logs and results (required)")
	runCmd.Flags().StringArrayVar(&runSetVars, "set", nil, "Template variable (key=value), repeatable")
	runCmd.Flags().StringArrayVar(&runJpath, "jpath", nil, "Extra jsonnet library search path, repeatable")
	runCmd.Flags().StringVar(&runPatch, "patch", "", "Patch table (semicolon CSV or YAML)")
	runCmd.Flags().StringVar(&runPatchMode, "patch-mode", "pre", "When to apply the patch: pre or post instantiation")
	runCmd.Flags().Int64Var(&runStartAt, "start-at", 1, "Skip steps with a smaller execution order")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Continue after the last completed step of a previous run")
	runCmd.Flags().Int64SliceVar(&runSkipSteps, "skip-step", nil, "Execution orders to skip, comma separated")
	runCmd.Flags().BoolVar(&runNoExecution, "no-execution", false, "Print the queue and write the log without running anything")

	patchCmd.Flags().StringVar(&patchTemplate, "template", "", "Workflow template to patch")
	patchCmd.Flags().StringVar(&patchManifest, "manifest", "", "Instantiated manifest to patch")
	patchCmd.Flags().StringVar(&patchFile, "patch", "", "Patch table (semicolon CSV or YAML, required)")
	patchCmd.Flags().StringVar(&patchMode, "patch-mode", "pre", "When to apply the patch: pre or post instantiation")
	patchCmd.Flags().StringVarP(&patchOutput, "output", "o", "", "Directory for the patched manifests (default: next to the input)")
	patchCmd.Flags().StringArrayVar(&patchSetVars, "set", nil, "Template variable (key=value), repeatable")
	patchCmd.Flags().StringArrayVar(&patchJpath, "jpath", nil, "Extra jsonnet library search path, repeatable")

	validateCmd.Flags().StringArrayVar(&validateSetVars, "set", nil, "Template variable (key=value), repeatable")
	validateCmd.Flags().StringArrayVar(&validateJpath, "jpath", nil, "Extra jsonnet library search path, repeatable")

	templateGetCmd.Flags().StringVarP(&templateGetOutput, "output", "o", ".", "Directory to copy the template into")
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateGetCmd)
	templateCmd.AddCommand(templateRefreshCmd)

	indexCmd.Flags().AddFlagSet(ops.IndexFlags(&indexArgs))
	quantCmd.Flags().AddFlagSet(ops.QuantFlags(&quantArgs))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(quantCmd)
	rootCmd.AddCommand(versionCmd)
}
