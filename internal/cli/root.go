// Package cli is the formulary command line.
package cli

import (
	"context"
	"embed"
	"fmt"
	"io"

	"github.com/arthur-debert/formulary/internal/version"
	"github.com/arthur-debert/formulary/pkg/cobrax/topics"
	"github.com/arthur-debert/formulary/pkg/config"
	"github.com/arthur-debert/formulary/pkg/engine"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/executor"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/options"
	"github.com/arthur-debert/formulary/pkg/paths"
	"github.com/arthur-debert/formulary/pkg/style"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

//go:embed topics/*.md
var topicsFS embed.FS

// app holds the state shared by every command of one invocation.
type app struct {
	verbosity  int
	configPath string
	prefix     string
	noColor    bool

	// overrides are the --with-x/--without-x arguments removed from the
	// command line before cobra parses it.
	overrides []options.Override
	// settings are config keys set by command flags.
	settings map[string]interface{}

	// runner replaces process spawning in tests.
	runner executor.Runner
	engine *engine.Engine
}

// Run executes the command line and returns the process exit code.
// Errors are rendered to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, &app{}, args, stdout, stderr)
}

func run(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	overrides, rest := options.SplitFlags(args)
	a.overrides = overrides

	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(rest)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprint(stderr, style.RenderError(err))
		return errors.ExitCode(err)
	}
	return errors.ExitOK
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	// Initialize custom template formatting functions
	initTemplateFormatting()

	rootCmd := &cobra.Command{
		Use:     "formulary",
		Short:   MsgRootShort,
		Long:    MsgRootLong,
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging based on verbosity
			logging.SetupLogger(a.verbosity)
			style.SetColor(!a.noColor && isTerminal(cmd.OutOrStdout()))
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errors.New(errors.ErrInvalidInput, "no command specified")
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// Global flags
	rootCmd.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v", MsgFlagVerbose)
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", MsgFlagConfig)
	rootCmd.PersistentFlags().StringVar(&a.prefix, "prefix", "", MsgFlagPrefix)
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, MsgFlagNoColor)

	rootCmd.AddGroup(&cobra.Group{ID: "build", Title: "BUILD:"})
	rootCmd.AddGroup(&cobra.Group{ID: "inspect", Title: "INSPECT:"})
	rootCmd.AddGroup(&cobra.Group{ID: "misc", Title: "MISC:"})

	rootCmd.SetUsageTemplate(MsgUsageTemplate)

	rootCmd.AddCommand(newInstallCmd(a))
	rootCmd.AddCommand(newTestCmd(a))
	rootCmd.AddCommand(newUninstallCmd(a))
	rootCmd.AddCommand(newCreateCmd(a))
	rootCmd.AddCommand(newInfoCmd(a))
	rootCmd.AddCommand(newDepsCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newCompletionCmd())
	rootCmd.AddCommand(newVersionCmd())

	tm, err := topics.New(topicsFS, "topics", topics.Options{
		Extensions: []string{".md"},
		Renderer: topics.RendererFunc(func(content, format string) string {
			return style.RenderMarkdown(content, !a.noColor && isTerminal(rootCmd.OutOrStdout()), 0)
		}),
	})
	if err == nil {
		tm.Install(rootCmd)
		rootCmd.SetHelpCommandGroupID("misc")
	}

	return rootCmd
}

// loadConfig reads the configuration, honouring --config and --prefix.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		defaults, err := paths.New(paths.Options{})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "cannot determine config directory")
		}
		path = config.FindConfigFile(defaults.ConfigDir())
	}

	overrides := map[string]interface{}{}
	for k, v := range a.settings {
		overrides[k] = v
	}
	if a.prefix != "" {
		overrides["prefix"] = a.prefix
	}
	return config.Load(path, overrides)
}

// set overrides a config key for this invocation. Must be called before
// the engine is opened.
func (a *app) set(key string, value interface{}) {
	if a.settings == nil {
		a.settings = map[string]interface{}{}
	}
	a.settings[key] = value
}

// open builds the engine on first use.
func (a *app) open(cmd *cobra.Command) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	p, err := paths.New(paths.Options{
		Prefix:   cfg.Prefix,
		Cellar:   cfg.Cellar,
		CacheDir: cfg.CacheDir,
		LogDir:   cfg.LogDir,
		BuildDir: cfg.BuildDir,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValid, "invalid locations")
	}

	opts := engine.Options{
		Config: cfg,
		Paths:  p,
		Runner: a.runner,
	}
	if a.verbosity > 0 {
		opts.Output = cmd.ErrOrStderr()
	}
	e, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	a.engine = e
	return e, nil
}

// formulaNames completes formula names for the first argument.
func (a *app) formulaNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	e, err := a.open(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return e.Loader().Names(), cobra.ShellCompDirectiveNoFileComp
}

// installedNames completes installed package names.
func (a *app) installedNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	e, err := a.open(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var names []string
	for _, k := range e.Cellar().List() {
		names = append(names, k.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
