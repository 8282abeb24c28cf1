package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/formulary/internal/version"
	"github.com/arthur-debert/formulary/pkg/config"
	"github.com/arthur-debert/formulary/pkg/engine"
	"github.com/arthur-debert/formulary/pkg/environment"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/fetch"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/options"
	"github.com/arthur-debert/formulary/pkg/style"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   MsgVersionShort,
		GroupID: "misc",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "formulary version %s\n", version.Version)
			fmt.Fprintf(out, "  commit: %s\n", version.Commit)
			fmt.Fprintf(out, "  built:  %s\n", version.Date)
		},
	}
}

func newInstallCmd(a *app) *cobra.Command {
	var (
		with, without []string
		source        string
		skipTests     bool
		dryRun        bool
		keep          bool
		jobs          int
	)

	cmd := &cobra.Command{
		Use:               "install <formula> [--with-<option>] [--without-<option>]",
		Short:             MsgInstallShort,
		Long:              MsgInstallLong,
		Example:           MsgInstallExample,
		GroupID:           "build",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.formulaNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger("cli.install")
			if keep {
				a.set("build.keep_build_dir", true)
			}
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			overrides := append(append([]options.Override{}, a.overrides...), options.FromNames(with, without)...)

			if dryRun {
				res, err := e.Plan(args[0], overrides)
				if err != nil {
					return err
				}
				fmt.Fprint(out, style.RenderPlan(res.Plan, strings.Join(res.Options.Flags(), " ")))
			}

			logger.Info().Str("formula", args[0]).Bool("dryRun", dryRun).Msg("Starting install")
			rec, err := e.Install(cmd.Context(), args[0], engine.InstallOptions{
				Overrides: overrides,
				SourceDir: source,
				SkipTests: skipTests,
				DryRun:    dryRun,
				Jobs:      jobs,
			})
			if rec != nil {
				if dryRun {
					fmt.Fprint(out, style.RenderPhases(rec.Phases))
					fmt.Fprintln(out, style.Markup(MsgDryRunNotice))
				} else {
					fmt.Fprint(out, style.RenderRecord(rec))
				}
			}
			if err != nil {
				return err
			}
			if !dryRun {
				if f, ferr := e.Loader().Get(args[0]); ferr == nil && f.Caveats != "" {
					fmt.Fprint(out, renderCaveats(a, cmd, e, f, rec.Version, rec.Root))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&with, "with", nil, MsgFlagWith)
	cmd.Flags().StringArrayVar(&without, "without", nil, MsgFlagWithout)
	cmd.Flags().StringVar(&source, "source", "", MsgFlagSource)
	cmd.Flags().BoolVar(&skipTests, "skip-tests", false, MsgFlagSkipTests)
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, MsgFlagDryRun)
	cmd.Flags().BoolVar(&keep, "keep-build-dir", false, MsgFlagKeep)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, MsgFlagJobs)
	_ = cmd.MarkFlagDirname("source")

	return cmd
}

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "test <formula>",
		Short:             MsgTestShort,
		GroupID:           "build",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.installedNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			report, err := e.Test(cmd.Context(), args[0])
			if len(report.Results) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), style.RenderTestReport(report))
			}
			return err
		},
	}
}

func newUninstallCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:               "uninstall <formula>",
		Aliases:           []string{"remove", "rm"},
		Short:             MsgUninstallShort,
		GroupID:           "build",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.installedNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			v, err := e.Cellar().Lookup(args[0])
			if err != nil {
				return err
			}
			if err := e.Uninstall(cmd.Context(), args[0], force); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), style.Markup(fmt.Sprintf(MsgUninstalled, args[0], v)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, MsgFlagForce)
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		url    string
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   MsgCreateShort,
		Long:    MsgCreateLong,
		GroupID: "build",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			e, err := a.open(cmd)
			if err != nil {
				return err
			}

			ff := formula.Format(strings.ToLower(format))
			ext := "." + string(ff)
			if _, ok := formula.FormatFromPath(ext); !ok {
				return errors.Newf(errors.ErrInvalidInput, "unknown format %q, use toml or yaml", format)
			}

			dest := filepath.Join(e.Paths().FormulaDir(), name+ext)
			fsys := filesystem.NewOS()
			if filesystem.Exists(fsys, dest) && !force {
				return errors.Newf(errors.ErrAlreadyExists, "%s already exists", dest).WithDetail("path", dest)
			}

			spec := formula.SkeletonSpec{Name: name, URL: url}
			if url != "" {
				fetcher := fetch.New(fetch.Options{CacheDir: e.Paths().DownloadsDir()})
				archive, err := fetcher.Download(cmd.Context(), fetch.Archive{Name: name, URL: url})
				if err != nil {
					return err
				}
				if spec.SHA256, err = fetch.SHA256(archive); err != nil {
					return err
				}
			}

			data, err := formula.Skeleton(spec, ff)
			if err != nil {
				return err
			}
			if err := filesystem.WriteFileAtomic(fsys, dest, data, 0644); err != nil {
				return errors.Wrapf(err, errors.ErrFileWrite, "cannot write %s", dest)
			}
			log.Info().Str("path", dest).Msg("Formula created")
			fmt.Fprint(cmd.OutOrStdout(), style.Markup(fmt.Sprintf(MsgCreated, dest)))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", MsgFlagURL)
	cmd.Flags().StringVar(&format, "format", "toml", MsgFlagFormat)
	cmd.Flags().BoolVarP(&force, "force", "f", false, MsgFlagOverwrite)
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "info <formula>",
		Short:             MsgInfoShort,
		GroupID:           "inspect",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.formulaNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			f, err := e.Loader().Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "%s %s", style.FormulaStyle.Render(f.Name), f.Version)
			if f.KegOnly {
				fmt.Fprint(out, style.MutedStyle.Render(" (keg-only)"))
			}
			fmt.Fprintln(out)
			for _, line := range []string{f.Description, f.Homepage, f.License} {
				if line != "" {
					fmt.Fprintln(out, line)
				}
			}
			if f.Path != "" {
				fmt.Fprintln(out, style.PathStyle.Render(f.Path))
			}

			fmt.Fprintln(out, "\n"+style.SubtitleStyle.Render("Options"))
			if len(f.Options) == 0 {
				fmt.Fprintln(out, MsgNoOptions)
			}
			for _, o := range f.Options {
				flag := options.Override{Name: o.Name, Enable: !o.Default}.Flag()
				desc := o.Description
				if o.Implicit {
					desc = "use " + string(o.Name)
				}
				if o.Group != "" {
					desc += style.MutedStyle.Render(" [" + o.Group + "]")
				}
				fmt.Fprintf(out, "  %-32s %s\n", flag, desc)
			}

			if len(f.Dependencies) > 0 {
				fmt.Fprintln(out, "\n"+style.SubtitleStyle.Render("Dependencies"))
				for _, d := range f.Dependencies {
					line := fmt.Sprintf("  %s %s", d.Name, style.MutedStyle.Render(string(d.Kind)))
					if d.Version != "" {
						line += " " + d.Version
					}
					if e.Cellar().IsInstalled(d.Name) {
						line += " " + style.SuccessIndicator
					}
					fmt.Fprintln(out, line)
				}
			}
			if len(f.Conflicts) > 0 {
				fmt.Fprintln(out, "\n"+style.SubtitleStyle.Render("Conflicts"))
				for _, c := range f.Conflicts {
					fmt.Fprintf(out, "  %s %s\n", c.Name, style.MutedStyle.Render(c.Because))
				}
			}

			fmt.Fprintln(out, "\n"+style.SubtitleStyle.Render("Installed"))
			versions := e.Cellar().Versions(f.Name)
			if len(versions) == 0 {
				fmt.Fprintln(out, style.Markup(MsgNotInstalled))
			}
			for _, v := range versions {
				fmt.Fprintf(out, "  %s %s\n", v, style.PathStyle.Render(e.Paths().Keg(f.Name, v)))
			}

			if f.Caveats != "" {
				v := f.Version
				if installed, err := e.Cellar().Lookup(f.Name); err == nil {
					v = installed
				}
				fmt.Fprint(out, renderCaveats(a, cmd, e, f, v, e.Paths().Keg(f.Name, v)))
			}
			return nil
		},
	}
}

func newDepsCmd(a *app) *cobra.Command {
	var with, without []string

	cmd := &cobra.Command{
		Use:               "deps <formula> [--with-<option>] [--without-<option>]",
		Short:             MsgDepsShort,
		GroupID:           "inspect",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.formulaNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			overrides := append(append([]options.Override{}, a.overrides...), options.FromNames(with, without)...)
			res, err := e.Plan(args[0], overrides)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), style.RenderPlan(res.Plan, strings.Join(res.Options.Flags(), " ")))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&with, "with", nil, MsgFlagWith)
	cmd.Flags().StringArrayVar(&without, "without", nil, MsgFlagWithout)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var available bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   MsgListShort,
		GroupID: "inspect",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if available {
				for _, name := range e.Loader().Names() {
					fmt.Fprintf(out, MsgAvailableItem, name)
				}
				return nil
			}
			kegs := e.Cellar().List()
			if len(kegs) == 0 {
				fmt.Fprintln(out, MsgNothingInstalled)
				return nil
			}
			for _, k := range kegs {
				fmt.Fprintf(out, MsgInstalledItem, style.FormulaStyle.Render(k.Name), k.Version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&available, "available", "a", false, MsgFlagAvailable)
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:     "config",
		Short:   MsgConfigShort,
		GroupID: "misc",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if defaults {
				fmt.Fprint(out, config.DefaultsContent())
				return nil
			}
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			p := e.Paths()
			rows := [][2]string{
				{"prefix", p.Prefix()},
				{"cellar", p.Cellar()},
				{"opt", p.OptDir()},
				{"config", p.ConfigFile()},
				{"formulae", p.FormulaDir()},
				{"downloads", p.DownloadsDir()},
				{"build", p.BuildDir()},
				{"logs", p.LogDir()},
				{"locks", p.LocksDir()},
				{"log file", logging.LogFilePath()},
			}
			for _, dir := range cfg.FormulaPaths {
				rows = append(rows, [2]string{"formula path", dir})
			}
			rows = append(rows,
				[2]string{"jobs", fmt.Sprint(cfg.Build.Jobs)},
				[2]string{"phase timeout", cfg.Build.PhaseTimeout.String()},
				[2]string{"lock timeout", cfg.Lock.Timeout.String()},
				[2]string{"test after install", fmt.Sprint(cfg.Test.RunAfterInstall)},
			)
			for _, r := range rows {
				fmt.Fprintf(out, "%-20s %s\n", r[0], r[1])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, MsgFlagDefaults)
	return cmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "completion [bash|zsh|fish|powershell]",
		Short:                 MsgCompletionShort,
		Long:                  MsgCompletionLong,
		GroupID:               "misc",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// renderCaveats expands a formula's caveats against the keg layout and
// renders them as markdown.
func renderCaveats(a *app, cmd *cobra.Command, e *engine.Engine, f *formula.Formula, version, keg string) string {
	scope := environment.NewScope(environment.Layout{
		Name:         f.Name,
		Version:      version,
		Prefix:       keg,
		OptPrefix:    e.Paths().OptPath(f.Name),
		GlobalPrefix: e.Paths().Prefix(),
	}, nil)
	text, err := scope.Expand(f.Caveats)
	if err != nil {
		text = f.Caveats
	}
	color := !a.noColor && isTerminal(cmd.OutOrStdout())
	return "\n" + style.SubtitleStyle.Render("Caveats") + "\n" + style.RenderMarkdown(text, color, 0)
}
