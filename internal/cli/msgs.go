package cli

import (
	_ "embed"
	"strings"
)

// Short messages (one-liners)
const (
	// Command descriptions
	MsgRootShort       = "Build and install software from declarative formulas"
	MsgVersionShort    = "Print version information"
	MsgInstallShort    = "Build and install a formula"
	MsgTestShort       = "Run the tests of an installed formula"
	MsgInfoShort       = "Show a formula's options, dependencies and installed versions"
	MsgDepsShort       = "Show the dependency plan of a formula"
	MsgListShort       = "List installed packages"
	MsgUninstallShort  = "Remove an installed package"
	MsgCreateShort     = "Write a skeleton formula"
	MsgConfigShort     = "Show the effective locations and configuration"
	MsgCompletionShort = "Generate shell completion script"

	// Status messages
	MsgDryRunNotice     = "\n[dryrun]DRY RUN[/dryrun] - nothing was fetched, built or installed"
	MsgNothingInstalled = "No packages installed."
	MsgInstalledItem    = "  %s %s\n"
	MsgAvailableItem    = "  %s\n"
	MsgUninstalled      = "Uninstalled [formula]%s[/formula] %s\n"
	MsgCreated          = "Created [path]%s[/path]\n"
	MsgNoOptions        = "  none"
	MsgNotInstalled     = "  [muted]not installed[/muted]"

	// Flag descriptions
	MsgFlagVerbose   = "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)"
	MsgFlagConfig    = "Config file (default is $XDG_CONFIG_HOME/formulary/config.toml)"
	MsgFlagPrefix    = "Global prefix to install into"
	MsgFlagNoColor   = "Disable colored output"
	MsgFlagWith      = "Enable an option (repeatable)"
	MsgFlagWithout   = "Disable an option (repeatable)"
	MsgFlagSource    = "Build from this source tree instead of fetching"
	MsgFlagSkipTests = "Do not run the formula's tests after installing"
	MsgFlagDryRun    = "Show what would run without running it"
	MsgFlagJobs      = "Worker hint for parallel phases (0 uses the config)"
	MsgFlagKeep      = "Keep the build directory after the run"
	MsgFlagForce     = "Remove even if other installed packages depend on it"
	MsgFlagOverwrite = "Overwrite an existing formula"
	MsgFlagURL       = "Source archive URL"
	MsgFlagFormat    = "Formula format: toml or yaml"
	MsgFlagAvailable = "List every formula that can be installed instead"
	MsgFlagDefaults  = "Print the built-in default configuration"
)

// Long messages from embedded files
var (
	//go:embed msgs/root-long.txt
	msgRootLongRaw string
	MsgRootLong    = strings.TrimSpace(msgRootLongRaw)

	//go:embed msgs/install-long.txt
	msgInstallLongRaw string
	MsgInstallLong    = strings.TrimSpace(msgInstallLongRaw)

	//go:embed msgs/install-example.txt
	msgInstallExampleRaw string
	MsgInstallExample    = strings.TrimRight(msgInstallExampleRaw, "\n")

	//go:embed msgs/create-long.txt
	msgCreateLongRaw string
	MsgCreateLong    = strings.TrimSpace(msgCreateLongRaw)

	//go:embed msgs/completion-long.txt
	msgCompletionLongRaw string
	MsgCompletionLong    = strings.TrimSpace(msgCompletionLongRaw)

	//go:embed msgs/usage-template.txt
	msgUsageTemplateRaw string
	MsgUsageTemplate    = strings.TrimSpace(msgUsageTemplateRaw) + "\n"
)
