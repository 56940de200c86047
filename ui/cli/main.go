// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, shared flags, configuration loading and
// the version command.

package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjgordon/labportal/buildvars"
	"github.com/zjgordon/labportal/internal/config"
	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/logging"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

var cfgFile string
var verbose bool
var showVersionFlag bool

var appConfig config.Config

// loadConfig reads the portal configuration for cmd and applies the log
// level. A missing config file is fine; the defaults are used.
func loadConfig(cmd *cobra.Command, _ []string) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	noFile := errors.As(err, &viper.ConfigFileNotFoundError{})
	if err != nil && !noFile {
		return fmt.Errorf("error loading config: %w", err)
	}

	level := appConfig.Log.Level
	if verbose {
		level = "debug"
		db.SetDebug(true)
	}
	if err := logging.SetLevel(level); err != nil {
		return err
	}
	if noFile {
		logging.Debugf("no labportal.yaml found, using defaults and LABPORTAL_* environment")
	}
	return appConfig.Validate()
}

// openStore opens and migrates the configured database. The caller closes it.
func openStore() (*db.BunStore, error) {
	store, err := db.Open(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", appConfig.Database.Type, err)
	}
	return store, nil
}

// withDispatcher opens the store, hands a dispatcher over it to fn and
// closes the store afterwards.
func withDispatcher(fn func(d *control.Dispatcher) error) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(control.New(store, control.Options{MaxPull: appConfig.Dispatcher.MaxPull}))
}

// Execute runs the CLI entrypoint. The cmd/labportal main package calls
// this and handles the process exit.
func Execute() error {
	return NewRootCmd().Execute()
}

func applyDatabaseFlags(cmd *cobra.Command) {
	// NewRootCmd may run several times in tests against package-level
	// subcommands; pflag panics on duplicate definitions.
	if cmd.PersistentFlags().Lookup("database.type") == nil {
		cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	}
	if cmd.PersistentFlags().Lookup("database.dsn") == nil {
		cmd.PersistentFlags().String("database.dsn", "./labportal.db", "Database connection string (DSN)")
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// NewRootCmd creates the root command with every subcommand attached. Tests
// call it to get a fresh tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labportal",
		Short: "labportal dispatches systemd service actions to lab hosts.",
		Long: `labportal is a small control plane for lab machines. Admins queue
start, stop, restart and status actions for registered systemd units; an
agent on each host polls for them, runs them and reports the outcome.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Fprintln(cmd.OutOrStdout(), compositeVersion())
				os.Exit(0)
			}
			return nil
		},
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging, including SQL")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	applyDatabaseFlags(cmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newAgentCmd(),
		newHostCmd(),
		newServiceCmd(),
		newActionCmd(),
		newPruneCmd(),
		newDiagCmd(),
		newDBCmd(),
		newHashAdminTokenCmd(),
		newConfigCmd(),
		versionCmd,
	)
	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil it reads the runtime build
// info.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == modulePath && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

const modulePath = "github.com/zjgordon/labportal"
