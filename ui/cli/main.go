// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, loads configuration and wires the
// shared state every subcommand uses.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/iscsictl/buildvars"
	"github.com/toeirei/iscsictl/internal/config"
	"github.com/toeirei/iscsictl/internal/db"
	"github.com/toeirei/iscsictl/internal/i18n"
	"github.com/toeirei/iscsictl/internal/logging"
)

const modulePath = "github.com/toeirei/iscsictl"

var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// flagAliases binds command line flags to their configuration keys.
var flagAliases = map[string]string{
	"user":     "remote.user",
	"password": "remote.password",
	"lang":     "language",
	"device":   "target.device",
	"id":       "target.id",
	"size":     "target.size_mb",
}

// readPassword asks for a password on the terminal, or reads one line from
// stdin when it is not a terminal.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// app is the state shared by the commands of one root command.
type app struct {
	cfgFile     string
	verbose     bool
	askPassword bool

	cfg     config.Config
	journal *db.Journal
}

// Execute runs the CLI entrypoint.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command with all subcommands. Every call
// returns an independent tree, which keeps tests isolated.
func NewRootCmd() *cobra.Command {
	a := &app{}
	i18n.Init("en")

	cmd := &cobra.Command{
		Use:           "iscsictl",
		Short:         i18n.T("cli.short"),
		Long:          i18n.T("cli.long"),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().StringP("user", "u", "", "remote login user (default root)")
	cmd.PersistentFlags().StringP("password", "p", "", "remote login password")
	cmd.PersistentFlags().BoolVar(&a.askPassword, "ask-password", false, "prompt for the remote login password")
	cmd.PersistentFlags().String("lang", "", `message language ("en", "de")`)
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newTargetCmd(a),
		newInitiatorCmd(a),
		newLogoutCmd(a),
		newLoopCmd(a),
		newSmokeCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	a.closeJournalAfter(cmd)
	return cmd
}

// closeJournalAfter makes every command under c close the journal when it
// returns, whether it failed or not.
func (a *app) closeJournalAfter(c *cobra.Command) {
	if run := c.RunE; run != nil {
		c.RunE = func(cmd *cobra.Command, args []string) error {
			defer func() {
				if err := a.teardown(); err != nil {
					logging.Warnf("failed to close journal: %v", err)
				}
			}()
			return run(cmd, args)
		}
	}
	for _, sub := range c.Commands() {
		a.closeJournalAfter(sub)
	}
}

// setup loads configuration for cmd and applies the global flags.
func (a *app) setup(cmd *cobra.Command) error {
	logging.SetDebug(a.verbose)

	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), &a.cfgFile, flagAliases)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg
	i18n.Init(a.cfg.Language)

	if a.askPassword {
		pw, err := readPassword(i18n.T("msg.password_prompt", a.cfg.Remote.User))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		a.cfg.Remote.Password = pw
	}
	return nil
}

func (a *app) teardown() error {
	if a.journal == nil {
		return nil
	}
	err := a.journal.Close()
	a.journal = nil
	return err
}

// openJournal opens the journal on first use.
func (a *app) openJournal() (*db.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := db.Open(a.cfg.Database.Type, a.cfg.Database.Dsn)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("cli.version.short"),
		Args:  cobra.NoArgs,
		// version needs neither configuration nor a journal.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), compositeVersion())
		},
	}
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault("dev")
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, found := debug.ReadBuildInfo(); found {
			info = local
		}
	}

	if info != nil {
		if resolvedVersion == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only list the module among the dependencies.
		if resolvedVersion == "dev" {
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

	if resolvedVersion == "dev" && resolvedCommit != "dev" && resolvedCommit != "" {
		resolvedVersion = resolvedCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
