// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toeirei/iscsictl/internal/config"
	"github.com/toeirei/iscsictl/internal/i18n"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: i18n.T("cli.config.short"),
	}
	var system bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("cli.config_init.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path, err := config.WriteConfigFile(&a.cfg, system)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.config_written", path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "write the system-wide file instead of the user file")
	cmd.AddCommand(initCmd)
	return cmd
}
